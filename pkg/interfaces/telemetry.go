package interfaces

import (
	"github.com/inferloop/tsad/pkg/models"
)

// TelemetrySink receives training metrics. Implementations must return
// promptly and must never fail the caller; delivery errors are theirs to log.
type TelemetrySink interface {
	// RecordEpoch receives one summarized epoch
	RecordEpoch(run models.RunInfo, record models.EpochRecord)

	// RecordMiniBatch receives a periodic mini-batch sample
	RecordMiniBatch(run models.RunInfo, metric models.MiniBatchMetric)

	// Close flushes pending deliveries
	Close() error
}
