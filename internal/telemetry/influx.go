package telemetry

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// InfluxConfig configures the InfluxDB sink
type InfluxConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	URL           string        `json:"url" mapstructure:"url"`
	Token         string        `json:"token" mapstructure:"token"`
	Organization  string        `json:"organization" mapstructure:"organization"`
	Bucket        string        `json:"bucket" mapstructure:"bucket"`
	BatchSize     int           `json:"batch_size" mapstructure:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval" mapstructure:"flush_interval"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	UseGZip       bool          `json:"use_gzip" mapstructure:"use_gzip"`
}

// InfluxSink writes epoch and mini-batch points through the non-blocking
// write API. Write errors arrive on a channel drained by a goroutine that
// logs them.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	config   *InfluxConfig
	logger   *logrus.Logger
	done     chan struct{}
}

// NewInfluxSink creates the client and starts the error drain
func NewInfluxSink(config *InfluxConfig, logger *logrus.Logger) (*InfluxSink, error) {
	if config == nil || config.URL == "" {
		return nil, errors.NewTelemetryError(errors.CodeInvalidConfig, "InfluxDB URL is required")
	}
	if config.Bucket == "" || config.Organization == "" {
		return nil, errors.NewTelemetryError(errors.CodeInvalidConfig, "InfluxDB organization and bucket are required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}

	client := influxdb2.NewClientWithOptions(
		config.URL,
		config.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(config.BatchSize)).
			SetFlushInterval(uint(config.FlushInterval.Milliseconds())).
			SetMaxRetries(uint(config.MaxRetries)).
			SetUseGZip(config.UseGZip).
			SetPrecision(time.Millisecond),
	)

	s := &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPI(config.Organization, config.Bucket),
		config:   config,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go s.handleWriteErrors(s.writeAPI.Errors())

	logger.WithFields(logrus.Fields{
		"url":    config.URL,
		"bucket": config.Bucket,
	}).Debug("InfluxDB telemetry enabled")
	return s, nil
}

func (s *InfluxSink) RecordEpoch(run models.RunInfo, record models.EpochRecord) {
	s.writeAPI.WritePoint(epochPoint(run, record, time.Now()))
}

func (s *InfluxSink) RecordMiniBatch(run models.RunInfo, metric models.MiniBatchMetric) {
	s.writeAPI.WritePoint(miniBatchPoint(run, metric, time.Now()))
}

// Close flushes buffered points and closes the client
func (s *InfluxSink) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	<-s.done
	return nil
}

// handleWriteErrors drains errs until the client closes it. The channel is
// obtained before the goroutine starts so Close always terminates it.
func (s *InfluxSink) handleWriteErrors(errs <-chan error) {
	defer close(s.done)
	for err := range errs {
		s.logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("InfluxDB write error")
	}
}

func epochPoint(run models.RunInfo, record models.EpochRecord, ts time.Time) *write.Point {
	p := influxdb2.NewPointWithMeasurement(constants.MetricInfluxMeasure).
		AddTag("family", run.Family).
		AddTag("dataset", run.Dataset).
		AddTag("run_id", run.RunID).
		AddField("epoch", record.Epoch).
		AddField("loss1", record.Loss1).
		AddField("learning_rate", record.LearningRate).
		AddField("duration_seconds", record.Duration.Seconds()).
		SetTime(ts)
	if record.HasLoss2 {
		p.AddField("loss2", record.Loss2)
	}
	for name, v := range record.Diagnostics {
		p.AddField(name, v)
	}
	return p
}

func miniBatchPoint(run models.RunInfo, metric models.MiniBatchMetric, ts time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(constants.MetricInfluxMiniBatch).
		AddTag("family", run.Family).
		AddTag("dataset", run.Dataset).
		AddTag("run_id", run.RunID).
		AddField("epoch", metric.Epoch).
		AddField("iteration", metric.Iteration).
		AddField("loss1", metric.Loss1).
		AddField("loss2", metric.Loss2).
		SetTime(ts)
}
