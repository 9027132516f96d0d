package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// PrometheusConfig configures the Prometheus sink
type PrometheusConfig struct {
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`
	PushGateway string        `json:"push_gateway" mapstructure:"push_gateway"`
	PushJob     string        `json:"push_job" mapstructure:"push_job"`
	PushTimeout time.Duration `json:"push_timeout" mapstructure:"push_timeout"`
}

// PrometheusSink keeps the latest training metrics in its own registry. When
// a push gateway is configured the registry is pushed after every epoch from
// a background goroutine; at most one push is in flight.
type PrometheusSink struct {
	config   *PrometheusConfig
	registry *prometheus.Registry
	logger   *logrus.Logger

	epochLoss1     *prometheus.GaugeVec
	epochLoss2     *prometheus.GaugeVec
	learningRate   *prometheus.GaugeVec
	epochsTotal    *prometheus.CounterVec
	epochDuration  *prometheus.HistogramVec
	miniBatchLoss1 *prometheus.GaugeVec
	miniBatchLoss2 *prometheus.GaugeVec

	pusher  *push.Pusher
	pushing sync.Mutex
	wg      sync.WaitGroup
}

var runLabels = []string{"family", "dataset", "run_id"}

// NewPrometheusSink creates the sink and registers its collectors
func NewPrometheusSink(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusSink, error) {
	if config == nil {
		config = &PrometheusConfig{Enabled: true}
	}
	if logger == nil {
		logger = logrus.New()
	}

	p := &PrometheusSink{
		config:   config,
		registry: prometheus.NewRegistry(),
		logger:   logger,
		epochLoss1: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricEpochLoss1,
			Help: "First loss component of the last completed epoch",
		}, runLabels),
		epochLoss2: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricEpochLoss2,
			Help: "Second loss component of the last completed epoch, two-phase family only",
		}, runLabels),
		learningRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricLearningRate,
			Help: "Learning rate after the last scheduler step",
		}, runLabels),
		epochsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricEpochsTotal,
			Help: "Number of completed training epochs",
		}, runLabels),
		epochDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    constants.MetricEpochDuration,
			Help:    "Wall time of a training epoch",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"family", "dataset"}),
		miniBatchLoss1: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricMiniBatchLoss1,
			Help: "First loss component of the last reported mini-batch",
		}, runLabels),
		miniBatchLoss2: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricMiniBatchLoss2,
			Help: "Second loss component of the last reported mini-batch",
		}, runLabels),
	}

	for _, c := range []prometheus.Collector{
		p.epochLoss1, p.epochLoss2, p.learningRate, p.epochsTotal,
		p.epochDuration, p.miniBatchLoss1, p.miniBatchLoss2,
	} {
		if err := p.registry.Register(c); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeTelemetry, errors.CodeTelemetryUnavailable,
				"failed to register training metrics")
		}
	}

	if config.PushGateway != "" {
		job := config.PushJob
		if job == "" {
			job = constants.AppName
		}
		p.pusher = push.New(config.PushGateway, job).Gatherer(p.registry)
		if config.PushTimeout > 0 {
			p.pusher = p.pusher.Client(&http.Client{Timeout: config.PushTimeout})
		}
	}
	return p, nil
}

// Registry exposes the collectors for an HTTP /metrics handler
func (p *PrometheusSink) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusSink) RecordEpoch(run models.RunInfo, record models.EpochRecord) {
	labels := prometheus.Labels{"family": run.Family, "dataset": run.Dataset, "run_id": run.RunID}
	p.epochLoss1.With(labels).Set(record.Loss1)
	if record.HasLoss2 {
		p.epochLoss2.With(labels).Set(record.Loss2)
	}
	p.learningRate.With(labels).Set(record.LearningRate)
	p.epochsTotal.With(labels).Inc()
	p.epochDuration.WithLabelValues(run.Family, run.Dataset).Observe(record.Duration.Seconds())
	p.push()
}

func (p *PrometheusSink) RecordMiniBatch(run models.RunInfo, metric models.MiniBatchMetric) {
	labels := prometheus.Labels{"family": run.Family, "dataset": run.Dataset, "run_id": run.RunID}
	p.miniBatchLoss1.With(labels).Set(metric.Loss1)
	p.miniBatchLoss2.With(labels).Set(metric.Loss2)
}

// push sends the registry to the gateway unless a push is already running
func (p *PrometheusSink) push() {
	if p.pusher == nil {
		return
	}
	if !p.pushing.TryLock() {
		p.logger.Debug("Skipping metrics push, previous push still running")
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.pushing.Unlock()
		if err := p.pusher.Push(); err != nil {
			p.logger.WithFields(logrus.Fields{
				"gateway": p.config.PushGateway,
				"error":   err.Error(),
			}).Warn("Failed to push metrics")
		}
	}()
}

// Close waits for an in-flight push
func (p *PrometheusSink) Close() error {
	p.wg.Wait()
	return nil
}
