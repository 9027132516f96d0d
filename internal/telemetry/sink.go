// Package telemetry delivers training metrics to logs, Prometheus and
// InfluxDB. Sinks are fire-and-forget: they never fail or slow the
// training loop, and delivery errors are only logged.
package telemetry

import (
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/interfaces"
	"github.com/inferloop/tsad/pkg/models"
)

// Config selects the sinks of a run
type Config struct {
	Log        bool              `json:"log" mapstructure:"log"`
	Prometheus *PrometheusConfig `json:"prometheus,omitempty" mapstructure:"prometheus"`
	Influx     *InfluxConfig     `json:"influx,omitempty" mapstructure:"influx"`
}

// DefaultConfig logs epochs and nothing else
func DefaultConfig() Config {
	return Config{Log: true}
}

// New builds the sinks enabled in config. Prometheus is returned separately
// as well so callers can expose its registry.
func New(config Config, logger *logrus.Logger) (interfaces.TelemetrySink, *PrometheusSink, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var (
		sinks []interfaces.TelemetrySink
		prom  *PrometheusSink
	)
	if config.Log {
		sinks = append(sinks, NewLogSink(logger))
	}
	if config.Prometheus != nil && config.Prometheus.Enabled {
		p, err := NewPrometheusSink(config.Prometheus, logger)
		if err != nil {
			return nil, nil, err
		}
		prom = p
		sinks = append(sinks, p)
	}
	if config.Influx != nil && config.Influx.Enabled {
		i, err := NewInfluxSink(config.Influx, logger)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, nil, err
		}
		sinks = append(sinks, i)
	}

	switch len(sinks) {
	case 0:
		return NopSink{}, prom, nil
	case 1:
		return sinks[0], prom, nil
	default:
		return NewMultiSink(logger, sinks...), prom, nil
	}
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) RecordEpoch(models.RunInfo, models.EpochRecord)         {}
func (NopSink) RecordMiniBatch(models.RunInfo, models.MiniBatchMetric) {}
func (NopSink) Close() error                                           { return nil }

// MultiSink fans out to several sinks
type MultiSink struct {
	sinks  []interfaces.TelemetrySink
	logger *logrus.Logger
}

// NewMultiSink combines sinks; nil entries are skipped
func NewMultiSink(logger *logrus.Logger, sinks ...interfaces.TelemetrySink) *MultiSink {
	if logger == nil {
		logger = logrus.New()
	}
	m := &MultiSink{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) RecordEpoch(run models.RunInfo, record models.EpochRecord) {
	for _, s := range m.sinks {
		s.RecordEpoch(run, record)
	}
}

func (m *MultiSink) RecordMiniBatch(run models.RunInfo, metric models.MiniBatchMetric) {
	for _, s := range m.sinks {
		s.RecordMiniBatch(run, metric)
	}
}

// Close closes every sink and logs, rather than returns, their errors
func (m *MultiSink) Close() error {
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			m.logger.WithError(err).Warn("Failed to close telemetry sink")
		}
	}
	return nil
}

// LogSink writes one structured log line per epoch
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) RecordEpoch(run models.RunInfo, record models.EpochRecord) {
	fields := logrus.Fields{
		"run_id":        run.RunID,
		"family":        run.Family,
		"dataset":       run.Dataset,
		"epoch":         record.Epoch,
		"loss1":         record.Loss1,
		"learning_rate": record.LearningRate,
		"duration":      record.Duration,
	}
	if record.HasLoss2 {
		fields["loss2"] = record.Loss2
	}
	for name, v := range record.Diagnostics {
		fields["diag_"+name] = v
	}
	l.logger.WithFields(fields).Info("Epoch completed")
}

func (l *LogSink) RecordMiniBatch(run models.RunInfo, metric models.MiniBatchMetric) {
	l.logger.WithFields(logrus.Fields{
		"run_id":    run.RunID,
		"family":    run.Family,
		"epoch":     metric.Epoch,
		"iteration": metric.Iteration,
		"loss1":     metric.Loss1,
		"loss2":     metric.Loss2,
	}).Debug("Mini-batch")
}

func (l *LogSink) Close() error { return nil }
