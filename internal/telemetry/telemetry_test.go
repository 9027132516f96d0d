package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/models"
)

var run = models.RunInfo{RunID: "run-1", Family: constants.FamilyTranAD, Dataset: "SMD"}

type recordingSink struct {
	epochs     []models.EpochRecord
	miniBatch  []models.MiniBatchMetric
	closeCalls int
}

func (r *recordingSink) RecordEpoch(_ models.RunInfo, rec models.EpochRecord) {
	r.epochs = append(r.epochs, rec)
}

func (r *recordingSink) RecordMiniBatch(_ models.RunInfo, m models.MiniBatchMetric) {
	r.miniBatch = append(r.miniBatch, m)
}

func (r *recordingSink) Close() error {
	r.closeCalls++
	return nil
}

func TestLogSinkWritesEpochFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := NewLogSink(logger)

	sink.RecordEpoch(run, models.EpochRecord{
		Epoch: 3, Loss1: 0.25, Loss2: 0.125, HasLoss2: true, LearningRate: 0.001,
		Diagnostics: map[string]float64{"factor": 0.5},
	})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, 3, entry.Data["epoch"])
	assert.Equal(t, 0.25, entry.Data["loss1"])
	assert.Equal(t, 0.125, entry.Data["loss2"])
	assert.Equal(t, 0.5, entry.Data["diag_factor"])
	assert.Equal(t, "run-1", entry.Data["run_id"])

	hook.Reset()
	sink.RecordEpoch(run, models.EpochRecord{Epoch: 4, Loss1: 0.2})
	_, hasLoss2 := hook.LastEntry().Data["loss2"]
	assert.False(t, hasLoss2)
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := NewMultiSink(logrus.New(), a, nil, b)

	m.RecordEpoch(run, models.EpochRecord{Epoch: 0})
	m.RecordMiniBatch(run, models.MiniBatchMetric{Iteration: 100})
	require.NoError(t, m.Close())

	for _, s := range []*recordingSink{a, b} {
		assert.Len(t, s.epochs, 1)
		assert.Len(t, s.miniBatch, 1)
		assert.Equal(t, 1, s.closeCalls)
	}
}

func TestPrometheusSinkRecordsGauges(t *testing.T) {
	p, err := NewPrometheusSink(&PrometheusConfig{Enabled: true}, logrus.New())
	require.NoError(t, err)

	p.RecordEpoch(run, models.EpochRecord{Epoch: 0, Loss1: 0.5, Loss2: 0.25, HasLoss2: true, LearningRate: 0.01, Duration: time.Second})
	p.RecordEpoch(run, models.EpochRecord{Epoch: 1, Loss1: 0.4, Loss2: 0.2, HasLoss2: true, LearningRate: 0.009})
	p.RecordMiniBatch(run, models.MiniBatchMetric{Iteration: 100, Loss1: 0.7, Loss2: 0.6})

	assert.Equal(t, 0.4, testutil.ToFloat64(p.epochLoss1.WithLabelValues(run.Family, run.Dataset, run.RunID)))
	assert.Equal(t, 0.2, testutil.ToFloat64(p.epochLoss2.WithLabelValues(run.Family, run.Dataset, run.RunID)))
	assert.Equal(t, 0.009, testutil.ToFloat64(p.learningRate.WithLabelValues(run.Family, run.Dataset, run.RunID)))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.epochsTotal.WithLabelValues(run.Family, run.Dataset, run.RunID)))
	assert.Equal(t, 0.7, testutil.ToFloat64(p.miniBatchLoss1.WithLabelValues(run.Family, run.Dataset, run.RunID)))

	families, err := p.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	require.NoError(t, p.Close())
}

func TestInfluxPoints(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := epochPoint(run, models.EpochRecord{
		Epoch: 2, Loss1: 0.3, Loss2: 0.1, HasLoss2: true, LearningRate: 0.001,
		Diagnostics: map[string]float64{"factor": 0.64},
	}, ts)

	assert.Equal(t, constants.MetricInfluxMeasure, p.Name())
	assert.Equal(t, ts, p.Time())

	fields := make(map[string]interface{})
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(2), fields["epoch"])
	assert.Equal(t, 0.3, fields["loss1"])
	assert.Equal(t, 0.1, fields["loss2"])
	assert.Equal(t, 0.64, fields["factor"])

	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"family": run.Family, "dataset": run.Dataset, "run_id": run.RunID}, tags)

	mb := miniBatchPoint(run, models.MiniBatchMetric{Epoch: 1, Iteration: 250, Loss1: 1, Loss2: 2}, ts)
	assert.Equal(t, constants.MetricInfluxMiniBatch, mb.Name())
}

func TestNewInfluxSinkValidates(t *testing.T) {
	_, err := NewInfluxSink(nil, logrus.New())
	assert.Error(t, err)
	_, err = NewInfluxSink(&InfluxConfig{URL: "http://localhost:8086"}, logrus.New())
	assert.Error(t, err)
}

func TestNewSelectsSinks(t *testing.T) {
	logger := logrus.New()

	sink, prom, err := New(Config{}, logger)
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, sink)
	assert.Nil(t, prom)

	sink, _, err = New(DefaultConfig(), logger)
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, sink)

	sink, prom, err = New(Config{Log: true, Prometheus: &PrometheusConfig{Enabled: true}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MultiSink{}, sink)
	assert.NotNil(t, prom)
	require.NoError(t, sink.Close())

	_, _, err = New(Config{Influx: &InfluxConfig{Enabled: true}}, logger)
	assert.Error(t, err)
}
