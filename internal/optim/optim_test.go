package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
)

func quadraticSet() (*nn.ParamSet, *autograd.Tensor, *autograd.Tensor) {
	set := nn.NewParamSet()
	a := set.Register("a", "a", 1, 2, []float64{3, -2})
	b := set.Register("b", "b", 1, 1, []float64{1})
	return set, a, b
}

func TestAdamWMinimizesQuadratic(t *testing.T) {
	set, a, _ := quadraticSet()
	opt, err := NewAdamW(set, DefaultAdamWConfig(0.1))
	require.NoError(t, err)

	target := autograd.New(1, 2, []float64{0.5, 0.5})
	first := 0.0
	for i := 0; i < 300; i++ {
		opt.ZeroGrad()
		loss := autograd.MSE(a, target)
		if i == 0 {
			first = loss.Value()
		}
		require.NoError(t, autograd.Backward(loss, false))
		opt.Step()
	}
	final := autograd.MSE(a, target).Value()
	assert.Less(t, final, first/100)
}

func TestAdamWSkipsParamsWithoutGrad(t *testing.T) {
	set, a, b := quadraticSet()
	opt, err := NewAdamW(set, DefaultAdamWConfig(0.01))
	require.NoError(t, err)

	opt.ZeroGrad()
	require.NoError(t, autograd.Backward(autograd.Sum(a), false))
	opt.Step()

	assert.Equal(t, 1.0, b.Data[0], "parameter without gradient must not move, not even by weight decay")
	assert.NotEqual(t, 3.0, a.Data[0])

	state := opt.State()
	assert.Equal(t, 1, state.Moments["a"].Step)
	assert.Equal(t, 0, state.Moments["b"].Step)
}

func TestAdamWStateRoundTrip(t *testing.T) {
	set, a, _ := quadraticSet()
	opt, err := NewAdamW(set, DefaultAdamWConfig(0.01))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		opt.ZeroGrad()
		require.NoError(t, autograd.Backward(autograd.Sum(autograd.Square(a)), false))
		opt.Step()
	}
	opt.SetLearningRate(0.005)

	set2, _, _ := quadraticSet()
	opt2, err := NewAdamW(set2, DefaultAdamWConfig(0.02))
	require.NoError(t, err)
	require.NoError(t, opt2.LoadState(opt.State()))
	assert.Equal(t, opt.State(), opt2.State())
	assert.Equal(t, 0.005, opt2.LearningRate())
}

func TestAdamWRejectsInconsistentState(t *testing.T) {
	set, _, _ := quadraticSet()
	opt, err := NewAdamW(set, DefaultAdamWConfig(0.01))
	require.NoError(t, err)

	state := opt.State()
	ms := state.Moments["a"]
	ms.M = ms.M[:1]
	state.Moments["a"] = ms
	assert.Error(t, opt.LoadState(state))

	state = opt.State()
	delete(state.Moments, "b")
	assert.Error(t, opt.LoadState(state))
}

func TestNewAdamWValidatesConfig(t *testing.T) {
	set, _, _ := quadraticSet()
	cfg := DefaultAdamWConfig(0)
	_, err := NewAdamW(set, cfg)
	assert.Error(t, err)
}

func TestStepLRDecaysEveryStepSize(t *testing.T) {
	set, _, _ := quadraticSet()
	opt, err := NewAdamW(set, DefaultAdamWConfig(0.01))
	require.NoError(t, err)
	sched, err := NewStepLR(opt, 5, 0.9)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		sched.Step()
		assert.InDelta(t, 0.01, opt.LearningRate(), 1e-15, "step %d", i)
	}
	sched.Step()
	assert.InDelta(t, 0.009, opt.LearningRate(), 1e-15)
	for i := 0; i < 5; i++ {
		sched.Step()
	}
	assert.InDelta(t, 0.0081, opt.LearningRate(), 1e-15)
	assert.Equal(t, 10, sched.LastEpoch())
}

func TestStepLRStateRoundTrip(t *testing.T) {
	set, _, _ := quadraticSet()
	opt, err := NewAdamW(set, DefaultAdamWConfig(0.01))
	require.NoError(t, err)
	sched, err := NewStepLR(opt, 5, 0.9)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		sched.Step()
	}

	other, err := NewStepLR(opt, 3, 0.5)
	require.NoError(t, err)
	require.NoError(t, other.LoadState(sched.State()))
	assert.Equal(t, sched.State(), other.State())

	bad := sched.State()
	bad.StepSize = 0
	assert.Error(t, other.LoadState(bad))
}

func TestNewStepLRValidates(t *testing.T) {
	set, _, _ := quadraticSet()
	opt, err := NewAdamW(set, DefaultAdamWConfig(0.01))
	require.NoError(t, err)
	_, err = NewStepLR(opt, 0, 0.9)
	assert.Error(t, err)
}
