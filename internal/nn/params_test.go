package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
)

func TestParamSetGroupsAndZeroGrad(t *testing.T) {
	set := NewParamSet()
	rng := rand.New(rand.NewSource(7))
	gen := NewLinear(set, rng, constants.GroupGenerator, "g", 2, 2)
	disc := NewLinear(set, rng, constants.GroupDiscriminator, "d", 2, 1)

	assert.Len(t, set.Group(constants.GroupGenerator), 2)
	assert.Len(t, set.Group(constants.GroupDiscriminator), 2)
	assert.Equal(t, []string{constants.GroupDiscriminator, constants.GroupGenerator}, set.Groups())
	assert.Equal(t, 4+2+2+1, set.Size())

	x := autograd.New(1, 2, []float64{0.3, -0.4})
	loss := autograd.Sum(disc.Forward(gen.Forward(x)))
	require.NoError(t, autograd.Backward(loss, false))
	for _, p := range set.Params() {
		assert.True(t, p.Tensor.HasGrad(), p.Name)
	}

	set.ZeroGrad(constants.GroupGenerator)
	for _, p := range set.Group(constants.GroupGenerator) {
		assert.False(t, p.Tensor.HasGrad(), p.Name)
	}
	for _, p := range set.Group(constants.GroupDiscriminator) {
		assert.True(t, p.Tensor.HasGrad(), p.Name)
	}

	set.ZeroGrad()
	for _, p := range set.Params() {
		assert.False(t, p.Tensor.HasGrad(), p.Name)
	}
}

func TestParamSetStateRoundTrip(t *testing.T) {
	build := func(seed int64) *ParamSet {
		set := NewParamSet()
		NewElmanCell(set, rand.New(rand.NewSource(seed)), "", "cell", 3, 4)
		return set
	}

	src := build(1)
	dst := build(2)
	require.NotEqual(t, src.State(), dst.State())

	require.NoError(t, dst.LoadState(src.State()))
	assert.Equal(t, src.State(), dst.State())
}

func TestParamSetRejectsMismatchedState(t *testing.T) {
	set := NewParamSet()
	NewLinear(set, rand.New(rand.NewSource(1)), "", "layer", 2, 3)
	before := set.State()

	state := set.State()
	state[0].Values = state[0].Values[:1]
	err := set.LoadState(state)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCheckpoint))
	assert.Equal(t, before, set.State())

	state = set.State()
	state[1].Name = "other.bias"
	assert.Error(t, set.LoadState(state))
}

func TestRegisterDuplicatePanics(t *testing.T) {
	set := NewParamSet()
	set.Register("", "w", 1, 1, nil)
	assert.Panics(t, func() { set.Register("", "w", 1, 1, nil) })
}
