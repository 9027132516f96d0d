// Package strategy binds each model family to its loss computation. A
// strategy is resolved once per run from the network's family and is then
// driven unit by unit by the epoch driver.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// Optimizer is the part of the optimizer a strategy drives.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// StepInput is everything one strategy step needs. Hidden is the carry
// returned by the previous step of the same pass, nil at pass start.
type StepInput struct {
	Epoch     int
	Iteration int // 1-based index of the unit within the pass
	MaxIters  int
	Unit      models.Unit
	Hidden    *autograd.Tensor
	Training  bool
	Optimizer Optimizer
}

// StepOutput is the result of one step. Training steps fill Terms; inference
// steps fill Errors and, where the family has them, Predictions.
type StepOutput struct {
	Terms       map[string]float64
	Errors      *mat.Dense
	Predictions *mat.Dense
	Hidden      *autograd.Tensor
	MiniBatch   *models.MiniBatchMetric
}

// Strategy is one family's loss computation.
type Strategy interface {
	Family() string
	Layout() models.Layout
	Units(batch *models.WindowBatch) []models.Unit
	Step(ctx context.Context, in StepInput) (*StepOutput, error)
	Summarize(epoch int, outputs []*StepOutput) models.EpochRecord
}

// Config tunes the strategies that have knobs
type Config struct {
	// Epsilon is the two-phase annealing base, > 1
	Epsilon float64 `json:"epsilon" mapstructure:"epsilon"`
	// ReportEvery is the mini-batch telemetry cadence of the two-phase family
	ReportEvery int `json:"report_every" mapstructure:"report_every"`
}

// DefaultConfig returns the standard strategy settings
func DefaultConfig() Config {
	return Config{
		Epsilon:     constants.TwoPhaseEpsilon,
		ReportEvery: constants.MiniBatchReportInterval,
	}
}

// CreateFunc binds a strategy to a network of the matching family
type CreateFunc func(net networks.Network, cfg Config) (Strategy, error)

// Registry maps family names to strategy constructors
type Registry struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
}

// NewRegistry creates a registry with every built-in family
func NewRegistry() *Registry {
	r := &Registry{creators: make(map[string]CreateFunc)}
	r.registerDefaults()
	return r
}

// Register adds or replaces a family strategy
func (r *Registry) Register(family string, create CreateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[family] = create
}

// Create resolves the strategy for the network's family
func (r *Registry) Create(net networks.Network, cfg Config) (Strategy, error) {
	if net == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidParameter, "network cannot be nil")
	}

	r.mu.RLock()
	create, ok := r.creators[net.Family()]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewConfigurationError(errors.CodeUnknownFamily,
			fmt.Sprintf("no loss strategy for model family '%s'", net.Family())).WithCause(errors.ErrUnknownFamily)
	}
	return create(net, cfg)
}

// Families returns the registered family names, sorted
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.creators))
	for name := range r.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) registerDefaults() {
	r.Register(constants.FamilyLSTMAD, newSeriesStrategy)
	r.Register(constants.FamilyDAGMM, newDAGMMStrategy)
	r.Register(constants.FamilyOmniAnomaly, newOmniStrategy)
	r.Register(constants.FamilyUSAD, newUSADStrategy)
	r.Register(constants.FamilyGDN, newGraphStrategy)
	r.Register(constants.FamilyMSCRED, newGraphStrategy)
	r.Register(constants.FamilyCAEM, newGraphStrategy)
	r.Register(constants.FamilyMTADGAT, newGraphStrategy)
	r.Register(constants.FamilyAttention, newAttentionStrategy)
	r.Register(constants.FamilyMADGAN, newAdversarialStrategy)
	r.Register(constants.FamilyTranAD, newTwoPhaseStrategy)
}

var defaultRegistry = NewRegistry()

// New resolves the strategy for net from the built-in registry
func New(net networks.Network, cfg Config) (Strategy, error) {
	return defaultRegistry.Create(net, cfg)
}

// Families lists the families of the built-in registry
func Families() []string {
	return defaultRegistry.Families()
}

// CheckBatch verifies that a window batch fits the network and strategy
func CheckBatch(net networks.Network, s Strategy, batch *models.WindowBatch) error {
	if batch == nil || batch.Len() == 0 {
		return errors.NewConfigurationError(errors.CodeInvalidParameter, "window batch is empty")
	}
	if batch.Features != net.Features() {
		return errors.NewConfigurationError(errors.CodeChannelMismatch,
			fmt.Sprintf("data has %d channels, %s model expects %d", batch.Features, net.Family(), net.Features())).
			WithCause(errors.ErrChannelMismatch)
	}
	if batch.Layout != s.Layout() {
		return errors.NewConfigurationError(errors.CodeInvalidParameter,
			fmt.Sprintf("batch layout %q does not match %s layout %q", batch.Layout, net.Family(), s.Layout()))
	}
	if batch.Layout != models.LayoutSeries && batch.Window != net.Window() {
		return errors.NewConfigurationError(errors.CodeInvalidWindow,
			fmt.Sprintf("batch window %d does not match %s window %d", batch.Window, net.Family(), net.Window()))
	}
	return nil
}

func unsupported(net networks.Network, contract string) error {
	return errors.NewConfigurationError(errors.CodeUnsupportedNetwork,
		fmt.Sprintf("%s network %T does not implement %s", net.Family(), net, contract))
}
