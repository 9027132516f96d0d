package networks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
)

// Config selects and sizes a family model. Zero Window, LearningRate and
// BatchSize fall back to the family defaults.
type Config struct {
	Family       string  `json:"family" mapstructure:"family"`
	Features     int     `json:"features" mapstructure:"features"`
	Window       int     `json:"window" mapstructure:"window"`
	LearningRate float64 `json:"learning_rate" mapstructure:"learning_rate"`
	BatchSize    int     `json:"batch_size" mapstructure:"batch_size"`
	Seed         int64   `json:"seed" mapstructure:"seed"`
}

type familyDefaults struct {
	window int
	lr     float64
}

// CreateFunc builds a family model from a validated config
type CreateFunc func(cfg Config) Network

// Factory builds family models by name
type Factory struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a factory with every built-in family registered
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	f := &Factory{
		creators: make(map[string]CreateFunc),
		logger:   logger,
	}
	f.registerDefaults()
	return f
}

// Create builds the model for cfg.Family
func (f *Factory) Create(cfg Config) (Network, error) {
	f.mu.RLock()
	create, exists := f.creators[cfg.Family]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewConfigurationError(errors.CodeUnknownFamily,
			fmt.Sprintf("model family '%s' is not supported", cfg.Family)).WithCause(errors.ErrUnknownFamily)
	}

	vb := errors.NewValidationBuilder()
	vb.SetField("features").Positive(cfg.Features)
	vb.SetField("window").NonNegative(cfg.Window)
	vb.SetField("batch_size").NonNegative(cfg.BatchSize)
	if err := vb.Build(); err != nil {
		return nil, err
	}

	net := create(cfg)

	f.logger.WithFields(logrus.Fields{
		"family":     net.Family(),
		"window":     net.Window(),
		"features":   net.Features(),
		"parameters": net.Params().Size(),
	}).Debug("Created network")

	return net, nil
}

// Register adds or replaces a family
func (f *Factory) Register(family string, create CreateFunc) error {
	if family == "" {
		return errors.NewConfigurationError(errors.CodeInvalidParameter, "family name cannot be empty")
	}
	if create == nil {
		return errors.NewConfigurationError(errors.CodeInvalidParameter, "create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[family] = create
	return nil
}

// Families returns the registered family names, sorted
func (f *Factory) Families() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSupported checks if a family is registered
func (f *Factory) IsSupported(family string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.creators[family]
	return ok
}

func (f *Factory) registerDefaults() {
	f.Register(constants.FamilyLSTMAD, func(cfg Config) Network { return NewLSTMAD(cfg) })
	f.Register(constants.FamilyDAGMM, func(cfg Config) Network { return NewDAGMM(cfg) })
	f.Register(constants.FamilyOmniAnomaly, func(cfg Config) Network { return NewOmniAnomaly(cfg) })
	f.Register(constants.FamilyUSAD, func(cfg Config) Network { return NewUSAD(cfg) })
	f.Register(constants.FamilyGDN, func(cfg Config) Network {
		return NewGraphPropagation(constants.FamilyGDN, cfg, 16, familyDefaults{window: 5, lr: 0.0001})
	})
	f.Register(constants.FamilyMSCRED, func(cfg Config) Network {
		return NewGraphPropagation(constants.FamilyMSCRED, cfg, 32, familyDefaults{window: 5, lr: 0.0001})
	})
	f.Register(constants.FamilyCAEM, func(cfg Config) Network {
		return NewGraphPropagation(constants.FamilyCAEM, cfg, 24, familyDefaults{window: 5, lr: 0.001})
	})
	f.Register(constants.FamilyMTADGAT, func(cfg Config) Network { return NewMTADGAT(cfg) })
	f.Register(constants.FamilyAttention, func(cfg Config) Network { return NewAttention(cfg) })
	f.Register(constants.FamilyMADGAN, func(cfg Config) Network { return NewMADGAN(cfg) })
	f.Register(constants.FamilyTranAD, func(cfg Config) Network { return NewTranAD(cfg) })
}
