package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/interfaces"
)

// Config selects and configures a checkpoint backend
type Config struct {
	Backend  string          `json:"backend" mapstructure:"backend"`
	Path     string          `json:"path" mapstructure:"path"`
	S3       *S3Config       `json:"s3,omitempty" mapstructure:"s3"`
	Redis    *RedisConfig    `json:"redis,omitempty" mapstructure:"redis"`
	Postgres *PostgresConfig `json:"postgres,omitempty" mapstructure:"postgres"`
}

// DefaultConfig stores checkpoints on the local filesystem
func DefaultConfig() Config {
	return Config{
		Backend: constants.StorageLocal,
		Path:    constants.CheckpointDir,
	}
}

// CreateFunc opens a checkpoint store from config
type CreateFunc func(ctx context.Context, config Config, logger *logrus.Logger) (interfaces.CheckpointStore, error)

// Factory opens checkpoint stores by backend name
type Factory struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a factory with the built-in backends registered
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

// Open creates the store selected by config.Backend
func (f *Factory) Open(ctx context.Context, config Config) (interfaces.CheckpointStore, error) {
	backend := config.Backend
	if backend == "" {
		backend = constants.StorageLocal
	}

	f.mu.RLock()
	create, exists := f.creators[backend]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("checkpoint backend '%s' is not supported", backend)).WithCause(errors.ErrInvalidConfiguration)
	}

	store, err := create(ctx, config, f.logger)
	if err != nil {
		return nil, err
	}

	f.logger.WithFields(logrus.Fields{
		"backend": backend,
	}).Debug("Opened checkpoint store")
	return store, nil
}

// Register adds or replaces a backend
func (f *Factory) Register(backend string, create CreateFunc) error {
	if backend == "" {
		return errors.NewConfigurationError(errors.CodeInvalidParameter, "backend name cannot be empty")
	}
	if create == nil {
		return errors.NewConfigurationError(errors.CodeInvalidParameter, "create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[backend] = create
	return nil
}

// Backends returns the registered backend names, sorted
func (f *Factory) Backends() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Factory) registerDefaults() {
	f.Register(constants.StorageLocal, func(_ context.Context, config Config, logger *logrus.Logger) (interfaces.CheckpointStore, error) {
		return NewLocalStore(config.Path, logger)
	})

	f.Register(constants.StorageS3, func(_ context.Context, config Config, logger *logrus.Logger) (interfaces.CheckpointStore, error) {
		if config.S3 == nil {
			return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "s3 backend requires an s3 section").
				WithCause(errors.ErrMissingConfiguration)
		}
		return NewS3Store(config.S3, logger)
	})

	f.Register(constants.StorageRedis, func(ctx context.Context, config Config, logger *logrus.Logger) (interfaces.CheckpointStore, error) {
		if config.Redis == nil {
			return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "redis backend requires a redis section").
				WithCause(errors.ErrMissingConfiguration)
		}
		return NewRedisStore(ctx, config.Redis, logger)
	})

	f.Register(constants.StoragePostgres, func(ctx context.Context, config Config, logger *logrus.Logger) (interfaces.CheckpointStore, error) {
		if config.Postgres == nil {
			return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "postgres backend requires a postgres section").
				WithCause(errors.ErrMissingConfiguration)
		}
		return NewPostgresStore(ctx, config.Postgres, logger)
	})
}

// Open is a convenience wrapper around a default factory
func Open(ctx context.Context, config Config, logger *logrus.Logger) (interfaces.CheckpointStore, error) {
	return NewFactory(logger).Open(ctx, config)
}
