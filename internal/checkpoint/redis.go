package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
)

// RedisConfig holds configuration for the Redis checkpoint backend
type RedisConfig struct {
	Addr         string        `json:"addr" mapstructure:"addr"`
	Password     string        `json:"password" mapstructure:"password"`
	DB           int           `json:"db" mapstructure:"db"`
	KeyPrefix    string        `json:"key_prefix" mapstructure:"key_prefix"`
	TTL          time.Duration `json:"ttl" mapstructure:"ttl"`
	DialTimeout  time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	PoolSize     int           `json:"pool_size" mapstructure:"pool_size"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
}

// RedisStore keeps each encoded checkpoint as a single string value. SET
// replaces the value atomically.
type RedisStore struct {
	config *RedisConfig
	client redis.UniversalClient
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, config *RedisConfig, logger *logrus.Logger) (*RedisStore, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis config cannot be nil")
	}
	if config.Addr == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
		MaxRetries:   config.MaxRetries,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, errors.NewStorageError(errors.CodeConnectionFailed, "failed to connect to Redis").
			WithDetails(err.Error()).WithCause(errors.ErrStorageConnectionFailed)
	}

	store := NewRedisStoreWithClient(config, client, logger)
	store.logger.WithFields(logrus.Fields{
		"addr": config.Addr,
		"db":   config.DB,
	}).Info("Connected to Redis checkpoint store")
	return store, nil
}

// NewRedisStoreWithClient uses an existing client
func NewRedisStoreWithClient(config *RedisConfig, client redis.UniversalClient, logger *logrus.Logger) *RedisStore {
	if config == nil {
		config = &RedisConfig{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisStore{config: config, client: client, logger: logger}
}

func (r *RedisStore) redisKey(key string) string {
	prefix := r.config.KeyPrefix
	if prefix == "" {
		prefix = constants.CheckpointRedisPrefix
	}
	return prefix + key
}

// Save stores the encoded bundle, with the configured TTL if any
func (r *RedisStore) Save(ctx context.Context, key string, bundle *Bundle) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.NewStorageError(errors.CodeNotConnected, "Redis store is closed")
	}

	data, err := Encode(bundle)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := r.client.Set(ctx, r.redisKey(key), data, r.config.TTL).Err(); err != nil {
		return errors.WrapStorageError(err, "save", constants.StorageRedis).WithKey(key).WithDuration(time.Since(start))
	}

	r.logger.WithFields(logrus.Fields{
		"key":      r.redisKey(key),
		"epoch":    bundle.Epoch,
		"duration": time.Since(start),
	}).Debug("Stored checkpoint in Redis")
	return nil
}

// Load fetches and verifies the bundle stored under key
func (r *RedisStore) Load(ctx context.Context, key string) (*Bundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "Redis store is closed")
	}

	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, notFound(key)
		}
		return nil, errors.WrapStorageError(err, "load", constants.StorageRedis).WithKey(key)
	}
	return Decode(data)
}

// Delete removes the value stored under key
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.NewStorageError(errors.CodeNotConnected, "Redis store is closed")
	}
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return errors.WrapStorageError(err, "delete", constants.StorageRedis).WithKey(key)
	}
	return nil
}

// Backend returns "redis"
func (r *RedisStore) Backend() string { return constants.StorageRedis }

// Close closes the Redis client
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.client.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "failed to close Redis client")
	}
	r.logger.Info("Redis checkpoint store closed")
	return nil
}
