package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
)

// PostgresConfig holds configuration for the Postgres checkpoint backend
type PostgresConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	Database        string        `json:"database" mapstructure:"database"`
	Username        string        `json:"username" mapstructure:"username"`
	Password        string        `json:"password" mapstructure:"password"`
	SSLMode         string        `json:"ssl_mode" mapstructure:"ssl_mode"`
	Table           string        `json:"table" mapstructure:"table"`
	ConnectTimeout  time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// DSN returns the lib/pq connection string
func (c *PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.Username, c.Password, c.Database, sslMode)
}

func (c *PostgresConfig) table() string {
	if c.Table == "" {
		return constants.CheckpointTable
	}
	return c.Table
}

// PostgresStore keeps one row per key and replaces it with an upsert
type PostgresStore struct {
	config *PostgresConfig
	db     *sql.DB
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewPostgresStore opens the database, pings it and creates the checkpoint
// table if it does not exist
func NewPostgresStore(ctx context.Context, config *PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres config cannot be nil")
	}
	if config.Host == "" || config.Database == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres host and database are required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "failed to open database connection")
	}
	if config.MaxConnections > 0 {
		db.SetMaxOpenConns(config.MaxConnections)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = constants.DefaultConnectionTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.NewStorageError(errors.CodeConnectionFailed, "failed to ping database").
			WithDetails(err.Error()).WithCause(errors.ErrStorageConnectionFailed)
	}

	store := &PostgresStore{config: config, db: db, logger: logger}
	if err := store.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "failed to initialize schema")
	}

	logger.WithFields(logrus.Fields{
		"host":     config.Host,
		"database": config.Database,
		"table":    config.table(),
	}).Info("Connected to Postgres checkpoint store")
	return store, nil
}

func (p *PostgresStore) initializeSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key      TEXT PRIMARY KEY,
		family   TEXT NOT NULL,
		dataset  TEXT NOT NULL,
		epoch    INTEGER NOT NULL,
		data     BYTEA NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL
	)`, pq.QuoteIdentifier(p.config.table()))
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

// Save upserts the encoded bundle in a single statement
func (p *PostgresStore) Save(ctx context.Context, key string, bundle *Bundle) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.NewStorageError(errors.CodeNotConnected, "Postgres store is closed")
	}

	data, err := Encode(bundle)
	if err != nil {
		return err
	}

	start := time.Now()
	query := fmt.Sprintf(`INSERT INTO %s (key, family, dataset, epoch, data, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			family = EXCLUDED.family,
			dataset = EXCLUDED.dataset,
			epoch = EXCLUDED.epoch,
			data = EXCLUDED.data,
			saved_at = EXCLUDED.saved_at`, pq.QuoteIdentifier(p.config.table()))
	if _, err := p.db.ExecContext(ctx, query, key, bundle.Family, bundle.Dataset, bundle.Epoch, data, time.Now().UTC()); err != nil {
		return errors.WrapStorageError(err, "save", constants.StoragePostgres).WithKey(key).WithDuration(time.Since(start))
	}

	p.logger.WithFields(logrus.Fields{
		"key":      key,
		"epoch":    bundle.Epoch,
		"duration": time.Since(start),
	}).Debug("Stored checkpoint in Postgres")
	return nil
}

// Load reads and verifies the bundle stored under key
func (p *PostgresStore) Load(ctx context.Context, key string) (*Bundle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "Postgres store is closed")
	}

	var data []byte
	query := fmt.Sprintf("SELECT data FROM %s WHERE key = $1", pq.QuoteIdentifier(p.config.table()))
	if err := p.db.QueryRowContext(ctx, query, key).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound(key)
		}
		return nil, errors.WrapStorageError(err, "load", constants.StoragePostgres).WithKey(key)
	}
	return Decode(data)
}

// Delete removes the row stored under key
func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.NewStorageError(errors.CodeNotConnected, "Postgres store is closed")
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", pq.QuoteIdentifier(p.config.table()))
	if _, err := p.db.ExecContext(ctx, query, key); err != nil {
		return errors.WrapStorageError(err, "delete", constants.StoragePostgres).WithKey(key)
	}
	return nil
}

// Backend returns "postgres"
func (p *PostgresStore) Backend() string { return constants.StoragePostgres }

// Close closes the database handle
func (p *PostgresStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.db.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "failed to close database connection")
	}
	p.logger.Info("Postgres checkpoint store closed")
	return nil
}
