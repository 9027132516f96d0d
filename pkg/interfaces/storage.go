package interfaces

import (
	"context"

	"github.com/inferloop/tsad/pkg/models"
)

// CheckpointStore persists one checkpoint bundle per key. A Save either
// replaces the previous bundle completely or leaves it untouched.
type CheckpointStore interface {
	// Save writes the bundle under key
	Save(ctx context.Context, key string, bundle *models.CheckpointBundle) error

	// Load returns the bundle stored under key, or an error matching
	// checkpoint.ErrNotFound / checkpoint.ErrCorrupt
	Load(ctx context.Context, key string) (*models.CheckpointBundle, error)

	// Delete removes the bundle stored under key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Backend returns the backend name, e.g. "local" or "s3"
	Backend() string

	// Close releases backend connections
	Close() error
}

// DatasetLoader supplies the train/test/labels series of a named dataset.
type DatasetLoader interface {
	Load(ctx context.Context, name string) (train, test, labels *models.Series, err error)
}
