package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
)

// LocalStore keeps one checkpoint file per key under a base directory:
// {base}/{key}/model.ckpt.
type LocalStore struct {
	basePath string
	logger   *logrus.Logger
}

// NewLocalStore creates the base directory if needed
func NewLocalStore(basePath string, logger *logrus.Logger) (*LocalStore, error) {
	if basePath == "" {
		basePath = constants.CheckpointDir
	}
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.WrapStorageError(err, "init", constants.StorageLocal)
	}
	return &LocalStore{basePath: basePath, logger: logger}, nil
}

// Path returns the file a key is stored in
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.basePath, key, constants.CheckpointFile)
}

// Save writes to a temporary file in the target directory, syncs it and
// renames it over the previous checkpoint.
func (s *LocalStore) Save(ctx context.Context, key string, bundle *Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(bundle)
	if err != nil {
		return err
	}

	start := time.Now()
	target := s.Path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WrapStorageError(err, "save", constants.StorageLocal).WithKey(key)
	}

	tmp, err := os.CreateTemp(dir, constants.CheckpointFile+".*.tmp")
	if err != nil {
		return errors.WrapStorageError(err, "save", constants.StorageLocal).WithKey(key)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.WrapStorageError(err, "save", constants.StorageLocal).WithKey(key)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.WrapStorageError(err, "save", constants.StorageLocal).WithKey(key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.WrapStorageError(err, "save", constants.StorageLocal).WithKey(key)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return errors.WrapStorageError(err, "save", constants.StorageLocal).WithKey(key)
	}

	s.logger.WithFields(logrus.Fields{
		"key":      key,
		"path":     target,
		"epoch":    bundle.Epoch,
		"bytes":    len(data),
		"duration": time.Since(start),
	}).Debug("Saved checkpoint")
	return nil
}

// Load reads and verifies the checkpoint stored under key
func (s *LocalStore) Load(ctx context.Context, key string) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(key)
		}
		return nil, errors.WrapStorageError(err, "load", constants.StorageLocal).WithKey(key)
	}
	bundle, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", s.Path(key), err)
	}
	return bundle, nil
}

// Delete removes the checkpoint directory of key
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.basePath, key)); err != nil {
		return errors.WrapStorageError(err, "delete", constants.StorageLocal).WithKey(key)
	}
	return nil
}

// Backend returns "local"
func (s *LocalStore) Backend() string { return constants.StorageLocal }

// Close is a no-op for the local store
func (s *LocalStore) Close() error { return nil }
