package checkpoint

import (
	"bytes"
	"context"
	"io"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
)

// S3Config holds configuration for the S3 checkpoint backend
type S3Config struct {
	Region          string        `json:"region" mapstructure:"region"`
	Bucket          string        `json:"bucket" mapstructure:"bucket"`
	Prefix          string        `json:"prefix" mapstructure:"prefix"`
	AccessKeyID     string        `json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" mapstructure:"session_token"`
	Endpoint        string        `json:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle  bool          `json:"force_path_style" mapstructure:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" mapstructure:"disable_ssl"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	StorageClass    string        `json:"storage_class" mapstructure:"storage_class"`
}

// S3Store keeps checkpoints as objects under {prefix}{key}/model.ckpt
type S3Store struct {
	config *S3Config
	client s3iface.S3API
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewS3Store creates an S3 session from config
func NewS3Store(config *S3Config, logger *logrus.Logger) (*S3Store, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}
	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 bucket is required")
	}

	awsConfig := &aws.Config{
		Region:     aws.String(config.Region),
		MaxRetries: aws.Int(config.MaxRetries),
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKeyID,
			config.SecretAccessKey,
			config.SessionToken,
		)
	}
	// S3-compatible services
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(config.ForcePathStyle)
	}
	if config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "failed to create AWS session")
	}
	return NewS3StoreWithClient(config, s3.New(sess), logger)
}

// NewS3StoreWithClient uses an existing S3 client
func NewS3StoreWithClient(config *S3Config, client s3iface.S3API, logger *logrus.Logger) (*S3Store, error) {
	if config == nil || config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.Timeout <= 0 {
		config.Timeout = constants.DefaultStorageTimeout
	}
	return &S3Store{config: config, client: client, logger: logger}, nil
}

func (s *S3Store) objectKey(key string) string {
	prefix := s.config.Prefix
	if prefix == "" {
		prefix = constants.CheckpointS3Prefix
	}
	return path.Join(prefix, key, constants.CheckpointFile)
}

// Save uploads the encoded bundle. S3 replaces objects atomically.
func (s *S3Store) Save(ctx context.Context, key string, bundle *Bundle) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStorageError(errors.CodeNotConnected, "S3 store is closed")
	}

	data, err := Encode(bundle)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(constants.MimeTypeCheckpoint),
		Metadata: map[string]*string{
			"family":  aws.String(bundle.Family),
			"dataset": aws.String(bundle.Dataset),
		},
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}
	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return errors.WrapStorageError(err, "save", constants.StorageS3).WithKey(key).WithDuration(time.Since(start))
	}

	s.logger.WithFields(logrus.Fields{
		"bucket":   s.config.Bucket,
		"object":   s.objectKey(key),
		"epoch":    bundle.Epoch,
		"duration": time.Since(start),
	}).Debug("Uploaded checkpoint")
	return nil
}

// Load downloads and verifies the bundle stored under key
func (s *S3Store) Load(ctx context.Context, key string) (*Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "S3 store is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, notFound(key)
		}
		return nil, errors.WrapStorageError(err, "load", constants.StorageS3).WithKey(key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.WrapStorageError(err, "load", constants.StorageS3).WithKey(key)
	}
	return Decode(data)
}

// Delete removes the object stored under key
func (s *S3Store) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStorageError(errors.CodeNotConnected, "S3 store is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return errors.WrapStorageError(err, "delete", constants.StorageS3).WithKey(key)
	}
	return nil
}

// Backend returns "s3"
func (s *S3Store) Backend() string { return constants.StorageS3 }

// Close marks the store closed; S3 holds no persistent connections
func (s *S3Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
