package checkpoint

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func sampleBundle() *Bundle {
	return &Bundle{
		Version: constants.CheckpointVersion,
		Family:  constants.FamilyTranAD,
		Dataset: "SMD",
		Epoch:   1,
		Params: []models.ParamState{
			{Name: "enc.weight", Group: constants.GroupDefault, Rows: 2, Cols: 2, Values: []float64{0.1, -0.2, 0.3, 0.4}},
			{Name: "enc.bias", Group: constants.GroupDefault, Rows: 1, Cols: 2, Values: []float64{0, 0.5}},
		},
		Optimizer: models.OptimizerState{
			LearningRate: 0.0001,
			Beta1:        0.9,
			Beta2:        0.999,
			Epsilon:      1e-8,
			WeightDecay:  1e-5,
			Moments: map[string]models.MomentState{
				"enc.weight": {Step: 2, M: []float64{1, 2, 3, 4}, V: []float64{1, 1, 1, 1}},
			},
		},
		Scheduler: models.SchedulerState{BaseLR: 0.0001, StepSize: 5, Gamma: 0.9, LastEpoch: 2},
		History: []models.EpochRecord{
			{Epoch: 0, Loss1: 0.5, Loss2: 0.4, HasLoss2: true, LearningRate: 0.0001, Duration: time.Second},
			{Epoch: 1, Loss1: 0.3, Loss2: 0.2, HasLoss2: true, LearningRate: 0.0001, Duration: time.Second},
		},
		SavedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := sampleBundle()
	data, err := Encode(b)
	require.NoError(t, err)
	assert.Equal(t, constants.CheckpointMagic, string(data[:len(constants.CheckpointMagic)]))

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
}

func TestDecodeRejectsCorruption(t *testing.T) {
	data, err := Encode(sampleBundle())
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     {},
		"truncated": data[:len(data)-3],
		"bad magic": append([]byte("XXXXXXXX"), data[8:]...),
	}

	flipped := bytes.Clone(data)
	flipped[len(flipped)-1] ^= 0xFF
	cases["payload flipped"] = flipped

	digest := bytes.Clone(data)
	digest[len(constants.CheckpointMagic)+2] ^= 0xFF
	cases["digest flipped"] = digest

	version := bytes.Clone(data)
	version[len(constants.CheckpointMagic)+1] = 99
	cases["unknown version"] = version

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.True(t, errors.IsType(err, errors.ErrorTypeCheckpoint))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(sampleBundle()))
	assert.Error(t, Validate(nil))

	b := sampleBundle()
	b.Optimizer.Moments["enc.weight"] = models.MomentState{Step: 1, M: []float64{1}, V: []float64{1}}
	assert.Error(t, Validate(b))

	b = sampleBundle()
	b.Optimizer.Moments["ghost"] = models.MomentState{}
	assert.Error(t, Validate(b))

	b = sampleBundle()
	b.Params[1].Values = []float64{1}
	assert.Error(t, Validate(b))

	b = sampleBundle()
	b.Epoch = 4
	assert.Error(t, Validate(b))

	b = sampleBundle()
	b.History[1].Epoch = 0
	assert.Error(t, Validate(b))

	b = sampleBundle()
	b.Scheduler.StepSize = 0
	assert.Error(t, Validate(b))

	_, err := Encode(&Bundle{Family: constants.FamilyUSAD})
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "TranAD_SMD", Key(constants.FamilyTranAD, "SMD"))
}

func TestLocalStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStore(dir, testLogger())
	require.NoError(t, err)
	assert.Equal(t, constants.StorageLocal, store.Backend())

	key := Key(constants.FamilyTranAD, "SMD")
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	b := sampleBundle()
	require.NoError(t, store.Save(ctx, key, b))
	assert.FileExists(t, filepath.Join(dir, key, constants.CheckpointFile))

	loaded, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, b, loaded)

	// overwrite leaves exactly one file behind
	b.Epoch = 2
	b.History = append(b.History, models.EpochRecord{Epoch: 2, Loss1: 0.1, Loss2: 0.1, HasLoss2: true})
	require.NoError(t, store.Save(ctx, key, b))
	entries, err := os.ReadDir(filepath.Join(dir, key))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	loaded, err = store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Epoch)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Delete(ctx, key))
}

func TestLocalStoreFailedSaveKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	key := "USAD_SMAP"
	b := sampleBundle()
	require.NoError(t, store.Save(ctx, key, b))

	invalid := sampleBundle()
	invalid.Params = nil
	assert.Error(t, store.Save(ctx, key, invalid))

	loaded, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, b.Epoch, loaded.Epoch)
}

func TestLocalStoreDetectsCorruptFile(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	key := "DAGMM_SMD"
	require.NoError(t, store.Save(ctx, key, sampleBundle()))
	require.NoError(t, os.WriteFile(store.Path(key), []byte("not a checkpoint at all, definitely not"), 0644))

	_, err = store.Load(ctx, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLocalStoreHonoursCancellation(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Save(ctx, "k", sampleBundle()), context.Canceled)
}

// fakeS3 keeps objects in memory
type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	store, err := NewS3StoreWithClient(&S3Config{Region: "us-east-1", Bucket: "models"}, client, testLogger())
	require.NoError(t, err)
	assert.Equal(t, constants.StorageS3, store.Backend())

	key := Key(constants.FamilyUSAD, "SMAP")
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	b := sampleBundle()
	require.NoError(t, store.Save(ctx, key, b))
	assert.Contains(t, client.objects, "models/checkpoints/USAD_SMAP/model.ckpt")

	loaded, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, b, loaded)

	require.NoError(t, store.Delete(ctx, key))
	assert.Empty(t, client.objects)

	require.NoError(t, store.Close())
	assert.Error(t, store.Save(ctx, key, b))
}

func TestS3StorePrefix(t *testing.T) {
	store, err := NewS3StoreWithClient(&S3Config{Bucket: "b", Prefix: "runs/prod"}, newFakeS3(), nil)
	require.NoError(t, err)
	assert.Equal(t, "runs/prod/GDN_WADI/model.ckpt", store.objectKey("GDN_WADI"))
}

func TestNewS3StoreInvalidConfig(t *testing.T) {
	_, err := NewS3Store(nil, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 config cannot be nil")

	_, err = NewS3Store(&S3Config{Region: "us-east-1"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 bucket is required")
}

func TestRedisStoreKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	store := NewRedisStoreWithClient(&RedisConfig{}, client, testLogger())
	assert.Equal(t, constants.CheckpointRedisPrefix+"MSCRED_SWaT", store.redisKey("MSCRED_SWaT"))
	assert.Equal(t, constants.StorageRedis, store.Backend())

	store = NewRedisStoreWithClient(&RedisConfig{KeyPrefix: "lab:"}, client, testLogger())
	assert.Equal(t, "lab:MSCRED_SWaT", store.redisKey("MSCRED_SWaT"))
}

func TestNewRedisStoreInvalidConfig(t *testing.T) {
	_, err := NewRedisStore(context.Background(), nil, testLogger())
	assert.Error(t, err)
	_, err = NewRedisStore(context.Background(), &RedisConfig{}, testLogger())
	assert.Error(t, err)
}

func TestPostgresConfig(t *testing.T) {
	c := &PostgresConfig{Host: "db", Database: "tsad", Username: "u", Password: "p"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=tsad sslmode=disable", c.DSN())
	assert.Equal(t, constants.CheckpointTable, c.table())

	_, err := NewPostgresStore(context.Background(), nil, testLogger())
	assert.Error(t, err)
	_, err = NewPostgresStore(context.Background(), &PostgresConfig{Host: "db"}, testLogger())
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(testLogger())
	assert.Equal(t, []string{constants.StorageLocal, constants.StoragePostgres, constants.StorageRedis, constants.StorageS3}, f.Backends())

	store, err := f.Open(ctx, Config{Path: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, constants.StorageLocal, store.Backend())

	_, err = f.Open(ctx, Config{Backend: "ftp"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))

	_, err = f.Open(ctx, Config{Backend: constants.StorageS3})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfiguration)
}
