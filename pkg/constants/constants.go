package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "tsad"
	AppDescription = "Reconstruction-based time series anomaly detection"
	AppVersion     = "0.1.0"

	// Environment prefix used by viper
	EnvPrefix = "TSAD"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Server defaults
	DefaultPort            = 9090
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	// Storage defaults
	DefaultStorageTimeout    = 30 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
	DefaultMaxConnections    = 10
)

// Model families
const (
	FamilyTranAD      = "TranAD"
	FamilyDAGMM       = "DAGMM"
	FamilyOmniAnomaly = "OmniAnomaly"
	FamilyUSAD        = "USAD"
	FamilyGDN         = "GDN"
	FamilyMTADGAT     = "MTAD_GAT"
	FamilyMSCRED      = "MSCRED"
	FamilyCAEM        = "CAE_M"
	FamilyAttention   = "Attention"
	FamilyMADGAN      = "MAD_GAN"
	FamilyLSTMAD      = "LSTM_AD"

	// DefaultFamily runs over the whole series without windowing.
	DefaultFamily = FamilyLSTMAD
)

// Training defaults
const (
	DefaultEpochs         = 5
	DefaultSeed           = 42
	DefaultWeightDecay    = 1e-5
	DefaultSchedulerStep  = 5
	DefaultSchedulerGamma = 0.9
	DefaultAdamBeta1      = 0.9
	DefaultAdamBeta2      = 0.999
	DefaultAdamEpsilon    = 1e-8

	// Two-phase annealing base; factor = TwoPhaseEpsilon^(-epoch).
	TwoPhaseEpsilon = 1.25

	// Mini-batch telemetry cadence for the two-phase family.
	MiniBatchReportInterval = 100

	// Label smoothing targets for the adversarial generator/discriminator family.
	RealLabel = 0.9
	FakeLabel = 0.1

	// Fraction of training rows kept with --less.
	LessFraction = 0.2
)

// Parameter groups
const (
	GroupDefault       = "default"
	GroupGenerator     = "generator"
	GroupDiscriminator = "discriminator"
)

// Checkpoint layout
const (
	CheckpointDir         = "checkpoints"
	CheckpointFile        = "model.ckpt"
	CheckpointMagic       = "TSADCKPT"
	CheckpointVersion     = 1
	CheckpointTable       = "tsad_checkpoints"
	CheckpointRedisPrefix = "tsad:checkpoint:"
	CheckpointS3Prefix    = "checkpoints/"
)

// Storage backends
const (
	StorageLocal    = "local"
	StorageS3       = "s3"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Dataset layout
const (
	DefaultDataDir = "processed"
	TrainFile      = "train.csv"
	TestFile       = "test.csv"
	LabelsFile     = "labels.csv"
)

// Metric names
const (
	MetricEpochLoss1      = "tsad_epoch_loss1"
	MetricEpochLoss2      = "tsad_epoch_loss2"
	MetricLearningRate    = "tsad_learning_rate"
	MetricEpochsTotal     = "tsad_epochs_total"
	MetricEpochDuration   = "tsad_epoch_duration_seconds"
	MetricMiniBatchLoss1  = "tsad_minibatch_loss1"
	MetricMiniBatchLoss2  = "tsad_minibatch_loss2"
	MetricInfluxMeasure   = "tsad_training"
	MetricInfluxMiniBatch = "tsad_minibatch"
)

// Output formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)
