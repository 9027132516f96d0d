package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/internal/engine"
	"github.com/inferloop/tsad/internal/server"
	"github.com/inferloop/tsad/internal/strategy"
	"github.com/inferloop/tsad/internal/telemetry"
	"github.com/inferloop/tsad/pkg/constants"
)

const envPrefix = "TSAD"

type CLIConfig struct {
	DataDir    string            `mapstructure:"data_dir"`
	LogLevel   string            `mapstructure:"log_level"`
	LogFormat  string            `mapstructure:"log_format"`
	Training   TrainingConfig    `mapstructure:"training"`
	Checkpoint checkpoint.Config `mapstructure:"checkpoint"`
	Telemetry  telemetry.Config  `mapstructure:"telemetry"`
	Server     server.Config     `mapstructure:"server"`
}

// TrainingConfig holds the run settings that are not per-invocation flags
type TrainingConfig struct {
	Seed           int64   `mapstructure:"seed"`
	WeightDecay    float64 `mapstructure:"weight_decay"`
	SchedulerStep  int     `mapstructure:"scheduler_step"`
	SchedulerGamma float64 `mapstructure:"scheduler_gamma"`
	Epsilon        float64 `mapstructure:"epsilon"`
	ReportEvery    int     `mapstructure:"report_every"`
}

// Default returns the configuration used when no file or environment
// overrides are present
func Default() *CLIConfig {
	strat := strategy.DefaultConfig()
	return &CLIConfig{
		DataDir:   constants.DefaultDataDir,
		LogLevel:  constants.DefaultLogLevel,
		LogFormat: constants.DefaultLogFormat,
		Training: TrainingConfig{
			Seed:           constants.DefaultSeed,
			WeightDecay:    constants.DefaultWeightDecay,
			SchedulerStep:  constants.DefaultSchedulerStep,
			SchedulerGamma: constants.DefaultSchedulerGamma,
			Epsilon:        strat.Epsilon,
			ReportEvery:    strat.ReportEvery,
		},
		Checkpoint: checkpoint.DefaultConfig(),
		Telemetry:  telemetry.DefaultConfig(),
		Server:     *server.DefaultConfig(),
	}
}

// RunConfig resolves the engine settings of one run
func (c *CLIConfig) RunConfig(family, dataset string) engine.RunConfig {
	rc := engine.DefaultRunConfig(family, dataset)
	rc.Seed = c.Training.Seed
	rc.WeightDecay = c.Training.WeightDecay
	rc.SchedulerStep = c.Training.SchedulerStep
	rc.SchedulerGamma = c.Training.SchedulerGamma
	rc.Strategy.Epsilon = c.Training.Epsilon
	rc.Strategy.ReportEvery = c.Training.ReportEvery
	return rc
}

func LoadConfig(cfgFile string) (*CLIConfig, error) {
	config := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		v.AddConfigPath(filepath.Join(home, ".tsad"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}

// SaveConfig writes config as YAML. An empty cfgFile writes to the default path.
func SaveConfig(config *CLIConfig, cfgFile string) error {
	if cfgFile == "" {
		cfgFile = GetDefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(cfgFile), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	v := viper.New()
	v.Set("data_dir", config.DataDir)
	v.Set("log_level", config.LogLevel)
	v.Set("log_format", config.LogFormat)
	v.Set("training", map[string]interface{}{
		"seed":            config.Training.Seed,
		"weight_decay":    config.Training.WeightDecay,
		"scheduler_step":  config.Training.SchedulerStep,
		"scheduler_gamma": config.Training.SchedulerGamma,
		"epsilon":         config.Training.Epsilon,
		"report_every":    config.Training.ReportEvery,
	})
	v.Set("checkpoint", map[string]interface{}{
		"backend": config.Checkpoint.Backend,
		"path":    config.Checkpoint.Path,
	})
	v.Set("telemetry.log", config.Telemetry.Log)
	v.Set("server", map[string]interface{}{
		"host":             config.Server.Host,
		"port":             config.Server.Port,
		"read_timeout":     config.Server.ReadTimeout.String(),
		"write_timeout":    config.Server.WriteTimeout.String(),
		"idle_timeout":     config.Server.IdleTimeout.String(),
		"shutdown_timeout": config.Server.ShutdownTimeout.String(),
	})

	return v.WriteConfigAs(cfgFile)
}

func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tsad", "config.yaml")
}

func setDefaults(v *viper.Viper, config *CLIConfig) {
	v.SetDefault("data_dir", config.DataDir)
	v.SetDefault("log_level", config.LogLevel)
	v.SetDefault("log_format", config.LogFormat)
	v.SetDefault("training.seed", config.Training.Seed)
	v.SetDefault("training.weight_decay", config.Training.WeightDecay)
	v.SetDefault("training.scheduler_step", config.Training.SchedulerStep)
	v.SetDefault("training.scheduler_gamma", config.Training.SchedulerGamma)
	v.SetDefault("training.epsilon", config.Training.Epsilon)
	v.SetDefault("training.report_every", config.Training.ReportEvery)
	v.SetDefault("checkpoint.backend", config.Checkpoint.Backend)
	v.SetDefault("checkpoint.path", config.Checkpoint.Path)
	v.SetDefault("telemetry.log", config.Telemetry.Log)
	v.SetDefault("server.host", config.Server.Host)
	v.SetDefault("server.port", config.Server.Port)
	v.SetDefault("server.read_timeout", config.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", config.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", config.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", config.Server.ShutdownTimeout)
}
