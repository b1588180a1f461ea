// Package config loads and validates optimization configuration from YAML.
// Configuration is an explicit value threaded into constructors; there is
// no ambient global state.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/promptforge/teleprompt/pkg/errors"
	"github.com/promptforge/teleprompt/pkg/evaluate"
	"github.com/promptforge/teleprompt/pkg/logging"
	"github.com/promptforge/teleprompt/pkg/optimizers"
)

// EvaluateConfig configures the evaluation engine.
type EvaluateConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency" validate:"gte=0"`
	Timeout        time.Duration `yaml:"timeout" validate:"gte=0"`
	FailureScore   float64       `yaml:"failure_score" validate:"gte=0,lte=1"`
	MaxErrors      int           `yaml:"max_errors" validate:"gte=0"`
}

// SIMBAConfig configures the stochastic optimizer.
type SIMBAConfig struct {
	BatchSize            int     `yaml:"batch_size" validate:"gt=0"`
	MaxSteps             int     `yaml:"max_steps" validate:"gte=0"`
	NumCandidates        int     `yaml:"num_candidates" validate:"gt=0"`
	MaxDemos             int     `yaml:"max_demos" validate:"gt=0"`
	SamplingTemperature  float64 `yaml:"sampling_temperature" validate:"gte=0"`
	CandidateTemperature float64 `yaml:"candidate_temperature" validate:"gte=0"`
	ImprovementEpsilon   float64 `yaml:"improvement_epsilon" validate:"gt=0"`
	PoolRetention        int     `yaml:"pool_retention" validate:"gt=1"`
	Seed                 int64   `yaml:"seed"`
}

// BootstrapConfig configures demonstration bootstrapping.
type BootstrapConfig struct {
	MaxDemos         int     `yaml:"max_demos" validate:"gt=0"`
	QualityThreshold float64 `yaml:"quality_threshold" validate:"gte=0,lte=1"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR FATAL"`
	File  string `yaml:"file"`
}

// Config is the top-level configuration value.
type Config struct {
	Evaluate  EvaluateConfig  `yaml:"evaluate"`
	SIMBA     SIMBAConfig     `yaml:"simba"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Evaluate: EvaluateConfig{
			FailureScore: 0.0,
		},
		SIMBA: SIMBAConfig{
			BatchSize:            8,
			MaxSteps:             8,
			NumCandidates:        6,
			MaxDemos:             4,
			SamplingTemperature:  0.2,
			CandidateTemperature: 0.2,
			ImprovementEpsilon:   1e-4,
			PoolRetention:        10,
		},
		Bootstrap: BootstrapConfig{
			MaxDemos:         4,
			QualityThreshold: 0.7,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Load reads a YAML configuration file over the defaults and validates the
// result. Validation failures are configuration errors: fatal, surfaced
// before any execution begins, never retried.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, errors.InvalidConfig, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.InvalidConfig, "failed to parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks constraint tags over the whole configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, errors.InvalidConfig, "invalid configuration")
	}
	return nil
}

// EvaluateOptions converts the evaluate section into constructor options.
func (c Config) EvaluateOptions() []evaluate.Option {
	opts := []evaluate.Option{
		evaluate.WithFailureScore(c.Evaluate.FailureScore),
	}
	if c.Evaluate.MaxConcurrency > 0 {
		opts = append(opts, evaluate.WithMaxConcurrency(c.Evaluate.MaxConcurrency))
	}
	if c.Evaluate.Timeout > 0 {
		opts = append(opts, evaluate.WithTimeout(c.Evaluate.Timeout))
	}
	if c.Evaluate.MaxErrors > 0 {
		opts = append(opts, evaluate.WithMaxErrors(c.Evaluate.MaxErrors))
	}
	return opts
}

// SIMBAOptions converts the simba section into constructor options.
func (c Config) SIMBAOptions() []optimizers.SIMBAOption {
	return []optimizers.SIMBAOption{
		optimizers.WithSIMBABatchSize(c.SIMBA.BatchSize),
		optimizers.WithSIMBAMaxSteps(c.SIMBA.MaxSteps),
		optimizers.WithSIMBANumCandidates(c.SIMBA.NumCandidates),
		optimizers.WithSIMBAMaxDemos(c.SIMBA.MaxDemos),
		optimizers.WithTemperatures(c.SIMBA.SamplingTemperature, c.SIMBA.CandidateTemperature),
		optimizers.WithImprovementEpsilon(c.SIMBA.ImprovementEpsilon),
		optimizers.WithPoolRetention(c.SIMBA.PoolRetention),
		optimizers.WithSeed(c.SIMBA.Seed),
	}
}

// BootstrapOptions converts the bootstrap section into constructor options.
func (c Config) BootstrapOptions() []optimizers.BootstrapOption {
	return []optimizers.BootstrapOption{
		optimizers.WithBootstrapMaxDemos(c.Bootstrap.MaxDemos),
		optimizers.WithQualityThreshold(c.Bootstrap.QualityThreshold),
	}
}

// Logger builds a logger from the logging section.
func (c Config) Logger() (*logging.Logger, error) {
	outputs := []logging.Output{logging.NewConsoleOutput(true)}
	if c.Logging.File != "" {
		fileOut, err := logging.NewFileOutput(c.Logging.File)
		if err != nil {
			return nil, errors.Wrap(err, errors.InvalidConfig, "failed to open log file")
		}
		outputs = append(outputs, fileOut)
	}
	return logging.NewLogger(logging.Config{
		Severity: logging.ParseSeverity(c.Logging.Level),
		Outputs:  outputs,
	}), nil
}
