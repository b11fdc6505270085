// Package config loads simulator configuration from YAML files, VNE_
// environment variables and built-in defaults.
//
// Precedence, highest first:
//  1. Environment variables (VNE_ prefix, dots become underscores:
//     VNE_PATHS_MAX_LENGTH=3, VNE_BATCH_POLICY=rejection-cost)
//  2. The configuration file
//  3. Defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/vne-simulator/internal/batch"
	"github.com/signalsfoundry/vne-simulator/internal/logging"
	"github.com/signalsfoundry/vne-simulator/internal/observability"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// PathsConfig bounds path enumeration, in hops.
type PathsConfig struct {
	MinLength int `mapstructure:"min_length" validate:"gte=1"`
	MaxLength int `mapstructure:"max_length" validate:"gte=1"`
}

// RequestCost is the configured rejection cost of one request.
type RequestCost struct {
	ID   string  `mapstructure:"id" validate:"required"`
	Cost float64 `mapstructure:"cost" validate:"gte=0"`
}

// BatchConfig selects the batch ordering policy, cost model and algorithm.
type BatchConfig struct {
	Policy    string `mapstructure:"policy" validate:"oneof=sequential rejection-cost"`
	CostModel string `mapstructure:"cost_model" validate:"oneof=static configured dynamic"`
	Algorithm string `mapstructure:"algorithm" validate:"oneof=greedy first-fit"`

	StaticCost    float64       `mapstructure:"static_cost" validate:"gte=0"`
	DefaultCost   float64       `mapstructure:"default_cost" validate:"gte=0"`
	DynamicFactor float64       `mapstructure:"dynamic_factor" validate:"gt=0"`
	Costs         []RequestCost `mapstructure:"costs" validate:"dive"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level     string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format    string `mapstructure:"format" validate:"oneof=json text"`
	AddSource bool   `mapstructure:"add_source"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	Exporter    string  `mapstructure:"exporter" validate:"oneof=stdout otlp"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// MetricsConfig controls the /metrics listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// Load reads cfgFile, or vne.yaml from the working directory or ./configs
// when cfgFile is empty, and applies environment overrides. A missing file
// falls back to defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("vne")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case cfgFile != "" && isFileNotFoundError(err):
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("VNE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.min_length", 1)
	v.SetDefault("paths.max_length", 4)

	v.SetDefault("batch.policy", "sequential")
	v.SetDefault("batch.cost_model", "static")
	v.SetDefault("batch.algorithm", "greedy")
	v.SetDefault("batch.static_cost", 1.0)
	v.SetDefault("batch.default_cost", 1.0)
	v.SetDefault("batch.dynamic_factor", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "vne-simulator")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("metrics.addr", "")
}

var validate = validator.New()

// Validate checks field constraints and the path bounds ordering.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
		}
	}
	if c.Paths.MinLength > c.Paths.MaxLength {
		errs = append(errs, fmt.Errorf("paths: min_length %d exceeds max_length %d", c.Paths.MinLength, c.Paths.MaxLength))
	}
	seen := map[string]struct{}{}
	for _, rc := range c.Batch.Costs {
		if _, dup := seen[rc.ID]; dup {
			errs = append(errs, fmt.Errorf("batch.costs: duplicate id %q", rc.ID))
		}
		seen[rc.ID] = struct{}{}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// RunnerConfig converts the batch section for batch.NewRunner.
func (c *Config) RunnerConfig() (batch.Config, error) {
	policy, err := batch.ParsePolicy(c.Batch.Policy)
	if err != nil {
		return batch.Config{}, err
	}
	costModel, err := batch.ParseCostModel(c.Batch.CostModel)
	if err != nil {
		return batch.Config{}, err
	}
	costs := batch.Costs{
		Model:   costModel,
		Static:  c.Batch.StaticCost,
		Default: c.Batch.DefaultCost,
		Factor:  c.Batch.DynamicFactor,
	}
	if len(c.Batch.Costs) > 0 {
		costs.PerRequest = make(map[string]float64, len(c.Batch.Costs))
		for _, rc := range c.Batch.Costs {
			costs.PerRequest[rc.ID] = rc.Cost
		}
	}
	return batch.Config{Policy: policy, Costs: costs, Algorithm: c.Batch.Algorithm}, nil
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format, AddSource: c.Logging.AddSource}
}

// TracerConfig converts the tracing section.
func (c *Config) TracerConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
