package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ahrav/go-peergrade/infrastructure/gradebook"
)

// Config is the process configuration. Activity policy lives in its own
// YAML document referenced by Activity.Path.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Activity  ActivityConfig  `mapstructure:"activity"`
	Gradebook GradebookConfig `mapstructure:"gradebook"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ActivityConfig struct {
	Path  string `mapstructure:"path"`
	Scope string `mapstructure:"scope"`
	Seed  uint64 `mapstructure:"seed"`
}

type GradebookConfig struct {
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// chain converts the settings into the grade-book middleware config.
func (g GradebookConfig) chain() gradebook.Config {
	return gradebook.Config{
		RatePerSecond:   g.RatePerSecond,
		Burst:           g.Burst,
		MaxRetries:      g.MaxRetries,
		BaseDelay:       g.BaseDelay,
		MaxDelay:        g.MaxDelay,
		BreakerFailures: g.BreakerFailures,
		BreakerCooldown: g.BreakerCooldown,
		Timeout:         g.Timeout,
	}
}

type MetricsConfig struct {
	// Textfile, when set, receives the registry in Prometheus text format
	// after each command.
	Textfile string `mapstructure:"textfile"`
}

// loadConfig reads config.yaml from configFile or the search paths, then
// overlays PEERGRADE_* environment variables.
func loadConfig(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/peergrade")
	}

	v.SetEnvPrefix("PEERGRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("activity.path", "activity.yaml")
	v.SetDefault("activity.scope", "default")
	v.SetDefault("activity.seed", 0)

	d := gradebook.DefaultConfig()
	v.SetDefault("gradebook.rate_per_second", d.RatePerSecond)
	v.SetDefault("gradebook.burst", d.Burst)
	v.SetDefault("gradebook.max_retries", d.MaxRetries)
	v.SetDefault("gradebook.base_delay", d.BaseDelay)
	v.SetDefault("gradebook.max_delay", d.MaxDelay)
	v.SetDefault("gradebook.breaker_failures", d.BreakerFailures)
	v.SetDefault("gradebook.breaker_cooldown", d.BreakerCooldown)
	v.SetDefault("gradebook.timeout", d.Timeout)

	v.SetDefault("metrics.textfile", "")
}
