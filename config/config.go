package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"warden/detect"
	"warden/llm"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. WARDEN_API_PORT
const EnvPrefix = "WARDEN"

// dataFilePattern keeps the data file usable as a bare shell word
var dataFilePattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// Config holds all configuration for warden
type Config struct {
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	Detection detect.RuleConfig `mapstructure:"detection"`

	Grounding struct {
		DataFile   string `mapstructure:"data_file" validate:"required"`
		MaxSignals int    `mapstructure:"max_signals" validate:"min=1"`
	} `mapstructure:"grounding"`

	Generation llm.GuardConfig `mapstructure:"generation"`

	Storage struct {
		Enabled    bool   `mapstructure:"enabled"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db" validate:"min=0"`
		Key      string `mapstructure:"key"`
	} `mapstructure:"redis"`

	API struct {
		Host      string        `mapstructure:"host" validate:"required"`
		Port      int           `mapstructure:"port" validate:"min=1,max=65535"`
		RateLimit int           `mapstructure:"rate_limit" validate:"min=1"`
		BodyLimit int64         `mapstructure:"body_limit" validate:"min=1024"`
		Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	} `mapstructure:"api"`
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	rules := detect.DefaultRuleConfig()
	v.SetDefault("detection.failed_login_window", rules.FailedLoginWindow)
	v.SetDefault("detection.failed_per_user", rules.FailedPerUser)
	v.SetDefault("detection.failed_per_ip", rules.FailedPerIP)
	v.SetDefault("detection.high_multiplier", rules.HighMultiplier)
	v.SetDefault("detection.impossible_travel_window", rules.ImpossibleTravelWindow)

	v.SetDefault("grounding.data_file", "okta-logs.txt")
	v.SetDefault("grounding.max_signals", 15)

	gen := llm.DefaultGuardConfig()
	v.SetDefault("generation.timeout", gen.Timeout)
	v.SetDefault("generation.rate_per_second", gen.RatePerSecond)
	v.SetDefault("generation.burst", gen.Burst)
	v.SetDefault("generation.cache_size", gen.CacheSize)
	v.SetDefault("generation.circuit_breaker.max_failures", gen.CircuitBreaker.MaxFailures)
	v.SetDefault("generation.circuit_breaker.timeout", gen.CircuitBreaker.Timeout)
	v.SetDefault("generation.circuit_breaker.max_half_open_requests", gen.CircuitBreaker.MaxHalfOpenRequests)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.sqlite_path", "./data/warden.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "warden:findings")

	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8090)
	v.SetDefault("api.rate_limit", 50)
	v.SetDefault("api.body_limit", 10*1024*1024)
	v.SetDefault("api.timeout", 30*time.Second)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadConfig loads configuration from file and environment variables.
// An empty path searches for config.yaml in . and ./config; a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Default returns the built-in configuration without reading files or environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	// Defaults always decode
	_ = v.Unmarshal(&config)
	return &config
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	if err := config.Detection.Validate(); err != nil {
		return err
	}
	if err := config.Generation.CircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("generation.circuit_breaker: %w", err)
	}

	if !dataFilePattern.MatchString(config.Grounding.DataFile) {
		return fmt.Errorf("invalid grounding.data_file %q: only letters, digits and ._/- are allowed", config.Grounding.DataFile)
	}

	if config.Storage.Enabled && config.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path cannot be empty when storage is enabled")
	}

	if config.Redis.Enabled {
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis.addr cannot be empty when redis is enabled")
		}
		if config.Redis.Key == "" {
			return fmt.Errorf("redis.key cannot be empty when redis is enabled")
		}
	}
	return nil
}

// APIAddr returns host:port for the API server
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
