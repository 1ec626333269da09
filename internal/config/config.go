package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/tokenizer"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for modelbench.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     toml:"server"`
	Provider   ProviderConfig   `mapstructure:"provider"   toml:"provider"`
	Estimate   EstimateConfig   `mapstructure:"estimate"   toml:"estimate"`
	Resilience ResilienceConfig `mapstructure:"resilience" toml:"resilience"`
	Storage    StorageConfig    `mapstructure:"storage"    toml:"storage"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"`
	Models     []catalog.Model  `mapstructure:"models"     toml:"models"`
	Pricing    []PricingConfig  `mapstructure:"pricing"    toml:"pricing"`
}

// ServerConfig holds process-wide and JSON API settings.
type ServerConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"     toml:"listen_addr"`
	LogLevel       string   `mapstructure:"log_level"       toml:"log_level"`
	DataDir        string   `mapstructure:"data_dir"        toml:"data_dir"`
	ReadTimeout    int      `mapstructure:"read_timeout"    toml:"read_timeout"`
	WriteTimeout   int      `mapstructure:"write_timeout"   toml:"write_timeout"`
	IdleTimeout    int      `mapstructure:"idle_timeout"    toml:"idle_timeout"`
	MaxBodySize    int64    `mapstructure:"max_body_size"   toml:"max_body_size"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
	// CompareRate limits POST /api/compare to this many runs per second,
	// allowing bursts of CompareBurst. Zero disables the limit.
	CompareRate  float64 `mapstructure:"compare_rate"  toml:"compare_rate"`
	CompareBurst int     `mapstructure:"compare_burst" toml:"compare_burst"`
}

// ProviderConfig describes the chat-completion endpoint.
type ProviderConfig struct {
	APIBase         string  `mapstructure:"api_base"          toml:"api_base"`
	KeyRef          string  `mapstructure:"key_ref"           toml:"key_ref"`
	Timeout         int     `mapstructure:"timeout"           toml:"timeout"` // seconds
	Temperature     float64 `mapstructure:"temperature"       toml:"temperature"`
	MaxResponseSize int64   `mapstructure:"max_response_size" toml:"max_response_size"`
}

// TimeoutDuration returns the provider timeout as a time.Duration.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	if p.Timeout <= 0 {
		return DefaultProviderTimeout * time.Second
	}
	return time.Duration(p.Timeout) * time.Second
}

// EstimateConfig controls the live token and price estimate.
type EstimateConfig struct {
	DebounceMs      int    `mapstructure:"debounce_ms"      toml:"debounce_ms"`
	TokenizerFamily string `mapstructure:"tokenizer_family" toml:"tokenizer_family"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"   toml:"max_concurrent"`
}

// Debounce returns the quiescence interval.
func (e EstimateConfig) Debounce() time.Duration {
	return time.Duration(e.DebounceMs) * time.Millisecond
}

// ResilienceConfig controls retry, circuit breaker, and related resilience settings.
type ResilienceConfig struct {
	RetryMaxAttempts   int  `mapstructure:"retry_max_attempts"       toml:"retry_max_attempts"`
	RetryBaseDelayMs   int  `mapstructure:"retry_base_delay_ms"      toml:"retry_base_delay_ms"`
	RetryMaxDelayMs    int  `mapstructure:"retry_max_delay_ms"       toml:"retry_max_delay_ms"`
	CBEnabled          bool `mapstructure:"circuit_breaker_enabled"  toml:"circuit_breaker_enabled"`
	CBFailureThreshold int  `mapstructure:"cb_failure_threshold"     toml:"cb_failure_threshold"`
	CBResetTimeoutSec  int  `mapstructure:"cb_reset_timeout_seconds" toml:"cb_reset_timeout_seconds"`
	CBHalfOpenMax      int  `mapstructure:"cb_half_open_max_calls"   toml:"cb_half_open_max_calls"`
}

// StorageConfig controls the local database.
type StorageConfig struct {
	RetentionDays int `mapstructure:"retention_days" toml:"retention_days"`
}

// TracingConfig controls OpenTelemetry tracing of comparisons and API
// requests. The TUI never exports spans.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"` // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"` // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"` // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`
}

// PricingConfig overrides or adds one model's pricing, in USD per million
// tokens. It is a list rather than a table because model ids contain dots.
type PricingConfig struct {
	Model                string          `mapstructure:"model"                  toml:"model"`
	PromptPerMillion     decimal.Decimal `mapstructure:"prompt_per_million"     toml:"prompt_per_million"`
	CompletionPerMillion decimal.Decimal `mapstructure:"completion_per_million" toml:"completion_per_million"`
}

// PricingOverrides converts the [pricing] section for tokenizer.NewTable.
func (c *Config) PricingOverrides() map[string]tokenizer.ModelPricing {
	out := make(map[string]tokenizer.ModelPricing, len(c.Pricing))
	for _, p := range c.Pricing {
		out[p.Model] = tokenizer.ModelPricing{
			PromptPerMillion:     p.PromptPerMillion,
			CompletionPerMillion: p.CompletionPerMillion,
		}
	}
	return out
}

// DatabasePath is the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Server.DataDir, DefaultDatabaseFilename)
}

// LogPath is the log file inside the data directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.Server.DataDir, DefaultLogFilename)
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (MODELBENCH_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.modelbench/modelbench.toml
//  4. ./modelbench.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: MODELBENCH_SERVER_LOG_LEVEL etc.
	v.SetEnvPrefix("MODELBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".modelbench"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("modelbench")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		if _, err := os.Stat(cf); err == nil {
			loadedConfigFile.Store(cf)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// decode unmarshals v over the defaults, expands paths and validates.
func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	// A [[models]] list replaces the built-in catalog rather than merging
	// into it element by element.
	cfg.Models = nil

	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			decimalHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if len(cfg.Models) == 0 {
		cfg.Models = catalog.Clone(catalog.Default)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes TOML numbers and strings into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q: %w", v, err)
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}

// InitConfig writes the default configuration file to ~/.modelbench/modelbench.toml.
// If the file already exists it is not overwritten.
func InitConfig() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".modelbench")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	data, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return "", fmt.Errorf("marshalling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	data, err := toml.Marshal(Get())
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file, validates it and makes it current.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	v := viper.New()
	v.SetConfigType("toml")
	setViperDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every scalar key with viper so that env var
// binding works for all fields even when no config file is present. The
// models list and pricing table are file-only.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.compare_rate", d.Server.CompareRate)
	v.SetDefault("server.compare_burst", d.Server.CompareBurst)

	// Provider
	v.SetDefault("provider.api_base", d.Provider.APIBase)
	v.SetDefault("provider.key_ref", d.Provider.KeyRef)
	v.SetDefault("provider.timeout", d.Provider.Timeout)
	v.SetDefault("provider.temperature", d.Provider.Temperature)
	v.SetDefault("provider.max_response_size", d.Provider.MaxResponseSize)

	// Estimate
	v.SetDefault("estimate.debounce_ms", d.Estimate.DebounceMs)
	v.SetDefault("estimate.tokenizer_family", d.Estimate.TokenizerFamily)
	v.SetDefault("estimate.max_concurrent", d.Estimate.MaxConcurrent)

	// Resilience
	v.SetDefault("resilience.retry_max_attempts", d.Resilience.RetryMaxAttempts)
	v.SetDefault("resilience.retry_base_delay_ms", d.Resilience.RetryBaseDelayMs)
	v.SetDefault("resilience.retry_max_delay_ms", d.Resilience.RetryMaxDelayMs)
	v.SetDefault("resilience.circuit_breaker_enabled", d.Resilience.CBEnabled)
	v.SetDefault("resilience.cb_failure_threshold", d.Resilience.CBFailureThreshold)
	v.SetDefault("resilience.cb_reset_timeout_seconds", d.Resilience.CBResetTimeoutSec)
	v.SetDefault("resilience.cb_half_open_max_calls", d.Resilience.CBHalfOpenMax)

	// Storage
	v.SetDefault("storage.retention_days", d.Storage.RetentionDays)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
