package config

import (
	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/provider"
)

// DefaultListenAddr is the JSON API address (localhost only).
const DefaultListenAddr = "127.0.0.1:7690"

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.modelbench"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "modelbench.toml"

// DefaultDatabaseFilename is the SQLite file name inside the data directory.
const DefaultDatabaseFilename = "modelbench.db"

// DefaultLogFilename is the log file name inside the data directory.
const DefaultLogFilename = "modelbench.log"

// DefaultProviderTimeout is the default provider timeout in seconds.
const DefaultProviderTimeout = 60

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// A compare request waits for every model, so it is generous.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultCompareBurst is the burst size used when server.compare_rate is set.
const DefaultCompareBurst = 3

// DefaultMaxBodySize is the default maximum API request body size in bytes (1 MB).
const DefaultMaxBodySize = 1 << 20

// DefaultDebounceMs is the estimate quiescence interval.
const DefaultDebounceMs = 500

// DefaultTokenizerFamily is the model whose encoding counts prompt tokens.
const DefaultTokenizerFamily = "gpt-4"

// DefaultMaxConcurrentEncodes bounds concurrent tokenizer runs.
const DefaultMaxConcurrentEncodes = 4

// DefaultRetentionDays is how long run ledger rows are kept.
const DefaultRetentionDays = 90

// DefaultRetryMaxAttempts is the default maximum number of attempts per model request.
const DefaultRetryMaxAttempts = 3

// DefaultRetryBaseDelayMs is the default base delay for exponential backoff in milliseconds.
const DefaultRetryBaseDelayMs = 500

// DefaultRetryMaxDelayMs is the default maximum delay for exponential backoff in milliseconds.
const DefaultRetryMaxDelayMs = 30000

// DefaultCBFailureThreshold is the default number of consecutive failures before opening the circuit.
const DefaultCBFailureThreshold = 5

// DefaultCBResetTimeout is the default circuit breaker reset timeout in seconds.
const DefaultCBResetTimeout = 60

// DefaultCBHalfOpenMax is the default number of successful calls in half-open state to close the circuit.
const DefaultCBHalfOpenMax = 1

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the service name reported with spans.
const DefaultTracingServiceName = "modelbench"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidTracingExporters lists the allowed tracing exporters.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     DefaultListenAddr,
			LogLevel:       DefaultLogLevel,
			DataDir:        DefaultDataDir,
			ReadTimeout:    DefaultReadTimeout,
			WriteTimeout:   DefaultWriteTimeout,
			IdleTimeout:    DefaultIdleTimeout,
			MaxBodySize:    DefaultMaxBodySize,
			AllowedOrigins: []string{"http://localhost:7690", "http://127.0.0.1:7690"},
			CompareBurst:   DefaultCompareBurst,
		},
		Provider: ProviderConfig{
			APIBase:         provider.DefaultBaseURL,
			KeyRef:          "",
			Timeout:         DefaultProviderTimeout,
			Temperature:     provider.DefaultTemperature,
			MaxResponseSize: provider.DefaultMaxResponseSize,
		},
		Estimate: EstimateConfig{
			DebounceMs:      DefaultDebounceMs,
			TokenizerFamily: DefaultTokenizerFamily,
			MaxConcurrent:   DefaultMaxConcurrentEncodes,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:   DefaultRetryMaxAttempts,
			RetryBaseDelayMs:   DefaultRetryBaseDelayMs,
			RetryMaxDelayMs:    DefaultRetryMaxDelayMs,
			CBEnabled:          true,
			CBFailureThreshold: DefaultCBFailureThreshold,
			CBResetTimeoutSec:  DefaultCBResetTimeout,
			CBHalfOpenMax:      DefaultCBHalfOpenMax,
		},
		Storage: StorageConfig{
			RetentionDays: DefaultRetentionDays,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
		},
		Models: catalog.Clone(catalog.Default),
	}
}
