package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/tokenizer"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if _, port, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil || port == "" {
		errs = append(errs, fmt.Sprintf("server.listen_addr must be host:port, got %q", cfg.Server.ListenAddr))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.CompareRate < 0 {
		errs = append(errs, fmt.Sprintf("server.compare_rate must be non-negative, got %g", cfg.Server.CompareRate))
	}
	if cfg.Server.CompareRate > 0 && cfg.Server.CompareBurst < 1 {
		errs = append(errs, fmt.Sprintf("server.compare_burst must be at least 1 when compare_rate is set, got %d", cfg.Server.CompareBurst))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Provider validation
	if u, err := url.Parse(cfg.Provider.APIBase); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("provider.api_base must be an http(s) URL, got %q", cfg.Provider.APIBase))
	}
	if ref := cfg.Provider.KeyRef; ref != "" && !validKeyRef(ref) {
		errs = append(errs, fmt.Sprintf("provider.key_ref must start with keyring://, env: or file://, got %q", ref))
	}
	if cfg.Provider.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("provider.timeout must be non-negative, got %d", cfg.Provider.Timeout))
	}
	if cfg.Provider.Temperature < 0 || cfg.Provider.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("provider.temperature must be between 0 and 2, got %g", cfg.Provider.Temperature))
	}
	if cfg.Provider.MaxResponseSize < 0 {
		errs = append(errs, fmt.Sprintf("provider.max_response_size must be non-negative, got %d", cfg.Provider.MaxResponseSize))
	}

	// Estimate validation
	if cfg.Estimate.DebounceMs < 0 {
		errs = append(errs, fmt.Sprintf("estimate.debounce_ms must be non-negative, got %d", cfg.Estimate.DebounceMs))
	}
	if _, err := tokenizer.EncodingFor(cfg.Estimate.TokenizerFamily); err != nil {
		errs = append(errs, fmt.Sprintf("estimate.tokenizer_family %q has no known encoding", cfg.Estimate.TokenizerFamily))
	}
	if cfg.Estimate.MaxConcurrent < 1 {
		errs = append(errs, fmt.Sprintf("estimate.max_concurrent must be at least 1, got %d", cfg.Estimate.MaxConcurrent))
	}

	// Resilience validation
	if cfg.Resilience.RetryMaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_attempts must be non-negative, got %d", cfg.Resilience.RetryMaxAttempts))
	}
	if cfg.Resilience.RetryBaseDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_base_delay_ms must be non-negative, got %d", cfg.Resilience.RetryBaseDelayMs))
	}
	if cfg.Resilience.RetryMaxDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_delay_ms must be non-negative, got %d", cfg.Resilience.RetryMaxDelayMs))
	}
	if cfg.Resilience.CBFailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("resilience.cb_failure_threshold must be at least 1, got %d", cfg.Resilience.CBFailureThreshold))
	}
	if cfg.Resilience.CBResetTimeoutSec <= 0 {
		errs = append(errs, fmt.Sprintf("resilience.cb_reset_timeout_seconds must be positive, got %d", cfg.Resilience.CBResetTimeoutSec))
	}
	if cfg.Resilience.CBHalfOpenMax < 1 {
		errs = append(errs, fmt.Sprintf("resilience.cb_half_open_max_calls must be at least 1, got %d", cfg.Resilience.CBHalfOpenMax))
	}

	// Storage validation
	if cfg.Storage.RetentionDays < 0 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be non-negative, got %d", cfg.Storage.RetentionDays))
	}

	// Models validation
	if err := catalog.Validate(cfg.Models); err != nil {
		errs = append(errs, fmt.Sprintf("models: %v", err))
	}

	// Pricing validation
	seen := make(map[string]bool, len(cfg.Pricing))
	for i, p := range cfg.Pricing {
		if strings.TrimSpace(p.Model) == "" {
			errs = append(errs, fmt.Sprintf("pricing[%d].model must not be empty", i))
			continue
		}
		key := strings.ToLower(p.Model)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("pricing[%d].model %q is listed twice", i, p.Model))
		}
		seen[key] = true
		if p.PromptPerMillion.IsNegative() || p.CompletionPerMillion.IsNegative() {
			errs = append(errs, fmt.Sprintf("pricing[%d] (%s) rates must be non-negative", i, p.Model))
		}
	}

	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %g", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validKeyRef(ref string) bool {
	for _, prefix := range []string{"keyring://", "env:", "file://"} {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
