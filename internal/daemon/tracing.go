package daemon

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelbench/internal/config"
	"github.com/allaspectsdev/modelbench/internal/tracing"
	"github.com/allaspectsdev/modelbench/internal/version"
)

// SetupTracing installs the OpenTelemetry provider described by
// cfg.Tracing. When tracing is disabled it returns a no-op shutdown. out
// receives spans from the stdout exporter.
func SetupTracing(ctx context.Context, cfg *config.Config, out io.Writer) (func(context.Context) error, error) {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := tracing.Init(ctx, tracing.Options{
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version.Version,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
		Output:      out,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("exporter", cfg.Tracing.Exporter).
		Str("endpoint", cfg.Tracing.Endpoint).
		Float64("sample_rate", cfg.Tracing.SampleRate).
		Msg("tracing enabled")
	return shutdown, nil
}
