package daemon

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelbench/internal/config"
	"github.com/allaspectsdev/modelbench/internal/estimate"
	"github.com/allaspectsdev/modelbench/internal/metrics"
	"github.com/allaspectsdev/modelbench/internal/provider"
	"github.com/allaspectsdev/modelbench/internal/session"
	"github.com/allaspectsdev/modelbench/internal/store"
	"github.com/allaspectsdev/modelbench/internal/tokenizer"
	"github.com/allaspectsdev/modelbench/internal/vault"
)

// Runtime is a fully wired Session together with the resources it owns.
type Runtime struct {
	Config    *config.Config
	Store     *store.Store
	Collector *metrics.Collector
	Session   *session.Session
	Breakers  *provider.Breakers
}

// Open builds everything a user surface needs from cfg: the SQLite store,
// the keychain-backed credential slot, the tokenizer and price table, the
// provider client and the metrics collector. onChange is passed through to
// the Session and may be nil.
func Open(cfg *config.Config, onChange func()) (*Runtime, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	log.Info().Str("db_path", st.Path()).Msg("store opened")

	v := vault.New()

	var fallbackKey string
	if ref := cfg.Provider.KeyRef; ref != "" {
		key, err := v.ResolveKeyRef(ref)
		if err != nil {
			log.Warn().Err(err).Str("key_ref", ref).Msg("failed to resolve API key reference")
		} else {
			fallbackKey = key
		}
	}

	breakers := newBreakers(cfg.Resilience)
	client := provider.NewClient(provider.Options{
		BaseURL:         cfg.Provider.APIBase,
		Timeout:         cfg.Provider.TimeoutDuration(),
		Temperature:     cfg.Provider.Temperature,
		MaxResponseSize: cfg.Provider.MaxResponseSize,
		Retry: provider.RetryConfig{
			MaxAttempts: cfg.Resilience.RetryMaxAttempts,
			BaseDelay:   time.Duration(cfg.Resilience.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Resilience.RetryMaxDelayMs) * time.Millisecond,
		},
		Breakers: breakers,
	})

	collector := metrics.NewCollector()
	sess, err := session.Open(session.Deps{
		Models:      cfg.Models,
		Counter:     tokenizer.NewBounded(cfg.Estimate.MaxConcurrent),
		Pricer:      tokenizer.NewCalculator(tokenizer.NewTable(cfg.PricingOverrides())),
		Client:      client,
		Credentials: vault.NewKV(v, st),
		Slots:       st,
		Ledger:      st,
		Observer:    collector,
		APIKey:      fallbackKey,
		Estimate: estimate.Options{
			Delay:  cfg.Estimate.Debounce(),
			Family: cfg.Estimate.TokenizerFamily,
		},
		OnChange: onChange,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	log.Info().
		Int("models", len(cfg.Models)).
		Int("pricing_overrides", len(cfg.Pricing)).
		Bool("circuit_breaker", breakers != nil).
		Msg("session ready")

	return &Runtime{
		Config:    cfg,
		Store:     st,
		Collector: collector,
		Session:   sess,
		Breakers:  breakers,
	}, nil
}

// Close stops the Session and closes the store.
func (r *Runtime) Close() error {
	r.Session.Close()
	return r.Store.Close()
}

func newBreakers(rc config.ResilienceConfig) *provider.Breakers {
	if !rc.CBEnabled {
		return nil
	}
	return provider.NewBreakers(
		rc.CBFailureThreshold,
		time.Duration(rc.CBResetTimeoutSec)*time.Second,
		rc.CBHalfOpenMax,
	)
}
