// Package daemon wires modelbench's subsystems together and runs the JSON
// API server as a long-lived process.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelbench/internal/api"
	"github.com/allaspectsdev/modelbench/internal/config"
	"github.com/allaspectsdev/modelbench/internal/store"
	"github.com/allaspectsdev/modelbench/internal/version"
)

const shutdownTimeout = 30 * time.Second

// Run starts the API server and blocks until a shutdown signal is received
// or the server fails. With foreground set, logs are mirrored to the console.
func Run(cfg *config.Config, foreground bool) error {
	dataDir := cfg.Server.DataDir

	logCloser, err := SetupLogger(cfg, foreground)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("modelbench starting")

	if IsRunning(dataDir) {
		return fmt.Errorf("modelbench is already running (PID file exists at %s)", pidPath(dataDir))
	}

	traceShutdown, err := SetupTracing(context.Background(), cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(ctx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	rt, err := Open(cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()
	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			defer w.Close()
			w.OnChange(func(_, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, rt.Store, cfg.Storage.RetentionDays)
	}()

	srv := api.NewServer(rt.Session, rt.Collector, rt.Store, cfg.Server)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	log.Info().Str("addr", cfg.Server.ListenAddr).Msg("modelbench is ready")
	if foreground {
		fmt.Printf("\n  modelbench is running!\n")
		fmt.Printf("  API:     http://%s/api\n", cfg.Server.ListenAddr)
		fmt.Printf("  Metrics: http://%s/metrics\n\n", cfg.Server.ListenAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Info().Msg("shutting down api server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	// The pruner must stop before the store closes.
	pruneCancel()
	<-prunerDone

	log.Info().Msg("modelbench stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running server.
func Stop(cfg *config.Config) error {
	dataDir := cfg.Server.DataDir

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("modelbench does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("modelbench is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to modelbench (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}
	return nil
}

type statusStats struct {
	Totals struct {
		Runs             int64   `json:"runs"`
		Results          int64   `json:"results"`
		Errors           int64   `json:"errors"`
		PromptTokens     int64   `json:"prompt_tokens"`
		CompletionTokens int64   `json:"completion_tokens"`
		CostUSD          float64 `json:"cost_usd"`
	} `json:"totals"`
}

// Status reports whether the server is running and prints the last day's
// totals from its stats endpoint.
func Status(cfg *config.Config) error {
	dataDir := cfg.Server.DataDir

	if !IsRunning(dataDir) {
		fmt.Println("modelbench is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("modelbench is running (PID %d)\n", pid)

	url := fmt.Sprintf("http://%s/api/stats?range=1d", cfg.Server.ListenAddr)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("  (api unreachable)")
		return nil
	}
	defer resp.Body.Close()

	var stats statusStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil
	}

	t := stats.Totals
	fmt.Printf("\n  Last 24h\n")
	fmt.Printf("  Comparisons:       %d\n", t.Runs)
	fmt.Printf("  Model responses:   %d (%d errors)\n", t.Results, t.Errors)
	fmt.Printf("  Prompt tokens:     %d\n", t.PromptTokens)
	fmt.Printf("  Completion tokens: %d\n", t.CompletionTokens)
	fmt.Printf("  Cost:              $%s\n", strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", t.CostUSD), "0"), "."))
	return nil
}

// runPruner periodically drops ledger rows older than retentionDays.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneOnce(st, retentionDays)
		}
	}
}

func pruneOnce(st *store.Store, retentionDays int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ledger pruner: recovered from panic")
		}
	}()
	n, err := st.Prune(retentionDays)
	if err != nil {
		log.Error().Err(err).Msg("ledger pruning failed")
	} else if n > 0 {
		log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old runs")
	}
}
