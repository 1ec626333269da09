package daemon

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/allaspectsdev/modelbench/internal/config"
	"github.com/allaspectsdev/modelbench/internal/store"
	"github.com/allaspectsdev/modelbench/internal/testutil"
	"github.com/allaspectsdev/modelbench/internal/tracing"
)

func testConfig(t *testing.T) *config.Config {
	return testutil.NewTestConfig(t)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"fatal":   zerolog.FatalLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestSetupLogger_WritesToDataDir(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	cfg := testConfig(t)
	cfg.Server.LogLevel = "warn"

	closer, err := SetupLogger(cfg, false)
	require.NoError(t, err)

	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	log.Info().Msg("hidden")
	log.Warn().Str("probe", "visible").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(cfg.Server.DataDir, config.DefaultLogFilename))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"probe":"visible"`)
	assert.Contains(t, string(data), `"service":"modelbench"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestOpen_WiresSessionToStore(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("MODELBENCH_API_KEY", "")
	t.Setenv("MODELBENCH_TEST_KEY", "sk-from-ref")
	cfg.Provider.KeyRef = "env:MODELBENCH_TEST_KEY"

	rt, err := Open(cfg, nil)
	require.NoError(t, err)

	// Without a stored credential the key_ref supplies the key.
	if rt.Session.APIKey() == "" {
		t.Fatal("expected key from key_ref")
	}
	assert.NotNil(t, rt.Breakers)
	assert.Len(t, rt.Session.Models(), len(cfg.Models))

	require.NoError(t, rt.Session.ToggleModel(cfg.Models[0].ID))
	want := !cfg.Models[0].Selected
	require.NoError(t, rt.Close())

	// Selections land in the SQLite slot table.
	st, err := store.Open(cfg.DatabasePath())
	require.NoError(t, err)
	defer st.Close()
	raw, ok, err := st.Get(store.SlotSelection)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, cfg.Models[0].ID)

	rt, err = Open(cfg, nil)
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, want, rt.Session.Models()[0].Selected)
}

func TestOpen_BadKeyRefIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider.KeyRef = "env:MODELBENCH_DEFINITELY_UNSET"
	cfg.Resilience.CBEnabled = false

	rt, err := Open(cfg, nil)
	require.NoError(t, err)
	defer rt.Close()
	assert.Nil(t, rt.Breakers)
}

func TestOpen_CompareAgainstFakeProvider(t *testing.T) {
	fp := testutil.NewFakeProvider(t)
	fp.SetReply("gpt-4", testutil.Reply{Status: http.StatusUnauthorized, Content: "Incorrect API key provided"})

	cfg := testConfig(t)
	cfg.Provider.APIBase = fp.URL
	cfg.Resilience.CBEnabled = false
	t.Setenv("MODELBENCH_API_KEY", "")
	t.Setenv("MODELBENCH_E2E_KEY", "sk-e2e")
	cfg.Provider.KeyRef = "env:MODELBENCH_E2E_KEY"

	rt, err := Open(cfg, nil)
	require.NoError(t, err)
	defer rt.Close()
	sess := rt.Session

	require.NoError(t, sess.ToggleModel("gpt-4"))
	sess.SetPrompt("ping")
	item, err := sess.Compare(context.Background())
	require.NoError(t, err)

	require.Len(t, item.Results, 2)
	assert.Equal(t, "gpt-4", item.Results[0].ModelID)
	assert.True(t, item.Results[0].IsError)
	assert.Equal(t, "gpt-3.5-turbo: ping", item.Results[1].Response)
	assert.Equal(t, "$0.000035", item.Results[1].Cost.String())
	assert.Equal(t, "HTTP error! status: 401: Incorrect API key provided", sess.Error())

	reqs := fp.Requests()
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, "ping", r.Prompt)
		assert.Equal(t, "Bearer sk-e2e", r.Authorization)
	}

	runs, err := rt.Store.ListRuns(10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, int64(1), rt.Collector.Stats().TotalComparisons)
}

func TestPruneOnce(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.Open(cfg.DatabasePath())
	require.NoError(t, err)
	defer st.Close()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, st.InsertRuns([]store.Run{
		{RunID: "a", ItemID: 1, Timestamp: old, Model: "gpt-4"},
		{RunID: "b", ItemID: 2, Timestamp: time.Now(), Model: "gpt-4"},
	}))

	pruneOnce(st, 1)

	runs, err := st.ListRuns(10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].RunID)
}

func TestRenderPlist(t *testing.T) {
	var b strings.Builder
	require.NoError(t, renderPlist(&b, "/usr/local/bin/modelbench", "/Users/me/.modelbench"))

	out := b.String()
	assert.Contains(t, out, "<string>"+launchdLabel+"</string>")
	assert.Contains(t, out, "<string>/usr/local/bin/modelbench</string>\n        <string>serve</string>")
	assert.Contains(t, out, "/Users/me/.modelbench/modelbench.err.log")
}

func TestSetupTracing_DisabledIsNoop(t *testing.T) {
	cfg := testConfig(t)
	shutdown, err := SetupTracing(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_StdoutExporter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var out strings.Builder
	shutdown, err := SetupTracing(context.Background(), cfg, &out)
	require.NoError(t, err)

	_, span := tracing.StartCompareSpan(context.Background(), "run-1", 1)
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, out.String(), "compare.run")
	assert.Contains(t, out.String(), "modelbench")
}
