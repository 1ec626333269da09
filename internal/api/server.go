// Package api serves a local JSON API over a Session. Every handler is a
// thin adapter; the Session owns all state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelbench/internal/compare"
	"github.com/allaspectsdev/modelbench/internal/config"
	"github.com/allaspectsdev/modelbench/internal/estimate"
	"github.com/allaspectsdev/modelbench/internal/history"
	"github.com/allaspectsdev/modelbench/internal/metrics"
	"github.com/allaspectsdev/modelbench/internal/session"
	"github.com/allaspectsdev/modelbench/internal/store"
	"github.com/allaspectsdev/modelbench/internal/tracing"
	"github.com/allaspectsdev/modelbench/internal/version"
)

// StatsSource serves aggregates from the run ledger. *store.Store satisfies it.
type StatsSource interface {
	GetRunStats(since time.Time) (*store.RunStats, error)
	GetModelStats(since time.Time) ([]store.ModelStats, error)
}

// Server exposes a Session over HTTP.
type Server struct {
	router    chi.Router
	sess      *session.Session
	collector *metrics.Collector
	stats     StatsSource
	cfg       config.ServerConfig
	server    *http.Server
}

// NewServer creates a Server. collector and stats may be nil, in which case
// /metrics and /api/stats are not mounted.
func NewServer(sess *session.Session, collector *metrics.Collector, stats StatsSource, cfg config.ServerConfig) *Server {
	s := &Server{
		sess:      sess,
		collector: collector,
		stats:     stats,
		cfg:       cfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(tracing.HTTPMiddleware)
	r.Use(requestLogger)
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(bodyLimit(cfg.MaxBodySize))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/models", s.handleModels)
	r.Post("/api/models/{id}/toggle", s.handleToggle)
	r.Get("/api/credential", s.handleGetCredential)
	r.Put("/api/credential", s.handlePutCredential)
	r.Get("/api/prompt", s.handleGetPrompt)
	r.Put("/api/prompt", s.handlePutPrompt)
	r.Get("/api/estimate", s.handleEstimate)
	var compareLimit *tokenBucket
	if cfg.CompareRate > 0 {
		compareLimit = newTokenBucket(cfg.CompareRate, cfg.CompareBurst)
	}
	r.With(rateLimit(compareLimit)).Post("/api/compare", s.handleCompare)
	r.Get("/api/history", s.handleListHistory)
	r.Get("/api/history/{id}", s.handleGetHistory)
	r.Post("/api/history/{id}/select", s.handleSelectHistory)
	r.Delete("/api/history", s.handleClearHistory)
	r.Get("/api/error", s.handleGetError)
	r.Delete("/api/error", s.handleDismissError)

	if stats != nil {
		r.Get("/api/stats", s.handleStats)
	}
	if collector != nil {
		r.Get("/metrics", metrics.PrometheusHandler(collector))
	}

	s.router = r
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeout) * time.Second,
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("api server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type compareRequest struct {
	Prompt *string `json:"prompt,omitempty"`
}

type estimateResponse struct {
	estimate.State
	CanSubmit bool `json:"can_submit"`
	Loading   bool `json:"loading"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Models())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sess.ToggleModel(id); err != nil {
		if errors.Is(err, session.ErrUnknownModel) {
			writeError(w, http.StatusNotFound, "unknown model: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Models())
}

func (s *Server) handleGetCredential(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"configured": s.sess.APIKey() != ""})
}

func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.sess.SetAPIKey(strings.TrimSpace(req.APIKey))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, promptRequest{Prompt: s.sess.Prompt()})
}

func (s *Server) handlePutPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.sess.SetPrompt(req.Prompt)
	writeJSON(w, http.StatusAccepted, s.estimate())
}

func (s *Server) handleEstimate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.estimate())
}

func (s *Server) estimate() estimateResponse {
	return estimateResponse{
		State:     s.sess.Estimate(),
		CanSubmit: s.sess.CanSubmit(),
		Loading:   s.sess.Loading(),
	}
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if req.Prompt != nil {
		s.sess.SetPrompt(*req.Prompt)
	}

	item, err := s.sess.Compare(r.Context())
	if err != nil {
		var ve *compare.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Message)
		case errors.Is(err, session.ErrRunInFlight):
			writeError(w, http.StatusConflict, "a comparison is already running")
		default:
			log.Error().Err(err).Msg("comparison failed")
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	items := s.sess.History()
	limit := queryInt(r, "limit", 0)
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	if items == nil {
		items = []history.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func historyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid history id")
		return 0, false
	}
	return id, true
}

func writeHistoryError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "history item not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// handleGetHistory returns one past run without changing what is on display.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := historyID(w, r)
	if !ok {
		return
	}
	item, err := s.sess.HistoryItem(id)
	if err != nil {
		writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleSelectHistory puts a past run on display and returns it.
func (s *Server) handleSelectHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := historyID(w, r)
	if !ok {
		return
	}
	if err := s.sess.SelectHistory(id); err != nil {
		writeHistoryError(w, err)
		return
	}
	item, err := s.sess.HistoryItem(id)
	if err != nil {
		writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.sess.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetError(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"error": s.sess.Error()})
}

func (s *Server) handleDismissError(w http.ResponseWriter, _ *http.Request) {
	s.sess.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	Range  string            `json:"range"`
	Totals statsTotals       `json:"totals"`
	Models []statsModelEntry `json:"models"`
}

type statsTotals struct {
	Runs             int64   `json:"runs"`
	Results          int64   `json:"results"`
	Errors           int64   `json:"errors"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

type statsModelEntry struct {
	Model            string  `json:"model"`
	Results          int64   `json:"results"`
	Errors           int64   `json:"errors"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// handleStats aggregates the run ledger. Accepts ?range=1d, 7d, 30d (default 7d).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rangeParam := r.URL.Query().Get("range")
	if rangeParam == "" {
		rangeParam = "7d"
	}
	window, err := parseDurationParam(rangeParam)
	if err != nil || window <= 0 {
		writeError(w, http.StatusBadRequest, "invalid range parameter")
		return
	}
	since := time.Now().Add(-window)

	totals, err := s.stats.GetRunStats(since)
	if err != nil {
		log.Error().Err(err).Msg("failed to query run stats")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	perModel, err := s.stats.GetModelStats(since)
	if err != nil {
		log.Error().Err(err).Msg("failed to query model stats")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	resp := statsResponse{
		Range: rangeParam,
		Totals: statsTotals{
			Runs:             totals.TotalRuns,
			Results:          totals.TotalResults,
			Errors:           totals.Errors,
			PromptTokens:     totals.TotalPromptTokens,
			CompletionTokens: totals.TotalCompletionTokens,
			CostUSD:          totals.TotalCost,
		},
		Models: make([]statsModelEntry, 0, len(perModel)),
	}
	for _, m := range perModel {
		resp.Models = append(resp.Models, statsModelEntry{
			Model:            m.Model,
			Results:          m.Results,
			Errors:           m.Errors,
			PromptTokens:     m.PromptTokens,
			CompletionTokens: m.CompletionTokens,
			CostUSD:          m.Cost,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody parses a JSON request body into v, answering 400 or 413 itself
// when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeJSON(w, r, v, false)
}

// decodeOptionalBody is decodeBody for requests whose body may be absent.
// Chunked bodies carry no Content-Length, so emptiness is only known after
// reading.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	return decodeJSON(w, r, v, true)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			if allowEmpty {
				return true
			}
			writeError(w, http.StatusBadRequest, "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}

// queryInt reads an integer query parameter with a default fallback.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

// parseDurationParam converts a shorthand like "7d" or "24h" to a time.Duration.
func parseDurationParam(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
