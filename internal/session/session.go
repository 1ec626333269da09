// Package session holds the state behind one user's comparison workspace:
// credential, prompt, model selection, live estimate, results, history and
// the error banner. Every user surface drives a Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/compare"
	"github.com/allaspectsdev/modelbench/internal/estimate"
	"github.com/allaspectsdev/modelbench/internal/history"
	"github.com/allaspectsdev/modelbench/internal/store"
	"github.com/allaspectsdev/modelbench/internal/tokenizer"
)

// ErrRunInFlight is returned by Compare while another comparison is running.
var ErrRunInFlight = errors.New("session: a comparison is already running")

// ErrUnknownModel is returned by ToggleModel for ids outside the catalog.
var ErrUnknownModel = errors.New("session: unknown model")

// Pricer prices both estimates and finished runs.
type Pricer interface {
	estimate.Pricer
	compare.Coster
}

// RunRecorder receives one row per model result after each comparison.
// *store.Store satisfies it.
type RunRecorder interface {
	InsertRuns(runs []store.Run) error
}

// Observer is told about every comparison that passes validation.
// *metrics.Collector satisfies it.
type Observer interface {
	ComparisonStarted()
	// ComparisonFinished receives nil when the comparison failed as a whole.
	ComparisonFinished(item *history.Item)
}

// Deps are the collaborators of a Session.
type Deps struct {
	// Models is the catalog; persisted selections are applied on top.
	Models  []catalog.Model
	Counter estimate.Counter
	Pricer  Pricer
	Client  compare.Completer

	// Credentials holds the openai_api_key slot.
	Credentials store.KV
	// Slots holds the selected_models and prompt_history slots.
	Slots store.KV
	// Ledger and Observer are optional.
	Ledger   RunRecorder
	Observer Observer

	// APIKey is used when the credential slot is empty.
	APIKey string

	Estimate estimate.Options
	// OnChange, if set, is called after every observable change, including
	// estimate updates. It must not call back into the Session synchronously
	// while holding its own locks.
	OnChange func()
}

// Session is safe for concurrent use.
type Session struct {
	creds    store.KV
	slots    store.KV
	ledger   RunRecorder
	observer Observer
	orch     *compare.Orchestrator
	est      *estimate.Controller
	hist     *history.Store
	onChange func()

	mu         sync.Mutex
	apiKey     string
	prompt     string
	models     []catalog.Model
	results    []history.Result
	selectedID int64
	loading    bool
	errMsg     string
}

// Open reads the three persisted slots once and builds a Session. Corrupt
// slot contents fall back to defaults with a warning.
func Open(deps Deps) (*Session, error) {
	if deps.Counter == nil || deps.Pricer == nil || deps.Client == nil {
		return nil, fmt.Errorf("session: counter, pricer and client are required")
	}
	if deps.Credentials == nil {
		deps.Credentials = store.NewMemory()
	}
	if deps.Slots == nil {
		deps.Slots = store.NewMemory()
	}
	if len(deps.Models) == 0 {
		deps.Models = catalog.Default
	}

	s := &Session{
		creds:    deps.Credentials,
		slots:    deps.Slots,
		ledger:   deps.Ledger,
		observer: deps.Observer,
		onChange: deps.OnChange,
	}

	s.apiKey = deps.APIKey
	if key, ok, err := s.creds.Get(store.SlotAPIKey); err != nil {
		log.Warn().Err(err).Msg("reading stored credential failed")
	} else if ok && key != "" {
		s.apiKey = key
	}

	s.models = catalog.Clone(deps.Models)
	if raw, ok, err := s.slots.Get(store.SlotSelection); err != nil {
		log.Warn().Err(err).Msg("reading model selection failed, using defaults")
	} else if ok {
		sel, err := catalog.DecodeSelections(raw)
		if err != nil {
			log.Warn().Err(err).Msg("stored model selection is corrupt, using defaults")
		} else {
			s.models = sel.Apply(s.models)
		}
	}

	var items []history.Item
	if raw, ok, err := s.slots.Get(store.SlotHistory); err != nil {
		log.Warn().Err(err).Msg("reading history failed, starting empty")
	} else if ok {
		items, err = history.Decode(raw)
		if err != nil {
			log.Warn().Err(err).Msg("stored history is corrupt, starting empty")
			items = nil
		}
	}
	s.hist = history.New(items)

	s.orch = compare.New(deps.Client, deps.Pricer, s.hist)

	opts := deps.Estimate
	userHook := opts.OnUpdate
	opts.OnUpdate = func(st estimate.State) {
		if userHook != nil {
			userHook(st)
		}
		s.changed()
	}
	s.est = estimate.New(deps.Counter, deps.Pricer, s.models, opts)

	log.Debug().
		Int("models", len(s.models)).
		Int("history", s.hist.Len()).
		Bool("has_key", s.apiKey != "").
		Msg("session opened")

	return s, nil
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// setErrorLocked records a banner message. Callers hold s.mu.
func (s *Session) setErrorLocked(msg string) {
	s.errMsg = msg
}

// SetAPIKey updates and persists the credential. An empty key removes it.
func (s *Session) SetAPIKey(key string) {
	s.mu.Lock()
	s.apiKey = key
	var err error
	if key == "" {
		err = s.creds.Remove(store.SlotAPIKey)
	} else {
		err = s.creds.Set(store.SlotAPIKey, key)
	}
	if err != nil {
		log.Error().Err(err).Msg("persisting credential failed")
		s.setErrorLocked("Could not save API key: " + err.Error())
	}
	s.mu.Unlock()
	s.changed()
}

// APIKey returns the current credential.
func (s *Session) APIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

// SetPrompt updates the prompt and schedules a new estimate.
func (s *Session) SetPrompt(text string) {
	s.mu.Lock()
	s.prompt = text
	s.mu.Unlock()
	s.est.SetText(text)
	s.changed()
}

// Prompt returns the current prompt.
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// Models returns a copy of the catalog with the current selection.
func (s *Session) Models() []catalog.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return catalog.Clone(s.models)
}

// ToggleModel flips the selection of one model and persists the selection.
func (s *Session) ToggleModel(id string) error {
	s.mu.Lock()
	next, ok := catalog.Toggle(s.models, id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	s.models = next

	raw, err := catalog.SelectionsOf(next).Encode()
	if err == nil {
		err = s.slots.Set(store.SlotSelection, raw)
	}
	if err != nil {
		log.Error().Err(err).Msg("persisting model selection failed")
		s.setErrorLocked("Could not save model selection: " + err.Error())
	}
	s.mu.Unlock()

	s.est.SetModels(next)
	s.changed()
	return nil
}

// Estimate returns the live token and price estimate.
func (s *Session) Estimate() estimate.State {
	return s.est.State()
}

// CanSubmit reports whether a comparison may be started: at least one
// model is selected and no run is in flight.
func (s *Session) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.loading && catalog.AnySelected(s.models)
}

// Loading reports whether a comparison is running.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Compare runs the current prompt against the selected models, records the
// item in history and selects it. A ValidationError is also shown as the
// error banner.
func (s *Session) Compare(ctx context.Context) (*history.Item, error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil, ErrRunInFlight
	}
	apiKey, prompt, models := s.apiKey, s.prompt, catalog.Clone(s.models)
	if err := compare.Validate(apiKey, prompt, models); err != nil {
		s.setErrorLocked(err.Error())
		s.mu.Unlock()
		s.changed()
		return nil, err
	}
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()
	s.changed()

	if s.observer != nil {
		s.observer.ComparisonStarted()
	}
	item, err := s.orch.Compare(ctx, apiKey, prompt, models)
	if s.observer != nil {
		s.observer.ComparisonFinished(item)
	}

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.setErrorLocked(err.Error())
		s.mu.Unlock()
		s.changed()
		return nil, err
	}

	s.hist.Append(*item)
	s.selectedID = item.ID
	s.results = item.Results
	for _, r := range item.Results {
		if r.IsError {
			s.setErrorLocked(strings.TrimPrefix(r.Response, "Error: "))
			break
		}
	}
	s.persistHistoryLocked()
	s.mu.Unlock()

	s.record(item)
	s.changed()
	return item, nil
}

// persistHistoryLocked writes the history slot. Callers hold s.mu.
func (s *Session) persistHistoryLocked() {
	raw, err := s.hist.Encode()
	if err == nil {
		err = s.slots.Set(store.SlotHistory, raw)
	}
	if err != nil {
		log.Error().Err(err).Msg("persisting history failed")
		s.setErrorLocked("Could not save history: " + err.Error())
	}
}

func (s *Session) record(item *history.Item) {
	if s.ledger == nil {
		return
	}
	rows := make([]store.Run, 0, len(item.Results))
	for _, r := range item.Results {
		row := store.Run{
			RunID:            item.RunID,
			ItemID:           item.ID,
			Timestamp:        item.Timestamp,
			Model:            r.ModelID,
			PromptTokens:     int64(r.Usage.PromptTokens),
			CompletionTokens: int64(r.Usage.CompletionTokens),
			IsError:          r.IsError,
		}
		if r.Cost.Available {
			c := r.Cost.Amount.InexactFloat64()
			row.CostUSD = &c
		}
		rows = append(rows, row)
	}
	if err := s.ledger.InsertRuns(rows); err != nil {
		log.Warn().Err(err).Str("run_id", item.RunID).Msg("recording run ledger failed")
	}
}

// Results returns the results on display: the selected history item's, or
// those of the latest run when nothing is selected.
func (s *Session) Results() []history.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID != 0 {
		if it, err := s.hist.Get(s.selectedID); err == nil {
			return append([]history.Result(nil), it.Results...)
		}
	}
	return append([]history.Result(nil), s.results...)
}

// History returns past runs, newest first.
func (s *Session) History() []history.Item {
	return s.hist.List()
}

// HistoryItem returns one past run without selecting it.
func (s *Session) HistoryItem(id int64) (history.Item, error) {
	return s.hist.Get(id)
}

// SelectHistory puts a past run on display.
func (s *Session) SelectHistory(id int64) error {
	if _, err := s.hist.Get(id); err != nil {
		return err
	}
	s.mu.Lock()
	s.selectedID = id
	s.mu.Unlock()
	s.changed()
	return nil
}

// Selected returns the history item on display, if any.
func (s *Session) Selected() (history.Item, bool) {
	s.mu.Lock()
	id := s.selectedID
	s.mu.Unlock()
	if id == 0 {
		return history.Item{}, false
	}
	it, err := s.hist.Get(id)
	if err != nil {
		return history.Item{}, false
	}
	return it, true
}

// ClearHistory removes every past run and the persisted history slot.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	s.hist.Clear()
	s.selectedID = 0
	if err := s.slots.Remove(store.SlotHistory); err != nil {
		log.Error().Err(err).Msg("removing history failed")
		s.setErrorLocked("Could not clear history: " + err.Error())
	}
	s.mu.Unlock()
	s.changed()
}

// Error returns the error banner, empty when there is none.
func (s *Session) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// DismissError clears the error banner.
func (s *Session) DismissError() {
	s.mu.Lock()
	s.errMsg = ""
	s.mu.Unlock()
	s.changed()
}

// Close stops the estimate controller. No OnChange call caused by an
// estimate is made after Close returns.
func (s *Session) Close() {
	s.est.Close()
}

// Calculator is the Pricer used outside tests.
var _ Pricer = (*tokenizer.Calculator)(nil)
