// Package compare fans one prompt out to several models and assembles the
// per-model outcomes into a history item.
package compare

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/history"
	"github.com/allaspectsdev/modelbench/internal/provider"
	"github.com/allaspectsdev/modelbench/internal/tokenizer"
	"github.com/allaspectsdev/modelbench/internal/tracing"
)

// NoContent replaces an empty successful response.
const NoContent = "No response content"

// ValidationError reports a precondition failure. No request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Completer sends one prompt to one model.
type Completer interface {
	Complete(ctx context.Context, apiKey, model, prompt string) (*provider.Completion, error)
}

// Coster prices a finished response from its reported usage.
type Coster interface {
	RunCost(model string, promptTokens, completionTokens int) tokenizer.Price
}

// IDSource issues history item ids.
type IDSource interface {
	NextID() int64
}

// Orchestrator runs comparisons. It is safe for concurrent use.
type Orchestrator struct {
	client Completer
	costs  Coster
	ids    IDSource
	now    func() time.Time
}

// New creates an Orchestrator. A nil costs uses the default pricing table;
// a nil ids uses the wall clock.
func New(client Completer, costs Coster, ids IDSource) *Orchestrator {
	if costs == nil {
		costs = tokenizer.NewCalculator(nil)
	}
	if ids == nil {
		ids = history.New(nil)
	}
	return &Orchestrator{client: client, costs: costs, ids: ids, now: time.Now}
}

// Validate checks the preconditions of Compare. Only empty values are
// rejected; whitespace is sent as typed.
func Validate(apiKey, prompt string, models []catalog.Model) error {
	switch {
	case apiKey == "":
		return &ValidationError{Field: "api_key", Message: "Please provide an API key and prompt"}
	case prompt == "":
		return &ValidationError{Field: "prompt", Message: "Please provide an API key and prompt"}
	case !catalog.AnySelected(models):
		return &ValidationError{Field: "models", Message: "Please select at least one model to compare"}
	}
	return nil
}

// Compare sends prompt to every selected model in parallel and returns one
// item whose results follow the order of models. A failing model yields an
// error result and never affects the others.
func (o *Orchestrator) Compare(ctx context.Context, apiKey, prompt string, models []catalog.Model) (*history.Item, error) {
	if err := Validate(apiKey, prompt, models); err != nil {
		return nil, err
	}
	selected := catalog.Selected(models)
	runID := uuid.NewString()
	start := time.Now()

	ctx, span := tracing.StartCompareSpan(ctx, runID, len(selected))
	defer span.End()

	log.Info().Str("run_id", runID).Int("models", len(selected)).Msg("comparison started")

	results := make([]history.Result, len(selected))
	var wg sync.WaitGroup
	for i, m := range selected {
		wg.Add(1)
		go func(i int, m catalog.Model) {
			defer wg.Done()
			results[i] = o.run(ctx, runID, apiKey, prompt, m)
		}(i, m)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.IsError {
			failed++
		}
	}
	tracing.SetFailedCount(ctx, failed)
	log.Info().
		Str("run_id", runID).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("comparison finished")

	return &history.Item{
		ID:        o.ids.NextID(),
		RunID:     runID,
		Prompt:    prompt,
		Results:   results,
		Timestamp: o.now().UTC(),
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, runID, apiKey, prompt string, m catalog.Model) (res history.Result) {
	res = history.Result{ModelID: m.ID, DisplayName: m.Name, Cost: tokenizer.Unavailable()}

	ctx, span := tracing.StartModelSpan(ctx, m.ID)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("run_id", runID).Str("model", m.ID).Interface("panic", r).Msg("model request panicked")
			res = errorResult(m, fmt.Sprint(r), o.now())
		}
	}()

	comp, err := o.client.Complete(ctx, apiKey, m.ID, prompt)
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Str("model", m.ID).Msg("model request failed")
		tracing.RecordError(ctx, err)
		return errorResult(m, errorMessage(err), o.now())
	}

	res.Response = comp.Content
	if res.Response == "" {
		res.Response = NoContent
	}
	res.Usage = history.Usage{PromptTokens: comp.PromptTokens, CompletionTokens: comp.CompletionTokens}
	res.Cost = o.costs.RunCost(m.ID, comp.PromptTokens, comp.CompletionTokens)
	tracing.SetUsageAttributes(ctx, comp.PromptTokens, comp.CompletionTokens, res.Cost.String())
	res.Timestamp = o.now().UTC()
	return res
}

func errorResult(m catalog.Model, msg string, at time.Time) history.Result {
	return history.Result{
		ModelID:     m.ID,
		DisplayName: m.Name,
		Response:    "Error: " + msg,
		Cost:        tokenizer.Unavailable(),
		IsError:     true,
		Timestamp:   at.UTC(),
	}
}

func errorMessage(err error) string {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Failed to fetch response"
}
