// Package estimate keeps a live token and price estimate in sync with a
// freely edited prompt and model selection.
//
// Text changes are debounced: a computation starts only once the text has
// been quiet for the configured delay. Each computation is tagged with a
// generation number when it starts, and its result is committed only if no
// newer computation has been started since. A slow early computation
// therefore never overwrites a faster later one.
package estimate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/tokenizer"
)

// DefaultDelay is the quiescence interval before a computation starts.
const DefaultDelay = 500 * time.Millisecond

// DefaultFamily is the tokenizer family used for every estimate.
const DefaultFamily = "gpt-4"

// Counter counts the tokens in text. *tokenizer.Tokenizer satisfies it.
type Counter interface {
	CountTokens(ctx context.Context, text, family string) (int, error)
}

// Pricer prices a token count for one model. *tokenizer.Calculator satisfies it.
type Pricer interface {
	Price(tokens int, class tokenizer.TokenClass, model string) tokenizer.Price
}

// State is the observable estimate. While Calculating is true, Prices still
// reflect the last completed computation.
type State struct {
	TokenCount  int                        `json:"token_count"`
	Prices      map[string]tokenizer.Price `json:"prices"`
	Calculating bool                       `json:"calculating"`
}

// Price returns the estimated price for model, unavailable if unknown.
func (s State) Price(model string) tokenizer.Price {
	return s.Prices[model]
}

// Options configures a Controller.
type Options struct {
	// Delay is the debounce interval. Zero means DefaultDelay.
	Delay time.Duration
	// Family selects the tokenizer encoding. Empty means DefaultFamily.
	Family string
	// OnUpdate, if set, is called after every observable change with the
	// state current at the time of the call. Calls are serialised.
	OnUpdate func(State)
}

type snapshot struct {
	gen       uint64
	text      string
	models    []catalog.Model
	modelsRev uint64
}

// Controller owns the estimate for one session.
type Controller struct {
	counter  Counter
	pricer   Pricer
	delay    time.Duration
	family   string
	onUpdate func(State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	notifyMu sync.Mutex

	mu        sync.Mutex
	text      string
	models    []catalog.Model
	modelsRev uint64
	timer     *time.Timer
	timerSeq  uint64 // identifies the only timer allowed to fire
	armed     bool
	gen       uint64 // latest generation issued
	priced    bool   // last commit produced a real token count
	state     State
	closed    bool
}

// New creates a Controller estimating over models.
func New(counter Counter, pricer Pricer, models []catalog.Model, opts Options) *Controller {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Family == "" {
		opts.Family = DefaultFamily
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		counter:  counter,
		pricer:   pricer,
		delay:    opts.Delay,
		family:   opts.Family,
		onUpdate: opts.OnUpdate,
		ctx:      ctx,
		cancel:   cancel,
		models:   catalog.Clone(models),
		state:    State{Prices: map[string]tokenizer.Price{}},
	}
}

// SetText records new prompt text and restarts the debounce window.
func (c *Controller) SetText(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.text = text
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerSeq++
	seq := c.timerSeq
	c.armed = true
	c.state.Calculating = true
	c.timer = time.AfterFunc(c.delay, func() { c.fire(seq) })
	c.mu.Unlock()

	c.notify()
}

// SetModels replaces the model set. The last known token count is
// reprojected over the new set without tokenizing again.
func (c *Controller) SetModels(models []catalog.Model) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.models = catalog.Clone(models)
	c.modelsRev++
	if c.priced {
		c.state.Prices = c.project(c.state.TokenCount, c.models)
	}
	c.mu.Unlock()

	c.notify()
}

// State returns a copy of the current estimate.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	prices := make(map[string]tokenizer.Price, len(c.state.Prices))
	for k, v := range c.state.Prices {
		prices[k] = v
	}
	return State{
		TokenCount:  c.state.TokenCount,
		Prices:      prices,
		Calculating: c.state.Calculating,
	}
}

// Close cancels any pending debounce and waits for in-flight computations.
// Their results are discarded; no update is delivered after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.armed = false
	c.gen++
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	// Wait out a delivery that raced with Close.
	c.notifyMu.Lock()
	c.notifyMu.Unlock() //nolint:staticcheck
}

// fire runs when the debounce timer identified by seq expires.
func (c *Controller) fire(seq uint64) {
	c.mu.Lock()
	if c.closed || seq != c.timerSeq {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.armed = false
	c.gen++
	snap := snapshot{
		gen:       c.gen,
		text:      c.text,
		models:    catalog.Clone(c.models),
		modelsRev: c.modelsRev,
	}
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	c.compute(snap)
}

func (c *Controller) compute(snap snapshot) {
	if snap.text == "" {
		c.commit(snap, 0, map[string]tokenizer.Price{}, false)
		return
	}

	count, err := c.counter.CountTokens(c.ctx, snap.text, c.family)
	if err != nil {
		if c.ctx.Err() == nil {
			log.Warn().Err(err).Uint64("generation", snap.gen).Msg("token estimate failed")
		}
		c.commit(snap, 0, map[string]tokenizer.Price{}, false)
		return
	}

	c.commit(snap, count, c.project(count, snap.models), true)
}

// commit applies a finished computation if it is still the newest one.
func (c *Controller) commit(snap snapshot, count int, prices map[string]tokenizer.Price, priced bool) {
	c.mu.Lock()
	if c.closed || snap.gen != c.gen {
		c.mu.Unlock()
		log.Debug().Uint64("generation", snap.gen).Msg("discarding superseded estimate")
		return
	}
	if priced && snap.modelsRev != c.modelsRev {
		prices = c.project(count, c.models)
	}
	c.state.TokenCount = count
	c.state.Prices = prices
	c.state.Calculating = c.armed
	c.priced = priced
	c.mu.Unlock()

	c.notify()
}

func (c *Controller) project(count int, models []catalog.Model) map[string]tokenizer.Price {
	prices := make(map[string]tokenizer.Price, len(models))
	for _, m := range models {
		prices[m.ID] = c.pricer.Price(count, tokenizer.Prompt, m.ID)
	}
	return prices
}

func (c *Controller) notify() {
	if c.onUpdate == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	st := c.stateLocked()
	c.mu.Unlock()

	c.onUpdate(st)
}
