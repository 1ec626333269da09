package estimate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/tokenizer"
)

const testDelay = 30 * time.Millisecond

var testModels = []catalog.Model{
	{ID: "gpt-4", Name: "GPT-4", Selected: true},
	{ID: "gpt-4o-mini", Name: "GPT 4o mini"},
	{ID: "unpriced-model", Name: "Unpriced"},
}

// fakeCounter returns len(text) and records every call. Texts listed in
// gates block until their gate channel is closed or ctx is cancelled.
type fakeCounter struct {
	mu      sync.Mutex
	calls   []string
	gates   map[string]chan struct{}
	started chan string
	err     error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (f *fakeCounter) gate(text string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[text] = ch
	return ch
}

func (f *fakeCounter) CountTokens(ctx context.Context, text, _ string) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	gate := f.gates[text]
	err := f.err
	f.mu.Unlock()

	f.started <- text
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return len(text), nil
}

func (f *fakeCounter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newController(t *testing.T, counter Counter, onUpdate func(State)) *Controller {
	t.Helper()
	c := New(counter, tokenizer.NewCalculator(nil), testModels, Options{Delay: testDelay, OnUpdate: onUpdate})
	t.Cleanup(c.Close)
	return c
}

func waitIdle(t *testing.T, c *Controller) State {
	t.Helper()
	var st State
	require.Eventually(t, func() bool {
		st = c.State()
		return !st.Calculating
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func waitStarted(t *testing.T, f *fakeCounter, want string) {
	t.Helper()
	select {
	case got := <-f.started:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("tokenization of %q never started", want)
	}
}

func TestController_DebounceRunsOnceWithFinalText(t *testing.T) {
	counter := newFakeCounter()
	c := newController(t, counter, nil)

	for _, text := range []string{"H", "He", "Hel", "Hell", "Hello"} {
		c.SetText(text)
		time.Sleep(testDelay / 5)
	}

	st := waitIdle(t, c)
	assert.Equal(t, 5, st.TokenCount)

	// Give a stray timer every chance to fire.
	time.Sleep(3 * testDelay)
	assert.Equal(t, []string{"Hello"}, counter.Calls())
}

func TestController_CalculatingKeepsPreviousPrices(t *testing.T) {
	counter := newFakeCounter()
	c := newController(t, counter, nil)

	c.SetText("abcd")
	first := waitIdle(t, c)
	require.True(t, first.Price("gpt-4").Available)

	gate := counter.gate("abcdefgh")
	c.SetText("abcdefgh")

	st := c.State()
	assert.True(t, st.Calculating)
	assert.Equal(t, first.TokenCount, st.TokenCount)
	assert.Equal(t, first.Prices, st.Prices)

	waitStarted(t, counter, "abcd")
	waitStarted(t, counter, "abcdefgh")
	st = c.State()
	assert.True(t, st.Calculating, "still calculating while tokenizer runs")
	assert.Equal(t, first.Prices, st.Prices)

	close(gate)
	st = waitIdle(t, c)
	assert.Equal(t, 8, st.TokenCount)
}

func TestController_SupersededResultIsDiscarded(t *testing.T) {
	counter := newFakeCounter()
	slow := counter.gate("slow request")
	c := newController(t, counter, nil)

	c.SetText("slow request")
	waitStarted(t, counter, "slow request")

	c.SetText("fast")
	waitStarted(t, counter, "fast")

	st := waitIdle(t, c)
	require.Equal(t, 4, st.TokenCount)

	// The older computation now finishes last and must not win.
	close(slow)
	time.Sleep(3 * testDelay)

	st = c.State()
	assert.Equal(t, 4, st.TokenCount)
	assert.False(t, st.Calculating)
	assert.True(t, st.Price("gpt-4").Amount.Equal(
		tokenizer.NewCalculator(nil).Price(4, tokenizer.Prompt, "gpt-4").Amount))
}

func TestController_EmptyTextSkipsTokenizer(t *testing.T) {
	counter := newFakeCounter()
	c := newController(t, counter, nil)

	c.SetText("something")
	waitIdle(t, c)

	c.SetText("")
	st := waitIdle(t, c)

	assert.Equal(t, 0, st.TokenCount)
	assert.Empty(t, st.Prices)
	assert.Equal(t, []string{"something"}, counter.Calls())
}

func TestController_TokenizerFailureDegrades(t *testing.T) {
	counter := newFakeCounter()
	counter.err = &tokenizer.TokenizationError{Family: "gpt-4", Err: errors.New("codec unavailable")}
	c := newController(t, counter, nil)

	c.SetText("hello")
	st := waitIdle(t, c)

	assert.Equal(t, 0, st.TokenCount)
	assert.Empty(t, st.Prices)
	assert.False(t, st.Price("gpt-4").Available)
}

func TestController_SetModelsReprojectsWithoutTokenizing(t *testing.T) {
	counter := newFakeCounter()
	c := newController(t, counter, nil)

	c.SetText("twelve chars")
	st := waitIdle(t, c)
	require.Equal(t, 12, st.TokenCount)
	assert.True(t, st.Price("gpt-4").Available)
	assert.False(t, st.Price("unpriced-model").Available)

	c.SetModels([]catalog.Model{{ID: "gpt-3.5-turbo", Selected: true}, {ID: "gpt-4"}})
	st = c.State()

	assert.Equal(t, 12, st.TokenCount)
	assert.Len(t, st.Prices, 2)
	want := tokenizer.NewCalculator(nil).Price(12, tokenizer.Prompt, "gpt-3.5-turbo")
	assert.True(t, st.Price("gpt-3.5-turbo").Amount.Equal(want.Amount))
	assert.Len(t, counter.Calls(), 1)
}

func TestController_ModelChangeDuringComputeIsReprojected(t *testing.T) {
	counter := newFakeCounter()
	gate := counter.gate("abc")
	c := newController(t, counter, nil)

	c.SetText("abc")
	waitStarted(t, counter, "abc")

	c.SetModels([]catalog.Model{{ID: "gpt-3.5-turbo"}})
	close(gate)

	st := waitIdle(t, c)
	assert.Equal(t, 3, st.TokenCount)
	assert.Len(t, st.Prices, 1)
	assert.True(t, st.Price("gpt-3.5-turbo").Available)
}

func TestController_CloseCancelsPendingDebounce(t *testing.T) {
	counter := newFakeCounter()
	var updates atomic.Int32
	c := New(counter, tokenizer.NewCalculator(nil), testModels, Options{
		Delay:    testDelay,
		OnUpdate: func(State) { updates.Add(1) },
	})

	c.SetText("never counted")
	c.Close()
	seen := updates.Load()

	time.Sleep(3 * testDelay)
	assert.Empty(t, counter.Calls())
	assert.Equal(t, seen, updates.Load(), "no updates after Close")
}

func TestController_CloseDiscardsInFlight(t *testing.T) {
	counter := newFakeCounter()
	counter.gate("in flight")
	var updates atomic.Int32
	c := New(counter, tokenizer.NewCalculator(nil), testModels, Options{
		Delay:    testDelay,
		OnUpdate: func(State) { updates.Add(1) },
	})

	c.SetText("in flight")
	waitStarted(t, counter, "in flight")

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return; in-flight computation not cancelled")
	}

	seen := updates.Load()
	c.SetText("after close")
	time.Sleep(3 * testDelay)
	assert.Equal(t, seen, updates.Load())
	assert.Equal(t, 0, c.State().TokenCount)
}

func TestController_OnUpdateSeesLatestState(t *testing.T) {
	counter := newFakeCounter()
	var mu sync.Mutex
	var last State
	c := newController(t, counter, func(st State) {
		mu.Lock()
		last = st
		mu.Unlock()
	})

	c.SetText("hi")
	mu.Lock()
	assert.True(t, last.Calculating)
	mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !last.Calculating && last.TokenCount == 2
	}, 2*time.Second, 5*time.Millisecond)
}
