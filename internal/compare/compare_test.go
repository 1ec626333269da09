package compare

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/history"
	"github.com/allaspectsdev/modelbench/internal/provider"
)

type call struct {
	apiKey, model, prompt string
}

// fakeClient answers per model after an optional delay.
type fakeClient struct {
	mu     sync.Mutex
	calls  []call
	delays map[string]time.Duration
	errs   map[string]error
	panics map[string]bool
	out    map[string]*provider.Completion
}

func (f *fakeClient) Complete(ctx context.Context, apiKey, model, prompt string) (*provider.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{apiKey, model, prompt})
	f.mu.Unlock()

	if d := f.delays[model]; d > 0 {
		time.Sleep(d)
	}
	if f.panics[model] {
		panic("boom")
	}
	if err := f.errs[model]; err != nil {
		return nil, err
	}
	if c := f.out[model]; c != nil {
		return c, nil
	}
	return &provider.Completion{Content: "reply from " + model}, nil
}

func (f *fakeClient) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.model)
	}
	return out
}

func selected(ids ...string) []catalog.Model {
	out := make([]catalog.Model, len(ids))
	for i, id := range ids {
		out[i] = catalog.Model{ID: id, Name: "Model " + id, Selected: true}
	}
	return out
}

func resultIDs(item *history.Item) []string {
	out := make([]string, len(item.Results))
	for i, r := range item.Results {
		out[i] = r.ModelID
	}
	return out
}

func TestCompare_PreservesCallerOrder(t *testing.T) {
	f := &fakeClient{delays: map[string]time.Duration{
		"x": 60 * time.Millisecond,
		"y": 0,
		"z": 30 * time.Millisecond,
	}}
	o := New(f, nil, nil)

	item, err := o.Compare(context.Background(), "k", "Hello", selected("x", "y", "z"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, resultIDs(item))
	assert.Equal(t, "Hello", item.Prompt)
	assert.NotEmpty(t, item.RunID)
	assert.NotZero(t, item.ID)
}

func TestCompare_RunsInParallel(t *testing.T) {
	f := &fakeClient{delays: map[string]time.Duration{
		"a": 80 * time.Millisecond,
		"b": 80 * time.Millisecond,
		"c": 80 * time.Millisecond,
	}}
	o := New(f, nil, nil)

	start := time.Now()
	_, err := o.Compare(context.Background(), "k", "p", selected("a", "b", "c"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestCompare_IsolatesFailures(t *testing.T) {
	f := &fakeClient{
		errs: map[string]error{
			"transport": &provider.TransportError{Model: "transport", StatusCode: 500},
			"provider":  &provider.ProviderError{Model: "provider", Message: "quota exceeded"},
		},
		panics: map[string]bool{"panics": true},
	}
	o := New(f, nil, nil)

	item, err := o.Compare(context.Background(), "k", "p", selected("ok", "transport", "provider", "panics"))
	require.NoError(t, err)
	require.Len(t, item.Results, 4)

	r := item.Results
	assert.False(t, r[0].IsError)
	assert.Equal(t, "reply from ok", r[0].Response)

	assert.True(t, r[1].IsError)
	assert.Equal(t, "Error: HTTP error! status: 500", r[1].Response)

	assert.True(t, r[2].IsError)
	assert.Equal(t, "Error: quota exceeded", r[2].Response)

	assert.True(t, r[3].IsError)
	assert.Equal(t, "Error: boom", r[3].Response)
	assert.Equal(t, "panics", r[3].ModelID)

	for _, res := range r[1:] {
		assert.False(t, res.Cost.Available)
		assert.Zero(t, res.Usage)
	}
}

func TestCompare_EmptyContentAndUsage(t *testing.T) {
	f := &fakeClient{out: map[string]*provider.Completion{
		"gpt-4":   {Content: "", PromptTokens: 1000, CompletionTokens: 500},
		"unknown": {Content: "hi"},
	}}
	o := New(f, nil, nil)

	item, err := o.Compare(context.Background(), "k", "p", selected("gpt-4", "unknown"))
	require.NoError(t, err)

	g := item.Results[0]
	assert.Equal(t, NoContent, g.Response)
	assert.Equal(t, history.Usage{PromptTokens: 1000, CompletionTokens: 500}, g.Usage)
	require.True(t, g.Cost.Available)
	assert.Equal(t, "$0.060000", g.Cost.String())

	u := item.Results[1]
	assert.False(t, u.IsError)
	assert.Zero(t, u.Usage)
	assert.False(t, u.Cost.Available)
}

func TestCompare_ValidationSendsNothing(t *testing.T) {
	cases := []struct {
		name   string
		apiKey string
		prompt string
		models []catalog.Model
		field  string
	}{
		{"no key", "", "Hello", selected("a"), "api_key"},
		{"empty prompt", "k", "", selected("a"), "prompt"},
		{"nothing selected", "k", "Hello", []catalog.Model{{ID: "a"}, {ID: "b"}}, "models"},
		{"no models", "k", "Hello", nil, "models"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeClient{}
			o := New(f, nil, nil)

			item, err := o.Compare(context.Background(), tc.apiKey, tc.prompt, tc.models)
			assert.Nil(t, item)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
			assert.Empty(t, f.models())
		})
	}
}

func TestCompare_WhitespacePromptIsSent(t *testing.T) {
	f := &fakeClient{}
	o := New(f, nil, nil)

	item, err := o.Compare(context.Background(), "k", "  \n", selected("a"))
	require.NoError(t, err)
	require.Len(t, item.Results, 1)
	assert.Equal(t, "  \n", item.Prompt)
	assert.Equal(t, []string{"a"}, f.models())
}

func TestCompare_OnlySelectedModelsAreCalled(t *testing.T) {
	f := &fakeClient{}
	o := New(f, nil, nil)

	models := []catalog.Model{{ID: "a", Name: "A", Selected: true}, {ID: "b", Name: "B", Selected: false}}
	item, err := o.Compare(context.Background(), "k", "Hello", models)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, f.models())
	require.Len(t, item.Results, 1)
	assert.Equal(t, "a", item.Results[0].ModelID)
	assert.Equal(t, "A", item.Results[0].DisplayName)
}

func TestCompare_ItemsSnapshotSelection(t *testing.T) {
	f := &fakeClient{}
	o := New(f, nil, nil)

	models := selected("a")
	item, err := o.Compare(context.Background(), "k", "p", models)
	require.NoError(t, err)

	models[0].Name = "renamed"
	models[0].Selected = false
	assert.Equal(t, "Model a", item.Results[0].DisplayName)
}

func TestCompare_IDsComeFromSource(t *testing.T) {
	h := history.New([]history.Item{{ID: 9_999_999_999_999}})
	o := New(&fakeClient{}, nil, h)

	a, err := o.Compare(context.Background(), "k", "p", selected("a"))
	require.NoError(t, err)
	b, err := o.Compare(context.Background(), "k", "p", selected("a"))
	require.NoError(t, err)

	assert.Equal(t, int64(10_000_000_000_000), a.ID)
	assert.Greater(t, b.ID, a.ID)
	assert.NotEqual(t, a.RunID, b.RunID)
}
