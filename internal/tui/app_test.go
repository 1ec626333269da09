package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/estimate"
	"github.com/allaspectsdev/modelbench/internal/provider"
	"github.com/allaspectsdev/modelbench/internal/session"
	"github.com/allaspectsdev/modelbench/internal/store"
	"github.com/allaspectsdev/modelbench/internal/tokenizer"
)

type runeCounter struct{}

func (runeCounter) CountTokens(_ context.Context, text, _ string) (int, error) {
	return len([]rune(text)), nil
}

type stubClient struct{}

func (stubClient) Complete(_ context.Context, _, model, prompt string) (*provider.Completion, error) {
	return &provider.Completion{Content: "answer from " + model, PromptTokens: 2, CompletionTokens: 3}, nil
}

func newTestApp(t *testing.T, apiKey string) (App, *session.Session) {
	t.Helper()
	n := NewNotifier()
	sess, err := session.Open(session.Deps{
		Models: []catalog.Model{
			{ID: "gpt-4", Name: "GPT-4", Selected: true},
			{ID: "gpt-4o", Name: "GPT 4o"},
		},
		Counter:     runeCounter{},
		Pricer:      tokenizer.NewCalculator(nil),
		Client:      stubClient{},
		Credentials: store.NewMemory(),
		Slots:       store.NewMemory(),
		APIKey:      apiKey,
		Estimate:    estimate.Options{Delay: 5 * time.Millisecond},
		OnChange:    n.Notify,
	})
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(sess.Close)

	a := New(context.Background(), sess, n)
	m, _ := a.Update(tea.WindowSizeMsg{Width: 140, Height: 50})
	return m.(App), sess
}

func press(t *testing.T, a App, keys ...tea.KeyMsg) App {
	t.Helper()
	for _, k := range keys {
		m, _ := a.Update(k)
		a = m.(App)
	}
	return a
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestApp_StartsOnKeyWhenMissing(t *testing.T) {
	a, _ := newTestApp(t, "")
	if a.focus != focusKey {
		t.Fatalf("focus = %d, want focusKey", a.focus)
	}

	a, _ = newTestApp(t, "sk-x")
	if a.focus != focusPrompt {
		t.Fatalf("focus = %d, want focusPrompt", a.focus)
	}
}

func TestApp_KeyEntryIsSavedAndMasked(t *testing.T) {
	a, sess := newTestApp(t, "")

	a = press(t, a, runes("sk-secret"), tea.KeyMsg{Type: tea.KeyEnter})
	if got := sess.APIKey(); got != "sk-secret" {
		t.Fatalf("APIKey = %q, want sk-secret", got)
	}
	if a.focus != focusModels {
		t.Errorf("focus = %d, want focusModels", a.focus)
	}
	if strings.Contains(a.View(), "sk-secret") {
		t.Error("view leaks the API key")
	}
}

func TestApp_TypingUpdatesPromptAndEstimate(t *testing.T) {
	a, sess := newTestApp(t, "sk-x")

	a = press(t, a, runes("hello"))
	if got := sess.Prompt(); got != "hello" {
		t.Fatalf("Prompt = %q, want hello", got)
	}

	deadline := time.Now().Add(time.Second)
	for {
		st := sess.Estimate()
		if st.TokenCount == 5 && !st.Calculating {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("estimate never settled: %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}

	view := a.View()
	if !strings.Contains(view, "5 prompt tokens") {
		t.Errorf("view missing token count")
	}
	if !strings.Contains(view, "($0.000150)") {
		t.Errorf("view missing gpt-4 price")
	}
}

func TestApp_ToggleModelWithSpace(t *testing.T) {
	a, sess := newTestApp(t, "sk-x")

	// prompt -> shift+tab -> models
	a = press(t, a, tea.KeyMsg{Type: tea.KeyShiftTab})
	if a.focus != focusModels {
		t.Fatalf("focus = %d, want focusModels", a.focus)
	}
	a = press(t, a, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeySpace})

	models := sess.Models()
	if !models[1].Selected {
		t.Error("gpt-4o should be selected after toggle")
	}
	_ = press(t, a, tea.KeyMsg{Type: tea.KeyUp}, tea.KeyMsg{Type: tea.KeySpace})
	if sess.Models()[0].Selected {
		t.Error("gpt-4 should be deselected after toggle")
	}
}

func TestApp_SubmitRunsComparison(t *testing.T) {
	a, sess := newTestApp(t, "sk-x")
	a = press(t, a, runes("hi"))

	m, cmd := a.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	a = m.(App)
	if cmd == nil {
		t.Fatal("ctrl+s returned no command")
	}
	if !a.comparing {
		t.Error("comparing should be set while the command runs")
	}

	// A second submit while one is pending is ignored.
	if _, again := a.Update(tea.KeyMsg{Type: tea.KeyCtrlS}); again != nil {
		t.Error("second submit should be ignored")
	}

	done, ok := cmd().(compareDoneMsg)
	if !ok {
		t.Fatalf("command returned %T, want compareDoneMsg", cmd())
	}
	if done.err != nil {
		t.Fatalf("compare error: %v", done.err)
	}

	m, _ = a.Update(done)
	a = m.(App)
	if a.comparing {
		t.Error("comparing should be cleared")
	}
	if len(sess.History()) != 1 {
		t.Fatalf("history length = %d, want 1", len(sess.History()))
	}
	view := a.View()
	if !strings.Contains(view, "answer from gpt-4") {
		t.Error("view missing result")
	}
	if !strings.Contains(view, "Results") {
		t.Error("view missing results panel")
	}
}

func TestApp_SubmitDisabledWithoutSelection(t *testing.T) {
	a, _ := newTestApp(t, "sk-x")
	a = press(t, a, runes("hi"), tea.KeyMsg{Type: tea.KeyShiftTab}, tea.KeyMsg{Type: tea.KeySpace})

	if _, cmd := a.Update(tea.KeyMsg{Type: tea.KeyCtrlS}); cmd != nil {
		t.Error("submit should be disabled with no model selected")
	}
}

func TestApp_ErrorBannerDismiss(t *testing.T) {
	a, sess := newTestApp(t, "")
	// Validation failure: no key, so Compare is allowed by CanSubmit but rejected.
	m, cmd := a.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	a = m.(App)
	if cmd == nil {
		t.Fatal("expected a compare command")
	}
	m, _ = a.Update(cmd())
	a = m.(App)

	if sess.Error() == "" {
		t.Fatal("expected an error banner")
	}
	if !strings.Contains(a.View(), "Please provide an API key and prompt") {
		t.Error("view missing error banner")
	}

	a = press(t, a, tea.KeyMsg{Type: tea.KeyEsc})
	if sess.Error() != "" {
		t.Error("esc should dismiss the banner")
	}
}

func TestApp_HistorySelectAndClear(t *testing.T) {
	a, sess := newTestApp(t, "sk-x")
	ctx := context.Background()

	sess.SetPrompt("first prompt")
	first, err := sess.Compare(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sess.SetPrompt("second prompt")
	if _, err := sess.Compare(ctx); err != nil {
		t.Fatal(err)
	}

	// prompt -> history
	a = press(t, a, tea.KeyMsg{Type: tea.KeyTab})
	if a.focus != focusHistory {
		t.Fatalf("focus = %d, want focusHistory", a.focus)
	}
	a = press(t, a, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyEnter})
	sel, ok := sess.Selected()
	if !ok || sel.ID != first.ID {
		t.Fatalf("selected = %+v, want first item", sel)
	}
	if !strings.Contains(a.View(), "first prompt") {
		t.Error("history panel missing first prompt")
	}

	_ = press(t, a, runes("D"))
	if len(sess.History()) != 0 {
		t.Error("D should clear history")
	}
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{strings.Repeat("a", 12), 10, strings.Repeat("a", 10) + "..."},
		{"héllo wörld", 5, "héllo..."},
	}
	for _, tt := range tests {
		if got := truncateText(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncateText(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
