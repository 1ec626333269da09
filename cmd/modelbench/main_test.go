package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/modelbench/internal/catalog"
	"github.com/allaspectsdev/modelbench/internal/estimate"
	"github.com/allaspectsdev/modelbench/internal/history"
	"github.com/allaspectsdev/modelbench/internal/provider"
	"github.com/allaspectsdev/modelbench/internal/session"
	"github.com/allaspectsdev/modelbench/internal/tokenizer"
)

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"--config", "x.toml", "-f", "--models=gpt-4, gpt-4o", "--json", "--limit", "3", "hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, "x.toml", f.configPath)
	assert.True(t, f.foreground)
	assert.True(t, f.asJSON)
	assert.Equal(t, []string{"gpt-4", "gpt-4o"}, f.models)
	assert.Equal(t, 3, f.limit)
	assert.Equal(t, []string{"hello", "world"}, f.args)

	f, err = parseFlags([]string{"--", "--json", "literal"})
	require.NoError(t, err)
	assert.False(t, f.asJSON)
	assert.Equal(t, []string{"--json", "literal"}, f.args)

	_, err = parseFlags([]string{"--config"})
	assert.Error(t, err)
	_, err = parseFlags([]string{"--limit=-1"})
	assert.Error(t, err)
	_, err = parseFlags([]string{"--limit", "5x"})
	assert.Error(t, err)
}

func TestPromptText(t *testing.T) {
	got, err := promptText([]string{"a", "b"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "a b", got)

	got, err = promptText(nil, strings.NewReader("from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "one two", summarize("one\n  two", 80))
	assert.Equal(t, "abc...", summarize("abcdef", 3))
}

func TestPrintItem(t *testing.T) {
	var b strings.Builder
	printItem(&b, history.Item{
		Prompt: "hi",
		Results: []history.Result{
			{DisplayName: "GPT-4", Response: "hello", Usage: history.Usage{PromptTokens: 1, CompletionTokens: 2}, Cost: tokenizer.Unavailable()},
			{DisplayName: "Broken", Response: "Error: boom", IsError: true},
		},
	})
	out := b.String()
	assert.Contains(t, out, "Prompt: hi")
	assert.Contains(t, out, "== GPT-4 ==\nhello\n(1 prompt + 2 completion tokens, N/A)")
	assert.Contains(t, out, "== Broken ==\nError: boom\n")
	assert.NotContains(t, out, "0 prompt + 0")
}

type nopCounter struct{}

func (nopCounter) CountTokens(context.Context, string, string) (int, error) { return 0, nil }

type nopClient struct{}

func (nopClient) Complete(context.Context, string, string, string) (*provider.Completion, error) {
	return &provider.Completion{}, nil
}

func TestApplySelection(t *testing.T) {
	sess, err := session.Open(session.Deps{
		Models: []catalog.Model{
			{ID: "a", Name: "A", Selected: true},
			{ID: "b", Name: "B"},
			{ID: "c", Name: "C"},
		},
		Counter:  nopCounter{},
		Pricer:   tokenizer.NewCalculator(nil),
		Client:   nopClient{},
		Estimate: estimate.Options{Delay: time.Millisecond},
	})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, applySelection(sess, []string{"b", "c"}))
	var selected []string
	for _, m := range catalog.Selected(sess.Models()) {
		selected = append(selected, m.ID)
	}
	assert.Equal(t, []string{"b", "c"}, selected)

	err = applySelection(sess, []string{"zzz"})
	assert.True(t, errors.Is(err, session.ErrUnknownModel))
}
