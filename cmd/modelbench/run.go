package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/allaspectsdev/modelbench/internal/config"
	"github.com/allaspectsdev/modelbench/internal/daemon"
	"github.com/allaspectsdev/modelbench/internal/history"
	"github.com/allaspectsdev/modelbench/internal/session"
	"github.com/allaspectsdev/modelbench/internal/tui"
)

const estimateTimeout = 30 * time.Second

// openRuntime sets up logging and wires a Session from cfg.
func openRuntime(cfg *config.Config, console bool, onChange func()) (*daemon.Runtime, io.Closer) {
	logCloser, err := daemon.SetupLogger(cfg, console)
	if err != nil {
		fatalf("error: %v", err)
	}
	rt, err := daemon.Open(cfg, onChange)
	if err != nil {
		logCloser.Close()
		fatalf("error: %v", err)
	}
	return rt, logCloser
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func cmdTUI(args []string) {
	f := mustParseFlags(args)
	cfg := loadConfig(f.configPath)

	n := tui.NewNotifier()
	rt, logCloser := openRuntime(cfg, false, n.Notify)
	defer logCloser.Close()
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	p := tea.NewProgram(tui.New(ctx, rt.Session, n), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

// applySelection makes exactly ids selected.
func applySelection(sess *session.Session, ids []string) error {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	known := make(map[string]bool)
	for _, m := range sess.Models() {
		known[m.ID] = true
		if m.Selected != want[m.ID] {
			if err := sess.ToggleModel(m.ID); err != nil {
				return err
			}
		}
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("%w: %s", session.ErrUnknownModel, id)
		}
	}
	return nil
}

func cmdCompare(args []string) {
	f := mustParseFlags(args)
	cfg := loadConfig(f.configPath)

	prompt, err := promptText(f.args, os.Stdin)
	if err != nil {
		fatalf("%v", err)
	}

	rt, logCloser := openRuntime(cfg, f.foreground, nil)
	defer logCloser.Close()
	defer rt.Close()

	if len(f.models) > 0 {
		if err := applySelection(rt.Session, f.models); err != nil {
			fatalf("error: %v", err)
		}
	}
	rt.Session.SetPrompt(prompt)

	ctx, cancel := signalContext()
	defer cancel()

	traceShutdown, err := daemon.SetupTracing(ctx, cfg, os.Stderr)
	if err != nil {
		fatalf("error: %v", err)
	}
	defer traceShutdown(context.Background())

	item, err := rt.Session.Compare(ctx)
	if err != nil {
		fatalf("error: %v", err)
	}

	if f.asJSON {
		printJSON(item)
		return
	}
	printItem(os.Stdout, *item)
}

func cmdEstimate(args []string) {
	f := mustParseFlags(args)
	cfg := loadConfig(f.configPath)

	prompt, err := promptText(f.args, os.Stdin)
	if err != nil {
		fatalf("%v", err)
	}

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	rt, logCloser := openRuntime(cfg, false, notify)
	defer logCloser.Close()
	defer rt.Close()

	rt.Session.SetPrompt(prompt)

	deadline := time.After(estimateTimeout)
	for rt.Session.Estimate().Calculating {
		select {
		case <-changed:
		case <-deadline:
			fatalf("error: estimate did not finish within %s", estimateTimeout)
		}
	}

	st := rt.Session.Estimate()
	if f.asJSON {
		printJSON(st)
		return
	}

	fmt.Printf("%d prompt tokens\n\n", st.TokenCount)
	for _, m := range rt.Session.Models() {
		mark := " "
		if m.Selected {
			mark = "x"
		}
		fmt.Printf("  [%s] %-24s %s\n", mark, m.Name, st.Price(m.ID).String())
	}
}

func cmdHistory(args []string) {
	f := mustParseFlags(args)
	cfg := loadConfig(f.configPath)

	rt, logCloser := openRuntime(cfg, false, nil)
	defer logCloser.Close()
	defer rt.Close()
	sess := rt.Session

	sub := "list"
	if len(f.args) > 0 {
		sub = f.args[0]
	}

	switch sub {
	case "list":
		items := sess.History()
		if f.limit > 0 && len(items) > f.limit {
			items = items[:f.limit]
		}
		if f.asJSON {
			printJSON(items)
			return
		}
		if len(items) == 0 {
			fmt.Println("No history yet")
			return
		}
		for _, it := range items {
			fmt.Printf("%6d  %s  %s\n", it.ID, it.Timestamp.Local().Format("2006-01-02 15:04:05"), summarize(it.Prompt, 80))
		}

	case "show":
		if len(f.args) < 2 {
			fatalf("Usage: modelbench history show <id>")
		}
		id, err := strconv.ParseInt(f.args[1], 10, 64)
		if err != nil {
			fatalf("invalid id %q", f.args[1])
		}
		if err := sess.SelectHistory(id); err != nil {
			fatalf("error: %v", err)
		}
		item, _ := sess.Selected()
		if f.asJSON {
			printJSON(item)
			return
		}
		printItem(os.Stdout, item)

	case "clear":
		sess.ClearHistory()
		if msg := sess.Error(); msg != "" {
			fatalf("error: %s", msg)
		}
		fmt.Println("History cleared")

	default:
		fatalf("unknown history command: %s", sub)
	}
}

func printItem(w io.Writer, item history.Item) {
	fmt.Fprintf(w, "Prompt: %s\n", item.Prompt)
	for _, r := range item.Results {
		fmt.Fprintf(w, "\n== %s ==\n%s\n", r.DisplayName, r.Response)
		if !r.IsError {
			fmt.Fprintf(w, "(%d prompt + %d completion tokens, %s)\n",
				r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Cost.String())
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("error encoding output: %v", err)
	}
}

// summarize flattens s onto one line and cuts it to limit runes.
func summarize(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
