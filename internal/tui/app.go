// Package tui provides the interactive Bubble Tea front end for modelbench.
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelbench/internal/history"
	"github.com/allaspectsdev/modelbench/internal/session"
)

// sessionChangedMsg is sent whenever the Session reports a change, for
// example a finished estimate.
type sessionChangedMsg struct{}

// compareDoneMsg is sent when a comparison started from the TUI returns.
type compareDoneMsg struct {
	item *history.Item
	err  error
}

// Notifier forwards Session changes into the Bubble Tea loop. Pass Notify
// as session.Deps.OnChange before handing the Notifier to New.
type Notifier struct {
	sub chan tea.Msg
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{sub: make(chan tea.Msg, 1)}
}

// Notify never blocks. Bursts of changes collapse into one message since
// the view always re-reads the Session.
func (n *Notifier) Notify() {
	select {
	case n.sub <- sessionChangedMsg{}:
	default:
	}
}

// waitForChange blocks until the next change arrives from the Session.
func waitForChange(sub chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

type focusArea int

const (
	focusKey focusArea = iota
	focusModels
	focusPrompt
	focusHistory
	focusResults
	focusCount
)

const (
	minWidth       = 60
	sidebarWidth   = 34
	promptHeight   = 6
	maxPromptChars = 32000
)

// App is the root Bubble Tea model.
type App struct {
	sess *session.Session
	sub  chan tea.Msg
	ctx  context.Context

	width  int
	height int
	ready  bool
	focus  focusArea

	keyIn    textinput.Model
	prompt   textarea.Model
	spinner  spinner.Model
	results  viewport.Model
	st       styles
	showHelp bool

	modelCursor   int
	historyCursor int
	comparing     bool
}

// New creates the root model. ctx bounds comparisons started from the TUI.
func New(ctx context.Context, sess *session.Session, n *Notifier) App {
	ki := textinput.New()
	ki.Placeholder = "sk-..."
	ki.CharLimit = 256
	ki.Width = 40
	ki.EchoMode = textinput.EchoPassword
	ki.EchoCharacter = '*'
	ki.SetValue(sess.APIKey())

	ta := textarea.New()
	ta.Placeholder = "Enter your prompt here..."
	ta.CharLimit = maxPromptChars
	ta.ShowLineNumbers = false
	ta.SetHeight(promptHeight)
	ta.SetValue(sess.Prompt())

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(activeTheme.Accent)

	a := App{
		sess:    sess,
		sub:     n.sub,
		ctx:     ctx,
		keyIn:   ki,
		prompt:  ta,
		spinner: sp,
		results: viewport.New(80, 10),
		st:      newStyles(activeTheme),
	}
	if sess.APIKey() == "" {
		a.focus = focusKey
		a.keyIn.Focus()
	} else {
		a.focus = focusPrompt
		a.prompt.Focus()
	}
	a.refreshResults()
	return a
}

// Init starts the spinner and the change subscription.
func (a App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, waitForChange(a.sub), textinput.Blink)
}

// Update handles one message.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		a.layout()
		return a, nil

	case sessionChangedMsg:
		a.refreshResults()
		a.clampCursors()
		return a, waitForChange(a.sub)

	case compareDoneMsg:
		a.comparing = false
		if msg.err != nil {
			log.Debug().Err(msg.err).Msg("comparison did not run")
		}
		a.historyCursor = 0
		a.refreshResults()
		a.results.GotoTop()
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a.forward(msg)
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case "ctrl+c":
		return a, tea.Quit
	case "tab":
		return a.setFocus((a.focus + 1) % focusCount)
	case "shift+tab":
		return a.setFocus((a.focus + focusCount - 1) % focusCount)
	case "ctrl+s":
		return a.submit()
	case "esc":
		if a.showHelp {
			a.showHelp = false
			return a, nil
		}
		if a.sess.Error() != "" {
			a.sess.DismissError()
		}
		return a, nil
	case "f1":
		a.showHelp = !a.showHelp
		return a, nil
	}

	switch a.focus {
	case focusKey:
		if key == "enter" {
			a.commitKey()
			return a.setFocus(focusModels)
		}
	case focusModels:
		return a.handleModelsKey(key)
	case focusHistory:
		return a.handleHistoryKey(key)
	case focusResults:
		var cmd tea.Cmd
		a.results, cmd = a.results.Update(msg)
		return a, cmd
	}

	return a.forward(msg)
}

// forward passes msg to the focused text component.
func (a App) forward(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch a.focus {
	case focusKey:
		a.keyIn, cmd = a.keyIn.Update(msg)
	case focusPrompt:
		before := a.prompt.Value()
		a.prompt, cmd = a.prompt.Update(msg)
		if after := a.prompt.Value(); after != before {
			a.sess.SetPrompt(after)
		}
	}
	return a, cmd
}

func (a App) handleModelsKey(key string) (tea.Model, tea.Cmd) {
	models := a.sess.Models()
	switch key {
	case "up", "k":
		if a.modelCursor > 0 {
			a.modelCursor--
		}
	case "down", "j":
		if a.modelCursor < len(models)-1 {
			a.modelCursor++
		}
	case " ", "enter", "x":
		if a.modelCursor < len(models) {
			if err := a.sess.ToggleModel(models[a.modelCursor].ID); err != nil {
				log.Warn().Err(err).Msg("toggle failed")
			}
		}
	}
	return a, nil
}

func (a App) handleHistoryKey(key string) (tea.Model, tea.Cmd) {
	items := a.sess.History()
	switch key {
	case "up", "k":
		if a.historyCursor > 0 {
			a.historyCursor--
		}
	case "down", "j":
		if a.historyCursor < len(items)-1 {
			a.historyCursor++
		}
	case "enter":
		if a.historyCursor < len(items) {
			if err := a.sess.SelectHistory(items[a.historyCursor].ID); err != nil {
				log.Warn().Err(err).Msg("select history failed")
			}
			a.refreshResults()
			a.results.GotoTop()
		}
	case "D":
		if len(items) > 0 {
			a.sess.ClearHistory()
			a.historyCursor = 0
			a.refreshResults()
		}
	}
	return a, nil
}

// submit starts a comparison unless the Session says it cannot run.
func (a App) submit() (tea.Model, tea.Cmd) {
	a.commitKey()
	if a.comparing || !a.sess.CanSubmit() {
		return a, nil
	}
	a.comparing = true
	return a, compareCmd(a.ctx, a.sess)
}

func compareCmd(ctx context.Context, sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		item, err := sess.Compare(ctx)
		return compareDoneMsg{item: item, err: err}
	}
}

func (a *App) commitKey() {
	if v := a.keyIn.Value(); v != a.sess.APIKey() {
		a.sess.SetAPIKey(v)
	}
}

func (a App) setFocus(f focusArea) (tea.Model, tea.Cmd) {
	if a.focus == focusKey && f != focusKey {
		a.commitKey()
	}
	a.focus = f
	a.keyIn.Blur()
	a.prompt.Blur()

	var cmd tea.Cmd
	switch f {
	case focusKey:
		cmd = a.keyIn.Focus()
	case focusPrompt:
		cmd = a.prompt.Focus()
	}
	return a, cmd
}

func (a *App) clampCursors() {
	if n := len(a.sess.Models()); a.modelCursor >= n {
		a.modelCursor = max(n-1, 0)
	}
	if n := len(a.sess.History()); a.historyCursor >= n {
		a.historyCursor = max(n-1, 0)
	}
}

// layout sizes components for the current window.
func (a *App) layout() {
	main := a.mainWidth()
	a.keyIn.Width = max(main-6, 10)
	a.prompt.SetWidth(max(main-4, 10))
	a.results.Width = max(main-4, 10)
	a.results.Height = max(a.height/3, 5)
	a.refreshResults()
}

func (a App) mainWidth() int {
	w := a.width - sidebarWidth - 2
	if w < minWidth {
		w = minWidth
	}
	return w
}

func (a *App) refreshResults() {
	a.results.SetContent(a.renderResults())
}
