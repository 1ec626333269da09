package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/allaspectsdev/modelbench/internal/history"
)

const historyPromptLimit = 100

// View renders the whole screen.
func (a App) View() string {
	if !a.ready {
		return "\n  Loading..."
	}
	if a.showHelp {
		return a.viewHelp()
	}

	sidebar := a.viewHistory()
	main := a.viewMain()
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", main)
	return lipgloss.JoinVertical(lipgloss.Left, body, a.viewStatusBar())
}

func (a App) panelStyle(f focusArea) lipgloss.Style {
	if a.focus == f {
		return a.st.focused
	}
	return a.st.panel
}

func (a App) viewMain() string {
	w := a.mainWidth()
	var sections []string

	if msg := a.sess.Error(); msg != "" {
		sections = append(sections, a.st.banner.Width(w).Render("✕ "+msg+"  (esc to dismiss)"))
	}

	sections = append(sections, a.st.title.Render("OpenAI Model Comparer"))

	keyBox := a.st.label.Render("OpenAI API Key") + "\n" + a.keyIn.View()
	sections = append(sections, a.panelStyle(focusKey).Width(w-2).Render(keyBox))

	sections = append(sections, a.panelStyle(focusModels).Width(w-2).Render(a.viewModels()))

	promptBox := a.st.label.Render("Prompt") + "\n" + a.prompt.View()
	sections = append(sections, a.panelStyle(focusPrompt).Width(w-2).Render(promptBox))

	sections = append(sections, a.viewButton())

	if len(a.sess.Results()) > 0 {
		resBox := a.st.label.Render("Results") + "\n" + a.results.View()
		sections = append(sections, a.panelStyle(focusResults).Width(w-2).Render(resBox))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a App) viewModels() string {
	est := a.sess.Estimate()
	models := a.sess.Models()

	var b strings.Builder
	b.WriteString(a.st.label.Render("Select Models to Compare"))
	b.WriteString("  ")
	b.WriteString(a.st.muted.Render(fmt.Sprintf("%d prompt tokens", est.TokenCount)))
	b.WriteString("\n")

	for i, m := range models {
		pointer := "  "
		if a.focus == focusModels && i == a.modelCursor {
			pointer = a.st.cursor.Render("> ")
		}
		check := "[ ]"
		if m.Selected {
			check = "[x]"
		}
		var price string
		if est.Calculating {
			price = a.spinner.View()
		} else {
			price = a.st.price.Render("(" + est.Price(m.ID).String() + ")")
		}
		fmt.Fprintf(&b, "%s%s %s  %s\n", pointer, check, m.Name, price)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a App) viewButton() string {
	label := "Compare Models"
	if a.comparing || a.sess.Loading() {
		label = a.spinner.View() + " Comparing..."
	}
	if a.comparing || !a.sess.CanSubmit() {
		return a.st.buttonOff.Render(label)
	}
	return a.st.button.Render(label) + a.st.dim.Render("  ctrl+s")
}

// renderResults lays out the results on display for the viewport.
func (a App) renderResults() string {
	results := a.sess.Results()
	width := max(a.results.Width-2, 20)

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(a.st.label.Render(r.DisplayName))
		b.WriteString("\n")

		body := lipgloss.NewStyle().Width(width)
		if r.IsError {
			body = body.Foreground(activeTheme.Red)
		}
		b.WriteString(body.Render(r.Response))
		b.WriteString("\n")
		if !r.IsError {
			b.WriteString(a.st.muted.Render(usageLine(r)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func usageLine(r history.Result) string {
	return fmt.Sprintf("%d prompt + %d completion tokens · %s",
		r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Cost.String())
}

func (a App) viewHistory() string {
	items := a.sess.History()
	selected, hasSel := a.sess.Selected()
	inner := sidebarWidth - 4

	var b strings.Builder
	header := a.st.label.Render("History")
	if len(items) > 0 {
		header += "  " + a.st.errorText.Render("Clear (D)")
	}
	b.WriteString(header)
	b.WriteString("\n")

	maxRows := max((a.height-4)/3, 1)
	for i, it := range items {
		if i >= maxRows {
			b.WriteString(a.st.dim.Render(fmt.Sprintf("… %d more", len(items)-i)))
			break
		}
		line := truncateText(oneLine(it.Prompt), historyPromptLimit)
		line = truncateText(line, inner)
		stamp := it.Timestamp.Local().Format("2006-01-02 15:04:05")

		row := line + "\n" + a.st.muted.Render(stamp)
		switch {
		case a.focus == focusHistory && i == a.historyCursor:
			row = a.st.cursor.Render("> ") + row
		case hasSel && it.ID == selected.ID:
			row = a.st.selected.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}

	h := max(a.height-3, 5)
	return a.panelStyle(focusHistory).Width(sidebarWidth).Height(h).Render(strings.TrimRight(b.String(), "\n"))
}

func (a App) viewStatusBar() string {
	hints := "tab focus · space toggle · ctrl+s compare · enter select · D clear history · f1 help · ctrl+c quit"
	return a.st.dim.Render(hints)
}

func (a App) viewHelp() string {
	rows := [][2]string{
		{"tab / shift+tab", "move between panels"},
		{"enter (key)", "save API key"},
		{"space / enter (models)", "toggle model"},
		{"ctrl+s", "compare selected models"},
		{"enter (history)", "show a past comparison"},
		{"D (history)", "clear all history"},
		{"↑/↓ (results)", "scroll results"},
		{"esc", "dismiss error"},
		{"ctrl+c", "quit"},
	}
	var b strings.Builder
	b.WriteString(a.st.title.Render("Keys"))
	b.WriteString("\n\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-24s %s\n", r[0], a.st.muted.Render(r[1]))
	}
	b.WriteString("\n")
	b.WriteString(a.st.dim.Render("Your API key is sent only to the provider and stored in the OS keychain."))
	return a.st.panel.Render(b.String())
}

// truncateText cuts text to limit runes and appends "..." when it was longer.
func truncateText(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
