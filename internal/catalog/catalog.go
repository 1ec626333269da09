// Package catalog holds the static set of comparable models and their
// user-toggled selection.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Model describes one comparable model. ID is the key used for pricing
// lookups and provider dispatch.
type Model struct {
	ID       string `json:"id"       mapstructure:"id"       toml:"id"`
	Name     string `json:"name"     mapstructure:"name"     toml:"name"`
	Selected bool   `json:"selected" mapstructure:"selected" toml:"selected"`
}

// Default is the built-in model catalog.
var Default = []Model{
	{ID: "gpt-4o", Name: "GPT 4o"},
	{ID: "gpt-4o-2024-05-13", Name: "GPT 4o 2024-05-13"},
	{ID: "chatgpt-4o-latest", Name: "chatgpt-4o-latest"},
	{ID: "gpt-4o-mini", Name: "GPT 4o mini"},
	{ID: "gpt-4-turbo-preview", Name: "GPT-4 Turbo"},
	{ID: "gpt-4", Name: "GPT-4"},
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Selected: true},
	{ID: "gpt-3.5-turbo-16k", Name: "GPT-3.5 Turbo 16K"},
}

// Validate checks that every model has a non-empty, unique ID.
func Validate(models []Model) error {
	if len(models) == 0 {
		return fmt.Errorf("catalog: no models defined")
	}
	seen := make(map[string]bool, len(models))
	for i, m := range models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return fmt.Errorf("catalog: model %d has an empty id", i)
		}
		if seen[id] {
			return fmt.Errorf("catalog: duplicate model id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// Clone returns an independent copy of models.
func Clone(models []Model) []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// Toggle returns a copy of models with the selection of id flipped.
// The second return value is false if id is not in the list.
func Toggle(models []Model, id string) ([]Model, bool) {
	out := Clone(models)
	for i := range out {
		if out[i].ID == id {
			out[i].Selected = !out[i].Selected
			return out, true
		}
	}
	return out, false
}

// Selected returns the selected models in catalog order.
func Selected(models []Model) []Model {
	var out []Model
	for _, m := range models {
		if m.Selected {
			out = append(out, m)
		}
	}
	return out
}

// AnySelected reports whether at least one model is selected.
func AnySelected(models []Model) bool {
	for _, m := range models {
		if m.Selected {
			return true
		}
	}
	return false
}

// Selections is the persisted form of a selection: model id → selected.
type Selections map[string]bool

// SelectionsOf captures the selection state of models.
func SelectionsOf(models []Model) Selections {
	s := make(Selections, len(models))
	for _, m := range models {
		s[m.ID] = m.Selected
	}
	return s
}

// Apply returns a copy of models with saved selections applied. Models
// missing from s keep their default; ids in s that are not in the catalog
// are ignored.
func (s Selections) Apply(models []Model) []Model {
	out := Clone(models)
	for i := range out {
		if sel, ok := s[out[i].ID]; ok {
			out[i].Selected = sel
		}
	}
	return out
}

// Encode serialises the selections as JSON.
func (s Selections) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("catalog: encode selections: %w", err)
	}
	return string(data), nil
}

// DecodeSelections parses selections previously produced by Encode.
func DecodeSelections(raw string) (Selections, error) {
	var s Selections
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("catalog: decode selections: %w", err)
	}
	if s == nil {
		s = Selections{}
	}
	return s, nil
}
