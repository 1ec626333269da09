package tokenizer

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ModelPricing holds the per-million-token costs for a model.
type ModelPricing struct {
	PromptPerMillion     decimal.Decimal
	CompletionPerMillion decimal.Decimal
}

var million = decimal.NewFromInt(1_000_000)

// Rate returns the per-token rate for the given token class.
func (p ModelPricing) Rate(class TokenClass) decimal.Decimal {
	if class == Completion {
		return p.CompletionPerMillion.Div(million)
	}
	return p.PromptPerMillion.Div(million)
}

func perMillion(prompt, completion string) ModelPricing {
	return ModelPricing{
		PromptPerMillion:     decimal.RequireFromString(prompt),
		CompletionPerMillion: decimal.RequireFromString(completion),
	}
}

// DefaultPricing maps model identifiers to their token pricing in USD.
var DefaultPricing = map[string]ModelPricing{
	"gpt-4o":              perMillion("2.50", "10.00"),
	"gpt-4o-2024-05-13":   perMillion("5.00", "15.00"),
	"chatgpt-4o-latest":   perMillion("5.00", "15.00"),
	"gpt-4o-mini":         perMillion("0.15", "0.60"),
	"gpt-4-turbo":         perMillion("10.00", "30.00"),
	"gpt-4-turbo-preview": perMillion("10.00", "30.00"),
	"gpt-4":               perMillion("30.00", "60.00"),
	"gpt-3.5-turbo":       perMillion("0.50", "1.50"),
	"gpt-3.5-turbo-16k":   perMillion("3.00", "4.00"),
}

// Table is an immutable model → pricing lookup.
type Table struct {
	entries map[string]ModelPricing
}

// NewTable builds a Table from DefaultPricing with overrides applied on top.
func NewTable(overrides map[string]ModelPricing) *Table {
	entries := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		entries[k] = v
	}
	for k, v := range overrides {
		entries[strings.ToLower(k)] = v
	}
	return &Table{entries: entries}
}

// Lookup returns the pricing for the given model by exact, case-insensitive
// id. Dated snapshots and other variants need their own entry or a
// configured override; the second return value is false when none exists.
func (t *Table) Lookup(model string) (ModelPricing, bool) {
	p, ok := t.entries[strings.ToLower(model)]
	return p, ok
}

// Calculator turns token counts into prices using a Table.
type Calculator struct {
	table *Table
}

// NewCalculator creates a Calculator. A nil table uses DefaultPricing.
func NewCalculator(table *Table) *Calculator {
	if table == nil {
		table = NewTable(nil)
	}
	return &Calculator{table: table}
}

// Price returns tokens * rate[class] for model, or an unavailable Price when
// the model has no pricing entry. Negative counts are treated as zero.
func (c *Calculator) Price(tokens int, class TokenClass, model string) Price {
	p, ok := c.table.Lookup(model)
	if !ok {
		return Unavailable()
	}
	if tokens < 0 {
		tokens = 0
	}
	return Available(decimal.NewFromInt(int64(tokens)).Mul(p.Rate(class)))
}

// RunCost is the total cost of a completed request given its reported usage.
func (c *Calculator) RunCost(model string, promptTokens, completionTokens int) Price {
	return c.Price(promptTokens, Prompt, model).Add(c.Price(completionTokens, Completion, model))
}
