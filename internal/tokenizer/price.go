package tokenizer

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// TokenClass distinguishes prompt tokens from completion tokens.
type TokenClass int

const (
	Prompt TokenClass = iota
	Completion
)

func (c TokenClass) String() string {
	if c == Completion {
		return "completion_token"
	}
	return "prompt_token"
}

// Price is a USD amount that may be unavailable, e.g. for an unpriced model.
type Price struct {
	Amount    decimal.Decimal
	Available bool
}

// Available wraps amount in an available Price.
func Available(amount decimal.Decimal) Price {
	return Price{Amount: amount, Available: true}
}

// Unavailable returns the "no pricing" Price.
func Unavailable() Price {
	return Price{}
}

// Add sums two prices. The result is unavailable if either side is.
func (p Price) Add(o Price) Price {
	if !p.Available || !o.Available {
		return Unavailable()
	}
	return Available(p.Amount.Add(o.Amount))
}

// String renders the price with six decimals, or "N/A".
func (p Price) String() string {
	if !p.Available {
		return "N/A"
	}
	return "$" + p.Amount.StringFixed(6)
}

// MarshalJSON encodes an available price as a decimal string and an
// unavailable one as null.
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Available {
		return []byte("null"), nil
	}
	return json.Marshal(p.Amount.String())
}

func (p *Price) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Unavailable()
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*p = Available(d)
	return nil
}
