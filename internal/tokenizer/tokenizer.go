package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	tiktoken "github.com/pkoukk/tiktoken-go"
)

// ErrUnknownModel is returned (wrapped in a TokenizationError) when no
// encoding is known for the requested model family.
var ErrUnknownModel = errors.New("no encoding known for model")

// TokenizationError reports a failure to count tokens for a model family.
type TokenizationError struct {
	Family string
	Err    error
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("tokenizer: counting tokens for %q: %v", e.Family, e.Err)
}

func (e *TokenizationError) Unwrap() error {
	return e.Err
}

// Codec encodes text into token ids. *tiktoken.Tiktoken satisfies it.
type Codec interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// CodecLoader loads the codec for a named encoding such as "cl100k_base".
type CodecLoader func(encoding string) (Codec, error)

// DefaultMaxConcurrent bounds how many encodes run at once.
const DefaultMaxConcurrent = 4

const memoSize = 256

type memoKey struct {
	encoding string
	text     string
}

// Tokenizer provides token counting using tiktoken encodings.
// Codecs are loaded lazily, once per encoding, and shared.
type Tokenizer struct {
	load CodecLoader

	mu     sync.Mutex
	codecs map[string]Codec

	// slots is the encoder lease: one token per concurrent encode.
	slots chan struct{}
	memo  *lru.Cache[memoKey, int]
}

// modelEncodings maps model names (or name prefixes) to their tiktoken encoding.
var modelEncodings = map[string]string{
	// o200k_base
	"gpt-4o":            "o200k_base",
	"gpt-4o-mini":       "o200k_base",
	"chatgpt-4o-latest": "o200k_base",
	"o1":                "o200k_base",

	// cl100k_base
	"gpt-4":                  "cl100k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-3-large": "cl100k_base",

	// Claude models have no public tokenizer; cl100k_base is a close proxy.
	"claude-": "cl100k_base",
}

// New creates a Tokenizer backed by tiktoken-go.
func New() *Tokenizer {
	return NewWithLoader(tiktokenLoader, DefaultMaxConcurrent)
}

// NewBounded creates a tiktoken-backed Tokenizer running at most
// maxConcurrent encodes at once.
func NewBounded(maxConcurrent int) *Tokenizer {
	return NewWithLoader(tiktokenLoader, maxConcurrent)
}

// NewWithLoader creates a Tokenizer that loads codecs through load.
func NewWithLoader(load CodecLoader, maxConcurrent int) *Tokenizer {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	memo, err := lru.New[memoKey, int](memoSize)
	if err != nil {
		// Only fails for a non-positive size.
		panic(err)
	}
	return &Tokenizer{
		load:   load,
		codecs: make(map[string]Codec),
		slots:  make(chan struct{}, maxConcurrent),
		memo:   memo,
	}
}

func tiktokenLoader(encoding string) (Codec, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// GetEncoding returns the encoding name for the given model.
func (t *Tokenizer) GetEncoding(model string) (string, error) {
	return EncodingFor(model)
}

// EncodingFor resolves a model name to its encoding. It tries an exact match
// first, then the longest known prefix, so versioned names such as
// "gpt-4o-2024-05-13" resolve to their base model.
func EncodingFor(model string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(model))
	if enc, ok := modelEncodings[lower]; ok {
		return enc, nil
	}

	best := ""
	for m := range modelEncodings {
		if strings.HasPrefix(lower, m) && len(m) > len(best) {
			best = m
		}
	}
	if best == "" {
		return "", ErrUnknownModel
	}
	return modelEncodings[best], nil
}

// codec returns the cached codec for encoding, loading it on first use.
// Load failures are not cached so a later call may succeed.
func (t *Tokenizer) codec(encoding string) (Codec, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.codecs[encoding]; ok {
		return c, nil
	}
	c, err := t.load(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", encoding, err)
	}
	t.codecs[encoding] = c
	return c, nil
}

// CountTokens counts the tokens in text using the encoding of the given
// model family. Empty text is 0 without touching any codec.
func (t *Tokenizer) CountTokens(ctx context.Context, text, family string) (int, error) {
	if text == "" {
		return 0, nil
	}

	encoding, err := t.GetEncoding(family)
	if err != nil {
		return 0, &TokenizationError{Family: family, Err: err}
	}

	key := memoKey{encoding: encoding, text: text}
	if n, ok := t.memo.Get(key); ok {
		return n, nil
	}

	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return 0, &TokenizationError{Family: family, Err: ctx.Err()}
	}
	defer func() { <-t.slots }()

	if err := ctx.Err(); err != nil {
		return 0, &TokenizationError{Family: family, Err: err}
	}

	c, err := t.codec(encoding)
	if err != nil {
		return 0, &TokenizationError{Family: family, Err: err}
	}

	// Special-token text such as "<|endoftext|>" is counted, not rejected.
	n := len(c.Encode(text, []string{"all"}, nil))
	t.memo.Add(key, n)
	return n, nil
}
