// Package history keeps the newest-first log of comparison runs.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/allaspectsdev/modelbench/internal/tokenizer"
)

// ErrNotFound is returned by Get for ids that are not (or no longer) in the log.
var ErrNotFound = errors.New("history: item not found")

// Usage is the token usage a provider reported for one response.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Result is one model's outcome within a run.
type Result struct {
	ModelID     string          `json:"modelId"`
	DisplayName string          `json:"model"`
	Response    string          `json:"response"`
	Usage       Usage           `json:"usage"`
	Cost        tokenizer.Price `json:"cost"`
	IsError     bool            `json:"isError"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Item is one comparison run. Items are not modified after creation.
type Item struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"runId,omitempty"`
	Prompt    string    `json:"prompt"`
	Results   []Result  `json:"results"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a concurrency-safe in-memory log. Items are kept oldest-first
// internally so Append stays amortized O(1).
type Store struct {
	mu     sync.RWMutex
	items  []Item
	lastID int64
	now    func() time.Time
}

// New returns a Store seeded with items, which may be in any order.
func New(items []Item) *Store {
	s := &Store{now: time.Now}
	s.items = append([]Item(nil), items...)
	sort.SliceStable(s.items, func(i, j int) bool { return s.items[i].ID < s.items[j].ID })
	if n := len(s.items); n > 0 {
		s.lastID = s.items[n-1].ID
	}
	return s
}

// NextID returns a millisecond timestamp strictly greater than every id
// issued or seeded so far.
func (s *Store) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// Append adds item as the newest entry.
func (s *Store) Append(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, item)
	if item.ID > s.lastID {
		s.lastID = item.ID
	}
}

// Clear removes every item. Ids keep increasing afterwards.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

// List returns a copy of the log, newest first.
func (s *Store) List() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, len(s.items))
	for i, it := range s.items {
		out[len(s.items)-1-i] = it
	}
	return out
}

// Get returns the item with the given id.
func (s *Store) Get(id int64) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, it := range s.items {
		if it.ID == id {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("%w: %d", ErrNotFound, id)
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Encode serializes the log newest first, the order it is persisted in.
func (s *Store) Encode() (string, error) {
	b, err := json.Marshal(s.List())
	if err != nil {
		return "", fmt.Errorf("history: encoding: %w", err)
	}
	return string(b), nil
}

// Decode parses a persisted log. An empty or "null" value yields no items.
func Decode(raw string) ([]Item, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("history: decoding: %w", err)
	}
	return items, nil
}
