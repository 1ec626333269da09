package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ChatCompletionJSON returns an OpenAI chat-completion response body.
func ChatCompletionJSON(model, content string, promptTokens, completionTokens int) []byte {
	resp := map[string]any{
		"id":      "chatcmpl-test123",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   model,
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
	data, _ := json.Marshal(resp)
	return data
}

// ErrorJSON returns an OpenAI error body.
func ErrorJSON(message string) []byte {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]any{"message": message, "type": "invalid_request_error"},
	})
	return data
}

// Reply is a canned response for one model.
type Reply struct {
	Status           int
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// ChatRequest is what the fake provider saw.
type ChatRequest struct {
	Model         string
	Prompt        string
	Authorization string
}

// FakeProvider is an httptest server speaking the chat-completions API.
// Models without a configured Reply echo the prompt back.
type FakeProvider struct {
	*httptest.Server

	mu       sync.Mutex
	replies  map[string]Reply
	requests []ChatRequest
}

// NewFakeProvider starts a FakeProvider that is closed with the test.
func NewFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()
	fp := &FakeProvider{replies: make(map[string]Reply)}
	fp.Server = httptest.NewServer(http.HandlerFunc(fp.serve))
	t.Cleanup(fp.Close)
	return fp
}

// SetReply configures the response for model.
func (fp *FakeProvider) SetReply(model string, r Reply) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.replies[model] = r
}

// Requests returns the requests received so far.
func (fp *FakeProvider) Requests() []ChatRequest {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]ChatRequest(nil), fp.requests...)
}

func (fp *FakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write(ErrorJSON(err.Error()))
		return
	}
	var prompt string
	if len(body.Messages) > 0 {
		prompt = body.Messages[len(body.Messages)-1].Content
	}

	fp.mu.Lock()
	fp.requests = append(fp.requests, ChatRequest{
		Model:         body.Model,
		Prompt:        prompt,
		Authorization: r.Header.Get("Authorization"),
	})
	reply, ok := fp.replies[body.Model]
	fp.mu.Unlock()

	if !ok {
		reply = Reply{Content: body.Model + ": " + prompt, PromptTokens: 10, CompletionTokens: 20}
	}

	w.Header().Set("Content-Type", "application/json")
	if reply.Status >= 400 {
		w.WriteHeader(reply.Status)
		w.Write(ErrorJSON(reply.Content))
		return
	}
	w.Write(ChatCompletionJSON(body.Model, reply.Content, reply.PromptTokens, reply.CompletionTokens))
}
