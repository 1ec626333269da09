// Package provider sends single-turn chat-completion requests to an
// OpenAI-compatible endpoint and classifies every outcome.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/modelbench/internal/tracing"
)

// DefaultBaseURL is the OpenAI API base.
const DefaultBaseURL = "https://api.openai.com"

// DefaultTemperature is the sampling temperature sent with every request.
const DefaultTemperature = 0.7

// DefaultMaxResponseSize caps how much of a response body is read (10 MB).
const DefaultMaxResponseSize int64 = 10 << 20

// ErrCircuitOpen is returned (wrapped in a TransportError) while a model's
// breaker is open.
var ErrCircuitOpen = errors.New("circuit open: too many recent failures")

var errResponseTooLarge = errors.New("response body exceeds size limit")

// Completion is a successful chat-completion outcome.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	Temperature     float64
	MaxResponseSize int64
	Retry           RetryConfig
	// Breakers, if non-nil, gates requests per model.
	Breakers *Breakers
	// HTTPClient overrides the pooled default client; used by tests.
	HTTPClient *http.Client
}

// Client issues chat-completion requests. It is safe for concurrent use.
type Client struct {
	endpoint    string
	http        *http.Client
	temperature float64
	maxResponse int64
	retry       RetryConfig
	breakers    *Breakers
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a Client with connection pooling and the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxResponseSize <= 0 {
		opts.MaxResponseSize = DefaultMaxResponseSize
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}

	hc := opts.HTTPClient
	if hc == nil {
		transport := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		hc = &http.Client{Transport: transport, Timeout: opts.Timeout}
	}

	return &Client{
		endpoint:    completionsURL(opts.BaseURL),
		http:        hc,
		temperature: opts.Temperature,
		maxResponse: opts.MaxResponseSize,
		retry:       opts.Retry,
		breakers:    opts.Breakers,
	}
}

// completionsURL normalises a base URL into the chat-completions endpoint.
func completionsURL(base string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasSuffix(base, "/chat/completions"):
		return base
	case strings.HasSuffix(base, "/v1"):
		return base + "/chat/completions"
	default:
		return base + "/v1/chat/completions"
	}
}

// Complete sends prompt to model as a single user message. Failures are
// returned as *TransportError or *ProviderError.
func (c *Client) Complete(ctx context.Context, apiKey, model, prompt string) (*Completion, error) {
	var br *Breaker
	if c.breakers != nil {
		br = c.breakers.Get(model)
		if !br.Allow() {
			return nil, &TransportError{Model: model, Err: ErrCircuitOpen}
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, &TransportError{Model: model, Err: fmt.Errorf("encoding request: %w", err)}
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, c.retry.BaseDelay, c.retry.MaxDelay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, &TransportError{Model: model, Err: err}
			}
		}

		comp, out := c.attempt(ctx, apiKey, model, body, attempt+1)
		if out.err == nil {
			if br != nil {
				br.RecordSuccess()
			}
			return comp, nil
		}
		lastErr = out.err

		if br != nil {
			if out.countsAsFailure {
				br.RecordFailure()
			} else {
				br.RecordSuccess()
			}
		}
		if !out.retry || attempt+1 == c.retry.MaxAttempts {
			return nil, out.err
		}

		log.Warn().Err(out.err).Str("model", model).Int("attempt", attempt+1).Msg("completion request failed, retrying")
		if out.retryAfter > 0 {
			if err := sleepWithContext(ctx, out.retryAfter); err != nil {
				return nil, &TransportError{Model: model, Err: err}
			}
		}
	}
	return nil, lastErr
}

type outcome struct {
	err             error
	retry           bool
	retryAfter      time.Duration
	countsAsFailure bool
}

// attempt wraps one HTTP round trip in a client span.
func (c *Client) attempt(ctx context.Context, apiKey, model string, body []byte, n int) (*Completion, outcome) {
	ctx, span := tracing.StartProviderSpan(ctx, c.endpoint, model, n)
	defer span.End()
	comp, out := c.do(ctx, apiKey, model, body)
	tracing.RecordError(ctx, out.err)
	return comp, out
}

func (c *Client) do(ctx context.Context, apiKey, model string, body []byte) (*Completion, outcome) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, outcome{err: &TransportError{Model: model, Err: fmt.Errorf("creating request: %w", err)}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	tracing.InjectHeaders(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, outcome{
			err:             &TransportError{Model: model, Err: err},
			retry:           ctx.Err() == nil,
			countsAsFailure: ctx.Err() == nil,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse+1))
	if err != nil {
		return nil, outcome{
			err:             &TransportError{Model: model, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)},
			retry:           ctx.Err() == nil,
			countsAsFailure: true,
		}
	}
	if int64(len(data)) > c.maxResponse {
		return nil, outcome{err: &TransportError{Model: model, Err: errResponseTooLarge}, countsAsFailure: true}
	}

	var cr chatResponse
	decodeErr := json.Unmarshal(data, &cr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		te := &TransportError{Model: model, StatusCode: resp.StatusCode}
		if decodeErr == nil && cr.Error != nil {
			te.Message = cr.Error.Message
		}
		transient := isRetryableStatus(resp.StatusCode)
		return nil, outcome{
			err:             te,
			retry:           transient,
			retryAfter:      retryAfterDuration(resp.Header),
			countsAsFailure: transient || resp.StatusCode >= 500,
		}
	}

	if decodeErr != nil {
		return nil, outcome{
			err:             &TransportError{Model: model, Err: fmt.Errorf("malformed response body: %w", decodeErr)},
			countsAsFailure: true,
		}
	}
	if cr.Error != nil {
		return nil, outcome{err: &ProviderError{Model: model, Message: cr.Error.Message}}
	}

	comp := &Completion{}
	if len(cr.Choices) > 0 {
		comp.Content = cr.Choices[0].Message.Content
	}
	if cr.Usage != nil {
		comp.PromptTokens = cr.Usage.PromptTokens
		comp.CompletionTokens = cr.Usage.CompletionTokens
	}
	return comp, outcome{}
}
