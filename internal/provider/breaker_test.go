package provider

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestBreaker_ClosedToOpen(t *testing.T) {
	b := NewBreaker(3, time.Second, 1)

	if b.State() != BreakerClosed {
		t.Fatalf("initial state: got %s, want closed", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker should allow requests")
	}

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Fatalf("after 2 failures: got %s, want closed", b.State())
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("after 3 failures: got %s, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject requests")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(2, time.Second, 1)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Fatalf("non-consecutive failures tripped the breaker: %s", b.State())
	}
}

func TestBreaker_HalfOpenCycle(t *testing.T) {
	b := NewBreaker(1, 30*time.Millisecond, 2)

	b.RecordFailure()
	time.Sleep(40 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("should allow after reset timeout")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	b.RecordSuccess()
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open after 1 success, got %s", b.State())
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("expected closed after 2 successes, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 30*time.Millisecond, 1)

	b.RecordFailure()
	time.Sleep(40 * time.Millisecond)
	b.Allow()
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
}

func TestBreakers_GetIsStablePerModel(t *testing.T) {
	r := NewBreakers(1, time.Minute, 1)
	if r.Get("a") != r.Get("a") {
		t.Fatal("same model returned different breakers")
	}
	if r.Get("a") == r.Get("b") {
		t.Fatal("different models share a breaker")
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		if !isRetryableStatus(code) {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 500} {
		if isRetryableStatus(code) {
			t.Errorf("expected %d to NOT be retryable", code)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 10 * time.Second

	for i := 0; i < 100; i++ {
		if d := backoffDelay(0, base, maxDelay); d < 0 || d >= base {
			t.Fatalf("attempt 0: delay %v out of range [0, %v)", d, base)
		}
		if d := backoffDelay(40, base, maxDelay); d < 0 || d >= maxDelay {
			t.Fatalf("attempt 40: delay %v out of range [0, %v)", d, maxDelay)
		}
	}
	if d := backoffDelay(0, 0, maxDelay); d != 0 {
		t.Fatalf("zero base: expected 0, got %v", d)
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, time.Hour); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryAfterDuration(t *testing.T) {
	h := http.Header{}
	if d := retryAfterDuration(h); d != 0 {
		t.Fatalf("absent header: got %v", d)
	}
	h.Set("Retry-After", "3")
	if d := retryAfterDuration(h); d != 3*time.Second {
		t.Fatalf("seconds: got %v", d)
	}
	h.Set("Retry-After", "soon")
	if d := retryAfterDuration(h); d != 0 {
		t.Fatalf("garbage: got %v", d)
	}
}
