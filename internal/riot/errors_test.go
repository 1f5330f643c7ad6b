package riot

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{404, KindNotFound},
		{401, KindUnauthorized},
		{403, KindForbidden},
		{429, KindRateLimited},
		{500, KindServerError},
		{503, KindServerError},
		{400, KindClientError},
		{418, KindClientError},
		{200, KindUnknown},
	}
	for _, tc := range tests {
		if got := classifyStatus(tc.status); got != tc.want {
			t.Errorf("classifyStatus(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestClassifyWrappedError(t *testing.T) {
	apiErr := &APIError{Kind: KindRateLimited, Status: 429, URL: "https://example.test"}
	wrapped := fmt.Errorf("tick failed: %w", apiErr)

	if got := Classify(wrapped); got != KindRateLimited {
		t.Errorf("Classify = %v, want rate_limited", got)
	}
	if !IsRateLimited(wrapped) {
		t.Error("IsRateLimited should see through wrapping")
	}
	if Classify(errors.New("plain")) != KindUnknown {
		t.Error("non-api errors classify as unknown")
	}
}

func TestRetryableKinds(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindRateLimited, true},
		{KindServerError, true},
		{KindUnknown, true},
		{KindNotFound, false},
		{KindUnauthorized, false},
		{KindForbidden, false},
		{KindClientError, false},
	}
	for _, tc := range tests {
		if got := retryable(tc.kind); got != tc.want {
			t.Errorf("retryable(%v) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestHintedBackoffPrefersRetryAfter(t *testing.T) {
	hint := 7 * time.Second
	b := &hintedBackoff{next: retry.NewExponential(time.Second), hint: &hint}

	d, stop := b.Next()
	if stop {
		t.Fatal("backoff stopped unexpectedly")
	}
	if d != 7*time.Second {
		t.Errorf("first delay = %v, want the server hint 7s", d)
	}

	// hint is consumed, the next delay falls back to the exponential series
	d, stop = b.Next()
	if stop {
		t.Fatal("backoff stopped unexpectedly")
	}
	if d == 7*time.Second {
		t.Errorf("second delay = %v, hint should be one-shot", d)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Kind: KindServerError, Status: 502, URL: "https://example.test/x", Err: errors.New("bad gateway")}
	msg := err.Error()
	for _, want := range []string{"server_error", "502", "https://example.test/x", "bad gateway"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}
