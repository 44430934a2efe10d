package modeladapter

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
)

// Backoff parameters used when the backend gives no usable retry hint.
const (
	InitialDelay  = 2 * time.Second
	BackoffFactor = 2
	MaxDelay      = 30 * time.Second
)

// Fixed reasons reported for retryable failures.
const (
	ReasonReset         = "Connection reset by server"
	ReasonTooMany       = "Too Many Requests"
	ReasonOverloaded    = "Provider is overloaded"
	ReasonRateLimited   = "Rate Limited"
	ReasonServerFailure = "Provider Server Error"
)

// maxTimerSpan is the longest single timer Sleep arms before chaining
// another one.
var maxTimerSpan = time.Duration(math.MaxInt32) * time.Millisecond

// RetryContext describes one failed attempt. It is created per failure and
// discarded once the orchestrator has waited.
type RetryContext struct {
	Attempt int
	Err     error
	Header  http.Header
	Reason  string
	Wait    time.Duration
}

// Classify builds the RetryContext for a failed attempt. The bool is false
// when err is not retryable.
func Classify(attempt int, err error, now time.Time) (RetryContext, bool) {
	rc := RetryContext{Attempt: attempt, Err: err}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		rc.Header = apiErr.Header
	}

	reason, ok := Retryable(err)
	if !ok {
		return rc, false
	}

	rc.Reason = reason
	rc.Wait = DelayAt(attempt, err, now)

	return rc, true
}

// Retryable reports whether err is a transient failure worth resending the
// request for, and a human-readable reason. Cancellation is never retryable.
// Bodies that are not JSON are never retryable: there is no signal to trust.
func Retryable(err error) (string, bool) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", false
	}

	if isReset(err) {
		return ReasonReset, true
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}

	body := bytes.TrimSpace(apiErr.Body)
	if len(body) > 0 && !gjson.ValidBytes(body) {
		return "", false
	}

	if apiErr.InStream() {
		return classifyEnvelope(body, true)
	}

	if apiErr.Transient {
		msg := apiErr.Message()
		if strings.Contains(msg, "Overloaded") || strings.Contains(msg, "overloaded") {
			return ReasonOverloaded, true
		}
		return msg, true
	}

	return classifyEnvelope(body, false)
}

// classifyEnvelope inspects a vendor JSON error body. Fields may be missing
// or carry numbers where strings are expected; gjson stringifies both. When
// anyError is set, any envelope with an "error" member counts as a server
// failure, which is how in-stream errors are reported.
func classifyEnvelope(body []byte, anyError bool) (string, bool) {
	if len(body) == 0 {
		return "", false
	}

	typ := gjson.GetBytes(body, "type").String()
	errType := gjson.GetBytes(body, "error.type").String()
	codes := strings.ToLower(strings.Join([]string{
		gjson.GetBytes(body, "code").String(),
		gjson.GetBytes(body, "error.code").String(),
		gjson.GetBytes(body, "error.status").String(),
	}, " "))

	switch {
	case typ == "error" && errType == "too_many_requests":
		return ReasonTooMany, true
	case errType == "overloaded_error",
		strings.Contains(codes, "exhausted"),
		strings.Contains(codes, "unavailable"),
		strings.Contains(codes, "overloaded"):
		return ReasonOverloaded, true
	case strings.Contains(codes, "rate_limit"), errType == "rate_limit_error":
		return ReasonRateLimited, true
	case strings.Contains(gjson.GetBytes(body, "error.message").String(), "no_kv_space"),
		errType == "server_error", errType == "api_error",
		anyError && gjson.GetBytes(body, "error").Exists():
		return ReasonServerFailure, true
	}

	return "", false
}

func isReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection reset")
}

// Delay returns how long to wait before attempt number attempt (1-based)
// given the error that ended the previous one.
func Delay(attempt int, err error) time.Duration {
	return DelayAt(attempt, err, time.Now())
}

// DelayAt is Delay with an explicit clock for HTTP-date hints.
// A retry-after-ms header wins when it is a non-negative number. A
// retry-after header is honored as seconds or as a future HTTP date.
// Anything else falls back to exponential backoff.
func DelayAt(attempt int, err error, now time.Time) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Header != nil {
		if v := apiErr.Header.Get("retry-after-ms"); v != "" {
			if ms, perr := strconv.ParseFloat(strings.TrimSpace(v), 64); perr == nil && ms >= 0 && !math.IsInf(ms, 0) && !math.IsNaN(ms) {
				return time.Duration(ms * float64(time.Millisecond))
			}
		}
		if d, ok := ParseRetryAfter(apiErr.Header.Get("retry-after"), now); ok {
			return d
		}
	}

	return Backoff(attempt)
}

// Backoff returns min(InitialDelay * BackoffFactor^(attempt-1), MaxDelay).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := InitialDelay
	for i := 1; i < attempt; i++ {
		d *= BackoffFactor
		if d >= MaxDelay {
			return MaxDelay
		}
	}

	return min(d, MaxDelay)
}

// ParseRetryAfter parses a Retry-After value as either seconds or an
// HTTP-date (RFC 7231). Negative seconds, past dates and malformed values
// are rejected.
func ParseRetryAfter(val string, now time.Time) (time.Duration, bool) {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		if secs < 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
			return 0, false
		}
		return time.Duration(math.Ceil(secs*1000)) * time.Millisecond, true
	}

	if t, err := http.ParseTime(val); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}

	return 0, false
}

// Sleep waits for d or until ctx is cancelled. Long waits are split into a
// chain of timers no longer than maxTimerSpan each.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for d > 0 {
		step := min(d, maxTimerSpan)

		t := time.NewTimer(step)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		d -= step
	}

	return nil
}
