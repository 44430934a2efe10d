package modeladapter

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimitInfo is the budget a backend advertised on its last response.
type RateLimitInfo struct {
	RemainingRequests int
	RemainingTokens   int
	RequestsReset     time.Time
	TokensReset       time.Time
}

// RateLimitInfoReporter exposes the budget observed on the latest response.
type RateLimitInfoReporter interface {
	LastRateLimitInfo() *RateLimitInfo
}

// RateLimitHeaderParser reads a RateLimitInfo out of response headers. The
// clock is passed in because resets may be relative durations.
type RateLimitHeaderParser func(h http.Header, now time.Time) *RateLimitInfo

// budgetHeaders names the four headers one backend convention uses.
type budgetHeaders struct {
	requests, tokens           string
	requestsReset, tokensReset string
}

var (
	anthropicBudget = budgetHeaders{
		requests:      "anthropic-ratelimit-requests-remaining",
		tokens:        "anthropic-ratelimit-tokens-remaining",
		requestsReset: "anthropic-ratelimit-requests-reset",
		tokensReset:   "anthropic-ratelimit-tokens-reset",
	}
	openAIBudget = budgetHeaders{
		requests:      "x-ratelimit-remaining-requests",
		tokens:        "x-ratelimit-remaining-tokens",
		requestsReset: "x-ratelimit-reset-requests",
		tokensReset:   "x-ratelimit-reset-tokens",
	}
)

// ParseAnthropicRateLimitHeaders reads the anthropic-ratelimit-* family.
func ParseAnthropicRateLimitHeaders(h http.Header, now time.Time) *RateLimitInfo {
	return anthropicBudget.parse(h, now)
}

// ParseOpenAIRateLimitHeaders reads the x-ratelimit-* family shared by
// Chat Completions, the Responses API, Grok and OpenRouter.
func ParseOpenAIRateLimitHeaders(h http.Header, now time.Time) *RateLimitInfo {
	return openAIBudget.parse(h, now)
}

// parse returns nil when neither remaining counter is present.
func (b budgetHeaders) parse(h http.Header, now time.Time) *RateLimitInfo {
	reqs, hasReqs := headerInt(h, b.requests)
	toks, hasToks := headerInt(h, b.tokens)
	if !hasReqs && !hasToks {
		return nil
	}

	return &RateLimitInfo{
		RemainingRequests: reqs,
		RemainingTokens:   toks,
		RequestsReset:     resetAt(h.Get(b.requestsReset), now),
		TokensReset:       resetAt(h.Get(b.tokensReset), now),
	}
}

// headerInt reports presence separately so a malformed counter still marks
// the response as carrying budget headers.
func headerInt(h http.Header, key string) (int, bool) {
	raw := h.Get(key)
	if raw == "" {
		return 0, false
	}
	n, _ := strconv.Atoi(raw)
	return n, true
}

// resetAt accepts an RFC 3339 timestamp or a duration such as "6s" or "1m30s".
func resetAt(raw string, now time.Time) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(d)
	}
	return time.Time{}
}

// ExhaustedUntil returns the latest reset among budgets that are down to
// their last unit, or false when capacity remains.
func (i *RateLimitInfo) ExhaustedUntil(now time.Time) (time.Time, bool) {
	if i == nil {
		return time.Time{}, false
	}

	var until time.Time
	for _, b := range [...]struct {
		left  int
		reset time.Time
	}{
		{i.RemainingRequests, i.RequestsReset},
		{i.RemainingTokens, i.TokensReset},
	} {
		if b.left <= 1 && b.reset.After(now) && b.reset.After(until) {
			until = b.reset
		}
	}

	return until, !until.IsZero()
}
