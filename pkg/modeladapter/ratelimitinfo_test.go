package modeladapter_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var limitNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestRateLimitHeaderParsers(t *testing.T) {
	stamp := limitNow.Add(30 * time.Second).Format(time.RFC3339)

	tests := []struct {
		name   string
		parse  modeladapter.RateLimitHeaderParser
		header http.Header
		want   *modeladapter.RateLimitInfo
	}{
		{
			name:  "anthropic full",
			parse: modeladapter.ParseAnthropicRateLimitHeaders,
			header: headers(
				"anthropic-ratelimit-requests-remaining", "5",
				"anthropic-ratelimit-tokens-remaining", "1000",
				"anthropic-ratelimit-requests-reset", stamp,
				"anthropic-ratelimit-tokens-reset", "30s",
			),
			want: &modeladapter.RateLimitInfo{
				RemainingRequests: 5,
				RemainingTokens:   1000,
				RequestsReset:     limitNow.Add(30 * time.Second),
				TokensReset:       limitNow.Add(30 * time.Second),
			},
		},
		{
			name:   "anthropic requests only",
			parse:  modeladapter.ParseAnthropicRateLimitHeaders,
			header: headers("anthropic-ratelimit-requests-remaining", "3"),
			want:   &modeladapter.RateLimitInfo{RemainingRequests: 3},
		},
		{
			name:   "anthropic ignores openai headers",
			parse:  modeladapter.ParseAnthropicRateLimitHeaders,
			header: headers("x-ratelimit-remaining-requests", "3"),
		},
		{
			name:  "openai full",
			parse: modeladapter.ParseOpenAIRateLimitHeaders,
			header: headers(
				"x-ratelimit-remaining-requests", "10",
				"x-ratelimit-remaining-tokens", "5000",
				"x-ratelimit-reset-requests", "1m30s",
				"x-ratelimit-reset-tokens", "bogus",
			),
			want: &modeladapter.RateLimitInfo{
				RemainingRequests: 10,
				RemainingTokens:   5000,
				RequestsReset:     limitNow.Add(90 * time.Second),
			},
		},
		{
			name:   "openai malformed counter still counts as present",
			parse:  modeladapter.ParseOpenAIRateLimitHeaders,
			header: headers("x-ratelimit-remaining-tokens", "many"),
			want:   &modeladapter.RateLimitInfo{},
		},
		{
			name:   "openai none",
			parse:  modeladapter.ParseOpenAIRateLimitHeaders,
			header: http.Header{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.parse(tt.header, limitNow))
		})
	}
}

func TestRateLimitInfo_ExhaustedUntil(t *testing.T) {
	var nilInfo *modeladapter.RateLimitInfo
	_, ok := nilInfo.ExhaustedUntil(limitNow)
	assert.False(t, ok)

	plenty := &modeladapter.RateLimitInfo{RemainingRequests: 10, RemainingTokens: 1000, RequestsReset: limitNow.Add(time.Minute)}
	_, ok = plenty.ExhaustedUntil(limitNow)
	assert.False(t, ok)

	low := &modeladapter.RateLimitInfo{
		RemainingRequests: 1,
		RemainingTokens:   0,
		RequestsReset:     limitNow.Add(10 * time.Second),
		TokensReset:       limitNow.Add(20 * time.Second),
	}
	until, ok := low.ExhaustedUntil(limitNow)
	require.True(t, ok)
	assert.Equal(t, limitNow.Add(20*time.Second), until, "the later reset wins")

	stale := &modeladapter.RateLimitInfo{RemainingRequests: 0, RequestsReset: limitNow.Add(-time.Second)}
	_, ok = stale.ExhaustedUntil(limitNow)
	assert.False(t, ok)
}
