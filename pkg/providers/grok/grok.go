// Package grok configures the chat completions family for xAI's Grok models.
// Grok speaks the OpenAI wire format and streams reasoning as
// reasoning_content.
package grok

import (
	"net/http"

	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/providers/openai"
)

// DefaultBaseURL is the base URL for the xAI API.
const DefaultBaseURL = "https://api.x.ai/v1"

// DefaultTransient returns the statuses xAI uses for transient failures.
func DefaultTransient() modeladapter.StatusSet {
	return modeladapter.NewStatusSet(429, 502, 503, 504)
}

// New creates a chat completions adapter preset for xAI. An empty baseURL
// selects DefaultBaseURL.
func New(provider, baseURL, apiKey string, client *http.Client) *openai.Adapter {
	if provider == "" {
		provider = "xai"
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := openai.New(provider, baseURL, apiKey, client)
	a.Path = "/chat/completions"
	a.Dialect = openai.DialectReasoningContent
	a.Transient = DefaultTransient()

	return a
}
