package engine

import (
	"context"
	"net/http"
	"testing"

	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/providers/anthropic"
	"github.com/germanamz/switchboard/pkg/providers/gemini"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/germanamz/switchboard/pkg/providers/openai"
	"github.com/germanamz/switchboard/pkg/providers/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindNames(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "gemini", "grok", "openai", "responses"}, KindNames())
}

func TestBuildBackend_Families(t *testing.T) {
	tests := []struct {
		kind   string
		family model.Family
	}{
		{"openai", model.ChatCompletions},
		{"grok", model.ChatCompletions},
		{"responses", model.Responses},
		{"anthropic", model.Messages},
		{"gemini", model.Generate},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			b, err := buildBackend(defaultKinds(), ProviderConfig{Name: "p", Kind: tt.kind}, nil)
			require.NoError(t, err)
			assert.Equal(t, "p", b.name)
			assert.Equal(t, tt.family, b.family)
			assert.NotNil(t, b.throttle, "every built-in adapter reports rate limits")
		})
	}
}

func TestBuildBackend_UnknownKind(t *testing.T) {
	_, err := buildBackend(defaultKinds(), ProviderConfig{Name: "p", Kind: "bedrock"}, nil)
	assert.ErrorContains(t, err, `unknown provider kind "bedrock"`)
}

func TestBuildBackend_Dialect(t *testing.T) {
	b, err := buildBackend(defaultKinds(), ProviderConfig{Name: "or", Kind: "openai", Dialect: "openrouter"}, nil)
	require.NoError(t, err)
	assert.Equal(t, openai.DialectOpenRouter, b.adapter.(*openai.Adapter).Dialect)

	_, err = buildBackend(defaultKinds(), ProviderConfig{Name: "x", Kind: "openai", Dialect: "klingon"}, nil)
	assert.ErrorContains(t, err, "unknown dialect")
}

func TestBuildBackend_Transport(t *testing.T) {
	b, err := buildBackend(defaultKinds(), ProviderConfig{Name: "oa", Kind: "responses", Transport: "websocket"}, nil)
	require.NoError(t, err)
	assert.Equal(t, responses.TransportWebSocket, b.adapter.(*responses.Adapter).Transport)

	_, err = buildBackend(defaultKinds(), ProviderConfig{Name: "oa", Kind: "responses", Transport: "carrier-pigeon"}, nil)
	assert.ErrorContains(t, err, "unknown transport")
}

func TestBuildBackend_SharedSettings(t *testing.T) {
	cfg := ProviderConfig{
		Name:              "claude",
		Kind:              "anthropic",
		BaseURL:           "https://proxy.example.com",
		Headers:           map[string]string{"X-Team": "core"},
		TransientStatuses: []int{503},
	}

	b, err := buildBackend(defaultKinds(), cfg, nil)
	require.NoError(t, err)

	a := b.adapter.(*anthropic.Adapter)
	assert.Equal(t, "https://proxy.example.com", a.BaseURL)
	assert.Equal(t, "core", a.Headers["X-Team"])
	assert.True(t, a.Transient.Has(503))
	assert.False(t, a.Transient.Has(529), "configured statuses replace the defaults")
}

func TestBuildBackend_DefaultTransient(t *testing.T) {
	b, err := buildBackend(defaultKinds(), ProviderConfig{Name: "g", Kind: "gemini"}, nil)
	require.NoError(t, err)

	a := b.adapter.(*gemini.Adapter)
	assert.Equal(t, []int{429, 500, 503, 504}, a.Transient.Codes())
}

// stubAdapter is an adapter with no shared base, so it reports no rate limits.
type stubAdapter struct{}

func (stubAdapter) Encode(p modeladapter.Prompt) (*modeladapter.Request, error) {
	return &modeladapter.Request{Model: p.Model}, nil
}

func (stubAdapter) Stream(context.Context, *modeladapter.Request) (modeladapter.Streamer, error) {
	return nil, context.Canceled
}

func TestBuildBackend_Throttle(t *testing.T) {
	kinds := map[string]Kind{
		"stub": {Family: model.Messages, Factory: func(ProviderConfig, *http.Client) (modeladapter.Adapter, error) {
			return stubAdapter{}, nil
		}},
	}

	b, err := buildBackend(kinds, ProviderConfig{Name: "s", Kind: "stub"}, nil)
	require.NoError(t, err)
	assert.Nil(t, b.throttle)

	b, err = buildBackend(kinds, ProviderConfig{Name: "s", Kind: "stub", RPM: 60}, nil)
	require.NoError(t, err)
	assert.NotNil(t, b.throttle)
}
