package engine

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/providers/anthropic"
	"github.com/germanamz/switchboard/pkg/providers/gemini"
	"github.com/germanamz/switchboard/pkg/providers/grok"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/germanamz/switchboard/pkg/providers/openai"
	"github.com/germanamz/switchboard/pkg/providers/responses"
)

// ProviderFactory creates an adapter from a ProviderConfig. The client is
// shared by every adapter of one engine and may be nil.
type ProviderFactory func(cfg ProviderConfig, client *http.Client) (modeladapter.Adapter, error)

// Kind binds a provider kind to the wire family it speaks and the factory
// that builds its adapter.
type Kind struct {
	Family  model.Family
	Factory ProviderFactory
}

// defaultKinds returns the built-in provider kinds. Each engine starts from
// a fresh copy, so WithKind never leaks between engines.
func defaultKinds() map[string]Kind {
	return map[string]Kind{
		"openai":    {Family: model.ChatCompletions, Factory: newOpenAI},
		"grok":      {Family: model.ChatCompletions, Factory: newGrok},
		"responses": {Family: model.Responses, Factory: newResponses},
		"anthropic": {Family: model.Messages, Factory: newAnthropic},
		"gemini":    {Family: model.Generate, Factory: newGemini},
	}
}

// KindNames lists the built-in provider kinds.
func KindNames() []string {
	names := make([]string, 0, len(defaultKinds()))
	for k := range defaultKinds() {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func newOpenAI(cfg ProviderConfig, client *http.Client) (modeladapter.Adapter, error) {
	a := openai.New(cfg.Name, cfg.BaseURL, cfg.APIKey, client)

	switch d := openai.Dialect(cfg.Dialect); d {
	case "":
	case openai.DialectOpenAI, openai.DialectOpenRouter, openai.DialectReasoningContent, openai.DialectGemini:
		a.Dialect = d
	default:
		return nil, fmt.Errorf("unknown dialect %q", cfg.Dialect)
	}

	configure(&a.ModelAdapter, cfg)
	return a, nil
}

func newGrok(cfg ProviderConfig, client *http.Client) (modeladapter.Adapter, error) {
	a := grok.New(cfg.Name, cfg.BaseURL, cfg.APIKey, client)
	configure(&a.ModelAdapter, cfg)
	return a, nil
}

func newResponses(cfg ProviderConfig, client *http.Client) (modeladapter.Adapter, error) {
	a := responses.New(cfg.Name, cfg.BaseURL, cfg.APIKey, client)

	switch t := responses.Transport(cfg.Transport); t {
	case "":
	case responses.TransportSSE, responses.TransportWebSocket:
		a.Transport = t
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	configure(&a.ModelAdapter, cfg)
	return a, nil
}

func newAnthropic(cfg ProviderConfig, client *http.Client) (modeladapter.Adapter, error) {
	a := anthropic.New(cfg.Name, cfg.BaseURL, cfg.APIKey, client)
	configure(&a.ModelAdapter, cfg)
	return a, nil
}

func newGemini(cfg ProviderConfig, client *http.Client) (modeladapter.Adapter, error) {
	a := gemini.New(cfg.Name, cfg.BaseURL, cfg.APIKey, client)
	configure(&a.ModelAdapter, cfg)
	return a, nil
}

// configure applies the settings every family shares: extra headers and an
// overriding transient status set.
func configure(a *modeladapter.ModelAdapter, cfg ProviderConfig) {
	for k, v := range cfg.Headers {
		if a.Headers == nil {
			a.Headers = make(map[string]string, len(cfg.Headers))
		}
		a.Headers[k] = v
	}
	if len(cfg.TransientStatuses) > 0 {
		a.Transient = modeladapter.NewStatusSet(cfg.TransientStatuses...)
	}
}

// backend is one configured provider: its adapter, the family it speaks and
// the throttle guarding it.
type backend struct {
	name     string
	family   model.Family
	adapter  modeladapter.Adapter
	throttle *modeladapter.Throttle
}

// buildBackend creates the adapter for cfg using the factory for its Kind.
// The throttle watches the adapter's rate limit headers when it reports them.
func buildBackend(kinds map[string]Kind, cfg ProviderConfig, client *http.Client) (*backend, error) {
	kind, ok := kinds[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	a, err := kind.Factory(cfg, client)
	if err != nil {
		return nil, err
	}

	reporter, _ := a.(modeladapter.RateLimitInfoReporter)

	var throttle *modeladapter.Throttle
	if cfg.RPM > 0 || reporter != nil {
		throttle = modeladapter.NewThrottle(cfg.RPM, reporter)
	}

	return &backend{name: cfg.Name, family: kind.Family, adapter: a, throttle: throttle}, nil
}
