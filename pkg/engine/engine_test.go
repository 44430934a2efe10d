package engine

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// recordingProvider hands out spans that remember their name, events and
// status.
type recordingProvider struct {
	noop.TracerProvider

	mu    sync.Mutex
	spans []*recordingSpan
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return recordingTracer{p: p}
}

type recordingTracer struct {
	noop.Tracer
	p *recordingProvider
}

func (t recordingTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	s := &recordingSpan{name: name}
	t.p.mu.Lock()
	t.p.spans = append(t.p.spans, s)
	t.p.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

type recordingSpan struct {
	noop.Span

	name   string
	events []string
	status codes.Code
	ended  bool
}

func (s *recordingSpan) AddEvent(name string, _ ...trace.EventOption) {
	s.events = append(s.events, name)
}

func (s *recordingSpan) SetStatus(c codes.Code, _ string) { s.status = c }

func (s *recordingSpan) End(...trace.SpanEndOption) { s.ended = true }

func TestNew_ResolvesFamilies(t *testing.T) {
	cfg := Config{
		Providers: []ProviderConfig{
			{Name: "claude", Kind: "anthropic"},
			{Name: "g", Kind: "gemini"},
		},
		Models: []model.Model{
			{Provider: "claude", ID: "sonnet"},
			{Provider: "g", ID: "flash", Family: model.Generate},
		},
	}

	e, err := New(cfg)
	require.NoError(t, err)

	m, err := e.Model("claude/sonnet")
	require.NoError(t, err)
	assert.Equal(t, model.Messages, m.Family)

	refs := make([]string, 0, 2)
	for _, m := range e.Models() {
		refs = append(refs, m.Ref())
	}
	assert.Equal(t, []string{"claude/sonnet", "g/flash"}, refs)

	_, err = e.Model("claude/opus")
	assert.ErrorIs(t, err, model.ErrUnknownModel)
}

func TestNew_FamilyMismatch(t *testing.T) {
	cfg := Config{
		Providers: []ProviderConfig{{Name: "claude", Kind: "anthropic"}},
		Models:    []model.Model{{Provider: "claude", ID: "sonnet", Family: model.Responses}},
	}

	_, err := New(cfg)
	assert.ErrorContains(t, err, "does not match provider")
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(Config{Providers: []ProviderConfig{{Name: "b", Kind: "bedrock"}}})
	assert.ErrorContains(t, err, `engine: provider "b"`)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "engine: config:")
}

func TestNew_BadEffectParams(t *testing.T) {
	cfg := validConfig()
	cfg.Effects = []EffectConfig{{Kind: "compact_tool_results", Params: map[string]any{"keep": "all"}}}

	_, err := New(cfg)
	assert.ErrorContains(t, err, "keep must be a number")
}

func TestEngine_DefaultModel(t *testing.T) {
	cfg := validConfig()
	cfg.Models = append(cfg.Models, model.Model{Provider: "p1", ID: "a-first"})

	e, err := New(cfg)
	require.NoError(t, err)

	m, err := e.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "p1/a-first", m.Ref(), "without a default the first model by reference wins")

	cfg.DefaultModel = "p1/m1"
	e, err = New(cfg)
	require.NoError(t, err)

	m, err = e.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "p1/m1", m.Ref())
}

func TestEngine_DefaultModel_None(t *testing.T) {
	e, err := New(Config{Providers: []ProviderConfig{{Name: "p1", Kind: "anthropic"}}})
	require.NoError(t, err)

	_, err = e.DefaultModel()
	assert.Error(t, err)
}

func TestEngine_WithKind(t *testing.T) {
	built := 0
	kind := Kind{Family: model.Messages, Factory: func(cfg ProviderConfig, _ *http.Client) (modeladapter.Adapter, error) {
		built++
		return stubAdapter{}, nil
	}}

	cfg := Config{
		Providers: []ProviderConfig{{Name: "s", Kind: "stub"}},
		Models:    []model.Model{{Provider: "s", ID: "m"}},
	}

	_, err := New(cfg)
	require.Error(t, err, "custom kinds are per engine")

	e, err := New(cfg, WithKind("stub", kind))
	require.NoError(t, err)
	assert.Equal(t, 1, built)

	_, found := e.Usage("s")
	assert.False(t, found, "adapters without a tracker report no usage")
	_, found = e.Usage("nope")
	assert.False(t, found)
}

func TestEngine_Run_UnknownProvider(t *testing.T) {
	e, err := New(validConfig())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), model.Model{Provider: "ghost", ID: "m"}, userHi(), nil)
	assert.ErrorContains(t, err, `unknown provider "ghost"`)

	_, err = e.Run(context.Background(), model.Model{Provider: "p1", ID: "m", Family: model.Generate}, userHi(), nil)
	assert.ErrorContains(t, err, "speaks")
}

func TestEngine_Run_WarnsOnLargePrompt(t *testing.T) {
	b := newBackend(t, ok(sse(helloChunk1, helloChunk2)))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := testConfig(b.srv.URL)
	cfg.Models[0].Limits.Input = 5

	e, err := New(cfg, WithHTTPClient(b.srv.Client()), WithLogger(logger))
	require.NoError(t, err)

	m, err := e.Model("oa/gpt-test")
	require.NoError(t, err)

	r, err := e.Run(context.Background(), m, userHiLong(), nil)
	require.NoError(t, err)
	drain(t, r)

	out := buf.String()
	assert.Contains(t, out, "prompt may exceed input limit")
	assert.Contains(t, out, "model request")
	assert.Contains(t, out, "attempt=1")
}

func TestEngine_Run_Span(t *testing.T) {
	b := newBackend(t,
		reply{status: 503, body: `{"error":{"message":"busy"}}`},
		ok(sse(helloChunk1, helloChunk2, usageChunk)),
	)

	tp := &recordingProvider{}

	cfg := testConfig(b.srv.URL)
	e, err := New(cfg, WithHTTPClient(b.srv.Client()), WithSleep((&sleeper{}).sleep), WithTracerProvider(tp))
	require.NoError(t, err)

	evs := drain(t, startRun(t, context.Background(), e))
	assert.Equal(t, event.FinishStop, evs[len(evs)-1].Reason)

	require.Len(t, tp.spans, 1)
	span := tp.spans[0]
	assert.Equal(t, "model.stream", span.name)
	assert.True(t, span.ended)
	assert.Equal(t, codes.Ok, span.status)
	assert.Equal(t, []string{"model.retry", "model.usage"}, span.events)
}

func TestEngine_Run_SpanOnFailure(t *testing.T) {
	b := newBackend(t, reply{status: 400, body: `{"error":{"message":"bad"}}`})
	tp := &recordingProvider{}

	e, err := New(testConfig(b.srv.URL), WithHTTPClient(b.srv.Client()), WithTracerProvider(tp))
	require.NoError(t, err)

	drain(t, startRun(t, context.Background(), e))

	require.Len(t, tp.spans, 1)
	assert.Equal(t, codes.Error, tp.spans[0].status)
}

func userHiLong() []message.Message {
	return []message.Message{message.NewText("user", role.User, strings.Repeat("token ", 200))}
}
