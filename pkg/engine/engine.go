package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/germanamz/switchboard/pkg/chats/chat"
	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/germanamz/switchboard/pkg/tools/toolbox"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies spans created by the engine.
const tracerName = "github.com/germanamz/switchboard/pkg/engine"

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for attempt, retry and failure records.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHTTPClient sets the HTTP client shared by every adapter.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithTracerProvider sets the provider of the tracer used for model.stream
// spans. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock replaces the clock used to resolve retry-after dates.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// WithKind registers (or replaces) a provider kind for this engine only.
func WithKind(name string, k Kind) Option {
	return func(e *Engine) { e.kinds[name] = k }
}

// Engine is the composition root that assembles adapters, throttles and the
// model registry from configuration and exposes them through a
// frontend-agnostic API. It is safe for concurrent use; every Run owns its
// own stream and retry state.
type Engine struct {
	cfg      Config
	events   *EventBus
	logger   *slog.Logger
	tracer   trace.Tracer
	client   *http.Client
	sleep    SleepFunc
	now      func() time.Time
	kinds    map[string]Kind
	backends map[string]*backend
	registry *model.Registry
	effects  []Effect

	mu       sync.Mutex
	sessions map[string]*Session
	nextID   int
}

// New creates an Engine from the given configuration. It validates the
// config, builds one adapter per provider and resolves every model's family
// from the provider that serves it.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		events:   NewEventBus(),
		logger:   slog.Default(),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		sleep:    modeladapter.Sleep,
		now:      time.Now,
		kinds:    defaultKinds(),
		backends: make(map[string]*backend, len(cfg.Providers)),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, pc := range cfg.Providers {
		b, err := buildBackend(e.kinds, pc, e.client)
		if err != nil {
			return nil, fmt.Errorf("engine: provider %q: %w", pc.Name, err)
		}
		e.backends[pc.Name] = b
	}

	models := make([]model.Model, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		b := e.backends[m.Provider]
		switch {
		case m.Family == "":
			m.Family = b.family
		case m.Family != b.family:
			return nil, fmt.Errorf("engine: model %q: family %q does not match provider %q (%s)", m.Ref(), m.Family, b.name, b.family)
		}
		models = append(models, m)
	}

	reg, err := model.NewRegistry(models...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.registry = reg

	effs, err := buildEffects(cfg.Effects)
	if err != nil {
		return nil, err
	}
	e.effects = effs

	return e, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Models returns every configured model, sorted by reference.
func (e *Engine) Models() []model.Model { return e.registry.Models() }

// Model resolves a "provider/id" reference.
func (e *Engine) Model(ref string) (model.Model, error) { return e.registry.Lookup(ref) }

// DefaultModel returns the configured default model, or the first model when
// none is configured.
func (e *Engine) DefaultModel() (model.Model, error) {
	if e.cfg.DefaultModel != "" {
		return e.registry.Lookup(e.cfg.DefaultModel)
	}

	models := e.registry.Models()
	if len(models) == 0 {
		return model.Model{}, fmt.Errorf("engine: no models configured")
	}
	return models[0], nil
}

// Usage returns the cumulative token usage recorded for a provider.
func (e *Engine) Usage(provider string) (event.Usage, bool) {
	b, ok := e.backends[provider]
	if !ok {
		return event.Usage{}, false
	}
	ur, ok := b.adapter.(modeladapter.UsageReporter)
	if !ok {
		return event.Usage{}, false
	}
	return ur.UsageTracker().Total(), true
}

// Run encodes one request for m and starts streaming it. Encoding errors are
// fatal and returned before anything is sent. The returned Run must be
// drained or closed.
func (e *Engine) Run(ctx context.Context, m model.Model, msgs []message.Message, tools []toolbox.Tool) (*Run, error) {
	return e.run(ctx, "", m, msgs, tools)
}

func (e *Engine) run(ctx context.Context, sessionID string, m model.Model, msgs []message.Message, tools []toolbox.Tool) (*Run, error) {
	b, ok := e.backends[m.Provider]
	if !ok {
		return nil, fmt.Errorf("engine: run: unknown provider %q", m.Provider)
	}
	if m.Family == "" {
		m.Family = b.family
	}
	if m.Family != b.family {
		return nil, fmt.Errorf("engine: run: model %q speaks %s but provider %q speaks %s", m.Ref(), m.Family, b.name, b.family)
	}

	p := modeladapter.Prompt{Model: m, Messages: msgs, Tools: tools}

	var est modeladapter.TokenEstimator
	if n, over := est.Exceeds(p); over {
		e.logger.Warn("prompt may exceed input limit", "model", m.Ref(), "estimate", n, "limit", m.Limits.Input)
	}

	req, err := b.adapter.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("engine: encode %s: %w", m.Ref(), err)
	}

	return newRun(ctx, e, b, sessionID, req), nil
}

// NewSession creates a conversation with m. Effects from the config are
// applied to its chat before every turn.
func (e *Engine) NewSession(m model.Model, tools ...toolbox.Tool) *Session {
	e.mu.Lock()
	e.nextID++
	id := fmt.Sprintf("session-%d", e.nextID)
	e.mu.Unlock()

	s := newSession(id, e, m, chat.New(), toolbox.New(tools...))

	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()

	return s
}

// Session returns an existing session by ID.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	return s, ok
}

func (e *Engine) publish(kind EventKind, runID, sessionID, ref string, data any) {
	e.events.Publish(Event{
		Kind:      kind,
		RunID:     runID,
		SessionID: sessionID,
		Model:     ref,
		Timestamp: e.now(),
		Data:      data,
	})
}

func newRunID() string { return uuid.NewString() }
