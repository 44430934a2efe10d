package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"github.com/germanamz/switchboard/pkg/modeladapter/transcript"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helloChunk1 = `{"id":"c1","model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`
	helloChunk2 = `{"id":"c1","model":"gpt-test","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`
	usageChunk  = `{"id":"c1","model":"gpt-test","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5,"prompt_tokens_details":{"cached_tokens":2},"completion_tokens_details":{"reasoning_tokens":1}}}`
)

func sse(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString("data: " + c + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// reply is one scripted HTTP response.
type reply struct {
	status int
	header map[string]string
	body   string
}

func ok(body string) reply { return reply{status: http.StatusOK, body: body} }

// backendServer replays scripted replies in order, repeating the last one,
// and records every request body it receives.
type backendServer struct {
	mu      sync.Mutex
	replies []reply
	bodies  []string
	srv     *httptest.Server
}

func newBackend(t *testing.T, replies ...reply) *backendServer {
	t.Helper()

	b := &backendServer{replies: replies}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		b.mu.Lock()
		i := min(len(b.bodies), len(b.replies)-1)
		b.bodies = append(b.bodies, string(body))
		rep := b.replies[i]
		b.mu.Unlock()

		for k, v := range rep.header {
			w.Header().Set(k, v)
		}
		if rep.status == http.StatusOK {
			w.Header().Set("Content-Type", "text/event-stream")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(rep.status)
		_, _ = io.WriteString(w, rep.body)
	}))
	t.Cleanup(b.srv.Close)

	return b
}

func (b *backendServer) requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.bodies...)
}

// sleeper records backoff waits without sleeping.
type sleeper struct {
	waits []time.Duration
}

func (s *sleeper) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func testConfig(url string) Config {
	return Config{
		Providers: []ProviderConfig{{Name: "oa", Kind: "openai", BaseURL: url, APIKey: "k"}},
		Models: []model.Model{{
			Provider:     "oa",
			ID:           "gpt-test",
			Capabilities: model.Capabilities{ToolCalls: true},
		}},
	}
}

func newTestEngine(t *testing.T, b *backendServer, s *sleeper, mutate ...func(*Config)) *Engine {
	t.Helper()

	cfg := testConfig(b.srv.URL)
	for _, fn := range mutate {
		fn(&cfg)
	}

	e, err := New(cfg, WithHTTPClient(b.srv.Client()), WithSleep(s.sleep))
	require.NoError(t, err)
	return e
}

func userHi() []message.Message {
	return []message.Message{message.NewText("user", role.User, "hi")}
}

func drain(t *testing.T, r *Run) []event.Event {
	t.Helper()

	var evs []event.Event
	for {
		ev, err := r.Recv()
		if errors.Is(err, io.EOF) {
			return evs
		}
		require.NoError(t, err)
		evs = append(evs, ev)
	}
}

func startRun(t *testing.T, ctx context.Context, e *Engine) *Run {
	t.Helper()

	m, err := e.Model("oa/gpt-test")
	require.NoError(t, err)

	r, err := e.Run(ctx, m, userHi(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func ofType(evs []event.Event, typ event.Type) []event.Event {
	var out []event.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func collect(evs []event.Event) *event.Collector {
	var c event.Collector
	for _, ev := range evs {
		c.Add(ev)
	}
	return &c
}

func TestRun_Streams(t *testing.T) {
	b := newBackend(t, ok(sse(helloChunk1, helloChunk2, usageChunk)))
	s := &sleeper{}
	e := newTestEngine(t, b, s)

	evs := drain(t, startRun(t, context.Background(), e))

	require.NotEmpty(t, evs)
	assert.Equal(t, event.StreamStart, evs[0].Type)
	last := evs[len(evs)-1]
	assert.Equal(t, event.Finish, last.Type)
	assert.Equal(t, event.FinishStop, last.Reason)
	assert.Empty(t, ofType(evs, event.Retry))
	assert.Empty(t, s.waits)

	c := collect(evs)
	require.Len(t, c.Parts(), 1)
	assert.Equal(t, content.Text{Text: "Hello"}, c.Parts()[0])

	u, found := e.Usage("oa")
	require.True(t, found)
	assert.Equal(t, event.Usage{Input: 10, Output: 5, Reasoning: 1, CacheRead: 2}, u)
}

func TestRun_RetryThenSuccess(t *testing.T) {
	b := newBackend(t,
		reply{
			status: http.StatusTooManyRequests,
			header: map[string]string{"retry-after-ms": "1500"},
			body:   `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`,
		},
		ok(sse(helloChunk1, helloChunk2)),
	)
	s := &sleeper{}
	e := newTestEngine(t, b, s)

	sub := e.Events().Subscribe(16)
	defer e.Events().Unsubscribe(sub)

	r := startRun(t, context.Background(), e)
	evs := drain(t, r)

	retries := ofType(evs, event.Retry)
	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].Attempt)
	assert.Equal(t, 1500*time.Millisecond, retries[0].Wait)
	assert.Equal(t, "slow down", retries[0].Metadata[event.MetaRetryReason])
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, s.waits)

	assert.Equal(t, event.Retry, evs[0].Type)
	assert.Equal(t, event.StreamStart, evs[1].Type)
	assert.Equal(t, event.FinishStop, evs[len(evs)-1].Reason)
	assert.Empty(t, ofType(evs, event.Error))
	assert.Equal(t, 2, r.Attempts())

	bodies := b.requests()
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1], "retries resend the frozen request")
	assert.Equal(t, string(r.Request().Body), bodies[0])

	var kinds []EventKind
	for len(sub.C) > 0 {
		ev := <-sub.C
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventRetry {
			info := ev.Data.(RetryInfo)
			assert.Equal(t, 1500*time.Millisecond, info.Wait)
		}
		if ev.Kind == EventRunEnd {
			sum := ev.Data.(RunSummary)
			assert.Equal(t, 2, sum.Attempts)
			assert.Equal(t, event.FinishStop, sum.Reason)
		}
	}
	assert.Equal(t, []EventKind{EventRunStart, EventRetry, EventRunEnd}, kinds)
}

func TestRun_MidStreamErrorKeepsPartialContent(t *testing.T) {
	b := newBackend(t,
		ok(sse(
			`{"id":"c0","choices":[{"index":0,"delta":{"content":"partial"}}]}`,
			`{"error":{"message":"boom","type":"server_error"}}`,
		)),
		ok(sse(helloChunk1, helloChunk2)),
	)
	s := &sleeper{}
	e := newTestEngine(t, b, s)

	evs := drain(t, startRun(t, context.Background(), e))

	require.Len(t, ofType(evs, event.Retry), 1)
	assert.Equal(t, modeladapter.ReasonServerFailure, ofType(evs, event.Retry)[0].Metadata[event.MetaRetryReason])
	assert.Len(t, ofType(evs, event.StreamStart), 2)
	assert.Empty(t, ofType(evs, event.Error), "retried errors are not surfaced")
	assert.Len(t, ofType(evs, event.Finish), 1)
	assert.Equal(t, []time.Duration{modeladapter.InitialDelay}, s.waits)

	c := collect(evs)
	assert.Equal(t, []content.Part{
		content.Text{Text: "partial"},
		content.StepBoundary{},
		content.Text{Text: "Hello"},
	}, c.Parts())
}

func TestRun_ResponseMetadataOncePerRun(t *testing.T) {
	b := newBackend(t,
		ok(sse(
			`{"id":"c0","model":"gpt-test","choices":[{"index":0,"delta":{"content":"partial"}}]}`,
			`{"error":{"message":"boom","type":"server_error"}}`,
		)),
		ok(sse(helloChunk1, helloChunk2)),
	)
	e := newTestEngine(t, b, &sleeper{})

	evs := drain(t, startRun(t, context.Background(), e))

	require.Len(t, ofType(evs, event.Retry), 1)
	meta := ofType(evs, event.ResponseMetadata)
	require.Len(t, meta, 1)
	assert.Equal(t, "c0", meta[0].ResponseID)
	assert.Equal(t, "partialHello", collect(evs).Message("oa", "gpt-test").TextContent())
}

func TestRun_TerminalError(t *testing.T) {
	b := newBackend(t, reply{
		status: http.StatusBadRequest,
		body:   `{"error":{"message":"bad request","type":"invalid_request_error"}}`,
	})
	s := &sleeper{}
	e := newTestEngine(t, b, s)

	r := startRun(t, context.Background(), e)
	evs := drain(t, r)

	require.Len(t, evs, 3)
	assert.Equal(t, event.StreamStart, evs[0].Type)
	assert.Equal(t, event.Error, evs[1].Type)
	var apiErr *modeladapter.APIError
	require.ErrorAs(t, evs[1].Err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, event.FinishError, evs[2].Reason)

	assert.Empty(t, s.waits)
	assert.Equal(t, 1, r.Attempts())
	assert.Len(t, b.requests(), 1)
}

func TestRun_NonJSONServerErrorIsTerminal(t *testing.T) {
	b := newBackend(t, reply{status: http.StatusBadGateway, body: "<html>bad gateway</html>"})
	s := &sleeper{}
	e := newTestEngine(t, b, s)

	evs := drain(t, startRun(t, context.Background(), e))

	assert.Empty(t, ofType(evs, event.Retry))
	assert.Equal(t, event.FinishError, evs[len(evs)-1].Reason)
	assert.Len(t, b.requests(), 1)
}

func TestRun_MaxAttempts(t *testing.T) {
	b := newBackend(t, reply{
		status: http.StatusServiceUnavailable,
		body:   `{"error":{"message":"try later"}}`,
	})
	s := &sleeper{}
	e := newTestEngine(t, b, s, func(c *Config) { c.Retry.MaxAttempts = 3 })

	r := startRun(t, context.Background(), e)
	evs := drain(t, r)

	assert.Len(t, ofType(evs, event.Retry), 2)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, s.waits)
	assert.Equal(t, 3, r.Attempts())
	assert.Len(t, b.requests(), 3)

	require.Len(t, ofType(evs, event.Error), 1)
	assert.Equal(t, event.FinishError, evs[len(evs)-1].Reason)
}

func TestRun_AbortDuringBackoff(t *testing.T) {
	b := newBackend(t, reply{
		status: http.StatusServiceUnavailable,
		body:   `{"error":{"message":"try later"}}`,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	waits := 0
	sleep := func(ctx context.Context, _ time.Duration) error {
		waits++
		cancel()
		return ctx.Err()
	}

	e, err := New(testConfig(b.srv.URL), WithHTTPClient(b.srv.Client()), WithSleep(sleep))
	require.NoError(t, err)

	evs := drain(t, startRun(t, ctx, e))

	assert.Equal(t, 1, waits)
	assert.Len(t, b.requests(), 1, "a cancelled wait never resends")
	assert.Len(t, ofType(evs, event.Retry), 1)
	assert.Empty(t, ofType(evs, event.Error))
	assert.Equal(t, event.FinishAborted, evs[len(evs)-1].Reason)
}

func TestRun_CancelledBeforeSend(t *testing.T) {
	b := newBackend(t, ok(sse(helloChunk1, helloChunk2)))
	s := &sleeper{}
	e := newTestEngine(t, b, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	evs := drain(t, startRun(t, ctx, e))

	require.Len(t, evs, 2)
	assert.Equal(t, event.StreamStart, evs[0].Type)
	assert.Equal(t, event.FinishAborted, evs[1].Reason)
	assert.Empty(t, s.waits)
}

func TestRun_EncodeErrorIsFatal(t *testing.T) {
	b := newBackend(t, ok(sse(helloChunk1)))
	e := newTestEngine(t, b, &sleeper{})

	m, err := e.Model("oa/gpt-test")
	require.NoError(t, err)

	msgs := []message.Message{
		message.NewText("user", role.User, "read it"),
		message.New("", role.Assistant, content.ToolCall{Name: "read", Arguments: `{}`}),
	}

	_, err = e.Run(context.Background(), m, msgs, nil)
	require.ErrorIs(t, err, transcript.ErrMissingToolCallID)
	assert.Empty(t, b.requests())
}

func TestRun_Close(t *testing.T) {
	b := newBackend(t, ok(sse(helloChunk1, helloChunk2)))
	e := newTestEngine(t, b, &sleeper{})

	r := startRun(t, context.Background(), e)
	ev, err := r.Recv()
	require.NoError(t, err)
	assert.Equal(t, event.StreamStart, ev.Type)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Recv()
	assert.ErrorIs(t, err, modeladapter.ErrStreamClosed)
}
