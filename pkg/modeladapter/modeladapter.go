package modeladapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/modeladapter/usage"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/germanamz/switchboard/pkg/tools/toolbox"
)

// maxErrorBody caps how much of a failed response body is kept for diagnostics.
const maxErrorBody = 1 << 20

// Prompt is everything an adapter needs to encode one request.
type Prompt struct {
	Model    model.Model
	Messages []message.Message
	Tools    []toolbox.Tool
}

// Request is an encoded, frozen wire request. The orchestrator sends the same
// Request on every retry; adapters must not mutate it.
type Request struct {
	Model    model.Model
	Path     string
	Body     []byte
	Warnings []string
}

// Adapter implements one wire-protocol family. Encode is pure and
// deterministic; Stream performs the network call and returns a lazy decoder
// over the response.
type Adapter interface {
	Encode(p Prompt) (*Request, error)
	Stream(ctx context.Context, req *Request) (Streamer, error)
}

// UsageReporter provides token usage information from an adapter.
// Adapters that embed ModelAdapter implement this interface automatically.
type UsageReporter interface {
	UsageTracker() *usage.Tracker
}

// Auth holds authentication settings for an LLM provider API.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// ModelAdapter holds shared state for adapter implementations. Embed it in
// concrete adapter structs to get HTTP and WebSocket helpers, auth, custom
// headers, error classification data and usage tracking.
type ModelAdapter struct {
	Provider     string                // Backend id used in errors (e.g. "anthropic").
	Auth         Auth                  // Authentication settings.
	BaseURL      string                // API base URL (no trailing slash).
	Client       *http.Client          // HTTP client; falls back to a default streaming client.
	Headers      map[string]string     // Extra headers applied to every request.
	Transient    StatusSet             // HTTP statuses this backend uses for transient failures.
	Usage        usage.Tracker         // Token usage tracker.
	HeaderParser RateLimitHeaderParser // Optional parser for rate limit response headers.

	rateLimitInfo atomic.Pointer[RateLimitInfo]
	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to a default client at call time.
func New(provider, baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Provider: provider,
		Auth:     auth,
		BaseURL:  baseURL,
		Client:   client,
	}
}

// UsageTracker returns the adapter's token usage tracker.
func (a *ModelAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

// LastRateLimitInfo returns the most recently observed rate limit info, or nil.
func (a *ModelAdapter) LastRateLimitInfo() *RateLimitInfo { return a.rateLimitInfo.Load() }

// httpClient returns the configured client or a cached default client. The
// default has no overall timeout because long reasoning streams routinely
// outlive any fixed deadline; cancellation comes from the request context.
func (a *ModelAdapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	a.clientOnce.Do(func() {
		a.defaultClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 10 * time.Minute,
				IdleConnTimeout:       90 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		}
	})

	return a.defaultClient
}

// applyAuth sets the auth header and custom headers on h.
func (a *ModelAdapter) applyAuth(h http.Header) {
	if a.Auth.Key != "" {
		header := a.Auth.Header
		if header == "" {
			header = "Authorization"
		}

		value := a.Auth.Key
		if header == "Authorization" {
			scheme := a.Auth.Scheme
			if scheme == "" {
				scheme = "Bearer"
			}

			value = scheme + " " + value
		} else if a.Auth.Scheme != "" {
			value = a.Auth.Scheme + " " + value
		}

		h.Set(header, value)
	}

	for k, v := range a.Headers {
		h.Set(k, v)
	}
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	a.applyAuth(req.Header)

	return req, nil
}

// Do sends the request using the configured HTTP client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.httpClient().Do(req) //nolint:gosec // URL is built from trusted BaseURL config, not user input.
}

// OpenStream POSTs the frozen request body and returns the response once
// headers arrive. A non-2xx response is read in full and returned as an
// *APIError; the caller owns the body of a successful response.
func (a *ModelAdapter) OpenStream(ctx context.Context, req *Request) (*http.Response, error) {
	httpReq, err := a.NewRequest(ctx, http.MethodPost, req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", a.Provider, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w", a.Provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, a.statusError(resp, body)
	}

	a.observeHeaders(resp.Header)

	return resp, nil
}

func (a *ModelAdapter) statusError(resp *http.Response, body []byte) *APIError {
	return &APIError{
		Provider:   a.Provider,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Transient:  a.Transient.Has(resp.StatusCode),
	}
}

// observeHeaders parses and stores rate limit info from response headers.
func (a *ModelAdapter) observeHeaders(h http.Header) {
	if a.HeaderParser == nil {
		return
	}
	if info := a.HeaderParser(h, time.Now()); info != nil {
		a.rateLimitInfo.Store(info)
	}
}

// StreamError wraps an error envelope received inside an otherwise successful
// stream.
func (a *ModelAdapter) StreamError(body []byte) *APIError {
	return &APIError{Provider: a.Provider, Body: bytes.TrimSpace(body)}
}

// wsURL converts the BaseURL to a WebSocket URL and appends the path.
// https becomes wss, http becomes ws. URLs that already use ws/wss are
// left unchanged.
func (a *ModelAdapter) wsURL(path string) string {
	u := a.BaseURL + path

	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[len("https://"):]
	}

	if strings.HasPrefix(u, "http://") {
		return "ws://" + u[len("http://"):]
	}

	return u
}

// DialWS establishes a WebSocket connection to the given path with auth and
// custom headers applied. The URL scheme is derived from BaseURL: https
// becomes wss, http becomes ws. A rejected handshake is returned as an
// *APIError so it classifies like any other HTTP failure.
func (a *ModelAdapter) DialWS(ctx context.Context, path string) (*websocket.Conn, error) {
	h := make(http.Header)
	a.applyAuth(h)

	conn, resp, err := websocket.Dial(ctx, a.wsURL(path), &websocket.DialOptions{
		HTTPClient: a.httpClient(),
		HTTPHeader: h,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols && resp.StatusCode != 0 {
			var body []byte
			if resp.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			}
			return nil, a.statusError(resp, body)
		}
		return nil, fmt.Errorf("%s: dial websocket: %w", a.Provider, err)
	}

	if resp != nil {
		a.observeHeaders(resp.Header)
	}

	return conn, nil
}
