// Package modeladapter defines the adapter contract shared by every wire
// family and the machinery adapters have in common.
//
// It contains:
//   - [Adapter] and [Streamer] interfaces, [Prompt] and the frozen [Request]
//   - embeddable [ModelAdapter] base struct with HTTP and WebSocket helpers, auth, and custom headers
//   - [APIError] and the retry policy: [Retryable], [Delay], [Sleep]
//   - [Emitter], the block state machine that enforces canonical event ordering
//   - [Stream], which drives a [FrameSource] through a family-specific [FrameHandler]
//   - [Throttle] for proactive request pacing
//   - [github.com/germanamz/switchboard/pkg/modeladapter/transcript]: provider-neutral message normalization
//   - [github.com/germanamz/switchboard/pkg/modeladapter/usage]: thread-safe token usage tracker
//
// This package contains no provider-specific code. Concrete adapters live in
// separate packages that import modeladapter.
package modeladapter
