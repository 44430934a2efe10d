// Package providers holds one adapter package per wire-protocol family.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/switchboard/pkg/providers/model]: model descriptors and the read-only registry
//   - [github.com/germanamz/switchboard/pkg/providers/openai]: chunked-delta chat completions and its dialects
//   - [github.com/germanamz/switchboard/pkg/providers/grok]: xAI preset of the chat completions family
//   - [github.com/germanamz/switchboard/pkg/providers/responses]: typed-event response streams
//   - [github.com/germanamz/switchboard/pkg/providers/anthropic]: typed-event message streams
//   - [github.com/germanamz/switchboard/pkg/providers/gemini]: candidate-based generation streams
//
// Every adapter implements [github.com/germanamz/switchboard/pkg/modeladapter.Adapter].
package providers
