// Package model describes the models adapters can target: which backend
// serves them, which wire family they speak, and what they support.
package model

import "strings"

// Family names a wire-protocol family. Each family has one adapter package.
type Family string

const (
	ChatCompletions Family = "chat-completions"
	Responses       Family = "responses"
	Messages        Family = "messages"
	Generate        Family = "generate"
)

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	switch f {
	case ChatCompletions, Responses, Messages, Generate:
		return true
	}
	return false
}

// Capabilities declares which optional request features a model accepts.
type Capabilities struct {
	Reasoning   bool `yaml:"reasoning"`
	ToolCalls   bool `yaml:"tool_calls"`
	Temperature bool `yaml:"temperature"`
	Attachments bool `yaml:"attachments"`
}

// Limits holds token limits. Zero means unknown.
type Limits struct {
	Context int `yaml:"context"`
	Input   int `yaml:"input"`
	Output  int `yaml:"output"`
}

// Reasoning configures extended thinking for models that support it.
type Reasoning struct {
	Effort       string `yaml:"effort"`
	BudgetTokens int    `yaml:"budget_tokens"`
}

// Model holds provider-agnostic LLM configuration.
// Provider is the backend id (the configured provider name) and ID is the
// model id sent on the wire. Zero Temperature and MaxTokens mean "use
// provider default".
type Model struct {
	Provider     string       `yaml:"provider"`
	ID           string       `yaml:"id"`
	Family       Family       `yaml:"family"`
	Capabilities Capabilities `yaml:"capabilities"`
	Limits       Limits       `yaml:"limits"`
	Temperature  float64      `yaml:"temperature"`
	MaxTokens    int          `yaml:"max_tokens"`
	Reasoning    Reasoning    `yaml:"reasoning"`
}

// Ref returns the "provider/id" reference for the model.
func (m Model) Ref() string {
	return m.Provider + "/" + m.ID
}

// Same reports whether m is served by the given backend under the given id.
func (m Model) Same(provider, id string) bool {
	return m.Provider == provider && m.ID == id
}

// OutputTokens returns the max output tokens to request: the explicit
// MaxTokens, else the output limit, else fallback.
func (m Model) OutputTokens(fallback int) int {
	switch {
	case m.MaxTokens > 0:
		return m.MaxTokens
	case m.Limits.Output > 0:
		return m.Limits.Output
	default:
		return fallback
	}
}

// SplitRef splits "provider/id" into its parts. Model ids may themselves
// contain slashes (e.g. "openrouter/anthropic/claude-sonnet-4"); only the
// first slash separates the provider.
func SplitRef(ref string) (provider, id string, ok bool) {
	provider, id, ok = strings.Cut(ref, "/")
	if !ok || provider == "" || id == "" {
		return "", "", false
	}
	return provider, id, true
}
