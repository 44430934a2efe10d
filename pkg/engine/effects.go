package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/germanamz/switchboard/pkg/chats/chat"
	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/role"
)

// Effect rewrites a session's conversation before each turn is sent.
type Effect func(c *chat.Chat)

// EffectFactory constructs an Effect from its YAML params.
type EffectFactory func(params map[string]any) (Effect, error)

// effectFactories maps effect kind strings to their constructors.
var effectFactories = map[string]EffectFactory{
	"compact_tool_results": buildCompactToolResults,
	"trim_tool_results":    buildTrimToolResults,
}

const trimSuffix = "… [trimmed]"

// buildEffects constructs all effects from config.
func buildEffects(ecs []EffectConfig) ([]Effect, error) {
	if len(ecs) == 0 {
		return nil, nil
	}

	effs := make([]Effect, 0, len(ecs))
	for i, ec := range ecs {
		factory, ok := effectFactories[ec.Kind]
		if !ok {
			return nil, fmt.Errorf("engine: effect[%d]: unknown kind %q", i, ec.Kind)
		}

		eff, err := factory(ec.Params)
		if err != nil {
			return nil, fmt.Errorf("engine: effect[%d] (%s): %w", i, ec.Kind, err)
		}

		effs = append(effs, eff)
	}

	return effs, nil
}

// intParam reads an integer param, accepting YAML ints and JSON-style floats.
func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case float64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}

// buildCompactToolResults marks tool results older than the last keep
// messages as compacted, so they are sent as a fixed placeholder.
func buildCompactToolResults(params map[string]any) (Effect, error) {
	keep, err := intParam(params, "keep", 10)
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative, got %d", keep)
	}

	return func(c *chat.Chat) { c.CompactToolResults(keep) }, nil
}

// buildTrimToolResults cuts successful tool results longer than max_chars,
// leaving the last preserve_recent tool messages whole.
func buildTrimToolResults(params map[string]any) (Effect, error) {
	maxChars, err := intParam(params, "max_chars", 500)
	if err != nil {
		return nil, err
	}
	preserve, err := intParam(params, "preserve_recent", 4)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 || preserve < 0 {
		return nil, fmt.Errorf("max_chars must be positive and preserve_recent not negative")
	}

	return func(c *chat.Chat) {
		// Results in the last preserve tool messages stay whole.
		upto, left := c.Len(), preserve
		for i := c.Len() - 1; i >= 0 && left > 0; i-- {
			if c.At(i).Role == role.Tool {
				upto = i
				left--
			}
		}
		if left > 0 {
			return
		}

		c.RewriteToolResults(upto, func(tr content.ToolResult) (content.ToolResult, bool) {
			if tr.IsError || strings.HasSuffix(tr.Content, trimSuffix) || utf8.RuneCountInString(tr.Content) <= maxChars {
				return tr, false
			}
			tr.Content = string([]rune(tr.Content)[:maxChars]) + trimSuffix
			return tr, true
		})
	}, nil
}
