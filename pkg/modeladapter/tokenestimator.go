package modeladapter

import (
	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/tools/toolbox"
)

const (
	// messageOverhead covers the role and delimiters every family wraps a
	// message in.
	messageOverhead = 4
	// toolOverhead covers the function object around a tool declaration.
	toolOverhead = 10
	// attachmentTokens is charged flat for every file or media block.
	attachmentTokens = 1000
	// defaultCharsPerToken is the usual ratio for English text.
	defaultCharsPerToken = 4
)

// TokenEstimator guesses the input size of a prompt without a tokenizer.
// It is only good for warnings and budgeting, never for billing. The zero
// value uses four characters per token.
type TokenEstimator struct {
	// CharsPerToken overrides the text ratio when positive.
	CharsPerToken int
}

func (e *TokenEstimator) tokens(chars int) int {
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = defaultCharsPerToken
	}
	return (chars + ratio - 1) / ratio
}

// part estimates one part. Ignored parts and compacted results cost nothing.
func (e *TokenEstimator) part(p content.Part) int {
	if content.Ignored(p) {
		return 0
	}

	switch v := p.(type) {
	case content.Text:
		return e.tokens(len(v.Text))
	case content.Reasoning:
		return e.tokens(len(v.Text))
	case content.ToolCall:
		return e.tokens(len(v.ID) + len(v.Name) + len(v.Arguments))
	case content.ToolResult:
		if v.Compacted {
			return 0
		}
		return e.tokens(len(v.ToolCallID)+len(v.Output())) + len(v.Media)*attachmentTokens
	case content.File:
		return attachmentTokens
	}
	return 0
}

// EstimateMessages estimates the tokens the history costs.
func (e *TokenEstimator) EstimateMessages(msgs []message.Message) int {
	n := 0
	for _, m := range msgs {
		n += messageOverhead
		for _, p := range m.Parts {
			n += e.part(p)
		}
	}
	return n
}

// EstimateTools estimates the tokens the tool declarations cost.
func (e *TokenEstimator) EstimateTools(tools []toolbox.Tool) int {
	n := 0
	for _, t := range tools {
		n += e.tokens(len(t.Name)+len(t.Description)+len(t.InputSchema)) + toolOverhead
	}
	return n
}

// EstimatePrompt estimates the whole prompt.
func (e *TokenEstimator) EstimatePrompt(p Prompt) int {
	return e.EstimateMessages(p.Messages) + e.EstimateTools(p.Tools)
}

// Exceeds reports the estimate for p and whether it is over the model's
// input limit. An unknown limit is never exceeded.
func (e *TokenEstimator) Exceeds(p Prompt) (int, bool) {
	n := e.EstimatePrompt(p)
	return n, p.Model.Limits.Input > 0 && n > p.Model.Limits.Input
}
