package transcript_test

import (
	"fmt"
	"testing"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/modeladapter/transcript"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = model.Model{
	Provider:     "anthropic",
	ID:           "claude-x",
	Capabilities: model.Capabilities{Attachments: true},
}

func assistant(parts ...content.Part) message.Message {
	m := message.New("bot", role.Assistant, parts...)
	m.Provider, m.Model = target.Provider, target.ID
	return m
}

func roles(turns []transcript.Turn) []role.Role {
	out := make([]role.Role, len(turns))
	for i, t := range turns {
		out[i] = t.Role
	}
	return out
}

func TestNormalize_PairsResultsAfterCalls(t *testing.T) {
	msgs := []message.Message{
		message.NewText("u", role.User, "read a"),
		assistant(
			content.Text{Text: "sure"},
			content.ToolCall{ID: "c1", Name: "read", Arguments: `{"p":"a"}`, State: content.ToolCompleted},
		),
		message.New("tool", role.Tool, content.ToolResult{ToolCallID: "c1", Content: "A"}),
		assistant(content.Text{Text: "done"}),
	}

	turns, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)
	assert.Equal(t, []role.Role{role.User, role.Assistant, role.Tool, role.Assistant}, roles(turns))

	res, ok := turns[2].ToolResult()
	require.True(t, ok)
	assert.Equal(t, "c1", res.ToolCallID)
	assert.Equal(t, "read", res.Name)
	assert.Equal(t, "A", res.Content)
}

func TestNormalize_InterruptedCalls(t *testing.T) {
	msgs := []message.Message{
		message.NewText("u", role.User, "go"),
		assistant(
			content.ToolCall{ID: "p", Name: "a", State: content.ToolPending},
			content.ToolCall{ID: "r", Name: "b", State: content.ToolRunning},
			content.ToolCall{ID: "m", Name: "c", State: content.ToolCompleted},
		),
		message.New("tool", role.Tool, content.ToolResult{ToolCallID: "p", Content: "late"}),
	}

	turns, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)
	require.Len(t, turns, 5)

	for i, id := range []string{"p", "r", "m"} {
		res, ok := turns[2+i].ToolResult()
		require.True(t, ok)
		assert.Equal(t, id, res.ToolCallID)
		assert.Equal(t, transcript.InterruptedPlaceholder, res.Content)
		assert.True(t, res.IsError)
	}

	calls := turns[1].Parts
	assert.Equal(t, "{}", calls[0].(content.ToolCall).Arguments)
}

func TestNormalize_MalformedArguments(t *testing.T) {
	msgs := []message.Message{
		message.NewText("u", role.User, "go"),
		assistant(
			content.ToolCall{ID: "cut", Name: "read", Arguments: `{"path": "/tm`, State: content.ToolCompleted},
			content.ToolCall{ID: "fine", Name: "read", Arguments: `{"path":"/a"}`, State: content.ToolCompleted},
		),
		message.New("tool", role.Tool,
			content.ToolResult{ToolCallID: "cut", Content: "?"},
			content.ToolResult{ToolCallID: "fine", Content: "A"},
		),
	}

	turns, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)

	calls := turns[1].Parts
	assert.Equal(t, "{}", calls[0].(content.ToolCall).Arguments)
	assert.Equal(t, `{"path":"/a"}`, calls[1].(content.ToolCall).Arguments)
}

func TestNormalize_CompactedResult(t *testing.T) {
	msgs := []message.Message{
		assistant(content.ToolCall{ID: "c1", Name: "ls", State: content.ToolCompleted}),
		message.New("tool", role.Tool, content.ToolResult{ToolCallID: "c1", Content: "huge listing", Compacted: true}),
	}

	turns, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)

	res, ok := turns[1].ToolResult()
	require.True(t, ok)
	assert.Equal(t, transcript.CompactedPlaceholder, res.Content)
}

func TestNormalize_SplitsAtStepBoundary(t *testing.T) {
	msgs := []message.Message{
		assistant(
			content.Reasoning{Text: "plan", Signature: "s1"},
			content.ToolCall{ID: "c1", Name: "a", State: content.ToolCompleted},
			content.StepBoundary{},
			content.Text{Text: "result is "},
			content.Text{Text: "ready"},
		),
		message.New("tool", role.Tool, content.ToolResult{ToolCallID: "c1", Content: "ok"}),
	}

	turns, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)
	assert.Equal(t, []role.Role{role.Assistant, role.Tool, role.Assistant}, roles(turns))

	assert.Equal(t, "s1", turns[0].Parts[0].(content.Reasoning).Signature)
	require.Len(t, turns[2].Parts, 1)
	assert.Equal(t, "result is ready", turns[2].Text())
}

func TestNormalize_StripsOpaqueDataFromOtherModels(t *testing.T) {
	other := assistant(
		content.Reasoning{Text: "think", Signature: "sig", Metadata: map[string]string{"itemId": "rs_1"}},
		content.Reasoning{Signature: "only-sig"},
		content.ToolCall{ID: "c1", Name: "a", State: content.ToolCompleted, Metadata: map[string]string{"thoughtSignature": "t"}},
	)
	other.Model = "another-model"

	turns, err := transcript.Normalize([]message.Message{other}, target)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	parts := turns[0].Parts
	require.Len(t, parts, 2)
	r := parts[0].(content.Reasoning)
	assert.Equal(t, "think", r.Text)
	assert.Empty(t, r.Signature)
	assert.Empty(t, r.Metadata)
	assert.Empty(t, parts[1].(content.ToolCall).Metadata)

	same, err := transcript.Normalize([]message.Message{assistant(content.Reasoning{Signature: "keep"})}, target)
	require.NoError(t, err)
	require.Len(t, same, 1)
	assert.Equal(t, "keep", same[0].Parts[0].(content.Reasoning).Signature)
}

func TestNormalize_DropsEmptyAndFailedTurns(t *testing.T) {
	failed := assistant(content.Text{Text: "half"})
	failed.Error = &message.TurnError{Message: "overloaded"}

	abortedEmpty := assistant(content.Reasoning{Text: "x"}, content.StepBoundary{})
	abortedEmpty.Error = &message.TurnError{Aborted: true}

	aborted := assistant(content.Text{Text: "partial"})
	aborted.Error = &message.TurnError{Aborted: true}

	msgs := []message.Message{
		message.New("u", role.User, content.Text{Text: "hidden", Ignored: true}),
		message.New("u", role.User),
		assistant(content.StepBoundary{}),
		failed,
		abortedEmpty,
		aborted,
		message.NewText("u", role.User, "next"),
	}

	turns, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)
	assert.Equal(t, []role.Role{role.Assistant, role.User}, roles(turns))
	assert.Equal(t, "partial", turns[0].Text())
}

func TestNormalize_Markers(t *testing.T) {
	msgs := []message.Message{
		message.New("u", role.User, content.CompactionMarker{Auto: true}),
		message.New("u", role.User, content.SubtaskMarker{Agent: "explore"}),
	}

	turns, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, transcript.CompactionPrompt, turns[0].Text())
	assert.Equal(t, transcript.SubtaskPrompt, turns[1].Text())
}

func TestNormalize_MissingCallID(t *testing.T) {
	_, err := transcript.Normalize([]message.Message{
		assistant(content.ToolCall{Name: "a"}),
	}, target)
	require.ErrorIs(t, err, transcript.ErrMissingToolCallID)
}

func TestNormalize_Files(t *testing.T) {
	img := content.File{MediaType: "image/png", Filename: "a.png", URL: "data:image/png;base64,aGk="}
	msgs := []message.Message{message.New("u", role.User, content.Text{Text: "look"}, img)}

	turns, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)
	f := turns[0].Parts[1].(content.File)
	assert.Equal(t, []byte("hi"), f.Data)
	assert.Empty(t, f.URL)

	noFiles := target
	noFiles.Capabilities.Attachments = false
	turns, err = transcript.Normalize(msgs, noFiles)
	require.NoError(t, err)
	require.Len(t, turns[0].Parts, 1)
	assert.Contains(t, turns[0].Text(), "Cannot read a.png")
}

func TestNormalize_ResultMediaWithoutAttachments(t *testing.T) {
	noFiles := target
	noFiles.Capabilities.Attachments = false

	msgs := []message.Message{
		assistant(content.ToolCall{ID: "c1", Name: "screenshot", State: content.ToolCompleted}),
		message.New("tool", role.Tool, content.ToolResult{
			ToolCallID: "c1",
			Content:    "captured",
			Media:      []content.File{{MediaType: "image/png", Filename: "s.png", Data: []byte{1}}},
		}),
	}

	turns, err := transcript.Normalize(msgs, noFiles)
	require.NoError(t, err)

	res, _ := turns[1].ToolResult()
	assert.Empty(t, res.Media)
	assert.Contains(t, res.Content, "captured")
	assert.Contains(t, res.Content, "Cannot read s.png")
}

func TestNormalize_Deterministic(t *testing.T) {
	msgs := []message.Message{
		message.NewText("s", role.System, "be brief"),
		message.NewText("u", role.User, "hi"),
		assistant(content.ToolCall{ID: "c1", Name: "a", State: content.ToolCompleted}),
		message.New("tool", role.Tool, content.ToolResult{ToolCallID: "c1", Content: "x"}),
	}

	a, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)
	b, err := transcript.Normalize(msgs, target)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// Every emitted call is answered by exactly one tool turn, in call order,
// directly after the assistant turn that made it, whatever state the calls
// were persisted in and whether or not results exist.
func TestNormalize_PairingProperty(t *testing.T) {
	states := []content.ToolState{"", content.ToolPending, content.ToolRunning, content.ToolCompleted, content.ToolError}

	properties := gopter.NewProperties(nil)
	properties.Property("each call has exactly one following result", prop.ForAll(
		func(stateIdx []int, hasResult []bool) bool {
			var parts []content.Part
			var results []content.Part
			for i, s := range stateIdx {
				id := fmt.Sprintf("c%d", i)
				parts = append(parts, content.ToolCall{ID: id, Name: "t", State: states[s]})
				if i < len(hasResult) && hasResult[i] {
					results = append(results, content.ToolResult{ToolCallID: id, Content: "r"})
				}
			}
			msgs := []message.Message{
				message.NewText("u", role.User, "go"),
				assistant(parts...),
				message.New("tool", role.Tool, results...),
			}

			turns, err := transcript.Normalize(msgs, target)
			if err != nil {
				return false
			}

			if len(parts) == 0 {
				return len(turns) == 1
			}
			if len(turns) != 2+len(parts) || turns[1].Role != role.Assistant {
				return false
			}
			for i := range parts {
				res, ok := turns[2+i].ToolResult()
				if !ok || res.ToolCallID != fmt.Sprintf("c%d", i) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(states)-1)),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
