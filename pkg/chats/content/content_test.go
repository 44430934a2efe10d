package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPart_Kinds(t *testing.T) {
	parts := []Part{
		Text{Text: "hi"},
		File{URL: "u"},
		ToolCall{ID: "1"},
		ToolResult{ToolCallID: "1"},
		Reasoning{Text: "thinking"},
		StepBoundary{},
		CompactionMarker{},
		SubtaskMarker{},
	}

	expected := []string{"text", "file", "tool_call", "tool_result", "reasoning", "step_boundary", "compaction", "subtask"}
	for i, p := range parts {
		assert.Equal(t, expected[i], p.PartKind())
	}
}

func TestIgnored(t *testing.T) {
	assert.True(t, Ignored(Text{Text: "x", Ignored: true}))
	assert.True(t, Ignored(ToolCall{ID: "1", Ignored: true}))
	assert.False(t, Ignored(Text{Text: "x"}))
	assert.False(t, Ignored(StepBoundary{}))
}

func TestToolState_Terminal(t *testing.T) {
	assert.False(t, ToolPending.Terminal())
	assert.False(t, ToolRunning.Terminal())
	assert.False(t, ToolState("").Terminal())
	assert.True(t, ToolCompleted.Terminal())
	assert.True(t, ToolError.Terminal())
}

func TestFile_Inline_DataURI(t *testing.T) {
	f, err := File{URL: "data:image/png;base64,aGVsbG8="}.Inline()
	require.NoError(t, err)

	assert.Equal(t, "image/png", f.MediaType)
	assert.Equal(t, []byte("hello"), f.Data)
	assert.Empty(t, f.URL)
	assert.Equal(t, "aGVsbG8=", f.Base64())
}

func TestFile_Inline_PlainDataURI(t *testing.T) {
	f, err := File{URL: "data:text/plain,hi", MediaType: "text/markdown"}.Inline()
	require.NoError(t, err)

	assert.Equal(t, "text/markdown", f.MediaType)
	assert.Equal(t, []byte("hi"), f.Data)
}

func TestFile_Inline_Malformed(t *testing.T) {
	_, err := File{URL: "data:image/png;base64"}.Inline()
	require.Error(t, err)
}

func TestFile_Remote(t *testing.T) {
	assert.True(t, File{URL: "https://example.com/a.png"}.Remote())
	assert.False(t, File{URL: "https://example.com/a.png", Data: []byte("x")}.Remote())
	assert.False(t, File{URL: "data:image/png;base64,AA=="}.Remote())
}

func TestToolResult_Output(t *testing.T) {
	assert.Equal(t, "plain", ToolResult{Content: "plain", Structured: `{"a":1}`}.Output())
	assert.Equal(t, `{"a":1}`, ToolResult{Structured: `{"a":1}`}.Output())
}

func TestReasoning_Opaque(t *testing.T) {
	assert.False(t, Reasoning{Text: "t"}.Opaque())
	assert.True(t, Reasoning{Signature: "sig"}.Opaque())
	assert.True(t, Reasoning{Metadata: map[string]string{"redactedData": "x"}}.Opaque())
}

func TestFile_DataURI(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,aGk=", File{MediaType: "image/png", Data: []byte("hi")}.DataURI())
	assert.Equal(t, "https://example.com/a.png", File{URL: "https://example.com/a.png"}.DataURI())
}
