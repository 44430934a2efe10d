package modeladapter

import (
	"bytes"
	"net/http"

	"github.com/openai/openai-go/packages/ssestream"
)

// sseSource adapts an SSE decoder to FrameSource.
type sseSource struct {
	dec ssestream.Decoder
}

// NewSSESource frames a text/event-stream response body into SSE events.
func NewSSESource(resp *http.Response) FrameSource {
	return &sseSource{dec: ssestream.NewDecoder(resp)}
}

func (s *sseSource) Next() bool {
	for s.dec.Next() {
		// Comment-only and keep-alive events carry no data.
		if len(bytes.TrimSpace(s.dec.Event().Data)) == 0 {
			continue
		}
		return true
	}
	return false
}

func (s *sseSource) Frame() Frame {
	ev := s.dec.Event()
	return Frame{Event: ev.Type, Data: bytes.TrimSpace(ev.Data)}
}

func (s *sseSource) Err() error   { return s.dec.Err() }
func (s *sseSource) Close() error { return s.dec.Close() }

// IsDone reports whether data is the "[DONE]" sentinel that ends
// OpenAI-style streams.
func IsDone(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]"))
}
