package anthropic

import (
	"bytes"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/germanamz/switchboard/pkg/modeladapter"
)

// eventSource frames the message stream with the SDK's SSE decoder, which
// keeps the event name each payload arrived under.
type eventSource struct {
	dec ssestream.Decoder
}

func newEventSource(resp *http.Response) modeladapter.FrameSource {
	return &eventSource{dec: ssestream.NewDecoder(resp)}
}

func (s *eventSource) Next() bool {
	for s.dec.Next() {
		if len(bytes.TrimSpace(s.dec.Event().Data)) == 0 {
			continue
		}
		return true
	}
	return false
}

func (s *eventSource) Frame() modeladapter.Frame {
	ev := s.dec.Event()
	return modeladapter.Frame{Event: ev.Type, Data: bytes.TrimSpace(ev.Data)}
}

func (s *eventSource) Err() error   { return s.dec.Err() }
func (s *eventSource) Close() error { return s.dec.Close() }
