package modeladapter

import (
	"context"
	"errors"
	"io"

	"github.com/germanamz/switchboard/pkg/chats/event"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("modeladapter: stream closed")

// Streamer is a lazy, single-pass sequence of canonical events. Recv returns
// io.EOF after the finish event has been delivered.
type Streamer interface {
	Recv() (event.Event, error)
	Close() error
}

// Frame is one wire-level unit: an SSE event or a WebSocket message.
type Frame struct {
	Event string
	Data  []byte
}

// FrameSource yields frames from a response body or connection.
type FrameSource interface {
	Next() bool
	Frame() Frame
	Err() error
	Close() error
}

// FrameHandler decodes frames of one wire family into Emitter calls.
type FrameHandler interface {
	// HandleFrame processes one frame. Returning an error ends the stream
	// with an error finish.
	HandleFrame(f Frame, em *Emitter) error
	// Done is called when the source ends cleanly and the handler has not
	// finished the stream itself.
	Done(em *Emitter)
}

// Stream drives a FrameSource through a FrameHandler and hands out the
// resulting events one at a time. Reads happen only when no decoded event is
// pending, so events are delivered as soon as their frame is parsed.
type Stream struct {
	ctx     context.Context
	src     FrameSource
	handler FrameHandler
	em      *Emitter
	done    bool
	closed  bool
}

var _ Streamer = (*Stream)(nil)

// NewStream starts decoding src with handler. Warnings are carried on the
// stream-start event.
func NewStream(ctx context.Context, src FrameSource, handler FrameHandler, warnings ...string) *Stream {
	em := NewEmitter()
	em.Start(warnings...)

	return &Stream{ctx: ctx, src: src, handler: handler, em: em}
}

// Emitter exposes the stream's state machine, mainly for tests.
func (s *Stream) Emitter() *Emitter { return s.em }

// Recv returns the next event. After the finish event it returns io.EOF.
func (s *Stream) Recv() (event.Event, error) {
	for {
		if s.closed {
			return event.Event{}, ErrStreamClosed
		}
		if ev, ok := s.em.Pop(); ok {
			return ev, nil
		}
		if s.done || s.em.Finished() {
			s.release()
			return event.Event{}, io.EOF
		}
		s.step()
	}
}

// step reads one frame, or ends the stream if the source is exhausted.
func (s *Stream) step() {
	if !s.src.Next() {
		s.done = true
		switch err := s.src.Err(); {
		case s.ctx.Err() != nil:
			s.em.Abort()
		case err != nil:
			s.em.Fail(err)
		default:
			s.handler.Done(s.em)
			s.em.Finish("", event.Usage{}, nil)
		}
		return
	}

	if err := s.handler.HandleFrame(s.src.Frame(), s.em); err != nil {
		s.done = true
		if s.ctx.Err() != nil {
			s.em.Abort()
			return
		}
		s.em.Fail(err)
	}
}

func (s *Stream) release() {
	if s.src != nil {
		_ = s.src.Close()
		s.src = nil
	}
}

// Close releases the underlying connection. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.src == nil {
		return nil
	}
	err := s.src.Close()
	s.src = nil
	return err
}
