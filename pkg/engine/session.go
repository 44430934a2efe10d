package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/germanamz/switchboard/pkg/chats/chat"
	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/providers/model"
	"github.com/germanamz/switchboard/pkg/tools/toolbox"
)

// Handler observes the events of a turn as they arrive.
type Handler func(event.Event)

// Session represents one conversation with a model. It owns a chat and the
// tools declared to the model. Only one Send call may be active at a time.
type Session struct {
	id    string
	eng   *Engine
	chat  *chat.Chat
	tools *toolbox.ToolBox

	mu     sync.Mutex
	model  model.Model
	active bool
}

// newSession creates a session with the given ID, engine, model and chat.
func newSession(id string, e *Engine, m model.Model, c *chat.Chat, tools *toolbox.ToolBox) *Session {
	return &Session{
		id:    id,
		eng:   e,
		chat:  c,
		tools: tools,
		model: m,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Chat returns the underlying conversation.
func (s *Session) Chat() *chat.Chat { return s.chat }

// Tools returns the tools declared on every turn. Tools registered between
// turns are declared from the next turn on.
func (s *Session) Tools() *toolbox.ToolBox { return s.tools }

// Model returns the model the next turn is sent to.
func (s *Session) Model() model.Model {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.model
}

// SetModel switches the model used for later turns. Opaque reasoning from
// earlier turns is only replayed to the model that produced it.
func (s *Session) SetModel(m model.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.model = m
}

// Send appends a text message from the user and runs one turn.
func (s *Session) Send(ctx context.Context, text string) (message.Message, error) {
	return s.SendParts(ctx, nil, content.Text{Text: text})
}

// SendParts appends a user message with the given parts, applies the
// configured effects and streams one assistant turn, passing every event to
// h when it is not nil. The reply is appended to the chat even when the
// turn fails, with its Error set.
func (s *Session) SendParts(ctx context.Context, h Handler, parts ...content.Part) (message.Message, error) {
	if err := s.acquire(); err != nil {
		return message.Message{}, err
	}
	defer s.release()

	if len(parts) > 0 {
		s.chat.Append(message.New("user", role.User, parts...))
	}

	return s.turn(ctx, h)
}

// Continue runs one turn over the chat as it is, typically after the caller
// executed the reply's tool calls and recorded them with Chat().AddToolResults.
func (s *Session) Continue(ctx context.Context, h Handler) (message.Message, error) {
	return s.SendParts(ctx, h)
}

func (s *Session) turn(ctx context.Context, h Handler) (message.Message, error) {
	for _, eff := range s.eng.effects {
		eff(s.chat)
	}

	m := s.Model()

	run, err := s.eng.run(ctx, s.id, m, s.chat.Messages(), s.tools.Tools())
	if err != nil {
		return message.Message{}, err
	}
	defer func() { _ = run.Close() }()

	var col event.Collector
	for {
		ev, err := run.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return message.Message{}, fmt.Errorf("engine: session %s: %w", s.id, err)
		}

		col.Add(ev)
		if h != nil {
			h(ev)
		}
	}

	reply := col.Message(m.Provider, m.ID)
	s.chat.Append(reply)
	s.checkToolCalls(reply)

	s.eng.publish(EventTurnEnd, run.ID(), s.id, m.Ref(), reply)

	switch col.Reason {
	case event.FinishAborted:
		if err := ctx.Err(); err != nil {
			return reply, err
		}
		return reply, context.Canceled
	case event.FinishError:
		if col.Err != nil {
			return reply, fmt.Errorf("engine: session %s: %w", s.id, col.Err)
		}
		return reply, fmt.Errorf("engine: session %s: request failed", s.id)
	}

	return reply, nil
}

// checkToolCalls warns about calls whose arguments do not match the declared
// schema. Executing and answering them is the caller's job.
func (s *Session) checkToolCalls(reply message.Message) {
	for _, tc := range reply.ToolCalls() {
		t, ok := s.tools.Get(tc.Name)
		if !ok {
			s.eng.logger.Warn("model called an undeclared tool", "session", s.id, "tool", tc.Name, "call", tc.ID)
			continue
		}
		if err := t.ValidateInput(tc.Arguments); err != nil {
			s.eng.logger.Warn("tool call arguments do not match schema", "session", s.id, "tool", tc.Name, "call", tc.ID, "error", err)
		}
	}
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return fmt.Errorf("engine: session %s: another Send is already active", s.id)
	}
	s.active = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
}
