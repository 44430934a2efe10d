package modeladapter

import (
	"bytes"
	"context"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

// wsSource adapts a WebSocket connection to FrameSource. Every text message
// is one frame, named by its "type" member.
type wsSource struct {
	ctx   context.Context
	conn  *websocket.Conn
	frame Frame
	err   error
}

// NewWSSource frames JSON text messages read from conn.
func NewWSSource(ctx context.Context, conn *websocket.Conn) FrameSource {
	return &wsSource{ctx: ctx, conn: conn}
}

func (s *wsSource) Next() bool {
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.err = err
			}
			return false
		}
		if typ != websocket.MessageText {
			continue
		}

		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}

		s.frame = Frame{Event: gjson.GetBytes(data, "type").String(), Data: data}
		return true
	}
}

func (s *wsSource) Frame() Frame { return s.frame }
func (s *wsSource) Err() error   { return s.err }

// Close drops the connection without waiting for the peer's close frame:
// once the response is finished nothing more is read from it.
func (s *wsSource) Close() error {
	_ = s.conn.CloseNow()
	return nil
}
