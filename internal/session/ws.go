package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	cerr "caracas/internal/errors"
)

// closeGrace bounds the close-frame write during teardown.
const closeGrace = time.Second

// wsSession carries each request and reply as one WebSocket message.
type wsSession struct {
	conn *websocket.Conn
	addr string
	turn turn

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// wsConnDeadline adapts websocket.Conn, which has separate read and
// write deadlines, to deadliner.
type wsConnDeadline struct{ c *websocket.Conn }

func (w wsConnDeadline) SetDeadline(t time.Time) error {
	if err := w.c.SetReadDeadline(t); err != nil {
		return err
	}
	return w.c.SetWriteDeadline(t)
}

func (s *wsSession) Send(ctx context.Context, msg Message) error {
	if s.closed.Load() {
		return cerr.ErrSessionClosed
	}
	if err := s.turn.send(); err != nil {
		return err
	}
	defer bindContext(ctx, wsConnDeadline{s.conn})()

	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return opError(ctx, "send", s.addr, err)
	}
	s.turn.awaiting = true
	return nil
}

func (s *wsSession) Recv(ctx context.Context) (Message, error) {
	if s.closed.Load() {
		return nil, cerr.ErrSessionClosed
	}
	if err := s.turn.recv(); err != nil {
		return nil, err
	}
	defer bindContext(ctx, wsConnDeadline{s.conn})()

	// Text and binary messages are both accepted as opaque payloads.
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, opError(ctx, "recv", s.addr, err)
	}
	s.turn.awaiting = false
	return Message(data), nil
}

// Close sends a normal-closure frame, best effort, and closes the
// connection.
func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)) //nolint:errcheck
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *wsSession) RemoteAddr() string { return s.addr }
