package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"

	cerr "caracas/internal/errors"
	"caracas/internal/zmtp"
	"caracas/util"
)

// zmtpSession is a zmq4 REQ socket over a single stream connection.
// conn is the stream the socket dialled; deadlines set on it bound the
// socket's blocking reads and writes.
type zmtpSession struct {
	sock zmq4.Socket
	conn net.Conn
	addr string
	turn turn

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// newZMTP dials addr through dial and runs the ZMTP handshake as a REQ
// socket.  Any deadline or cancellation on ctx bounds both steps.
func newZMTP(ctx context.Context, dial zmtp.DialFunc, addr, name string, logger *util.Logger) (*zmtpSession, error) {
	var (
		conn    net.Conn
		dialErr error
		release = func() {}
	)
	hook := func(_ context.Context, network, address string) (net.Conn, error) {
		c, err := dial(ctx, network, address)
		if err != nil {
			dialErr = err
			return nil, err
		}
		conn = c
		release = bindContext(ctx, c)
		return c, nil
	}

	// The socket outlives ctx; Close ends it.
	sctx := zmtp.WithDialer(context.WithoutCancel(ctx), hook)
	sock := zmq4.NewReq(sctx, zmtp.Options(logger, zmq4.WithDialerMaxRetries(0))...)

	err := sock.Dial(zmtp.Endpoint(addr))
	release()
	if err != nil {
		sock.Close()
		if conn == nil {
			if dialErr == nil {
				dialErr = err
			}
			return nil, cerr.Wrap("dial", name, dialErr)
		}
		if ctx.Err() == nil && !cerr.IsTimeout(err) {
			err = cerr.Protocol("handshake", "%v", err)
		}
		return nil, opError(ctx, "zmtp handshake", name, err)
	}
	return &zmtpSession{sock: sock, conn: conn, addr: name}, nil
}

func (s *zmtpSession) Send(ctx context.Context, msg Message) error {
	if s.closed.Load() {
		return cerr.ErrSessionClosed
	}
	if err := s.turn.send(); err != nil {
		return err
	}
	defer bindContext(ctx, s.conn)()

	if err := s.sock.Send(zmq4.NewMsg(msg)); err != nil {
		return opError(ctx, "send", s.addr, err)
	}
	s.turn.awaiting = true
	return nil
}

func (s *zmtpSession) Recv(ctx context.Context) (Message, error) {
	if s.closed.Load() {
		return nil, cerr.ErrSessionClosed
	}
	if err := s.turn.recv(); err != nil {
		return nil, err
	}
	defer bindContext(ctx, s.conn)()

	reply, err := s.sock.Recv()
	if err != nil {
		return nil, opError(ctx, "recv", s.addr, err)
	}
	s.turn.awaiting = false
	return Message(reply.Bytes()), nil
}

func (s *zmtpSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.sock.Close()
		if cerr.IsClosed(s.closeErr) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

func (s *zmtpSession) RemoteAddr() string { return s.addr }
