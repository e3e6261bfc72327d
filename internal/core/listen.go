package core

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/go-zeromq/zmq4"

	"caracas/internal/peer"
	"caracas/internal/zmtp"
	"caracas/util"
)

// ListenMode binds a REP socket and answers every client as a reply
// peer.  With KeepOpen=true it serves clients until cancelled; otherwise
// it accepts one client and returns once that client disconnects.
type ListenMode struct {
	Address  string // ":port"
	KeepOpen bool
	Handler  *peer.Handler
	Logger   *util.Logger

	mu   sync.Mutex
	addr net.Addr
}

// Addr returns the bound address once Run is listening, else nil.
func (m *ListenMode) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Run listens on Address until ctx is cancelled.
func (m *ListenMode) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var last func()
	if !m.KeepOpen {
		last = cancel
	}
	wrap := func(ln net.Listener) net.Listener {
		return newConnListener(ln, m.Handler, m.Logger, last)
	}

	sock := zmq4.NewRep(zmtp.WithListener(ctx, wrap), zmtp.Options(m.Logger)...)
	defer sock.Close()
	if err := sock.Listen(zmtp.Endpoint(m.Address)); err != nil {
		return fmt.Errorf("listen on %s: %w", m.Address, err)
	}

	m.mu.Lock()
	m.addr = sock.Addr()
	m.mu.Unlock()
	m.Logger.Info("listening on %s", sock.Addr())

	return m.Handler.Serve(ctx, sock)
}

// connListener reports connections as they open and close.  When onLast
// is set it hands out a single connection, blocks further accepts and
// calls onLast once that connection closes.
type connListener struct {
	net.Listener
	handler *peer.Handler
	logger  *util.Logger
	onLast  func()

	served    bool // touched only by the accepting goroutine
	closed    chan struct{}
	closeOnce sync.Once
}

func newConnListener(ln net.Listener, h *peer.Handler, logger *util.Logger, onLast func()) *connListener {
	return &connListener{
		Listener: ln,
		handler:  h,
		logger:   logger,
		onLast:   onLast,
		closed:   make(chan struct{}),
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	if l.onLast != nil && l.served {
		<-l.closed
		return nil, net.ErrClosed
	}
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.served = true

	remote := c.RemoteAddr().String()
	l.logger.Verbose("connection from %s", remote)
	l.handler.Metrics.SessionOpened()
	return &trackedConn{Conn: c, onClose: func() {
		l.handler.Metrics.SessionClosed()
		l.logger.Verbose("%s disconnected", remote)
		if l.onLast != nil {
			l.onLast()
		}
	}}, nil
}

func (l *connListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return l.Listener.Close()
}

// trackedConn runs onClose the first time it is closed.
type trackedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.onClose)
	return err
}
