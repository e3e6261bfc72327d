// Package zmtp connects go-zeromq/zmq4 sockets to caracas's own dialers
// and listeners.
//
// zmq4 always dials through a plain net.Dialer.  Sockets created on a
// context prepared with WithDialer or WithListener and bound to an
// Endpoint instead reach the network through the supplied hooks, so a
// REQ socket can ride an SSH tunnel and a REP listener can watch its
// connections come and go.
package zmtp

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/go-zeromq/zmq4"
	ztransport "github.com/go-zeromq/zmq4/transport"

	"caracas/util"
)

// Scheme is the zmq4 transport name registered by this package.
const Scheme = "zmtp"

func init() {
	if err := zmq4.RegisterTransport(Scheme, netTransport{}); err != nil {
		panic(err)
	}
}

// DialFunc opens the stream a socket runs ZMTP over.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ListenFunc wraps the listener a socket accepts peers from.
type ListenFunc func(net.Listener) net.Listener

type dialKey struct{}
type listenKey struct{}

// WithDialer returns a copy of ctx whose sockets dial through dial.
func WithDialer(ctx context.Context, dial DialFunc) context.Context {
	return context.WithValue(ctx, dialKey{}, dial)
}

// WithListener returns a copy of ctx whose sockets accept through the
// listener returned by wrap.
func WithListener(ctx context.Context, wrap ListenFunc) context.Context {
	return context.WithValue(ctx, listenKey{}, wrap)
}

// Endpoint turns a host:port into a zmq4 endpoint served by this
// package's transport.
func Endpoint(addr string) string { return Scheme + "://" + addr }

// Options returns the socket options every caracas socket shares: zmq4
// diagnostics go to logger at debug level.
func Options(logger *util.Logger, extra ...zmq4.Option) []zmq4.Option {
	opts := []zmq4.Option{zmq4.WithLogger(log.New(logWriter{logger}, "", 0))}
	return append(opts, extra...)
}

type logWriter struct{ l *util.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.l.Debug("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// netTransport is TCP with pluggable dial and listen.
type netTransport struct{}

func (netTransport) Dial(ctx context.Context, d ztransport.Dialer, addr string) (net.Conn, error) {
	if dial, ok := ctx.Value(dialKey{}).(DialFunc); ok {
		return dial(ctx, "tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

func (netTransport) Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if wrap, ok := ctx.Value(listenKey{}).(ListenFunc); ok {
		ln = wrap(ln)
	}
	return ln, nil
}

// Addr normalises ep the way zmq4's tcp transport does: an empty or
// wildcard host binds every interface and a wildcard port picks one.
func (netTransport) Addr(ep string) (string, error) {
	host, port, err := net.SplitHostPort(ep)
	if err != nil {
		return "", fmt.Errorf("zmtp: bad address %q: %w", ep, err)
	}
	switch port {
	case "", "*":
		port = "0"
	}
	switch host {
	case "", "*":
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, port), nil
}
