// Package tunnel carries the request session through an SSH gateway
// when the head unit is not directly reachable.  The implementation is
// backed by golang.org/x/crypto/ssh.
package tunnel

import (
	"context"
	"net"
)

// Tunnel abstracts an encrypted channel through which TCP connections
// to the endpoint can be forwarded.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Dial opens a connection to address through the tunnel.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the tunnel and every connection dialed through it.
	Close() error

	// IsAlive reports whether the gateway connection is still up.
	IsAlive() bool
}
