// Package transport provides abstractions for connection establishment.
// A Dialer decides how bytes reach the endpoint (direct TCP or through
// an SSH gateway) independent of the message protocol spoken on top,
// which is the session package's job.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound stream connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived resources held by the dialer (an SSH
	// gateway connection).  Stateless dialers return nil.
	Close() error
}
