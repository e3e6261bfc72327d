// Package session represents one request/reply channel to an endpoint.
//
// A Session hides whether messages travel as ZMTP frames over TCP (or an
// SSH tunnel) or as WebSocket text frames, so the request loop only sees
// Send, Recv and Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	cerr "caracas/internal/errors"
	"caracas/util"
)

// Message is an opaque payload.  Replies are not required to be UTF-8.
type Message []byte

// String renders the message for logs, quoting non-UTF-8 payloads.
func (m Message) String() string { return util.Printable(m, 256) }

// Session is a single open channel to the peer.  Send and Recv must
// alternate, starting with Send.  Close may be called from any
// goroutine, any number of times.
type Session interface {
	Send(ctx context.Context, msg Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
	RemoteAddr() string
}

// deadliner is the part of net.Conn and websocket.Conn that bindContext
// drives.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// bindContext maps ctx onto the connection deadline for the duration of
// one operation.  A deadline on ctx becomes the I/O deadline; a
// cancellable ctx unblocks the operation when it is cancelled.  The
// returned func must be called once the operation returns; it waits for a
// cancellation that raced with it.
func bindContext(ctx context.Context, d deadliner) func() {
	if dl, ok := ctx.Deadline(); ok {
		d.SetDeadline(dl) //nolint:errcheck
	} else {
		d.SetDeadline(time.Time{}) //nolint:errcheck
	}
	if ctx.Done() == nil {
		return func() {}
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		d.SetDeadline(time.Unix(1, 0)) //nolint:errcheck
		close(fired)
	})
	return func() {
		// A callback already running must land before the next operation
		// sets its own deadline.
		if !stop() {
			<-fired
		}
	}
}

// opError wraps a failed I/O operation, folding in the context error
// when cancellation or a deadline caused it.
func opError(ctx context.Context, op, addr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", cerr.ErrTimeout, err)
		} else {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
	}
	return cerr.Wrap(op, addr, err)
}

// turn enforces strict send/recv alternation.
type turn struct {
	awaiting bool
}

func (t *turn) send() error {
	if t.awaiting {
		return fmt.Errorf("send: %w", cerr.ErrStateMismatch)
	}
	return nil
}

func (t *turn) recv() error {
	if !t.awaiting {
		return fmt.Errorf("recv: %w", cerr.ErrStateMismatch)
	}
	return nil
}
