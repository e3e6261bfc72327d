package core

import (
	"context"
	"fmt"

	"caracas/internal/client"
	"caracas/internal/transport"
	"caracas/util"
)

// SessionError reports a request session that ended in anything other
// than CompletedByCancellation.
type SessionError struct {
	Result client.Result
	Err    error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return e.Result.String()
	}
	return fmt.Sprintf("%s: %v", e.Result, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ExitCode is the process status for the result.
func (e *SessionError) ExitCode() int { return e.Result.ExitCode() }

// ConnectMode runs the request session against the configured
// endpoint.  It is the default mode.
type ConnectMode struct {
	Client *client.Client
	Dialer transport.Dialer
	Logger *util.Logger
}

// Run blocks until the session ends.  A session stopped by ctx returns
// nil; every other outcome is a *SessionError.  The dialer is closed on
// return.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	res, err := m.Client.Run(ctx)
	if res == client.CompletedByCancellation {
		m.Logger.Verbose("%d exchanges completed", m.Client.Iterations())
		return nil
	}
	return &SessionError{Result: res, Err: err}
}
