package client

// State is the position of a run in the request session lifecycle.
type State int32

const (
	Idle State = iota
	Connecting
	AwaitingHandshake
	Looping
	Stopping
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case AwaitingHandshake:
		return "awaiting-handshake"
	case Looping:
		return "looping"
	case Stopping:
		return "stopping"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Result is the terminal outcome of a run.
type Result int

const (
	// CompletedByCancellation: the caller asked the run to stop, or the
	// iteration budget ran out.  Not a failure.
	CompletedByCancellation Result = iota
	// HandshakeFailed: the peer answered the greeting with anything but
	// the expected token.
	HandshakeFailed
	// ConnectionError: the session could not be opened or an I/O
	// operation failed.
	ConnectionError
)

func (r Result) String() string {
	switch r {
	case CompletedByCancellation:
		return "completed-by-cancellation"
	case HandshakeFailed:
		return "handshake-failed"
	case ConnectionError:
		return "connection-error"
	}
	return "unknown"
}

// Process exit codes for each result.
const (
	ExitOK              = 0
	ExitConnectionError = 2
	ExitHandshakeFailed = 3
)

// ExitCode maps the result to a process exit status.
func (r Result) ExitCode() int {
	switch r {
	case HandshakeFailed:
		return ExitHandshakeFailed
	case ConnectionError:
		return ExitConnectionError
	}
	return ExitOK
}
