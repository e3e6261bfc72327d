// Package airplane switches the host's radios on and off.
//
// A restricted mode means every radio is off, the equivalent of a
// phone's airplane mode.  Controllers are idempotent: applying the mode
// already in force changes nothing.
package airplane

import (
	"context"
	"sync"

	"caracas/util"
)

// Controller applies a radio mode to the host.
type Controller interface {
	Apply(ctx context.Context, restricted bool) error
}

// LogOnly records and logs requested modes without touching the host.
type LogOnly struct {
	Logger *util.Logger

	mu      sync.Mutex
	applied []bool
}

// NewLogOnly returns a dry-run controller.
func NewLogOnly(logger *util.Logger) *LogOnly {
	return &LogOnly{Logger: logger.Named("airplane")}
}

// Apply implements Controller.
func (l *LogOnly) Apply(_ context.Context, restricted bool) error {
	l.mu.Lock()
	l.applied = append(l.applied, restricted)
	l.mu.Unlock()
	l.Logger.Info("dry run: radios %s", radioState(restricted))
	return nil
}

// Applied returns every mode passed to Apply, in order.
func (l *LogOnly) Applied() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.applied...)
}

func radioState(restricted bool) string {
	if restricted {
		return "off"
	}
	return "on"
}
