package core

import (
	"context"
	"io"

	"caracas/internal/power"
)

// PowerMode runs the power watcher.  Closer, when set, releases the
// controller's bus connection after the watcher stops.
type PowerMode struct {
	Watcher *power.Watcher
	Closer  io.Closer
}

func (m *PowerMode) Run(ctx context.Context) error {
	if m.Closer != nil {
		defer m.Closer.Close()
	}
	return m.Watcher.Run(ctx)
}
