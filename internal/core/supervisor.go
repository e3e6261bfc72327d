package core

import (
	"context"

	"golang.org/x/sync/errgroup"

	"caracas/internal/metrics"
	"caracas/util"
)

// MetricsMode serves the Prometheus endpoint until ctx ends.
type MetricsMode struct {
	Server *metrics.Server
	Addr   string
}

func (m *MetricsMode) Run(ctx context.Context) error {
	if _, err := m.Server.Listen(m.Addr); err != nil {
		return err
	}
	return m.Server.Serve(ctx)
}

// Supervisor runs a primary mode with background modes beside it.  The
// background modes are stopped once the primary returns; a background
// failure cancels the primary.
type Supervisor struct {
	Primary    Mode
	Background []Mode
	Logger     *util.Logger
}

// Run returns the primary's error when it has one, else the first
// background error.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	bgCtx, stopBackground := context.WithCancel(gctx)
	defer stopBackground()

	for _, m := range s.Background {
		m := m
		g.Go(func() error { return m.Run(bgCtx) })
	}

	var primaryErr error
	g.Go(func() error {
		defer stopBackground()
		primaryErr = s.Primary.Run(gctx)
		s.Logger.Debug("primary mode returned, stopping %d background mode(s)", len(s.Background))
		return primaryErr
	})

	err := g.Wait()
	if primaryErr != nil {
		return primaryErr
	}
	return err
}
