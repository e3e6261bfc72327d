package power

import (
	"context"
	"fmt"
	"sync/atomic"

	"caracas/internal/airplane"
	"caracas/internal/metrics"
	"caracas/util"
)

// Watcher feeds every source an Observer reports through the policy and
// applies the resulting mode.  Each signal causes exactly one Apply.
type Watcher struct {
	Observer   Observer
	Controller airplane.Controller
	Logger     *util.Logger
	Metrics    *metrics.Collector

	current atomic.Int32
}

// NewWatcher wires an observer to a controller.
func NewWatcher(obs Observer, ctl airplane.Controller, logger *util.Logger) *Watcher {
	return &Watcher{Observer: obs, Controller: ctl, Logger: logger.Named("power")}
}

// Run blocks until ctx is done or the observer stops.  A failed Apply
// is logged and the watcher keeps going; the next signal gets its own
// attempt.
func (w *Watcher) Run(ctx context.Context) error {
	signals, err := w.Observer.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch power source: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case src, ok := <-signals:
			if !ok {
				w.Logger.Verbose("power observer stopped")
				return nil
			}
			w.handle(ctx, src)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, src Source) {
	w.current.Store(int32(src))
	restricted := Restricted(src)
	w.Logger.Info("power source %s, radios %s", src, radioWord(restricted))

	if err := w.Controller.Apply(ctx, restricted); err != nil {
		w.Logger.Error("apply mode: %v", err)
		w.Metrics.RecordError(err.Error())
		return
	}
	w.Metrics.ModeApplied(restricted)
}

// Current returns the last source seen, or Unknown before the first.
func (w *Watcher) Current() Source {
	return Source(w.current.Load())
}

func radioWord(restricted bool) string {
	if restricted {
		return "off"
	}
	return "on"
}
