package power

import (
	"context"
	"time"
)

// Observer reports power source changes.  The channel is closed when
// the observer stops, either because ctx ended or its source went away.
type Observer interface {
	Watch(ctx context.Context) (<-chan Source, error)
}

// Static replays a fixed list of sources, Interval apart, then closes
// the channel.  It stands in for UPower on hosts without one.
type Static struct {
	Sources  []Source
	Interval time.Duration
}

// Watch implements Observer.
func (s *Static) Watch(ctx context.Context) (<-chan Source, error) {
	ch := make(chan Source)
	go func() {
		defer close(ch)
		for i, src := range s.Sources {
			if i > 0 && s.Interval > 0 {
				t := time.NewTimer(s.Interval)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
			select {
			case ch <- src:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
