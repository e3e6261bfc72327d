// Package client implements the request session: open one connection to
// the peer, prove it with a greeting, then send the same command and
// read its reply until told to stop.
//
// Cancellation is cooperative.  The run only looks at its context
// between iterations, so a receive in flight always completes (or
// fails) first.  HardCancel adds a watcher that closes the session as
// soon as the context ends, which unblocks that receive.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"caracas/config"
	cerr "caracas/internal/errors"
	"caracas/internal/metrics"
	"caracas/internal/session"
	"caracas/util"
)

// Client runs request sessions against a single endpoint.  Fields must
// not be changed while Run is executing.
type Client struct {
	Endpoint config.Endpoint
	Opener   session.Opener

	Handshake string // sent once, first
	Expect    string // reply that accepts the handshake, compared by content
	Command   string // sent every iteration

	// Timeout bounds each open, send and receive.  0 waits forever.
	Timeout time.Duration
	// Rate caps iterations per second.  0 runs the loop back to back.
	Rate float64
	// MaxIterations ends the run after that many replies.  0 = no limit.
	MaxIterations int
	// HardCancel closes the session as soon as the context is cancelled
	// instead of waiting for the next iteration boundary.
	HardCancel bool

	Logger  *util.Logger
	Metrics *metrics.Collector

	state      atomic.Int32
	iterations atomic.Int64
	running    atomic.Bool
}

// New returns a Client with the default greeting and command.
func New(ep config.Endpoint, opener session.Opener, logger *util.Logger) *Client {
	return &Client{
		Endpoint:  ep,
		Opener:    opener,
		Handshake: config.DefaultHandshake,
		Expect:    config.DefaultExpect,
		Command:   config.DefaultCommand,
		Logger:    logger.Named("client"),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Iterations returns how many command/reply exchanges the current or
// last run completed.
func (c *Client) Iterations() int64 { return c.iterations.Load() }

// Run executes one session and blocks until it ends.  The error, when
// non-nil, explains a HandshakeFailed or ConnectionError result.
func (c *Client) Run(ctx context.Context) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return ConnectionError, errors.New("client: run already in progress")
	}
	defer c.running.Store(false)

	if c.Opener == nil {
		return ConnectionError, errors.New("client: no session opener")
	}
	if c.Logger == nil {
		c.Logger = util.NewLogger(0)
	}

	c.state.Store(int32(Idle))
	c.iterations.Store(0)

	r := &run{c: c, log: c.Logger}
	return r.execute(ctx)
}

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.Logger.Verbose("state %s -> %s", prev, s)
	}
	c.Metrics.SetState(s.String())
}

// opContext derives the context for one blocking operation.  It is
// detached from the caller's cancellation, so only Timeout can cut the
// operation short.
func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if c.Timeout > 0 {
		return context.WithTimeout(base, c.Timeout)
	}
	return base, func() {}
}

// ── run ──────────────────────────────────────────────────────────────

// run holds the resources of a single Run call.
type run struct {
	c    *Client
	log  *util.Logger
	sess session.Session

	teardownOnce sync.Once
}

func (r *run) execute(ctx context.Context) (res Result, err error) {
	c := r.c
	defer func() {
		r.teardown()
		c.setState(Closed)
		c.Logger.Info("session ended: %s", res)
	}()

	// ── connect ──
	c.setState(Connecting)
	r.log.Info("connecting to %s", c.Endpoint)

	openCtx, cancel := c.opContext(ctx)
	if c.HardCancel {
		openCtx, cancel = ctx, func() {}
		if c.Timeout > 0 {
			openCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		}
	}
	sess, err := c.Opener.Open(openCtx, c.Endpoint)
	cancel()
	if err != nil {
		if c.HardCancel && ctx.Err() != nil {
			r.log.Verbose("cancelled while connecting")
			return CompletedByCancellation, nil
		}
		c.Metrics.RecordError(err.Error())
		r.log.Error("connect %s: %v", c.Endpoint, err)
		return ConnectionError, fmt.Errorf("connect %s: %w", c.Endpoint, err)
	}
	r.sess = sess
	c.Metrics.SessionOpened()
	r.log.Verbose("connected to %s", sess.RemoteAddr())

	if c.HardCancel {
		stop := context.AfterFunc(ctx, func() {
			r.log.Verbose("cancelled, closing session")
			r.teardown()
		})
		defer stop()
	}

	// ── handshake ──
	c.setState(AwaitingHandshake)
	reply, err := r.exchange(ctx, session.Message(c.Handshake))
	if err != nil {
		if r.hardCancelled(ctx) {
			return CompletedByCancellation, nil
		}
		c.Metrics.RecordError(err.Error())
		r.log.Error("handshake: %v", err)
		return ConnectionError, fmt.Errorf("handshake: %w", err)
	}
	if !bytes.Equal(reply, []byte(c.Expect)) {
		c.Metrics.HandshakeFailed()
		r.log.Warn("handshake rejected: got %s, want %q", reply, c.Expect)
		return HandshakeFailed, fmt.Errorf("%w: got %s", cerr.ErrHandshakeRejected, reply)
	}
	r.log.Verbose("handshake accepted")

	// ── loop ──
	c.setState(Looping)
	var limiter *rate.Limiter
	if c.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.Rate), 1)
	}

	for n := 1; ; n++ {
		if ctx.Err() != nil {
			r.log.Verbose("cancellation observed after %d iterations", n-1)
			c.setState(Stopping)
			return CompletedByCancellation, nil
		}
		if c.MaxIterations > 0 && n > c.MaxIterations {
			r.log.Verbose("iteration budget of %d reached", c.MaxIterations)
			c.setState(Stopping)
			return CompletedByCancellation, nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				r.log.Verbose("cancellation observed while pacing: %v", err)
				c.setState(Stopping)
				return CompletedByCancellation, nil
			}
		}

		reply, err := r.exchange(ctx, session.Message(c.Command))
		if err != nil {
			c.setState(Stopping)
			if r.hardCancelled(ctx) {
				return CompletedByCancellation, nil
			}
			c.Metrics.RecordError(err.Error())
			r.log.Error("iteration %d: %v", n, err)
			return ConnectionError, fmt.Errorf("iteration %d: %w", n, err)
		}
		c.iterations.Add(1)
		r.log.Info("reply %d: %s", n, reply)
	}
}

// exchange sends msg and waits for the reply.
func (r *run) exchange(ctx context.Context, msg session.Message) (session.Message, error) {
	c := r.c
	start := time.Now()

	sendCtx, cancel := c.opContext(ctx)
	err := r.sess.Send(sendCtx, msg)
	cancel()
	if err != nil {
		return nil, err
	}
	c.Metrics.MessageSent(len(msg))
	r.log.Debug("sent %s", msg)

	recvCtx, cancel := c.opContext(ctx)
	reply, err := r.sess.Recv(recvCtx)
	cancel()
	if err != nil {
		return nil, err
	}
	c.Metrics.MessageReceived(len(reply))
	c.Metrics.RecordRTT(time.Since(start))
	r.log.Debug("received %s", reply)
	return reply, nil
}

// hardCancelled reports whether an I/O failure was caused by the
// HardCancel watcher closing the session.
func (r *run) hardCancelled(ctx context.Context) bool {
	return r.c.HardCancel && ctx.Err() != nil
}

// teardown closes the session.  It runs at most once per run no matter
// how many exit paths reach it.
func (r *run) teardown() {
	r.teardownOnce.Do(func() {
		if r.sess == nil {
			return
		}
		if err := r.sess.Close(); err != nil && !cerr.IsClosed(err) {
			r.log.Debug("close: %v", err)
		}
		r.c.Metrics.SessionClosed()
		r.log.Verbose("session to %s closed", r.sess.RemoteAddr())
	})
}
