package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"caracas/internal/metrics"
	"caracas/util"
)

// Handler answers requests arriving on a REP socket.
type Handler struct {
	Dispatcher *Dispatcher
	Logger     *util.Logger
	Metrics    *metrics.Collector
}

// Serve answers requests on sock until ctx is cancelled or sock is
// closed.  sock must be a REP socket whose lifetime is bound to ctx.
func (h *Handler) Serve(ctx context.Context, sock zmq4.Socket) error {
	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			// A request without an envelope is skipped.
			h.Metrics.RecordError(err.Error())
			h.Logger.Warn("recv: %v", err)
			continue
		}
		req := msg.Bytes()
		h.Metrics.MessageReceived(len(req))
		h.Logger.Info("got message: %s", util.Printable(req, 256))

		reply := h.Dispatcher.Dispatch(req)
		if err := sock.Send(zmq4.NewMsg(reply)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.Metrics.RecordError(err.Error())
			return fmt.Errorf("send reply: %w", err)
		}
		h.Metrics.MessageSent(len(reply))
		h.Logger.Debug("sent back: %s", util.Printable(reply, 256))
	}
}
