package session

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"caracas/config"
	cerr "caracas/internal/errors"
	"caracas/internal/transport"
	"caracas/util"
)

// Opener opens one session to an endpoint.
type Opener interface {
	Open(ctx context.Context, ep config.Endpoint) (Session, error)
}

// DialOpener opens sessions over a transport.Dialer, picking the wire
// protocol from the endpoint scheme.
type DialOpener struct {
	Dialer transport.Dialer
	Logger *util.Logger
}

// NewDialOpener returns an Opener over d.
func NewDialOpener(d transport.Dialer, logger *util.Logger) *DialOpener {
	return &DialOpener{Dialer: d, Logger: logger.Named("session")}
}

// Open dials ep and completes the protocol handshake.  Any deadline on
// ctx bounds both.
func (o *DialOpener) Open(ctx context.Context, ep config.Endpoint) (Session, error) {
	switch ep.Scheme {
	case config.SchemeTCP:
		return o.openZMTP(ctx, ep)
	case config.SchemeWS, config.SchemeWSS:
		return o.openWS(ctx, ep)
	}
	return nil, fmt.Errorf("unsupported endpoint scheme %q", ep.Scheme)
}

func (o *DialOpener) openZMTP(ctx context.Context, ep config.Endpoint) (Session, error) {
	o.Logger.Verbose("dialing %s", ep.Address())
	s, err := newZMTP(ctx, o.Dialer.Dial, ep.Address(), ep.String(), o.Logger)
	if err != nil {
		return nil, err
	}
	o.Logger.Verbose("zmtp session open to %s", ep)
	return s, nil
}

func (o *DialOpener) openWS(ctx context.Context, ep config.Endpoint) (Session, error) {
	d := websocket.Dialer{NetDialContext: o.Dialer.Dial}

	o.Logger.Verbose("dialing %s", ep)
	conn, resp, err := d.DialContext(ctx, ep.String(), nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %s)", err, resp.Status)
		}
		return nil, cerr.Wrap("dial", ep.String(), err)
	}
	o.Logger.Verbose("websocket session open to %s", ep)
	return &wsSession{conn: conn, addr: ep.String()}, nil
}
