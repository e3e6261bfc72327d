package airplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"caracas/internal/retry"
	"caracas/util"
)

const (
	nmService  = "org.freedesktop.NetworkManager"
	nmPath     = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface    = "org.freedesktop.NetworkManager"
	propsIface = "org.freedesktop.DBus.Properties"
)

// radioProps are the NetworkManager switches that make up airplane mode.
var radioProps = []string{"WirelessEnabled", "WwanEnabled"}

// nmBus reads and writes NetworkManager boolean properties.
type nmBus interface {
	get(ctx context.Context, prop string) (bool, error)
	set(ctx context.Context, prop string, v bool) error
	close() error
}

// NetworkManager toggles WiFi and WWAN through NetworkManager.
type NetworkManager struct {
	Logger  *util.Logger
	Backoff *retry.Backoff

	bus nmBus
}

// NewNetworkManager connects to the system bus.  attempts bounds the
// tries per property write.
func NewNetworkManager(attempts int, logger *util.Logger) (*NetworkManager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	b := retry.DefaultBackoff()
	b.MaxAttempts = attempts
	return newNetworkManager(&dbusNM{conn: conn}, b, logger), nil
}

func newNetworkManager(bus nmBus, b *retry.Backoff, logger *util.Logger) *NetworkManager {
	nm := &NetworkManager{Logger: logger.Named("airplane"), Backoff: b, bus: bus}
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		nm.Logger.Warn("attempt %d failed: %v (retrying in %v)", attempt, err, wait.Round(time.Millisecond))
	}
	return nm
}

// Apply sets every radio switch to !restricted.  Switches already in
// that position are left alone.
func (n *NetworkManager) Apply(ctx context.Context, restricted bool) error {
	want := !restricted
	for _, prop := range radioProps {
		err := n.Backoff.Do(ctx, func(int) error {
			cur, err := n.bus.get(ctx, prop)
			if err != nil {
				return classify(err)
			}
			if cur == want {
				n.Logger.Debug("%s already %v", prop, want)
				return nil
			}
			if err := n.bus.set(ctx, prop, want); err != nil {
				return classify(err)
			}
			n.Logger.Info("%s -> %v", prop, want)
			return nil
		})
		if err != nil {
			return fmt.Errorf("set %s=%v: %w", prop, want, err)
		}
	}
	n.Logger.Verbose("radios %s", radioState(restricted))
	return nil
}

// Close releases the bus connection.
func (n *NetworkManager) Close() error {
	return n.bus.close()
}

// classify marks authorisation and schema errors as permanent.
func classify(err error) error {
	switch dbusErrorName(err) {
	case "org.freedesktop.DBus.Error.AccessDenied",
		"org.freedesktop.DBus.Error.AuthFailed",
		"org.freedesktop.DBus.Error.InteractiveAuthorizationRequired",
		"org.freedesktop.DBus.Error.UnknownProperty",
		"org.freedesktop.DBus.Error.PropertyReadOnly",
		"org.freedesktop.NetworkManager.PermissionDenied":
		return retry.Permanent(err)
	}
	return err
}

func dbusErrorName(err error) string {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name
	}
	var dep *dbus.Error
	if errors.As(err, &dep) {
		return dep.Name
	}
	return ""
}

// ── system bus ───────────────────────────────────────────────────────

type dbusNM struct {
	conn *dbus.Conn
}

func (b *dbusNM) get(ctx context.Context, prop string) (bool, error) {
	var v dbus.Variant
	err := b.conn.Object(nmService, nmPath).
		CallWithContext(ctx, propsIface+".Get", 0, nmIface, prop).Store(&v)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%s is %T, not bool", prop, v.Value())
	}
	return val, nil
}

func (b *dbusNM) set(ctx context.Context, prop string, v bool) error {
	return b.conn.Object(nmService, nmPath).
		CallWithContext(ctx, propsIface+".Set", 0, nmIface, prop, dbus.MakeVariant(v)).Err
}

func (b *dbusNM) close() error {
	return b.conn.Close()
}
