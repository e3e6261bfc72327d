package power

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"caracas/util"
)

const (
	upowerService = "org.freedesktop.UPower"
	upowerPath    = dbus.ObjectPath("/org/freedesktop/UPower")
	upowerIface   = "org.freedesktop.UPower"
	deviceIface   = "org.freedesktop.UPower.Device"
	propsIface    = "org.freedesktop.DBus.Properties"
	propsSignal   = propsIface + ".PropertiesChanged"

	deviceTypeLinePower = uint32(1)
)

// linePower is one UPower "line power" device (a charger input).
type linePower struct {
	Path       dbus.ObjectPath
	Online     bool
	NativePath string
}

// upowerBus is the part of UPower the observer reads.
type upowerBus interface {
	onBattery(ctx context.Context) (bool, error)
	linePowers(ctx context.Context) ([]linePower, error)
	subscribe() (<-chan *dbus.Signal, error)
	close() error
}

// UPower observes org.freedesktop.UPower on the system bus.
type UPower struct {
	Logger *util.Logger

	dial func() (upowerBus, error)
}

// NewUPower returns an observer that connects to the system bus when
// Watch is called.
func NewUPower(logger *util.Logger) *UPower {
	return &UPower{Logger: logger.Named("upower"), dial: dialUPower}
}

// Watch emits the current source, then a new value whenever UPower
// reports a supply change.  Repeated identical readings are dropped.
func (u *UPower) Watch(ctx context.Context) (<-chan Source, error) {
	bus, err := u.dial()
	if err != nil {
		return nil, err
	}
	sigs, err := bus.subscribe()
	if err != nil {
		bus.close() //nolint:errcheck
		return nil, err
	}

	out := make(chan Source, 1)
	go u.loop(ctx, bus, sigs, out)
	return out, nil
}

func (u *UPower) loop(ctx context.Context, bus upowerBus, sigs <-chan *dbus.Signal, out chan<- Source) {
	defer close(out)
	defer bus.close() //nolint:errcheck

	last := Source(-1)
	emit := func() bool {
		src := u.read(ctx, bus)
		if src == last {
			return true
		}
		last = src
		select {
		case out <- src:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigs:
			if !ok {
				u.Logger.Warn("system bus connection lost")
				return
			}
			if supplyChanged(sig) && !emit() {
				return
			}
		}
	}
}

// read queries UPower and classifies the result.  Read failures yield
// Unknown, which the policy treats as no external power.
func (u *UPower) read(ctx context.Context, bus upowerBus) Source {
	onBattery, err := bus.onBattery(ctx)
	if err != nil {
		u.Logger.Warn("read OnBattery: %v", err)
		return Unknown
	}
	lines, err := bus.linePowers(ctx)
	if err != nil {
		u.Logger.Warn("enumerate line power: %v", err)
		if onBattery {
			return Battery
		}
		return Unknown
	}
	src := classify(onBattery, lines)
	u.Logger.Debug("OnBattery=%v line-power=%d -> %s", onBattery, len(lines), src)
	return src
}

// classify turns UPower readings into a Source.  An online supply
// whose native path mentions USB counts as USB.  A host that is not on
// battery and has no line-power device at all runs from mains.
func classify(onBattery bool, lines []linePower) Source {
	if onBattery {
		return Battery
	}
	for _, l := range lines {
		if !l.Online {
			continue
		}
		if strings.Contains(strings.ToLower(l.NativePath), "usb") {
			return USB
		}
		return AC
	}
	if len(lines) == 0 {
		return AC
	}
	return Unknown
}

// supplyChanged reports whether sig is a PropertiesChanged touching
// OnBattery or a device's Online flag.
func supplyChanged(sig *dbus.Signal) bool {
	// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
	if sig == nil || sig.Name != propsSignal || len(sig.Body) < 2 {
		return false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || (iface != upowerIface && iface != deviceIface) {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	_, battery := changed["OnBattery"]
	_, online := changed["Online"]
	return battery || online
}

// ── system bus ───────────────────────────────────────────────────────

// dbusUPower reads UPower over a private system bus connection.
type dbusUPower struct {
	conn *dbus.Conn
}

func dialUPower() (upowerBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &dbusUPower{conn: conn}, nil
}

func (b *dbusUPower) onBattery(ctx context.Context) (bool, error) {
	var v dbus.Variant
	err := b.conn.Object(upowerService, upowerPath).
		CallWithContext(ctx, propsIface+".Get", 0, upowerIface, "OnBattery").Store(&v)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("OnBattery is %T, not bool", v.Value())
	}
	return val, nil
}

func (b *dbusUPower) linePowers(ctx context.Context) ([]linePower, error) {
	var paths []dbus.ObjectPath
	err := b.conn.Object(upowerService, upowerPath).
		CallWithContext(ctx, upowerIface+".EnumerateDevices", 0).Store(&paths)
	if err != nil {
		return nil, err
	}

	var lines []linePower
	for _, p := range paths {
		var props map[string]dbus.Variant
		err := b.conn.Object(upowerService, p).
			CallWithContext(ctx, propsIface+".GetAll", 0, deviceIface).Store(&props)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if typ, _ := props["Type"].Value().(uint32); typ != deviceTypeLinePower {
			continue
		}
		online, _ := props["Online"].Value().(bool)
		native, _ := props["NativePath"].Value().(string)
		lines = append(lines, linePower{Path: p, Online: online, NativePath: native})
	}
	return lines, nil
}

func (b *dbusUPower) subscribe() (<-chan *dbus.Signal, error) {
	err := b.conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(upowerPath),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe to UPower: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch, nil
}

func (b *dbusUPower) close() error {
	return b.conn.Close()
}
