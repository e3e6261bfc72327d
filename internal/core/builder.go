package core

import (
	"fmt"
	"io"
	"net"

	"caracas/config"
	"caracas/internal/airplane"
	"caracas/internal/client"
	"caracas/internal/metrics"
	"caracas/internal/peer"
	"caracas/internal/power"
	"caracas/internal/session"
	"caracas/internal/transport"
	"caracas/tunnel"
	"caracas/util"
)

// Build constructs the mode tree for cfg.  The returned Mode is a
// *Supervisor when the power watcher or metrics endpoint run beside the
// primary mode.  cfg must already be validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	return BuildWithMetrics(cfg, logger, metrics.New())
}

// BuildWithMetrics is Build with a caller-owned collector.
func BuildWithMetrics(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	var (
		watcher    *power.Watcher
		background []Mode
	)
	if cfg.WatchPower {
		pm, err := buildPower(cfg, logger, m)
		if err != nil {
			return nil, err
		}
		watcher = pm.Watcher
		background = append(background, pm)
	}

	var primary Mode
	switch {
	case cfg.Listen:
		primary = buildListen(cfg, logger, m, watcher)
	case cfg.NoSession:
		if len(background) == 0 {
			return nil, fmt.Errorf("nothing to run: --no-session needs --watch-power")
		}
		primary, background = background[0], background[1:]
	default:
		cm, err := buildConnect(cfg, logger, m)
		if err != nil {
			return nil, err
		}
		primary = cm
	}

	if cfg.MetricsAddr != "" {
		background = append(background, &MetricsMode{
			Server: metrics.NewServer(m, logger),
			Addr:   cfg.MetricsAddr,
		})
	}

	if len(background) == 0 {
		return primary, nil
	}
	return &Supervisor{Primary: primary, Background: background, Logger: logger}, nil
}

// ── mode builders ────────────────────────────────────────────────────

func buildConnect(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (*ConnectMode, error) {
	ep, err := config.ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.NoDNS && net.ParseIP(ep.Host) == nil {
		return nil, fmt.Errorf(
			"cannot parse %q as an IP address (DNS disabled with -n)", ep.Host)
	}

	dialer := buildDialer(cfg, logger)
	c := client.New(ep, session.NewDialOpener(dialer, logger), logger)
	c.Handshake = cfg.Handshake
	c.Expect = cfg.Expect
	c.Command = cfg.Command
	c.Timeout = cfg.Timeout
	c.Rate = cfg.Rate
	c.MaxIterations = cfg.MaxIterations
	c.HardCancel = cfg.HardCancel
	c.Metrics = m

	return &ConnectMode{Client: c, Dialer: dialer, Logger: logger}, nil
}

func buildListen(cfg *config.Config, logger *util.Logger, m *metrics.Collector, w *power.Watcher) *ListenMode {
	log := logger.Named("peer")
	d := &peer.Dispatcher{
		Handshake:      cfg.Handshake,
		HandshakeReply: cfg.Expect,
		Fallback:       cfg.Reply,
	}
	if w != nil {
		d.Status = watcherStatus(w)
	}

	return &ListenMode{
		Address:  fmt.Sprintf(":%d", cfg.LocalPort),
		KeepOpen: cfg.KeepOpen,
		Handler:  &peer.Handler{Dispatcher: d, Logger: log, Metrics: m},
		Logger:   log,
	}
}

func buildPower(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (*PowerMode, error) {
	var obs power.Observer
	if cfg.PowerSource != "" {
		sources, err := power.ParseSources(cfg.PowerSource)
		if err != nil {
			return nil, err
		}
		obs = &power.Static{Sources: sources}
	} else {
		obs = power.NewUPower(logger)
	}

	var (
		ctl    airplane.Controller
		closer io.Closer
	)
	if cfg.DryRunMode {
		ctl = airplane.NewLogOnly(logger)
	} else {
		nm, err := airplane.NewNetworkManager(config.DefaultModeAttempts, logger)
		if err != nil {
			return nil, fmt.Errorf("airplane mode controller: %w", err)
		}
		ctl, closer = nm, nm
	}

	w := power.NewWatcher(obs, ctl, logger)
	w.Metrics = m
	return &PowerMode{Watcher: w, Closer: closer}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(sshConfig(cfg), logger)
	}
	return &transport.TCPDialer{Timeout: cfg.Timeout, KeepAlive: cfg.KeepAlive}
}

func sshConfig(cfg *config.Config) *tunnel.SSHConfig {
	keepAlive := config.DefaultSSHKeepAlive
	switch {
	case cfg.KeepAlive > 0:
		keepAlive = cfg.KeepAlive
	case cfg.KeepAlive < 0:
		keepAlive = 0
	}
	return &tunnel.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   config.DefaultConnTimeout,
		KeepAlive:     keepAlive,
	}
}

// watcherStatus reports the watcher's last source to the reply peer.
// The host has no ignition line, so ignition follows external power.
func watcherStatus(w *power.Watcher) peer.StatusFunc {
	return func() peer.PowerStatus {
		powered := !power.Restricted(w.Current())
		return peer.PowerStatus{ExternalPower: powered, Ignition: powered}
	}
}
