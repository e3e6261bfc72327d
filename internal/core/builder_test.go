package core

import (
	"testing"
	"time"

	"caracas/config"
	"caracas/internal/transport"
	"caracas/util"
)

func testConfig(mut func(*config.Config)) *config.Config {
	cfg := config.Default()
	cfg.Endpoint = "tcp://127.0.0.1:5555"
	if mut != nil {
		mut(cfg)
	}
	return cfg
}

// TestBuild_Connect verifies that Build produces a ConnectMode whose
// client mirrors the session settings.
func TestBuild_Connect(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Command = "get_power_status"
		c.MaxIterations = 4
		c.HardCancel = true
	})

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	cm, ok := mode.(*ConnectMode)
	if !ok {
		t.Fatalf("expected *ConnectMode, got %T", mode)
	}
	c := cm.Client
	if c.Endpoint.String() != "tcp://127.0.0.1:5555" {
		t.Errorf("endpoint = %s", c.Endpoint)
	}
	if c.Handshake != config.DefaultHandshake || c.Expect != config.DefaultExpect {
		t.Errorf("handshake = %q/%q", c.Handshake, c.Expect)
	}
	if c.Command != "get_power_status" || c.MaxIterations != 4 || !c.HardCancel {
		t.Errorf("client not configured from cfg: %+v", c)
	}
	if c.Metrics == nil {
		t.Error("client has no metrics collector")
	}
	if _, ok := cm.Dialer.(*transport.TCPDialer); !ok {
		t.Errorf("expected *TCPDialer, got %T", cm.Dialer)
	}
}

// TestBuild_KeepAlive carries the configured keep-alive period onto the
// dialer that opens the session.
func TestBuild_KeepAlive(t *testing.T) {
	tests := []struct {
		name      string
		keepAlive time.Duration
		tunnel    bool
		want      time.Duration
	}{
		{"tcp default", 0, false, 0},
		{"tcp set", 45 * time.Second, false, 45 * time.Second},
		{"tcp off", -1, false, -1},
		{"ssh default", 0, true, config.DefaultSSHKeepAlive},
		{"ssh set", 5 * time.Second, true, 5 * time.Second},
		{"ssh off", -1, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(func(c *config.Config) {
				c.KeepAlive = tt.keepAlive
				if tt.tunnel {
					c.TunnelEnabled = true
					c.TunnelUser, c.TunnelHost, c.TunnelPort = "pi", "gateway", 22
				}
			})
			var got time.Duration
			if tt.tunnel {
				got = sshConfig(cfg).KeepAlive
			} else {
				d, ok := buildDialer(cfg, util.NewLogger(0)).(*transport.TCPDialer)
				if !ok {
					t.Fatal("expected *TCPDialer")
				}
				got = d.KeepAlive
			}
			if got != tt.want {
				t.Errorf("keep-alive = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestBuild_Tunnel verifies that --tunnel routes the session through SSH.
func TestBuild_Tunnel(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.TunnelEnabled = true
		c.TunnelUser, c.TunnelHost, c.TunnelPort = "pi", "gateway", 22
	})

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mode.(*ConnectMode).Dialer.(*transport.SSHDialer); !ok {
		t.Errorf("expected *SSHDialer, got %T", mode.(*ConnectMode).Dialer)
	}
}

// TestBuild_Listen verifies Build produces a ListenMode.
func TestBuild_Listen(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Listen, c.LocalPort, c.KeepOpen = true, 8080, true
		c.Reply = "ERROR"
	})

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	lm, ok := mode.(*ListenMode)
	if !ok {
		t.Fatalf("expected *ListenMode, got %T", mode)
	}
	if lm.Address != ":8080" || !lm.KeepOpen {
		t.Errorf("address = %q keepOpen = %v", lm.Address, lm.KeepOpen)
	}
	if got := string(lm.Handler.Dispatcher.Dispatch([]byte("bogus"))); got != "ERROR" {
		t.Errorf("fallback reply = %q", got)
	}
}

// TestBuild_NoDNS_Error verifies that a hostname with -n is rejected.
func TestBuild_NoDNS_Error(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Endpoint = "tcp://raspberrypi:5555"
		c.NoDNS = true
	})
	if _, err := Build(cfg, util.NewLogger(0)); err == nil {
		t.Fatal("expected error for hostname with NoDNS")
	}
}

// TestBuild_NoDNS_IP verifies that a numeric IP with -n is accepted.
func TestBuild_NoDNS_IP(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.NoDNS = true })
	if _, err := Build(cfg, util.NewLogger(0)); err != nil {
		t.Fatal(err)
	}
}

// TestBuild_PowerBesideSession verifies that --watch-power runs the
// watcher next to the request session.
func TestBuild_PowerBesideSession(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.WatchPower, c.DryRunMode, c.PowerSource = true, true, "ac,battery"
	})

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	sup, ok := mode.(*Supervisor)
	if !ok {
		t.Fatalf("expected *Supervisor, got %T", mode)
	}
	if _, ok := sup.Primary.(*ConnectMode); !ok {
		t.Errorf("primary = %T", sup.Primary)
	}
	if len(sup.Background) != 1 {
		t.Fatalf("background = %d modes", len(sup.Background))
	}
	pm, ok := sup.Background[0].(*PowerMode)
	if !ok {
		t.Fatalf("background[0] = %T", sup.Background[0])
	}
	if pm.Closer != nil {
		t.Error("dry-run controller should hold no bus connection")
	}
}

// TestBuild_PowerOnly verifies that --no-session makes the watcher the
// whole process.
func TestBuild_PowerOnly(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.NoSession, c.WatchPower, c.DryRunMode, c.PowerSource = true, true, true, "1"
	})

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mode.(*PowerMode); !ok {
		t.Errorf("expected *PowerMode, got %T", mode)
	}
}

func TestBuild_NothingToRun(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.NoSession = true })
	if _, err := Build(cfg, util.NewLogger(0)); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuild_BadPowerSource(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.WatchPower, c.DryRunMode, c.PowerSource = true, true, "ac,solar"
	})
	if _, err := Build(cfg, util.NewLogger(0)); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

// TestBuild_Metrics verifies that --metrics-addr adds the exposition
// endpoint as a background mode.
func TestBuild_Metrics(t *testing.T) {
	cfg := testConfig(func(c *config.Config) { c.MetricsAddr = "127.0.0.1:0" })

	mode, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	sup, ok := mode.(*Supervisor)
	if !ok {
		t.Fatalf("expected *Supervisor, got %T", mode)
	}
	if _, ok := sup.Background[0].(*MetricsMode); !ok {
		t.Errorf("background[0] = %T", sup.Background[0])
	}
}
