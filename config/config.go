// Package config defines the runtime configuration for caracas and
// provides helpers for parsing endpoints and tunnel specifications.
package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	cerr "caracas/internal/errors"
)

// Config holds every tuneable for a single caracas process.
type Config struct {
	// ── Request session ──────────────────────────────────────────────
	Endpoint      string        `yaml:"endpoint"`
	Handshake     string        `yaml:"handshake"`  // greeting sent first
	Expect        string        `yaml:"expect"`     // reply that accepts the handshake
	Command       string        `yaml:"command"`    // sent every loop iteration
	Timeout       time.Duration `yaml:"timeout"`    // per blocking op, 0 = unbounded
	KeepAlive     time.Duration `yaml:"keep_alive"` // TCP keep-alive period, 0 = OS default, <0 = off
	Rate          float64       `yaml:"rate"`       // iterations per second, 0 = no limit
	MaxIterations int           `yaml:"max_iterations"`
	HardCancel    bool          `yaml:"hard_cancel"`
	NoDNS         bool          `yaml:"no_dns"`
	NoSession     bool          `yaml:"no_session"`

	// ── Reply peer (listen mode) ─────────────────────────────────────
	Listen    bool   `yaml:"listen"`
	LocalPort int    `yaml:"port"`
	KeepOpen  bool   `yaml:"keep_open"`
	Reply     string `yaml:"reply"` // fallback reply for unknown commands

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string `yaml:"tunnel"` // raw [user@]host[:port]
	TunnelEnabled  bool   `yaml:"-"`
	TunnelUser     string `yaml:"-"`
	TunnelHost     string `yaml:"-"`
	TunnelPort     int    `yaml:"-"`
	SSHKeyPath     string `yaml:"ssh_key"`
	SSHPassword    bool   `yaml:"ssh_password"`
	UseSSHAgent    bool   `yaml:"ssh_agent"`
	StrictHostKey  bool   `yaml:"strict_hostkey"`
	KnownHostsPath string `yaml:"known_hosts"`

	// ── Power / airplane mode ────────────────────────────────────────
	WatchPower  bool   `yaml:"watch_power"`
	PowerSource string `yaml:"power_source"` // comma list replacing UPower
	DryRunMode  bool   `yaml:"dry_run_mode"` // log mode changes only

	// ── Output ───────────────────────────────────────────────────────
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     int    `yaml:"verbose"`
	ConfigFile  string `yaml:"-"`
	DryRun      bool   `yaml:"-"`
}

// ── Endpoint ─────────────────────────────────────────────────────────

// Endpoint is a parsed, validated peer address such as
// "tcp://10.0.0.10:5555" or "ws://pi.lan:8080/req".
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
	Path   string // ws only, includes any query
}

// Supported endpoint schemes.
const (
	SchemeTCP = "tcp"
	SchemeWS  = "ws"
	SchemeWSS = "wss"
)

// ParseEndpoint validates s and splits it into its parts.
func ParseEndpoint(s string) (Endpoint, error) {
	if strings.TrimSpace(s) == "" {
		return Endpoint{}, fmt.Errorf("endpoint is empty")
	}
	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}

	switch u.Scheme {
	case SchemeTCP, SchemeWS, SchemeWSS:
	case "":
		return Endpoint{}, fmt.Errorf("endpoint %q has no scheme – expected tcp://host:port", s)
	default:
		return Endpoint{}, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" || host == "*" {
		return Endpoint{}, fmt.Errorf("endpoint %q has no host", s)
	}
	portStr := u.Port()
	if portStr == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q has no port", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint port %q out of range 1-65535", portStr)
	}

	ep := Endpoint{Scheme: u.Scheme, Host: host, Port: port}
	if u.Scheme == SchemeTCP {
		if u.Path != "" && u.Path != "/" {
			return Endpoint{}, fmt.Errorf("tcp endpoint %q must not carry a path", s)
		}
	} else {
		ep.Path = u.RequestURI()
	}
	return ep, nil
}

// Address returns "host:port" for dialing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String reassembles the endpoint URL.
func (e Endpoint) String() string {
	s := e.Scheme + "://" + e.Address()
	if e.Scheme != SchemeTCP && e.Path != "/" {
		s += e.Path
	}
	return s
}

// IsWebSocket reports whether the endpoint uses a ws/wss scheme.
func (e Endpoint) IsWebSocket() bool {
	return e.Scheme == SchemeWS || e.Scheme == SchemeWSS
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "pi@gateway.lan:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// RunsSession reports whether the request session will be started.
func (c *Config) RunsSession() bool {
	return !c.Listen && !c.NoSession
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Listen {
		if c.LocalPort < 1 || c.LocalPort > 65535 {
			return &cerr.ConfigError{
				Field:   "port",
				Value:   valueOrNil(c.LocalPort),
				Message: "listen mode requires a port in 1-65535",
				Hint:    "caracas -l -p 5555",
			}
		}
		if c.TunnelEnabled {
			return &cerr.ConfigError{
				Field:   "tunnel",
				Value:   c.TunnelSpec,
				Message: "listen mode and --tunnel are mutually exclusive",
			}
		}
		if c.Handshake == "" || c.Expect == "" {
			return &cerr.ConfigError{Field: "handshake", Message: "handshake and expect tokens must not be empty"}
		}
	}

	if !c.Listen && c.NoSession && !c.WatchPower {
		return &cerr.ConfigError{
			Field:   "no-session",
			Message: "nothing to run",
			Hint:    "combine --no-session with --watch-power",
		}
	}

	if c.RunsSession() {
		if err := c.validateSession(); err != nil {
			return err
		}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &cerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return &cerr.ConfigError{
				Field:   "metrics-addr",
				Value:   c.MetricsAddr,
				Message: err.Error(),
				Hint:    "use host:port, e.g. 127.0.0.1:9105",
			}
		}
	}
	return nil
}

func (c *Config) validateSession() error {
	ep, err := ParseEndpoint(c.Endpoint)
	if err != nil {
		return &cerr.ConfigError{
			Field:   "endpoint",
			Value:   c.Endpoint,
			Message: err.Error(),
			Hint:    "use tcp://host:port or ws://host:port/path",
		}
	}
	if c.NoDNS && net.ParseIP(ep.Host) == nil {
		return &cerr.ConfigError{
			Field:   "endpoint",
			Value:   c.Endpoint,
			Message: "host is not an IP address (DNS disabled with -n)",
		}
	}
	switch {
	case c.Handshake == "":
		return &cerr.ConfigError{Field: "handshake", Message: "must not be empty"}
	case c.Expect == "":
		return &cerr.ConfigError{Field: "expect", Message: "must not be empty"}
	case c.Command == "":
		return &cerr.ConfigError{Field: "command", Message: "must not be empty"}
	case c.Timeout < 0:
		return &cerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	case c.Rate < 0:
		return &cerr.ConfigError{Field: "rate", Value: c.Rate, Message: "must not be negative"}
	case c.MaxIterations < 0:
		return &cerr.ConfigError{Field: "count", Value: c.MaxIterations, Message: "must not be negative"}
	}
	return nil
}

func valueOrNil(port int) interface{} {
	if port == 0 {
		return nil
	}
	return port
}
