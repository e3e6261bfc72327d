// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"caracas/config"
	"caracas/internal/core"
	"caracas/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X caracas/cmd.version=1.1.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives --dry-run and --version output.  Tests replace it.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// options are flags that steer the CLI itself rather than the config.
type options struct {
	showVersion bool
	showHelp    bool
	quiet       bool
	verbosity   int // -v count, added to the configured level
}

// newFlagSet binds every flag to cfg.  Flag defaults are cfg's current
// values, so parsing onto a config loaded from file and environment
// overrides only what the user typed.
func newFlagSet(cfg *config.Config, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("caracas", flag.ContinueOnError)
	fs.SortFlags = false

	// ── request session ──────────────────────────────────────────
	fs.StringVar(&cfg.Handshake, "handshake", cfg.Handshake, "Greeting sent once per session")
	fs.StringVar(&cfg.Expect, "expect", cfg.Expect, "Reply that accepts the greeting")
	fs.StringVarP(&cfg.Command, "command", "c", cfg.Command, "Command sent every iteration")
	fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Bound on each connect, send and receive (0 = none)")
	fs.DurationVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "TCP keep-alive period (0 = OS default, negative = off)")
	fs.Float64Var(&cfg.Rate, "rate", cfg.Rate, "Iterations per second (0 = unpaced)")
	fs.IntVar(&cfg.MaxIterations, "count", cfg.MaxIterations, "Stop after this many replies (0 = until interrupted)")
	fs.BoolVar(&cfg.HardCancel, "hard-cancel", cfg.HardCancel, "Abort a pending receive on interrupt")
	fs.BoolVarP(&cfg.NoDNS, "no-dns", "n", cfg.NoDNS, "Numeric-only endpoint, no DNS resolution")
	fs.BoolVar(&cfg.NoSession, "no-session", cfg.NoSession, "Do not run the request session (with --watch-power)")

	// ── reply peer ───────────────────────────────────────────────
	fs.BoolVarP(&cfg.Listen, "listen", "l", cfg.Listen, "Listen mode: answer as the reply peer")
	fs.IntVarP(&cfg.LocalPort, "port", "p", cfg.LocalPort, "Listen port")
	fs.BoolVarP(&cfg.KeepOpen, "keep-open", "k", cfg.KeepOpen, "Serve multiple clients (with -l)")
	fs.StringVar(&cfg.Reply, "reply", cfg.Reply, "Reply to unrecognised commands (with -l)")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── power ────────────────────────────────────────────────────
	fs.BoolVar(&cfg.WatchPower, "watch-power", cfg.WatchPower, "Toggle airplane mode from the power source")
	fs.StringVar(&cfg.PowerSource, "power-source", cfg.PowerSource, "Replay these sources instead of UPower (e.g. ac,battery)")
	fs.BoolVar(&cfg.DryRunMode, "dry-run-mode", cfg.DryRunMode, "Log mode changes without touching the radios")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on host:port")
	fs.CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print errors")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Print the resolved configuration and exit")

	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }
	return fs
}

// Execute parses args and runs the selected modes.
func Execute(ctx context.Context, args []string) error {
	cfg, opts, err := resolve(args)
	if err != nil {
		return err
	}
	if opts.showHelp {
		printUsage(newFlagSet(config.Default(), &options{}))
		return nil
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "caracas %s\n", version)
		return nil
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if cfg.TunnelSpec != "" {
		user, host, port, err := config.ParseTunnelSpec(cfg.TunnelSpec)
		if err != nil {
			return fmt.Errorf("tunnel: %w", err)
		}
		cfg.TunnelEnabled = true
		cfg.TunnelUser = user
		cfg.TunnelHost = host
		cfg.TunnelPort = port
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DryRun {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// resolve layers defaults, the config file, the environment and the
// command line, lowest precedence first.
func resolve(args []string) (*config.Config, *options, error) {
	// First pass: only to learn --config.
	first := config.Default()
	if err := newFlagSet(first, &options{}).Parse(args); err != nil {
		return nil, nil, err
	}

	cfg := config.Default()
	if first.ConfigFile != "" {
		if err := config.LoadFile(cfg, first.ConfigFile); err != nil {
			return nil, nil, err
		}
	}
	config.LoadFromEnv(cfg)

	opts := &options{}
	fs := newFlagSet(cfg, opts)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg.Verbose += opts.verbosity
	if opts.quiet {
		cfg.Verbose = 0
	}

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, nil, err
	}
	return cfg, opts, nil
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	switch {
	case len(remaining) == 0:
		return nil
	case cfg.Listen:
		return fmt.Errorf("listen mode takes no endpoint (use -p to pick the port)")
	case len(remaining) > 1:
		return fmt.Errorf("too many arguments: want a single endpoint")
	}
	cfg.Endpoint = remaining[0]
	return nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `caracas – request/reply session client v%s

Keeps a ZeroMQ REQ (or WebSocket) session open to a peer, greets it
once, then sends a command and prints each reply until interrupted.

Usage:
  caracas [options] [endpoint]                Request session (default %s)
  caracas                                     Session from CARACAS_* and --config settings
  caracas -l -p <port> [options]              Reply peer
  caracas --watch-power --no-session          Power watcher only
  caracas -T user@gateway <endpoint>          Session over an SSH tunnel

Options:
`, version, config.DefaultEndpoint)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Exit status:
  0  stopped by interrupt or --count
  1  usage or configuration error
  2  connection error
  3  handshake rejected

Examples:
  caracas tcp://10.0.0.10:5555                Talk to the head unit
  caracas -c get_power_status --rate 1 tcp://10.0.0.10:5555
  caracas -l -p 5555 -k                       Stand-in head unit
  caracas --watch-power --dry-run-mode        Session plus power watcher
  caracas --config caracas.yaml -vv           Settings from a file
`)
}
