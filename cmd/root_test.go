package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"caracas/internal/client"
	"caracas/internal/core"
	cerr "caracas/internal/errors"
	"caracas/util"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	out := captureStdout(t)
	if err := Execute(context.Background(), []string{"--version"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "caracas ") {
		t.Errorf("version output = %q", out.String())
	}
}

// TestExecute_Help verifies --help (and no args) returns without error.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"-h"}, {"-h", "tcp://10.0.0.10:5555"}} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if err := Execute(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestExecute_DryRun verifies --dry-run validates and prints the config.
func TestExecute_DryRun(t *testing.T) {
	out := captureStdout(t)
	err := Execute(context.Background(), []string{"-l", "-p", "8080", "--dry-run"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"listen: true", "port: 8080", "reply: ACK"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("dry-run output missing %q:\n%s", want, out)
		}
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	err := Execute(context.Background(), []string{"-l", "-p", "0", "--dry-run"})
	var ce *cerr.ConfigError
	if !errors.As(err, &ce) || ce.Field != "port" {
		t.Fatalf("expected port ConfigError, got %v", err)
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	if err := Execute(context.Background(), []string{"--nonexistent-flag"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestExecute_BadTunnel(t *testing.T) {
	err := Execute(context.Background(), []string{"-T", "pi@gw:99999", "--dry-run"})
	if err == nil || !strings.Contains(err.Error(), "tunnel") {
		t.Fatalf("expected tunnel error, got %v", err)
	}
}

func TestExecute_NothingToRun(t *testing.T) {
	err := Execute(context.Background(), []string{"--no-session", "--dry-run"})
	if err == nil || !strings.Contains(err.Error(), "nothing to run") {
		t.Fatalf("expected nothing-to-run error, got %v", err)
	}
}

// ── precedence ───────────────────────────────────────────────────────

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caracas.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolve_Precedence(t *testing.T) {
	path := writeConfig(t, "command: from-file\nrate: 2\nreply: FILE\ntimeout: 3s\n")

	tests := []struct {
		name        string
		env         string
		args        []string
		wantCommand string
		wantRate    float64
	}{
		{"file over defaults", "", nil, "from-file", 2},
		{"env over file", "from-env", nil, "from-env", 2},
		{"flag over env", "from-env", []string{"-c", "from-flag", "--rate", "5"}, "from-flag", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CARACAS_COMMAND", tt.env)
			args := append([]string{"--config", path}, tt.args...)

			cfg, _, err := resolve(args)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Command != tt.wantCommand || cfg.Rate != tt.wantRate {
				t.Errorf("command = %q rate = %v, want %q %v",
					cfg.Command, cfg.Rate, tt.wantCommand, tt.wantRate)
			}
			// Untouched file keys survive the flag pass.
			if cfg.Reply != "FILE" || cfg.Timeout != 3*time.Second {
				t.Errorf("reply = %q timeout = %v", cfg.Reply, cfg.Timeout)
			}
		})
	}
}

func TestResolve_BadConfigFile(t *testing.T) {
	path := writeConfig(t, "no_such_key: 1\n")
	if _, _, err := resolve([]string{"--config", path}); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestResolve_Verbosity(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, 1},
		{[]string{"-v"}, 2},
		{[]string{"-vv"}, 3},
		{[]string{"-vv", "-q"}, 0},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cfg, _, err := resolve(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Verbose != tt.want {
				t.Errorf("verbose = %d, want %d", cfg.Verbose, tt.want)
			}
		})
	}
}

func TestResolve_Positional(t *testing.T) {
	cfg, _, err := resolve([]string{"ws://pi.lan:8080/req"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "ws://pi.lan:8080/req" {
		t.Errorf("endpoint = %q", cfg.Endpoint)
	}

	if _, _, err := resolve([]string{"-l", "tcp://pi:1"}); err == nil {
		t.Error("listen mode accepted an endpoint")
	}
	if _, _, err := resolve([]string{"tcp://a:1", "tcp://b:2"}); err == nil {
		t.Error("two endpoints accepted")
	}
}

// ── end to end ───────────────────────────────────────────────────────

// runUntilUp retries a client Execute while the peer is still binding.
func runUntilUp(t *testing.T, args []string) error {
	t.Helper()
	var err error
	for i := 0; i < 50; i++ {
		err = Execute(context.Background(), args)
		var se *core.SessionError
		if !errors.As(err, &se) || se.Result != client.ConnectionError {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
	return err
}

// TestExecute_NoArgsRunsSession runs the session from settings that only
// the environment supplies.
func TestExecute_NoArgsRunsSession(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go Execute(ctx, []string{"-q", "-l", "-k", "-p", strconv.Itoa(port)}) //nolint:errcheck

	t.Setenv("CARACAS_ENDPOINT", fmt.Sprintf("tcp://127.0.0.1:%d", port))
	t.Setenv("CARACAS_COUNT", "1")
	t.Setenv("CARACAS_TIMEOUT", "2s")
	if err := runUntilUp(t, nil); err != nil {
		t.Fatalf("session: %v", err)
	}
}

func TestResolve_NoArgsKeepsEnvEndpoint(t *testing.T) {
	t.Setenv("CARACAS_ENDPOINT", "tcp://192.168.1.20:5555")
	cfg, opts, err := resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	if opts.showHelp {
		t.Error("no arguments must not mean help")
	}
	if cfg.Endpoint != "tcp://192.168.1.20:5555" {
		t.Errorf("endpoint = %q", cfg.Endpoint)
	}
}

func TestResolve_KeepAliveFlag(t *testing.T) {
	cfg, _, err := resolve([]string{"--keep-alive", "20s"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KeepAlive != 20*time.Second {
		t.Errorf("keep-alive = %v, want 20s", cfg.KeepAlive)
	}
}

func TestExecute_SessionAgainstPeer(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go Execute(ctx, []string{"-q", "-l", "-k", "-p", strconv.Itoa(port)}) //nolint:errcheck

	endpoint := fmt.Sprintf("tcp://127.0.0.1:%d", port)
	if err := runUntilUp(t, []string{"-q", "--count", "2", "-w", "2s", endpoint}); err != nil {
		t.Fatalf("session: %v", err)
	}

	err = Execute(ctx, []string{"-q", "--handshake", "EHLO NOBODY", "-w", "2s", endpoint})
	var se *core.SessionError
	if !errors.As(err, &se) || se.ExitCode() != client.ExitHandshakeFailed {
		t.Fatalf("expected handshake failure, got %v", err)
	}
}
