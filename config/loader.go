package config

// loader.go - configuration loading from the YAML file and environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto cfg.  Keys missing
// from the file keep their current value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file
		}
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the CARACAS_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.
func LoadFromEnv(cfg *Config) {
	// Session
	if v := os.Getenv("CARACAS_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("CARACAS_HANDSHAKE"); v != "" {
		cfg.Handshake = v
	}
	if v := os.Getenv("CARACAS_EXPECT"); v != "" {
		cfg.Expect = v
	}
	if v := os.Getenv("CARACAS_COMMAND"); v != "" {
		cfg.Command = v
	}
	if v := envDuration("CARACAS_TIMEOUT"); v > 0 {
		cfg.Timeout = v
	}
	if v := envDuration("CARACAS_KEEP_ALIVE"); v != 0 {
		cfg.KeepAlive = v
	}
	if v := envFloat("CARACAS_RATE"); v > 0 {
		cfg.Rate = v
	}
	if v := envInt("CARACAS_COUNT"); v > 0 {
		cfg.MaxIterations = v
	}
	if envBool("CARACAS_HARD_CANCEL") {
		cfg.HardCancel = true
	}
	if envBool("CARACAS_NO_DNS") {
		cfg.NoDNS = true
	}

	// Listen
	if v := envInt("CARACAS_PORT"); v > 0 {
		cfg.LocalPort = v
	}
	if v := os.Getenv("CARACAS_REPLY"); v != "" {
		cfg.Reply = v
	}

	// SSH tunnel
	if v := os.Getenv("CARACAS_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("CARACAS_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("CARACAS_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("CARACAS_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("CARACAS_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Power
	if envBool("CARACAS_WATCH_POWER") {
		cfg.WatchPower = true
	}
	if v := os.Getenv("CARACAS_POWER_SOURCE"); v != "" {
		cfg.PowerSource = v
	}
	if envBool("CARACAS_DRY_RUN_MODE") {
		cfg.DryRunMode = true
	}

	// Output
	if v := os.Getenv("CARACAS_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := envInt("CARACAS_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return n
}

func envFloat(key string) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return 0
	}
	return f
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

// envDuration accepts a Go duration ("1500ms") or plain seconds ("5").
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return 0
}
