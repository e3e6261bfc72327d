package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, the config file, and environment variables.

const (
	// DefaultEndpoint is the head unit's reply socket.
	DefaultEndpoint = "tcp://10.0.0.10:5555"

	// DefaultHandshake is the greeting sent once per session.
	DefaultHandshake = "EHLO CARACAS"

	// DefaultExpect is the reply that accepts the handshake.  The peer
	// echoes the greeting back.
	DefaultExpect = "EHLO CARACAS"

	// DefaultCommand is sent on every loop iteration.
	DefaultCommand = "Hello"

	// DefaultListenPort matches the port the head unit binds.
	DefaultListenPort = 5555

	// DefaultReply answers commands the peer has no handler for.
	DefaultReply = "ACK"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout bounds the SSH gateway dial.
	DefaultConnTimeout = 30 * time.Second

	// DefaultSSHKeepAlive is the gateway keepalive probe interval.
	DefaultSSHKeepAlive = 15 * time.Second

	// DefaultModeAttempts is how many times a mode change is tried
	// before giving up on a transient D-Bus failure.
	DefaultModeAttempts = 3

	// DefaultVerbosity shows info lines, so every reply is printed.
	DefaultVerbosity = 1
)

// Default returns a Config populated with every default.
func Default() *Config {
	return &Config{
		Endpoint:  DefaultEndpoint,
		Handshake: DefaultHandshake,
		Expect:    DefaultExpect,
		Command:   DefaultCommand,
		LocalPort: DefaultListenPort,
		Reply:     DefaultReply,
		Verbose:   DefaultVerbosity,
	}
}
