package util

import (
	"fmt"
	"net"
	"strconv"
	"unicode/utf8"
)

// CheckNumericHost rejects hostnames when DNS resolution is disabled.
func CheckNumericHost(host string, noDNS bool) error {
	if noDNS && net.ParseIP(host) == nil {
		return fmt.Errorf("cannot parse %q as an IP address (DNS disabled with -n)", host)
	}
	return nil
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Printable renders a payload for a log line: valid UTF-8 text is
// returned as-is, anything else is quoted.  Output is capped at max
// bytes (0 = no cap).
func Printable(b []byte, max int) string {
	suffix := ""
	if max > 0 && len(b) > max {
		suffix = fmt.Sprintf("… (%d bytes)", len(b))
		b = b[:max]
	}
	if utf8.Valid(b) {
		return string(b) + suffix
	}
	return strconv.Quote(string(b)) + suffix
}
