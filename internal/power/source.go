// Package power observes where the device draws power from and turns
// each change into a radio mode for an airplane.Controller.
package power

import (
	"fmt"
	"strconv"
	"strings"
)

// Source is the kind of supply the device is running on.
type Source int32

const (
	Unknown Source = iota
	AC
	USB
	Battery
)

func (s Source) String() string {
	switch s {
	case AC:
		return "AC"
	case USB:
		return "USB"
	case Battery:
		return "BATTERY"
	}
	return "UNKNOWN"
}

// Android BatteryManager.EXTRA_PLUGGED codes.
const (
	pluggedNone = 0
	pluggedAC   = 1
	pluggedUSB  = 2
)

// ParseSource accepts a source name (case-insensitive) or an Android
// plug code: 1 = AC, 2 = USB, 0 = battery, anything else = unknown.
func ParseSource(s string) (Source, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		switch n {
		case pluggedAC:
			return AC, nil
		case pluggedUSB:
			return USB, nil
		case pluggedNone:
			return Battery, nil
		}
		return Unknown, nil
	}

	switch strings.ToLower(s) {
	case "ac":
		return AC, nil
	case "usb":
		return USB, nil
	case "battery", "none":
		return Battery, nil
	case "unknown":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown power source %q (want ac, usb, battery, unknown or a plug code)", s)
}

// ParseSources splits a comma-separated list of sources.
func ParseSources(list string) ([]Source, error) {
	var out []Source
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		src, err := ParseSource(item)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty power source list")
	}
	return out, nil
}

// Restricted maps a power source to the radio mode: radios stay on
// while external power is present and go off otherwise.
func Restricted(src Source) bool {
	switch src {
	case AC, USB:
		return false
	}
	return true
}
