// Package peer implements the reply side of the request session: a
// ZMTP REP socket that answers the greeting, reports power status and
// acknowledges everything else.
package peer

import (
	"strconv"
)

// CommandPowerStatus asks the peer for its power bit code.
const CommandPowerStatus = "get_power_status"

// PowerStatus is what the peer knows about the vehicle supply.
type PowerStatus struct {
	ExternalPower bool
	Ignition      bool
}

// Code packs the status as bit 0 = external power, bit 1 = ignition.
func (s PowerStatus) Code() int {
	code := 0
	if s.ExternalPower {
		code |= 0b01
	}
	if s.Ignition {
		code |= 0b10
	}
	return code
}

// StatusFunc reports the current power status.
type StatusFunc func() PowerStatus

// AlwaysPowered reports external power and ignition on.
func AlwaysPowered() PowerStatus {
	return PowerStatus{ExternalPower: true, Ignition: true}
}

// Dispatcher maps one request body to its reply.
type Dispatcher struct {
	Handshake      string // greeting the client opens with
	HandshakeReply string // answer to the greeting
	Fallback       string // answer to anything unrecognised
	Status         StatusFunc
}

// Dispatch returns the reply for req.  Requests are matched by content.
func (d *Dispatcher) Dispatch(req []byte) []byte {
	switch string(req) {
	case d.Handshake:
		return []byte(d.HandshakeReply)
	case CommandPowerStatus:
		status := d.Status
		if status == nil {
			status = AlwaysPowered
		}
		return []byte(strconv.Itoa(status().Code()))
	}
	return []byte(d.Fallback)
}
