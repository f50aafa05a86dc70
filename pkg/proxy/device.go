package proxy

import (
	"errors"
	"time"

	"github.com/twinleaf/tio/pkg/port"
	"github.com/twinleaf/tio/pkg/proto"
)

// RateChange enumerates the states of the rate autonegotiation handshake.
type RateChange int

const (
	// RateDoNothing means the transport needs no negotiation.
	RateDoNothing RateChange = iota
	// RateWaitingForSession waits for a root session heartbeat before
	// talking to the device.
	RateWaitingForSession
	// RateQueryDeviceRate is about to ask the device for a nearby rate.
	RateQueryDeviceRate
	// RateWaitingDeviceRate waits for the rate query reply.
	RateWaitingDeviceRate
	// RateSetDeviceRate is about to tell the device to switch rates.
	RateSetDeviceRate
	// RateWaitingNewRate waits for the rate-set acknowledgement.
	RateWaitingNewRate
	// RateChanged runs the post-switch liveness watchdog.
	RateChanged
	// RateGaveUp means negotiation failed; the link stays at the default
	// rate until the root device restarts.
	RateGaveUp
)

// String returns the string representation of the state.
func (s RateChange) String() string {
	switch s {
	case RateDoNothing:
		return "DoNothing"
	case RateWaitingForSession:
		return "WaitingForSession"
	case RateQueryDeviceRate:
		return "QueryDeviceRate"
	case RateWaitingDeviceRate:
		return "WaitingDeviceRate"
	case RateSetDeviceRate:
		return "SetDeviceRate"
	case RateWaitingNewRate:
		return "WaitingNewRate"
	case RateChanged:
		return "RateChanged"
	case RateGaveUp:
		return "GaveUp"
	default:
		return "Unknown"
	}
}

// proxyDevice is the engine's state for one open transport.
type proxyDevice struct {
	port        port.Port
	rx          <-chan port.Recv
	rateState   RateChange
	lastRx      time.Time
	lastSession uint32
}

// hasStaticRate reports whether the link rate is fixed for good.
func (d *proxyDevice) hasStaticRate() bool {
	return d.rateState == RateDoNothing
}

// needsAutoneg reports whether the rate FSM still has work to do.
func (d *proxyDevice) needsAutoneg() bool {
	return d.rateState != RateDoNothing && d.rateState != RateGaveUp
}

// observe updates liveness and session tracking for one received item.
// A root session heartbeat drives the session-gated FSM transitions: the
// first session ends WaitingForSession, and a session change after GaveUp
// restarts negotiation because the device rebooted. Text protocol errors
// count as liveness: the link is delivering bytes, just not framed packets.
func (d *proxyDevice) observe(rv port.Recv) {
	if d.hasStaticRate() {
		return
	}
	if rv.Packet != nil {
		if hb, ok := rv.Packet.Payload.(*proto.Heartbeat); ok && rv.Packet.Routing.IsRoot() {
			if session, ok := hb.Session(); ok {
				if d.rateState == RateWaitingForSession {
					d.rateState = RateQueryDeviceRate
				} else if session != d.lastSession && d.rateState == RateGaveUp {
					d.rateState = RateQueryDeviceRate
				}
				d.lastSession = session
			}
		}
		d.lastRx = time.Now()
		return
	}
	var perr *proto.Error
	if errors.As(rv.Err, &perr) && perr.IsText() {
		d.lastRx = time.Now()
	}
}
