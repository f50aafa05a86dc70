package proxy

import (
	"math"
	"time"

	"github.com/twinleaf/tio/pkg/proto"
)

const (
	// rateCompatTolerance is the largest relative error between the target
	// rate and the rate the device can actually run.
	rateCompatTolerance = 0.015
	// rateWatchdogWindow is how long the link may stay silent after a rate
	// switch before it is reverted.
	rateWatchdogWindow = time.Second
	// internalRPCTimeout is the deadline applied to client-0 RPCs.
	internalRPCTimeout = time.Second
)

// Internal RPC method names understood by the root device.
const (
	methodRateNear = "dev.port.rate.near"
	methodRateSet  = "dev.port.rate"
)

// autonegotiate performs one upkeep step of the rate FSM. Called from the
// main loop whenever a device is present and negotiation is unfinished.
func (e *engine) autonegotiate() {
	d := e.device
	switch d.rateState {
	case RateQueryDeviceRate:
		target := d.port.RateInfo().TargetBPS
		req := proto.NewRPCRequest(proto.RootRoute(), 0, methodRateNear, proto.EncodeUint32(target))
		if errPkt := e.forwardToDevice(req, internalClientID); errPkt != nil {
			e.giveUp()
			return
		}
		e.sendEvent(Event{Kind: EventAutoRateQueried, Rate: target})
		d.rateState = RateWaitingDeviceRate

	case RateSetDeviceRate:
		// Switch only with no RPCs in flight, so none straddle the rate
		// change.
		if e.rpc.Len() != 0 {
			e.sendEvent(Event{Kind: EventAutoRateWait})
			return
		}
		target := d.port.RateInfo().TargetBPS
		req := proto.NewRPCRequest(proto.RootRoute(), 0, methodRateSet, proto.EncodeUint32(target))
		if errPkt := e.forwardToDevice(req, internalClientID); errPkt != nil {
			e.giveUp()
			return
		}
		e.sendEvent(Event{Kind: EventAutoRateSet, Rate: target})
		d.rateState = RateWaitingNewRate

	case RateChanged:
		if time.Since(d.lastRx) > rateWatchdogWindow {
			e.sendEvent(Event{Kind: EventNoData})
			defaultBPS := d.port.RateInfo().DefaultBPS
			if err := d.port.SetRate(defaultBPS); err != nil {
				e.sendEvent(Event{Kind: EventSetRateFailed})
			}
			d.rateState = RateGaveUp
			e.sendEvent(Event{Kind: EventSetRate, Rate: defaultBPS})
		}
	}
}

// internalRPCReply handles the reply to a client-0 RPC.
func (e *engine) internalRPCReply(rep *proto.RPCReply) {
	d := e.device
	if d == nil {
		return
	}
	ri := d.port.RateInfo()
	if ri == nil {
		return
	}
	switch d.rateState {
	case RateWaitingDeviceRate:
		value, err := proto.DecodeUint32(rep.Reply)
		if err != nil {
			e.sendEvent(Event{Kind: EventAutoRateRpcError, Code: proto.RPCErrMalformed})
			e.giveUp()
			return
		}
		if value == 0 {
			e.sendEvent(Event{Kind: EventAutoRateIncompatible, Rate: 0})
			e.giveUp()
			return
		}
		relErr := math.Abs(float64(ri.TargetBPS)-float64(value)) / float64(value)
		if relErr > rateCompatTolerance {
			e.sendEvent(Event{Kind: EventAutoRateIncompatible, Rate: value})
			e.giveUp()
			return
		}
		e.sendEvent(Event{Kind: EventAutoRateCompatible, Rate: value})
		d.rateState = RateSetDeviceRate

	case RateWaitingNewRate:
		e.sendEvent(Event{Kind: EventSetRate, Rate: ri.TargetBPS})
		if err := d.port.SetRate(ri.TargetBPS); err != nil {
			e.giveUp()
			return
		}
		d.rateState = RateChanged
	}
}

// internalRPCError handles an error reply to a client-0 RPC. The link stays
// at the default rate until the root device restarts.
func (e *engine) internalRPCError(rpcErr *proto.RPCError) {
	e.sendEvent(Event{Kind: EventAutoRateRpcError, Code: rpcErr.Code})
	if e.device != nil {
		e.giveUp()
	}
}

// giveUp parks the FSM in GaveUp and announces it.
func (e *engine) giveUp() {
	e.device.rateState = RateGaveUp
	e.sendEvent(Event{Kind: EventAutoRateGaveUp})
}
