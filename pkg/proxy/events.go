package proxy

import (
	"fmt"

	"github.com/twinleaf/tio/pkg/proto"
)

// EventKind identifies a proxy status event.
type EventKind int

const (
	// EventSensorConnected fires when the initial device open succeeds.
	EventSensorConnected EventKind = iota
	// EventSensorDisconnected fires when the device transport closes.
	EventSensorDisconnected
	// EventSensorReconnected fires when a reconnect attempt succeeds.
	EventSensorReconnected
	// EventFailedToConnect fires when the initial device open fails.
	EventFailedToConnect
	// EventFailedToReconnect fires when the reconnect window is exhausted.
	EventFailedToReconnect
	// EventExiting fires when the proxy loop is shutting down.
	EventExiting
	// EventProtocolError fires on a recoverable receive decode failure.
	EventProtocolError
	// EventFatalError fires on an unrecoverable receive failure.
	EventFatalError
	// EventNewClient fires when a client registers.
	EventNewClient
	// EventClientTerminated fires when a client disconnects.
	EventClientTerminated
	// EventRpcRemap fires when a client RPC id is rewritten to a wire id.
	EventRpcRemap
	// EventRpcRestore fires when a wire id is mapped back on reply.
	EventRpcRestore
	// EventRpcTimeout fires when an in-flight RPC expires.
	EventRpcTimeout
	// EventAutoRateGaveUp fires when rate autonegotiation aborts.
	EventAutoRateGaveUp
	// EventAutoRateQueried fires when the device is asked for a nearby rate.
	EventAutoRateQueried
	// EventAutoRateRpcError fires when an autonegotiation RPC fails.
	EventAutoRateRpcError
	// EventAutoRateIncompatible fires when the device cannot run near the
	// target rate.
	EventAutoRateIncompatible
	// EventAutoRateCompatible fires when the device reports a usable rate.
	EventAutoRateCompatible
	// EventAutoRateWait fires while waiting for in-flight RPCs to drain
	// before switching rates.
	EventAutoRateWait
	// EventAutoRateSet fires when the device is told to switch rates.
	EventAutoRateSet
	// EventSetRate fires when the local transport rate is changed.
	EventSetRate
	// EventSetRateFailed fires when the local transport rate change fails.
	EventSetRateFailed
	// EventNoData fires when no traffic arrives after a rate change.
	EventNoData
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventSensorConnected:
		return "SensorConnected"
	case EventSensorDisconnected:
		return "SensorDisconnected"
	case EventSensorReconnected:
		return "SensorReconnected"
	case EventFailedToConnect:
		return "FailedToConnect"
	case EventFailedToReconnect:
		return "FailedToReconnect"
	case EventExiting:
		return "Exiting"
	case EventProtocolError:
		return "ProtocolError"
	case EventFatalError:
		return "FatalError"
	case EventNewClient:
		return "NewClient"
	case EventClientTerminated:
		return "ClientTerminated"
	case EventRpcRemap:
		return "RpcRemap"
	case EventRpcRestore:
		return "RpcRestore"
	case EventRpcTimeout:
		return "RpcTimeout"
	case EventAutoRateGaveUp:
		return "AutoRateGaveUp"
	case EventAutoRateQueried:
		return "AutoRateQueried"
	case EventAutoRateRpcError:
		return "AutoRateRpcError"
	case EventAutoRateIncompatible:
		return "AutoRateIncompatible"
	case EventAutoRateCompatible:
		return "AutoRateCompatible"
	case EventAutoRateWait:
		return "AutoRateWait"
	case EventAutoRateSet:
		return "AutoRateSet"
	case EventSetRate:
		return "SetRate"
	case EventSetRateFailed:
		return "SetRateFailed"
	case EventNoData:
		return "NoData"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one asynchronous status notification from the proxy engine.
// Only the fields relevant to the kind are set.
type Event struct {
	Kind   EventKind
	Client uint64
	WireID uint16
	OrigID uint16
	Rate   uint32
	Code   proto.RPCErrorCode
	Err    error
}

// String returns a compact human-readable form of the event.
func (e Event) String() string {
	switch e.Kind {
	case EventNewClient, EventClientTerminated:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Client)
	case EventRpcRemap:
		return fmt.Sprintf("RpcRemap((%d,%d),%d)", e.Client, e.OrigID, e.WireID)
	case EventRpcRestore:
		return fmt.Sprintf("RpcRestore(%d,(%d,%d))", e.WireID, e.Client, e.OrigID)
	case EventRpcTimeout:
		return fmt.Sprintf("RpcTimeout(%d)", e.WireID)
	case EventAutoRateQueried, EventAutoRateIncompatible, EventAutoRateCompatible,
		EventAutoRateSet, EventSetRate:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Rate)
	case EventAutoRateRpcError:
		return fmt.Sprintf("AutoRateRpcError(%s)", e.Code)
	case EventProtocolError, EventFatalError:
		return fmt.Sprintf("%s(%v)", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}
