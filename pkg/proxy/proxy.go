// Package proxy implements the multiplexing core of the TIO sensor-bus
// proxy. One engine goroutine owns the device transport, the client
// registry and the RPC id remap table, and moves every packet between them;
// clients interact only through bounded channel pairs handed out at
// registration. RPC identifiers are rewritten on the way to the device so
// each client keeps its own id space, and rewritten back on the way out so
// replies land at exactly the requester.
package proxy

import (
	"reflect"
	"time"

	"github.com/twinleaf/tio/pkg/dlq"
	"github.com/twinleaf/tio/pkg/port"
	"github.com/twinleaf/tio/pkg/proto"
)

// internalClientID is the reserved client id for proxy-originated RPCs.
const internalClientID uint64 = 0

const (
	// maxIdleWait caps the main loop wait when nothing is pending.
	maxIdleWait = 60 * time.Second
	// reconnectPollWait caps the wait while the device is absent.
	reconnectPollWait = time.Second
	// autonegWait caps the wait while the rate FSM has work pending.
	autonegWait = 200 * time.Millisecond
	// deadlineSlack is added to the nearest-RPC-deadline wait so the sweep
	// that follows actually catches it.
	deadlineSlack = time.Millisecond
	// cancelHorizon is far enough in the future to expire every entry.
	cancelHorizon = 1000 * time.Second
)

// engine is the single-threaded proxy core. All fields are owned by the
// run goroutine and never touched from outside.
type engine struct {
	url              string
	reconnectTimeout time.Duration
	dial             func(string) (port.Port, error)
	newClients       chan clientRecord
	events           chan<- Event
	drops            *dlq.Capture
	done             chan struct{}

	device *proxyDevice

	// Client ids start at 1; 0 is reserved for internal RPCs. 64 bits do
	// not wrap in practice.
	nextClientID uint64
	clients      map[uint64]*clientRecord

	rpc *remapTable
}

func newEngine(cfg Config, newClients chan clientRecord, done chan struct{}) *engine {
	dial := cfg.Dialer
	if dial == nil {
		dial = port.Open
	}
	return &engine{
		url:              cfg.URL,
		reconnectTimeout: cfg.ReconnectTimeout,
		dial:             dial,
		newClients:       newClients,
		events:           cfg.Events,
		drops:            cfg.Drops,
		done:             done,
		nextClientID:     1,
		clients:          make(map[uint64]*clientRecord),
		rpc:              newRemapTable(),
	}
}

// sendEvent delivers a status event to the sink, if one is configured.
// Delivery blocks, so the sink consumer must keep up.
func (e *engine) sendEvent(ev Event) {
	if e.events != nil {
		e.events <- ev
	}
}

// recordDrop notes a packet lost to a full client queue.
func (e *engine) recordDrop(client uint64, pkt *proto.Packet) {
	if e.drops != nil {
		e.drops.Record(dlq.Entry{
			Client: client,
			Route:  pkt.Routing.String(),
			Kind:   pkt.Payload.Kind().String(),
		})
	}
}

// offer sends a packet to a client and records a drop if its queue is full.
func (e *engine) offer(id uint64, c *clientRecord, pkt *proto.Packet) {
	if c.send(pkt) == sendDropped {
		e.recordDrop(id, pkt)
	}
}

// trySetupDevice opens the transport if none is present and seeds the rate
// FSM from its rate descriptor.
func (e *engine) trySetupDevice() bool {
	if e.device != nil {
		return true
	}
	p, err := e.dial(e.url)
	if err != nil {
		return false
	}
	state := RateDoNothing
	if ri := p.RateInfo(); ri != nil && ri.TargetBPS != ri.DefaultBPS {
		state = RateWaitingForSession
	}
	e.device = &proxyDevice{
		port:      p,
		rx:        p.Receive(),
		rateState: state,
		lastRx:    time.Now(),
	}
	return true
}

// forwardToDevice sends a client-origin packet to the device, remapping the
// id of an RPC request on the way. A non-nil return is an error packet that
// must go back to the originating client.
func (e *engine) forwardToDevice(pkt *proto.Packet, clientID uint64) *proto.Packet {
	var wire uint16
	mapped := false
	if req, isReq := pkt.Payload.(*proto.RPCRequest); isReq {
		wire = e.rpc.Allocate()
		if e.rpc.Contains(wire) {
			return proto.NewRPCError(pkt.Routing, req.ID, proto.RPCErrOutOfMemory)
		}
		timeout := internalRPCTimeout
		if clientID != internalClientID {
			timeout = e.clients[clientID].rpcTimeout
		}
		e.rpc.Insert(wire, rpcMapEntry{
			origID:   req.ID,
			client:   clientID,
			route:    pkt.Routing.Clone(),
			deadline: time.Now().Add(timeout),
		})
		e.sendEvent(Event{Kind: EventRpcRemap, Client: clientID, OrigID: req.ID, WireID: wire})
		req.ID = wire
		mapped = true
	}
	if e.device != nil {
		if err := e.device.port.Send(pkt); err == nil {
			return nil
		}
	}
	// Not sent. The main loop notices a dead transport on its own; here
	// just roll back the mapping and report failure to the caller.
	if mapped {
		entry, ok := e.rpc.Remove(wire)
		if !ok {
			panic("rpc map: rollback of unmapped wire id")
		}
		return proto.NewRPCError(entry.route, entry.origID, proto.RPCErrUndefined)
	}
	return nil
}

// restoreRPC removes a wire id mapping on reply or error from the device.
func (e *engine) restoreRPC(wire uint16) (rpcMapEntry, bool) {
	entry, ok := e.rpc.Remove(wire)
	if !ok {
		return rpcMapEntry{}, false
	}
	e.sendEvent(Event{Kind: EventRpcRestore, WireID: wire, Client: entry.client, OrigID: entry.origID})
	return entry, true
}

// dispatchRPCTimeouts expires every entry due strictly before until and
// returns a synthetic RPC error to each originating client still present.
func (e *engine) dispatchRPCTimeouts(until time.Time, code proto.RPCErrorCode) {
	for _, exp := range e.rpc.ExpireUntil(until) {
		e.sendEvent(Event{Kind: EventRpcTimeout, WireID: exp.wire})
		c, ok := e.clients[exp.entry.client]
		if !ok {
			// Client gone (or internal); nobody to tell.
			continue
		}
		e.offer(exp.entry.client, c, proto.NewRPCError(exp.entry.route, exp.entry.origID, code))
	}
}

// processRPCTimeouts sweeps due entries and returns how long the loop may
// wait before the next deadline.
func (e *engine) processRPCTimeouts() time.Duration {
	now := time.Now()
	e.dispatchRPCTimeouts(now, proto.RPCErrTimeout)
	if next, ok := e.rpc.NextDeadline(); ok {
		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait + deadlineSlack
	}
	return maxIdleWait
}

// cancelActiveRPCs fails every in-flight RPC, used when the device is lost.
func (e *engine) cancelActiveRPCs() {
	e.dispatchRPCTimeouts(time.Now().Add(cancelHorizon), proto.RPCErrUndefined)
}

// run is the proxy main loop. It exits on a fatal receive error, when the
// registration queue closes, or when the reconnect window is exhausted.
func (e *engine) run() {
	defer e.shutdown()

	if !e.trySetupDevice() {
		e.sendEvent(Event{Kind: EventFailedToConnect})
		return
	}
	e.sendEvent(Event{Kind: EventSensorConnected})
	deviceTimeout := time.Now()
	toDrop := make(map[uint64]struct{})

	for {
		wait := e.processRPCTimeouts()

		if e.device == nil {
			e.cancelActiveRPCs()
			if e.trySetupDevice() {
				e.sendEvent(Event{Kind: EventSensorReconnected})
			} else {
				if time.Now().After(deviceTimeout) {
					e.sendEvent(Event{Kind: EventFailedToReconnect})
					return
				}
				if wait > reconnectPollWait {
					wait = reconnectPollWait
				}
			}
		}

		if e.device != nil && e.device.needsAutoneg() {
			e.autonegotiate()
			if wait > autonegWait {
				wait = autonegWait
			}
		}

		for id := range toDrop {
			if c, ok := e.clients[id]; ok {
				close(c.tx)
				delete(e.clients, id)
			}
			delete(toDrop, id)
		}

		// One bounded select over every queue; exactly one ready source is
		// then drained to empty.
		ids := make([]uint64, 0, len(e.clients))
		cases := make([]reflect.SelectCase, 0, len(e.clients)+3)
		for id, c := range e.clients {
			cases = append(cases, reflect.SelectCase{
				Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.rx),
			})
			ids = append(ids, id)
		}
		newClientIdx := len(cases)
		cases = append(cases, reflect.SelectCase{
			Dir: reflect.SelectRecv, Chan: reflect.ValueOf(e.newClients),
		})
		deviceIdx := -1
		if e.device != nil {
			deviceIdx = len(cases)
			cases = append(cases, reflect.SelectCase{
				Dir: reflect.SelectRecv, Chan: reflect.ValueOf(e.device.rx),
			})
		}
		timer := time.NewTimer(wait)
		timerIdx := len(cases)
		cases = append(cases, reflect.SelectCase{
			Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C),
		})

		chosen, rv, ok := reflect.Select(cases)
		if chosen != timerIdx {
			timer.Stop()
		}

		switch {
		case chosen < newClientIdx:
			e.drainClient(ids[chosen], rv, ok, toDrop)
		case chosen == newClientIdx:
			if !e.drainNewClients(rv, ok) {
				e.sendEvent(Event{Kind: EventExiting})
				return
			}
		case chosen == deviceIdx:
			if !e.drainDevice(rv, ok, &deviceTimeout) {
				return
			}
		}
	}
}

// drainClient processes the packet received by the select, then empties the
// client's inbound queue. A closed queue marks the client for drop; the
// next iteration removes it before it waits again.
func (e *engine) drainClient(id uint64, rv reflect.Value, ok bool, toDrop map[uint64]struct{}) {
	c := e.clients[id]
	if !ok {
		toDrop[id] = struct{}{}
		e.sendEvent(Event{Kind: EventClientTerminated, Client: id})
		return
	}
	e.handleClientPacket(id, c, rv.Interface().(*proto.Packet))
	for {
		select {
		case pkt, open := <-c.rx:
			if !open {
				toDrop[id] = struct{}{}
				e.sendEvent(Event{Kind: EventClientTerminated, Client: id})
				return
			}
			e.handleClientPacket(id, c, pkt)
		default:
			return
		}
	}
}

func (e *engine) handleClientPacket(id uint64, c *clientRecord, pkt *proto.Packet) {
	c.absolute(pkt)
	if errPkt := e.forwardToDevice(pkt, id); errPkt != nil {
		e.offer(id, c, errPkt)
	}
}

// drainNewClients admits pending registrations. Returns false when the
// registration queue is closed: no client will ever arrive again.
func (e *engine) drainNewClients(rv reflect.Value, ok bool) bool {
	if !ok {
		return false
	}
	e.admitClient(rv.Interface().(clientRecord))
	for {
		select {
		case rec, open := <-e.newClients:
			if !open {
				return false
			}
			e.admitClient(rec)
		default:
			return true
		}
	}
}

func (e *engine) admitClient(rec clientRecord) {
	e.sendEvent(Event{Kind: EventNewClient, Client: e.nextClientID})
	c := rec
	e.clients[e.nextClientID] = &c
	e.nextClientID++
}

// drainDevice processes the receive-queue item delivered by the select,
// then empties the queue. Returns false when the loop must exit.
func (e *engine) drainDevice(rv reflect.Value, ok bool, deviceTimeout *time.Time) bool {
	if !ok {
		e.deviceLost(deviceTimeout)
		return true
	}
	if !e.handleDeviceRecv(rv.Interface().(port.Recv)) {
		return false
	}
	for e.device != nil {
		select {
		case item, open := <-e.device.rx:
			if !open {
				e.deviceLost(deviceTimeout)
				return true
			}
			if !e.handleDeviceRecv(item) {
				return false
			}
		default:
			return true
		}
	}
	return true
}

// deviceLost transitions to the reconnect state.
func (e *engine) deviceLost(deviceTimeout *time.Time) {
	e.device.port.Close()
	e.device = nil
	*deviceTimeout = time.Now().Add(e.reconnectTimeout)
	e.sendEvent(Event{Kind: EventSensorDisconnected})
}

// handleDeviceRecv dispatches one received item. Returns false on a fatal
// receive error.
func (e *engine) handleDeviceRecv(item port.Recv) bool {
	e.device.observe(item)
	if item.Err != nil {
		if perr, isProto := item.Err.(*proto.Error); isProto {
			e.sendEvent(Event{Kind: EventProtocolError, Err: perr})
			return true
		}
		e.sendEvent(Event{Kind: EventFatalError, Err: item.Err})
		return false
	}
	e.handleDevicePacket(item.Packet)
	return true
}

func (e *engine) handleDevicePacket(pkt *proto.Packet) {
	switch pl := pkt.Payload.(type) {
	case *proto.RPCReply:
		entry, ok := e.restoreRPC(pl.ID)
		if !ok {
			return
		}
		pl.ID = entry.origID
		if c, present := e.clients[entry.client]; present {
			e.offer(entry.client, c, pkt)
		} else if entry.client == internalClientID {
			e.internalRPCReply(pl)
		}
	case *proto.RPCError:
		entry, ok := e.restoreRPC(pl.ID)
		if !ok {
			return
		}
		pl.ID = entry.origID
		if c, present := e.clients[entry.client]; present {
			e.offer(entry.client, c, pkt)
		} else if entry.client == internalClientID {
			e.internalRPCError(pl)
		}
	default:
		for id, c := range e.clients {
			e.offer(id, c, pkt)
		}
	}
}

// shutdown releases everything the engine owns. Closing the outbound
// channels is what tells clients the proxy is gone.
func (e *engine) shutdown() {
	if e.device != nil {
		e.device.port.Close()
		e.device = nil
	}
	for id, c := range e.clients {
		close(c.tx)
		delete(e.clients, id)
	}
	close(e.done)
}
