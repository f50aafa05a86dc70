package proxy

import (
	"time"

	"github.com/twinleaf/tio/pkg/proto"
)

const (
	// InboundQueueDepth bounds the client-to-proxy queue. Small, because
	// client traffic is mostly RPC.
	InboundQueueDepth = 32
	// OutboundQueueDepth bounds the proxy-to-client queue. Larger, so
	// stream data can burst without starving RPC replies.
	OutboundQueueDepth = 256
)

// sendResult classifies what happened to a packet offered to a client.
type sendResult int

const (
	// sendDelivered means the packet was queued for the client.
	sendDelivered sendResult = iota
	// sendFiltered means the packet was outside the client's scope or
	// suppressed by its forwarding policy.
	sendFiltered
	// sendDropped means the client's outbound queue was full.
	sendDropped
)

// clientRecord is the proxy-side state for one registered client session.
type clientRecord struct {
	// tx carries proxy-to-client traffic; closed by the engine on drop.
	tx chan *proto.Packet
	// rx carries client-to-proxy traffic; closed by the client to
	// disconnect.
	rx chan *proto.Packet

	rpcTimeout    time.Duration
	scope         proto.Route
	forwardData   bool
	forwardNonRPC bool
}

// send offers a device-origin packet to the client: scope filter, policy
// filter, routing rewritten relative to the scope, then a non-blocking
// enqueue. The original packet is never mutated.
func (c *clientRecord) send(pkt *proto.Packet) sendResult {
	scoped, err := c.scope.Relative(pkt.Routing)
	if err != nil {
		return sendFiltered
	}
	switch pkt.Payload.Kind() {
	case proto.KindRPCRequest, proto.KindRPCReply, proto.KindRPCError:
	case proto.KindStreamData:
		if !c.forwardData {
			return sendFiltered
		}
	default:
		if !c.forwardNonRPC {
			return sendFiltered
		}
	}
	out := &proto.Packet{Payload: pkt.Payload, Routing: scoped, TTL: pkt.TTL}
	select {
	case c.tx <- out:
		return sendDelivered
	default:
		return sendDropped
	}
}

// absolute rewrites a client-origin packet's routing from client-relative
// to absolute.
func (c *clientRecord) absolute(pkt *proto.Packet) {
	pkt.Routing = c.scope.Absolute(pkt.Routing)
}
