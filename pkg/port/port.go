// Package port provides transports that carry TIO packets to a device tree:
// a TCP transport for networked sensors and proxies, and a serial transport
// for directly attached hardware. A Port owns one open link, frames packets
// on it, and hands decoded traffic to its consumer through a receive channel.
package port

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/twinleaf/tio/pkg/proto"
)

// DefaultTCPPort is the TCP port used when a tcp:// URL omits one.
const DefaultTCPPort = "7855"

// SendQueueDepth is the buffering between Send and the link writer.
const SendQueueDepth = 64

// ErrSendQueueFull is returned by Send when the link writer has fallen
// behind and the send queue is full.
var ErrSendQueueFull = errors.New("port send queue full")

// ErrPortClosed is returned by Send after the port has been closed.
var ErrPortClosed = errors.New("port closed")

// ErrRateNotSupported is returned by SetRate on transports with a fixed
// line rate.
var ErrRateNotSupported = errors.New("transport does not support rate changes")

// RateInfo describes a transport's line-rate capabilities.
type RateInfo struct {
	// DefaultBPS is the rate the link comes up at.
	DefaultBPS uint32
	// TargetBPS is the rate to negotiate towards.
	TargetBPS uint32
}

// Recv is one item on a port's receive channel: either a decoded packet or
// a receive error. A *proto.Error is recoverable (the frame is discarded);
// any other error is fatal for the port. The channel closes when the
// transport closes.
type Recv struct {
	Packet *proto.Packet
	Err    error
}

// Port is one open transport to a device tree.
type Port interface {
	// Send enqueues a packet for transmission without blocking.
	Send(pkt *proto.Packet) error
	// Receive returns the channel of decoded inbound traffic.
	Receive() <-chan Recv
	// RateInfo returns the transport's rate descriptor, or nil if the rate
	// is fixed.
	RateInfo() *RateInfo
	// SetRate changes the line rate.
	SetRate(bps uint32) error
	// Close shuts down the transport.
	Close() error
}

// Open opens the transport identified by a URL of the form
// tcp://host[:port] or serial://path?baud=N[&target=M].
func Open(rawurl string) (Port, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("invalid port url %q: %w", rawurl, err)
	}
	switch u.Scheme {
	case "tcp":
		return openTCP(u)
	case "serial":
		return openSerial(u)
	default:
		return nil, fmt.Errorf("unsupported port scheme %q", u.Scheme)
	}
}
