package proxy

import (
	"errors"
	"sync"
	"time"

	"github.com/twinleaf/tio/pkg/dlq"
	"github.com/twinleaf/tio/pkg/port"
	"github.com/twinleaf/tio/pkg/proto"
)

const (
	// DefaultRPCTimeout applies when a client registers with timeout zero.
	DefaultRPCTimeout = 2 * time.Second
	// MinRPCTimeout is the shortest accepted client RPC timeout.
	MinRPCTimeout = 100 * time.Millisecond
	// MaxRPCTimeout is the longest accepted client RPC timeout.
	MaxRPCTimeout = 60 * time.Second

	// newClientQueueDepth bounds pending registrations.
	newClientQueueDepth = 5
)

var (
	// ErrRPCTimeoutRange is returned by Port for a timeout outside
	// [MinRPCTimeout, MaxRPCTimeout].
	ErrRPCTimeoutRange = errors.New("rpc timeout out of range")
	// ErrProxyClosed is returned by Port after the proxy has shut down.
	ErrProxyClosed = errors.New("proxy closed")
)

// Config parameterizes a Proxy.
type Config struct {
	// URL identifies the device transport, e.g. tcp://host or
	// serial://path?baud=N&target=M.
	URL string
	// ReconnectTimeout is how long after a device loss reconnect attempts
	// keep going. Zero gives up after the first failed attempt.
	ReconnectTimeout time.Duration
	// Events optionally receives status events. Delivery is FIFO and
	// blocking; a nil channel discards all events.
	Events chan<- Event
	// Drops optionally captures packets lost to full client queues.
	Drops *dlq.Capture
	// Dialer overrides how the device transport is opened. Nil uses
	// port.Open.
	Dialer func(string) (port.Port, error)
}

// Proxy is the public handle to a running proxy engine. Many goroutines
// may register clients concurrently.
type Proxy struct {
	mu         sync.Mutex
	closed     bool
	newClients chan<- clientRecord
	done       chan struct{}
}

// New starts a proxy engine for the configured device and returns its
// handle. The engine runs until a fatal receive error, an exhausted
// reconnect window, or Close.
func New(cfg Config) *Proxy {
	newClients := make(chan clientRecord, newClientQueueDepth)
	done := make(chan struct{})
	eng := newEngine(cfg, newClients, done)
	go eng.run()
	return &Proxy{newClients: newClients, done: done}
}

// Port registers a client session and returns its channel pair: tx carries
// client-to-device packets with scope-relative routing, rx yields traffic
// admitted by the scope and forwarding policy. Closing tx ends the session.
// A zero rpcTimeout selects DefaultRPCTimeout.
func (p *Proxy) Port(rpcTimeout time.Duration, scope proto.Route, forwardData, forwardNonRPC bool) (chan<- *proto.Packet, <-chan *proto.Packet, error) {
	if rpcTimeout == 0 {
		rpcTimeout = DefaultRPCTimeout
	}
	if rpcTimeout < MinRPCTimeout || rpcTimeout > MaxRPCTimeout {
		return nil, nil, ErrRPCTimeoutRange
	}

	inbound := make(chan *proto.Packet, InboundQueueDepth)
	outbound := make(chan *proto.Packet, OutboundQueueDepth)
	rec := clientRecord{
		tx:            outbound,
		rx:            inbound,
		rpcTimeout:    rpcTimeout,
		scope:         scope.Clone(),
		forwardData:   forwardData,
		forwardNonRPC: forwardNonRPC,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, ErrProxyClosed
	}
	select {
	case p.newClients <- rec:
		return inbound, outbound, nil
	case <-p.done:
		return nil, nil, ErrProxyClosed
	}
}

// FullPort registers a root-scoped client that receives everything.
func (p *Proxy) FullPort() (chan<- *proto.Packet, <-chan *proto.Packet, error) {
	return p.Port(0, proto.RootRoute(), true, true)
}

// Close stops accepting registrations and shuts the engine down once it
// observes the closed registration queue.
func (p *Proxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.newClients)
}

// Done is closed when the engine has exited.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}
