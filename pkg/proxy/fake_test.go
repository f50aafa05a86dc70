package proxy

import (
	"sync"

	"github.com/twinleaf/tio/pkg/port"
	"github.com/twinleaf/tio/pkg/proto"
)

// fakePort is an in-memory Port for engine tests. Device-origin traffic is
// pushed into rx; everything the proxy sends is captured.
type fakePort struct {
	mu         sync.Mutex
	sent       []*proto.Packet
	rates      *port.RateInfo
	sendErr    error
	setRateErr error
	setRates   []uint32
	closed     bool

	rx        chan port.Recv
	rxClosed  bool
}

func newFakePort(rates *port.RateInfo) *fakePort {
	return &fakePort{rates: rates, rx: make(chan port.Recv, 64)}
}

func (f *fakePort) Send(pkt *proto.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, pkt)
	return nil
}

func (f *fakePort) Receive() <-chan port.Recv { return f.rx }

func (f *fakePort) RateInfo() *port.RateInfo { return f.rates }

func (f *fakePort) SetRate(bps uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setRateErr != nil {
		return f.setRateErr
	}
	f.setRates = append(f.setRates, bps)
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// push delivers a device-origin packet.
func (f *fakePort) push(pkt *proto.Packet) {
	f.rx <- port.Recv{Packet: pkt}
}

// pushErr delivers a receive error.
func (f *fakePort) pushErr(err error) {
	f.rx <- port.Recv{Err: err}
}

// dropLink simulates the transport closing.
func (f *fakePort) dropLink() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.rxClosed {
		f.rxClosed = true
		close(f.rx)
	}
}

// sentPackets snapshots everything sent so far.
func (f *fakePort) sentPackets() []*proto.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*proto.Packet, len(f.sent))
	copy(out, f.sent)
	return out
}

// lastSent returns the most recent sent packet, or nil.
func (f *fakePort) lastSent() *proto.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakePort) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// eventCollector drains an event channel into a synchronized log. Every
// read of the log first has the drain goroutine take in whatever is still
// queued on the channel, so an event sent before the read is always seen.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
	flush  chan chan struct{}
	done   chan struct{}
}

func newEventCollector() *eventCollector {
	c := &eventCollector{
		ch:    make(chan Event, 256),
		flush: make(chan chan struct{}),
		done:  make(chan struct{}),
	}
	add := func(ev Event) {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
	go func() {
		defer close(c.done)
		for {
			select {
			case ev, ok := <-c.ch:
				if !ok {
					return
				}
				add(ev)
			case ack := <-c.flush:
				for pending := true; pending; {
					select {
					case ev, ok := <-c.ch:
						if !ok {
							close(ack)
							return
						}
						add(ev)
					default:
						pending = false
					}
				}
				close(ack)
			}
		}
	}()
	return c
}

func (c *eventCollector) kinds() []EventKind {
	ack := make(chan struct{})
	select {
	case c.flush <- ack:
		<-ack
	case <-c.done:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventKind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

func (c *eventCollector) has(kind EventKind) bool {
	for _, k := range c.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func (c *eventCollector) count(kind EventKind) int {
	n := 0
	for _, k := range c.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}
