package port

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/url"
	"sync/atomic"

	"github.com/twinleaf/tio/pkg/proto"
)

// tcpPort frames packets over a TCP connection. TCP links run at whatever
// rate the remote end provides, so RateInfo is nil and SetRate fails.
type tcpPort struct {
	conn   net.Conn
	rx     chan Recv
	tx     chan *proto.Packet
	closed int32
	done   chan struct{}
}

func openTCP(u *url.URL) (Port, error) {
	addr := u.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultTCPPort)
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newTCPPort(conn), nil
}

// newTCPPort wraps an established connection. openTCP uses it for dialed
// connections and NewConnPort for connections established elsewhere.
func newTCPPort(conn net.Conn) *tcpPort {
	p := &tcpPort{
		conn: conn,
		rx:   make(chan Recv, SendQueueDepth),
		tx:   make(chan *proto.Packet, SendQueueDepth),
		done: make(chan struct{}),
	}
	go p.readLoop()
	go p.writeLoop()
	return p
}

// NewConnPort exposes newTCPPort for pre-established connections.
func NewConnPort(conn net.Conn) Port {
	return newTCPPort(conn)
}

func (p *tcpPort) readLoop() {
	defer close(p.rx)
	br := bufio.NewReader(p.conn)
	for {
		pkt, err := proto.ReadPacket(br)
		if err != nil {
			var perr *proto.Error
			if errors.As(err, &perr) {
				select {
				case p.rx <- Recv{Err: perr}:
				case <-p.done:
					return
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
				atomic.LoadInt32(&p.closed) == 1 {
				return
			}
			// Surface the failure, then treat the link as gone.
			select {
			case p.rx <- Recv{Err: err}:
			case <-p.done:
			}
			return
		}
		select {
		case p.rx <- Recv{Packet: pkt}:
		case <-p.done:
			return
		}
	}
}

func (p *tcpPort) writeLoop() {
	for {
		select {
		case pkt := <-p.tx:
			if err := proto.WritePacket(p.conn, pkt); err != nil {
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// Send implements Port.
func (p *tcpPort) Send(pkt *proto.Packet) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrPortClosed
	}
	select {
	case p.tx <- pkt:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Receive implements Port.
func (p *tcpPort) Receive() <-chan Recv {
	return p.rx
}

// RateInfo implements Port.
func (p *tcpPort) RateInfo() *RateInfo {
	return nil
}

// SetRate implements Port.
func (p *tcpPort) SetRate(bps uint32) error {
	return ErrRateNotSupported
}

// Close implements Port.
func (p *tcpPort) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	close(p.done)
	return p.conn.Close()
}
