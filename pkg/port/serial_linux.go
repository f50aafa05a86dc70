//go:build linux

package port

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/twinleaf/tio/pkg/proto"
)

// DefaultSerialBPS is the line rate used when a serial:// URL omits baud.
const DefaultSerialBPS = 115200

// serialPort frames packets over a Linux serial device. Line rates are
// programmed with termios2 so arbitrary rates work, not just the POSIX
// table.
type serialPort struct {
	file   *os.File
	fd     int
	rates  RateInfo
	rx     chan Recv
	tx     chan *proto.Packet
	closed int32
	done   chan struct{}
}

func openSerial(u *url.URL) (Port, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		return nil, errors.New("serial url missing device path")
	}
	baud := uint32(DefaultSerialBPS)
	if s := u.Query().Get("baud"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid baud %q: %w", s, err)
		}
		baud = uint32(n)
	}
	target := baud
	if s := u.Query().Get("target"); s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid target rate %q: %w", s, err)
		}
		target = uint32(n)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	p := &serialPort{
		file:  os.NewFile(uintptr(fd), path),
		fd:    fd,
		rates: RateInfo{DefaultBPS: baud, TargetBPS: target},
		rx:    make(chan Recv, SendQueueDepth),
		tx:    make(chan *proto.Packet, SendQueueDepth),
		done:  make(chan struct{}),
	}
	if err := p.configure(baud); err != nil {
		p.file.Close()
		return nil, err
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		p.file.Close()
		return nil, fmt.Errorf("clear nonblock: %w", err)
	}
	go p.readLoop()
	go p.writeLoop()
	return p, nil
}

// configure puts the line in raw 8N1 mode at the given rate. BOTHER with
// explicit speeds allows rates outside the POSIX baud table.
func (p *serialPort) configure(bps uint32) error {
	tio, err := unix.IoctlGetTermios(p.fd, unix.TCGETS2)
	if err != nil {
		return fmt.Errorf("TCGETS2: %w", err)
	}
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD | unix.BOTHER
	tio.Ispeed = bps
	tio.Ospeed = bps
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS2, tio); err != nil {
		return fmt.Errorf("TCSETS2: %w", err)
	}
	return nil
}

func (p *serialPort) readLoop() {
	defer close(p.rx)
	br := bufio.NewReader(p.file)
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
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) ||
				atomic.LoadInt32(&p.closed) == 1 {
				return
			}
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

func (p *serialPort) writeLoop() {
	for {
		select {
		case pkt := <-p.tx:
			if err := proto.WritePacket(p.file, pkt); err != nil {
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// Send implements Port.
func (p *serialPort) Send(pkt *proto.Packet) error {
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
func (p *serialPort) Receive() <-chan Recv {
	return p.rx
}

// RateInfo implements Port.
func (p *serialPort) RateInfo() *RateInfo {
	r := p.rates
	return &r
}

// SetRate implements Port.
func (p *serialPort) SetRate(bps uint32) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrPortClosed
	}
	return p.configure(bps)
}

// Close implements Port.
func (p *serialPort) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	close(p.done)
	return p.file.Close()
}
