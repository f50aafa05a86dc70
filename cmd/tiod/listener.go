package main

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/twinleaf/tio/pkg/common"
	"github.com/twinleaf/tio/pkg/proto"
	"github.com/twinleaf/tio/pkg/proxy"
)

// clientListener accepts TIO client connections and bridges each one to a
// full-scope proxy session.
type clientListener struct {
	ln     net.Listener
	p      *proxy.Proxy
	closed int32
}

func startListener(addr string, p *proxy.Proxy) (*clientListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &clientListener{ln: ln, p: p}
	go l.acceptLoop()
	return l, nil
}

func (l *clientListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&l.closed) == 1 || errors.Is(err, net.ErrClosed) {
				return
			}
			common.Warn("[TIOD] accept failed: %v", err)
			continue
		}
		go l.serveConn(conn)
	}
}

// serveConn pumps one connection: inbound frames go to the proxy session,
// session output goes back out on the wire. Either side failing tears the
// session down; closing tx is what the engine observes as termination.
func (l *clientListener) serveConn(conn net.Conn) {
	session := uuid.NewString()
	remote := conn.RemoteAddr().String()
	tx, rx, err := l.p.FullPort()
	if err != nil {
		common.Warn("[TIOD] session %s from %s rejected: %v", session, remote, err)
		conn.Close()
		return
	}
	common.Info("[TIOD] session %s connected from %s", session, remote)

	// Writer: proxy -> connection. rx closes when the engine drops the
	// session or shuts down.
	go func() {
		for pkt := range rx {
			if err := proto.WritePacket(conn, pkt); err != nil {
				conn.Close()
				return
			}
		}
		conn.Close()
	}()

	// Reader: connection -> proxy.
	br := bufio.NewReader(conn)
	for {
		pkt, err := proto.ReadPacket(br)
		if err != nil {
			var perr *proto.Error
			if errors.As(err, &perr) {
				common.Warn("[TIOD] session %s protocol error: %v", session, perr)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				common.Warn("[TIOD] session %s read failed: %v", session, err)
			}
			break
		}
		// Guard against the engine being gone with a full inbound queue.
		select {
		case tx <- pkt:
		case <-l.p.Done():
			conn.Close()
		}
	}
	close(tx)
	conn.Close()
	common.Info("[TIOD] session %s disconnected", session)
}

// Close stops accepting connections.
func (l *clientListener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	return l.ln.Close()
}
