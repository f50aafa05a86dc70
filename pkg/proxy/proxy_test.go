package proxy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinleaf/tio/pkg/dlq"
	"github.com/twinleaf/tio/pkg/port"
	"github.com/twinleaf/tio/pkg/proto"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

// startTestProxy runs a proxy against a scripted sequence of dial results.
// Once the script is exhausted, dialing fails.
func startTestProxy(t *testing.T, cfg Config, ports ...*fakePort) (*Proxy, *eventCollector) {
	t.Helper()
	col := newEventCollector()
	next := make(chan *fakePort, len(ports))
	for _, fp := range ports {
		next <- fp
	}
	cfg.Events = col.ch
	cfg.Dialer = func(string) (port.Port, error) {
		select {
		case fp := <-next:
			return fp, nil
		default:
			return nil, errors.New("no device")
		}
	}
	if cfg.URL == "" {
		cfg.URL = "test://device"
	}
	p := New(cfg)
	t.Cleanup(func() {
		p.Close()
		select {
		case <-p.Done():
		case <-time.After(waitFor):
			t.Error("engine did not exit")
		}
		close(col.ch)
		<-col.done
	})
	return p, col
}

func recvPacket(t *testing.T, rx <-chan *proto.Packet) *proto.Packet {
	t.Helper()
	select {
	case pkt, ok := <-rx:
		require.True(t, ok, "channel closed while waiting for packet")
		return pkt
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func expectNoPacket(t *testing.T, rx <-chan *proto.Packet, d time.Duration) {
	t.Helper()
	select {
	case pkt := <-rx:
		t.Fatalf("unexpected packet: %+v", pkt)
	case <-time.After(d):
	}
}

func TestRPCRemapRoundTrip(t *testing.T) {
	fp := newFakePort(nil)
	p, col := startTestProxy(t, Config{}, fp)

	txA, rxA, err := p.Port(0, proto.RootRoute(), true, true)
	require.NoError(t, err)
	txB, rxB, err := p.Port(0, proto.Route{1}, true, true)
	require.NoError(t, err)
	defer close(txA)
	defer close(txB)

	txA <- proto.NewRPCRequest(proto.Route{1, 3}, 7, "dev.name", nil)

	require.Eventually(t, func() bool { return fp.sentCount() == 1 }, waitFor, tick)
	sent := fp.lastSent()
	req := sent.Payload.(*proto.RPCRequest)
	wire := req.ID
	assert.True(t, sent.Routing.Equal(proto.Route{1, 3}))
	assert.True(t, col.has(EventRpcRemap))

	fp.push(&proto.Packet{
		Payload: &proto.RPCReply{ID: wire, Reply: []byte("dev0")},
		Routing: proto.Route{1, 3},
	})

	got := recvPacket(t, rxA)
	rep := got.Payload.(*proto.RPCReply)
	assert.Equal(t, uint16(7), rep.ID)
	assert.True(t, got.Routing.Equal(proto.Route{1, 3}))
	assert.True(t, col.has(EventRpcRestore))

	// The reply was unicast to its originator.
	expectNoPacket(t, rxB, 50*time.Millisecond)
}

func TestFanOutRespectsScopeAndPolicy(t *testing.T) {
	fp := newFakePort(nil)
	p, col := startTestProxy(t, Config{}, fp)

	txA, rxA, err := p.Port(0, proto.RootRoute(), true, true)
	require.NoError(t, err)
	txB, rxB, err := p.Port(0, proto.Route{1}, true, true)
	require.NoError(t, err)
	txC, rxC, err := p.Port(0, proto.RootRoute(), false, false)
	require.NoError(t, err)
	defer close(txA)
	defer close(txB)
	defer close(txC)
	// Port only queues the registration; wait until the engine admitted all
	// three clients before device traffic arrives.
	require.Eventually(t, func() bool { return col.count(EventNewClient) == 3 }, waitFor, tick)

	fp.push(&proto.Packet{
		Payload: &proto.StreamData{StreamID: 0, FirstSample: 1, Data: []byte{1}},
		Routing: proto.Route{1, 3},
	})

	gotA := recvPacket(t, rxA)
	assert.True(t, gotA.Routing.Equal(proto.Route{1, 3}))
	gotB := recvPacket(t, rxB)
	assert.True(t, gotB.Routing.Equal(proto.Route{3}),
		"B sees the route relative to its scope")
	// C suppresses stream data.
	expectNoPacket(t, rxC, 50*time.Millisecond)

	// A packet outside B's scope never reaches it.
	fp.push(&proto.Packet{
		Payload: &proto.StreamData{StreamID: 0, FirstSample: 2, Data: []byte{2}},
		Routing: proto.Route{2},
	})
	gotA = recvPacket(t, rxA)
	assert.True(t, gotA.Routing.Equal(proto.Route{2}))
	expectNoPacket(t, rxB, 50*time.Millisecond)
}

func TestRPCTimeout(t *testing.T) {
	fp := newFakePort(nil)
	p, col := startTestProxy(t, Config{}, fp)

	tx, rx, err := p.Port(100*time.Millisecond, proto.RootRoute(), true, true)
	require.NoError(t, err)
	defer close(tx)

	start := time.Now()
	tx <- proto.NewRPCRequest(proto.RootRoute(), 1, "dev.name", nil)

	got := recvPacket(t, rx)
	elapsed := time.Since(start)
	rpcErr := got.Payload.(*proto.RPCError)
	assert.Equal(t, uint16(1), rpcErr.ID)
	assert.Equal(t, proto.RPCErrTimeout, rpcErr.Code)
	assert.GreaterOrEqual(t, elapsed, 95*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	require.Eventually(t, func() bool { return col.has(EventRpcTimeout) }, waitFor, tick)

	// A late reply for the expired wire id is discarded.
	req := fp.lastSent().Payload.(*proto.RPCRequest)
	fp.push(&proto.Packet{
		Payload: &proto.RPCReply{ID: req.ID},
		Routing: proto.RootRoute(),
	})
	expectNoPacket(t, rx, 50*time.Millisecond)
}

func TestDeviceLossCancelsInflightRPCs(t *testing.T) {
	fp := newFakePort(nil)
	p, col := startTestProxy(t, Config{}, fp)

	tx, rx, err := p.Port(5*time.Second, proto.RootRoute(), true, true)
	require.NoError(t, err)
	defer close(tx)

	tx <- proto.NewRPCRequest(proto.RootRoute(), 9, "dev.name", nil)
	require.Eventually(t, func() bool { return fp.sentCount() == 1 }, waitFor, tick)

	fp.dropLink()

	got := recvPacket(t, rx)
	rpcErr := got.Payload.(*proto.RPCError)
	assert.Equal(t, uint16(9), rpcErr.ID)
	assert.Equal(t, proto.RPCErrUndefined, rpcErr.Code)
	require.Eventually(t, func() bool { return col.has(EventSensorDisconnected) }, waitFor, tick)

	// No reconnect window configured: the engine exits.
	select {
	case <-p.Done():
	case <-time.After(waitFor):
		t.Fatal("engine did not exit after reconnect window")
	}
	assert.True(t, col.has(EventFailedToReconnect))
}

func TestDeviceReconnect(t *testing.T) {
	first := newFakePort(nil)
	second := newFakePort(nil)
	p, col := startTestProxy(t, Config{ReconnectTimeout: 5 * time.Second}, first, second)

	tx, _, err := p.Port(0, proto.RootRoute(), true, true)
	require.NoError(t, err)
	defer close(tx)

	first.dropLink()
	require.Eventually(t, func() bool { return col.has(EventSensorReconnected) }, waitFor, tick)

	// Traffic flows over the new transport.
	tx <- &proto.Packet{
		Payload: &proto.Other{Type: proto.TypeLog, Data: []byte("ping")},
		Routing: proto.RootRoute(),
	}
	require.Eventually(t, func() bool { return second.sentCount() == 1 }, waitFor, tick)
}

func TestForwardFailureReturnsUndefined(t *testing.T) {
	fp := newFakePort(nil)
	p, _ := startTestProxy(t, Config{}, fp)

	tx, rx, err := p.Port(0, proto.RootRoute(), true, true)
	require.NoError(t, err)
	defer close(tx)

	fp.mu.Lock()
	fp.sendErr = port.ErrSendQueueFull
	fp.mu.Unlock()

	tx <- proto.NewRPCRequest(proto.RootRoute(), 4, "dev.name", nil)
	got := recvPacket(t, rx)
	rpcErr := got.Payload.(*proto.RPCError)
	assert.Equal(t, uint16(4), rpcErr.ID)
	assert.Equal(t, proto.RPCErrUndefined, rpcErr.Code)
}

func TestWireIDCollisionReturnsOutOfMemory(t *testing.T) {
	// White box: fill the whole 16-bit id space, then one more request.
	fp := newFakePort(nil)
	col := newEventCollector()
	e := newEngine(Config{URL: "test://", Events: col.ch},
		make(chan clientRecord, 1), make(chan struct{}))
	e.device = &proxyDevice{port: fp, rx: fp.rx, rateState: RateDoNothing, lastRx: time.Now()}

	deadline := time.Now().Add(time.Hour)
	for i := 0; i < 65536; i++ {
		e.rpc.Insert(uint16(i), entryAt(1, uint16(i), deadline))
	}

	c := testClient(proto.RootRoute(), true, true, 4)
	e.clients[1] = c
	e.handleClientPacket(1, c, proto.NewRPCRequest(proto.RootRoute(), 9, "dev.name", nil))

	got := <-c.tx
	rpcErr := got.Payload.(*proto.RPCError)
	assert.Equal(t, uint16(9), rpcErr.ID)
	assert.Equal(t, proto.RPCErrOutOfMemory, rpcErr.Code)
	assert.Equal(t, 65536, e.rpc.Len())
	assert.Equal(t, 0, fp.sentCount())
}

func TestRegistrationValidation(t *testing.T) {
	fp := newFakePort(nil)
	p, _ := startTestProxy(t, Config{}, fp)

	_, _, err := p.Port(50*time.Millisecond, proto.RootRoute(), true, true)
	assert.ErrorIs(t, err, ErrRPCTimeoutRange)

	_, _, err = p.Port(61*time.Second, proto.RootRoute(), true, true)
	assert.ErrorIs(t, err, ErrRPCTimeoutRange)

	tx, _, err := p.Port(0, proto.RootRoute(), true, true)
	require.NoError(t, err)
	close(tx)
}

func TestRegistrationAfterCloseFails(t *testing.T) {
	fp := newFakePort(nil)
	col := newEventCollector()
	next := make(chan *fakePort, 1)
	next <- fp
	p := New(Config{
		URL:    "test://device",
		Events: col.ch,
		Dialer: func(string) (port.Port, error) {
			select {
			case f := <-next:
				return f, nil
			default:
				return nil, errors.New("no device")
			}
		},
	})
	p.Close()
	<-p.Done()
	_, _, err := p.Port(0, proto.RootRoute(), true, true)
	assert.ErrorIs(t, err, ErrProxyClosed)
	assert.True(t, func() bool {
		close(col.ch)
		<-col.done
		return col.has(EventExiting)
	}())
}

func TestClientCloseDrainsPendingPackets(t *testing.T) {
	fp := newFakePort(nil)
	p, col := startTestProxy(t, Config{}, fp)

	tx, rx, err := p.Port(0, proto.RootRoute(), true, true)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		tx <- &proto.Packet{
			Payload: &proto.Other{Type: proto.TypeLog, Data: []byte{byte(i)}},
			Routing: proto.RootRoute(),
		}
	}
	close(tx)

	// Everything queued before the close still reaches the device.
	require.Eventually(t, func() bool { return fp.sentCount() == 5 }, waitFor, tick)
	require.Eventually(t, func() bool { return col.has(EventClientTerminated) }, waitFor, tick)

	// The proxy side of the session is torn down.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-rx:
			return !ok
		default:
			return false
		}
	}, waitFor, tick)
}

func TestProtocolErrorIsRecoverable(t *testing.T) {
	fp := newFakePort(nil)
	p, col := startTestProxy(t, Config{}, fp)

	fp.pushErr(proto.NewError("bad frame"))
	require.Eventually(t, func() bool { return col.has(EventProtocolError) }, waitFor, tick)

	select {
	case <-p.Done():
		t.Fatal("engine exited on a protocol error")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFatalReceiveErrorStopsEngine(t *testing.T) {
	fp := newFakePort(nil)
	p, col := startTestProxy(t, Config{}, fp)

	fp.pushErr(errors.New("transport wedged"))

	select {
	case <-p.Done():
	case <-time.After(waitFor):
		t.Fatal("engine did not exit on fatal error")
	}
	assert.True(t, col.has(EventFatalError))
}

func TestFullOutboundQueueDropsAndRecords(t *testing.T) {
	fp := newFakePort(nil)
	drops := dlq.NewCapture(16)
	p, col := startTestProxy(t, Config{Drops: drops}, fp)

	tx, rx, err := p.Port(0, proto.RootRoute(), true, true)
	require.NoError(t, err)
	defer close(tx)
	// Port only queues the registration; wait until the client is admitted.
	require.Eventually(t, func() bool { return col.has(EventNewClient) }, waitFor, tick)

	// Never read from rx; overflow its queue.
	for i := 0; i < OutboundQueueDepth+10; i++ {
		fp.push(&proto.Packet{
			Payload: &proto.StreamData{StreamID: 0, FirstSample: uint32(i)},
			Routing: proto.RootRoute(),
		})
	}

	require.Eventually(t, func() bool {
		return drops.Stats().TotalDropped >= 1
	}, waitFor, tick)
	assert.Len(t, rx, OutboundQueueDepth)

	stats := drops.Stats()
	assert.Equal(t, "stream-data", drops.Recent()[0].Kind)
	assert.NotZero(t, stats.ByClient[1])
}

func TestFailedInitialConnect(t *testing.T) {
	col := newEventCollector()
	p := New(Config{
		URL:    "test://device",
		Events: col.ch,
		Dialer: func(string) (port.Port, error) { return nil, errors.New("no device") },
	})
	select {
	case <-p.Done():
	case <-time.After(waitFor):
		t.Fatal("engine did not exit")
	}
	close(col.ch)
	<-col.done
	assert.True(t, col.has(EventFailedToConnect))
}
