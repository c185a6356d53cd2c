package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openvns/bridge/internal/bus"
	"openvns/bridge/internal/can"
	"openvns/bridge/internal/config"
	"openvns/bridge/internal/metric"
)

type fakeTransport struct {
	sent    chan can.Frame
	sendErr error
	handler bus.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan can.Frame, 16)}
}

func (t *fakeTransport) SendFrame(ctx context.Context, frame can.Frame) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent <- frame
	return nil
}

func (t *fakeTransport) AddFrameHandler(h bus.Handler) error {
	t.handler = h
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeTransport) {
	t.Helper()

	cfg := &config.Config{
		BridgeID:       "test",
		CompactAddr:    "127.0.0.1:0",
		StructuredAddr: "127.0.0.1:0",
		HTTPPort:       0,
		CANChannel:     "CAN1",
		RecvQueueSize:  16,
	}

	metrics := metric.New()
	transport := newFakeTransport()
	s := New(cfg, nil, bus.NewAdapter(transport, 16, metrics), metrics)

	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	// Drain the startup probe frame.
	recvFrame(t, transport)

	return s, transport
}

func recvFrame(t *testing.T, transport *fakeTransport) can.Frame {
	t.Helper()
	select {
	case frame := <-transport.sent:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame reached the bus transport")
		return can.Frame{}
	}
}

func (s *Server) clientCount() int {
	count := 0
	s.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func waitForClients(t *testing.T, s *Server, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.clientCount() == want
	}, 2*time.Second, 10*time.Millisecond)
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readExactly(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestCompactUplink(t *testing.T) {
	s, transport := newTestServer(t)

	conn := dial(t, s.CompactAddr())
	_, err := conn.Write([]byte{0x00, 0x00, 0x01, 0x23, 0x02, 0x0A, 0x14})
	require.NoError(t, err)

	frame := recvFrame(t, transport)
	assert.Equal(t, uint32(0x123), frame.ID)
	assert.Equal(t, uint8(2), frame.DLC)
	assert.Equal(t, []byte{10, 20}, frame.Data)
}

func TestStructuredUplink(t *testing.T) {
	s, transport := newTestServer(t)

	conn := dial(t, s.StructuredAddr())
	payload := `{"type":"can","id":291,"data":[10,20]}`
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	_, err := conn.Write(buf)
	require.NoError(t, err)

	frame := recvFrame(t, transport)
	assert.Equal(t, uint32(0x123), frame.ID)
	assert.Equal(t, []byte{10, 20}, frame.Data)
}

// Frames written back to back on one connection reach the bus in order.
func TestUplinkOrderPreserved(t *testing.T) {
	s, transport := newTestServer(t)

	conn := dial(t, s.CompactAddr())
	var buf []byte
	for i := byte(1); i <= 5; i++ {
		buf = append(buf, 0x00, 0x00, 0x00, i, 0x01, i)
	}
	_, err := conn.Write(buf)
	require.NoError(t, err)

	for i := byte(1); i <= 5; i++ {
		frame := recvFrame(t, transport)
		assert.Equal(t, uint32(i), frame.ID)
	}
}

// Every client receives byte-identical compact output, whichever protocol
// variant it connected with.
func TestFanOutBreadth(t *testing.T) {
	s, transport := newTestServer(t)

	conns := []net.Conn{
		dial(t, s.CompactAddr()),
		dial(t, s.CompactAddr()),
		dial(t, s.StructuredAddr()),
	}
	waitForClients(t, s, 3)

	frame, _ := can.New(0x999, 0, []byte{1, 2, 3})
	transport.handler(bus.FrameEvent{Frame: frame, Direction: bus.DirectionRx, Timestamp: time.Now()})

	want := []byte{0x00, 0x00, 0x09, 0x99, 0x03, 0x01, 0x02, 0x03}
	for i, conn := range conns {
		assert.Equal(t, want, readExactly(t, conn, len(want)), "client %d", i)
	}
}

// A client sending garbage is closed; a concurrent well-behaved client keeps
// receiving fan-out frames.
func TestFaultIsolation(t *testing.T) {
	s, transport := newTestServer(t)

	good := dial(t, s.CompactAddr())
	bad := dial(t, s.StructuredAddr())
	waitForClients(t, s, 2)

	garbage := []byte{0x00, 0x00, 0x00, 0x04, '{', 'b', 'a', 'd'}
	_, err := bad.Write(garbage)
	require.NoError(t, err)

	// The offending connection is closed by the server.
	bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = bad.Read(make([]byte, 1))
	require.Error(t, err)
	waitForClients(t, s, 1)

	frame, _ := can.New(0x7, 0, []byte{42})
	transport.handler(bus.FrameEvent{Frame: frame, Direction: bus.DirectionRx, Timestamp: time.Now()})

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x07, 0x01, 0x2A}, readExactly(t, good, 6))
}

// A bus refusal is reported but leaves the connection usable.
func TestBusSendFailureKeepsConnectionOpen(t *testing.T) {
	s, transport := newTestServer(t)

	conn := dial(t, s.CompactAddr())
	waitForClients(t, s, 1)

	transport.sendErr = errors.New("controller not started")
	_, err := conn.Write([]byte{0x00, 0x00, 0x00, 0x01, 0x01, 0xFF})
	require.NoError(t, err)

	// Give the handler time to process the refused frame, then check the
	// client still participates in fan-out.
	require.Eventually(t, func() bool {
		return s.clientCount() == 1
	}, time.Second, 10*time.Millisecond)

	frame, _ := can.New(0x8, 0, nil)
	transport.handler(bus.FrameEvent{Frame: frame, Direction: bus.DirectionRx, Timestamp: time.Now()})

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x08, 0x00}, readExactly(t, conn, 5))
}

// Closing the peer removes it from the registry.
func TestClientDisconnectCleansRegistry(t *testing.T) {
	s, _ := newTestServer(t)

	conn := dial(t, s.CompactAddr())
	waitForClients(t, s, 1)

	conn.Close()
	waitForClients(t, s, 0)
}
