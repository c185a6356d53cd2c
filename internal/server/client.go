package server

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"openvns/bridge/internal/can"
	"openvns/bridge/internal/codec"
)

const (
	readTimeout  = 300 * time.Second
	writeTimeout = 5 * time.Second
	readChunk    = 4096
)

// Client represents one connected TCP peer. The protocol variant is fixed
// by the endpoint that accepted the connection and never renegotiated.
type Client struct {
	ConnID   string
	Conn     net.Conn
	Codec    codec.Codec
	RemoteIP string

	mu         sync.Mutex
	lastActive time.Time
	closeOnce  sync.Once
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// LastActive returns the time of the last frame or read activity.
func (c *Client) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// close releases the connection handle exactly once. A pending read or
// write on the connection unblocks with an error.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.Conn.Close()
	})
}

// handleClient runs the connection's read loop: accumulate bytes, decode as
// many complete frames as are buffered, forward each to the bus in order.
// EOF, I/O errors and invalid frames end the loop; faults never propagate
// beyond this connection.
func (s *Server) handleClient(c *Client) {
	defer s.cleanupClient(c)

	log.Printf("[Bridge] New %s connection: %s from %s", c.Codec.Name(), c.ConnID, c.RemoteIP)

	buffer := make([]byte, readChunk)
	var pending []byte

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		c.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := c.Conn.Read(buffer)
		if err != nil {
			if err != io.EOF {
				log.Printf("[Bridge] Read error from %s: %v", c.ConnID, err)
			}
			return
		}

		pending = append(pending, buffer[:n]...)
		c.touch()

	decode:
		for len(pending) > 0 {
			frame, consumed, err := c.Codec.TryDecode(pending)
			switch {
			case errors.Is(err, codec.ErrIncomplete):
				break decode
			case errors.Is(err, codec.ErrSkipRecord):
				pending = pending[consumed:]
				continue
			case errors.Is(err, codec.ErrPayloadTruncated):
				log.Printf("[Bridge] Payload from %s truncated to %d bytes (id=0x%x)", c.ConnID, can.MaxPayload, frame.ID)
				pending = pending[consumed:]
			case err != nil:
				log.Printf("[Bridge] Decode error from %s, closing: %v", c.ConnID, err)
				return
			default:
				pending = pending[consumed:]
			}

			s.metrics.FramesReceived.WithLabelValues(c.Codec.Name()).Inc()
			s.refreshSession(c)

			// A bus refusal is reported but leaves the connection open.
			if err := s.bus.Forward(s.ctx, frame); err != nil {
				log.Printf("[Bridge] Failed to forward frame id=0x%x from %s: %v", frame.ID, c.ConnID, err)
			}
		}
	}
}
