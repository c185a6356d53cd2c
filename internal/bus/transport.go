// Package bus is the boundary to the virtual vehicle-network transport.
// The gateway never talks to the middleware directly; it goes through the
// Transport interface so tests can substitute a fake.
package bus

import (
	"context"
	"time"

	"openvns/bridge/internal/can"
)

// Direction tells whether a frame event describes traffic this participant
// put on the bus or traffic that originated elsewhere.
type Direction int

const (
	DirectionRx Direction = iota
	DirectionTx
)

func (d Direction) String() string {
	if d == DirectionTx {
		return "tx"
	}
	return "rx"
}

// FrameEvent is one frame crossing the bus.
type FrameEvent struct {
	Frame     can.Frame
	Direction Direction
	Timestamp time.Time
}

// Handler receives frame events. It is invoked from the transport's own
// goroutine and must not block.
type Handler func(FrameEvent)

// Transport is the external vehicle-network simulation middleware.
type Transport interface {
	// SendFrame puts a frame on the bus. A failure is reported to the
	// caller; the transport performs no retries.
	SendFrame(ctx context.Context, frame can.Frame) error

	// AddFrameHandler registers the receive callback. Registered once at
	// startup; the handler observes every frame on the bus regardless of
	// direction.
	AddFrameHandler(h Handler) error

	// Close tears down the transport binding.
	Close() error
}
