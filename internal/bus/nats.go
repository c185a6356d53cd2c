package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"openvns/bridge/internal/can"
)

// frameEnvelope is the wire form of a frame on the bus subject. Data is
// base64 under encoding/json, which keeps the envelope compact enough for
// simulation traffic.
type frameEnvelope struct {
	ID        uint32 `json:"id"`
	Flags     uint32 `json:"flags"`
	DLC       uint8  `json:"dlc"`
	Data      []byte `json:"data"`
	Origin    string `json:"origin"`
	Timestamp int64  `json:"ts"`
}

// NATSTransport runs a virtual CAN channel over a NATS subject. Every
// participant publishes to and subscribes on the same subject; NATS delivers
// a connection's own publishes back to its own subscriptions, so the frame
// handler sees both directions of traffic, with Direction derived from the
// envelope's origin field.
type NATSTransport struct {
	nc          *nats.Conn
	subject     string
	participant string
	sub         *nats.Subscription
}

// NewNATSTransport binds a participant to a CAN channel.
func NewNATSTransport(nc *nats.Conn, channel, participant string) *NATSTransport {
	return &NATSTransport{
		nc:          nc,
		subject:     fmt.Sprintf("vcan.bus.%s", channel),
		participant: participant,
	}
}

// SendFrame publishes the frame to the channel subject.
func (t *NATSTransport) SendFrame(ctx context.Context, frame can.Frame) error {
	env := frameEnvelope{
		ID:        frame.ID,
		Flags:     frame.Flags,
		DLC:       frame.DLC,
		Data:      frame.Data,
		Origin:    t.participant,
		Timestamp: time.Now().UnixNano(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal frame envelope: %w", err)
	}

	if err := t.nc.Publish(t.subject, data); err != nil {
		return fmt.Errorf("failed to publish frame to %s: %w", t.subject, err)
	}
	return nil
}

// AddFrameHandler subscribes to the channel subject and delivers each frame
// to h from the subscription's goroutine.
func (t *NATSTransport) AddFrameHandler(h Handler) error {
	sub, err := t.nc.Subscribe(t.subject, func(msg *nats.Msg) {
		var env frameEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("[Bridge] Dropping malformed bus envelope: %v", err)
			return
		}
		if env.DLC > 15 {
			log.Printf("[Bridge] Dropping bus frame with invalid DLC %d", env.DLC)
			return
		}

		// The DLC is authoritative for the payload size.
		size := can.DecodeLength(env.DLC)
		data := env.Data
		if len(data) > size {
			data = data[:size]
		}

		direction := DirectionRx
		if env.Origin == t.participant {
			direction = DirectionTx
		}

		h(FrameEvent{
			Frame:     can.Frame{ID: env.ID, Flags: env.Flags, DLC: env.DLC, Data: data},
			Direction: direction,
			Timestamp: time.Unix(0, env.Timestamp),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", t.subject, err)
	}

	t.sub = sub
	return nil
}

// Close drops the subscription. The NATS connection itself is owned by the
// caller.
func (t *NATSTransport) Close() error {
	if t.sub == nil {
		return nil
	}
	return t.sub.Unsubscribe()
}
