package bus

import (
	"context"
	"fmt"
	"log"

	"openvns/bridge/internal/can"
	"openvns/bridge/internal/metric"
)

// Adapter sits between the transport and the gateway's fan-out path. The
// transport's receive callback only enqueues onto a bounded channel; a
// dispatch goroutine drains it into the sink. When the queue is full the
// oldest pending event is dropped so the transport callback is never
// blocked by slow client I/O.
type Adapter struct {
	transport Transport
	metrics   *metric.Metrics
	events    chan FrameEvent
}

// NewAdapter creates an adapter with a receive queue of the given size.
func NewAdapter(transport Transport, queueSize int, metrics *metric.Metrics) *Adapter {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Adapter{
		transport: transport,
		metrics:   metrics,
		events:    make(chan FrameEvent, queueSize),
	}
}

// Forward sends one decoded wire frame to the bus. At-most-once: a refusal
// is reported to the caller and not retried.
func (a *Adapter) Forward(ctx context.Context, frame can.Frame) error {
	if err := a.transport.SendFrame(ctx, frame); err != nil {
		a.metrics.BusSendFailures.Inc()
		return fmt.Errorf("bus send failed: %w", err)
	}
	a.metrics.FramesForwarded.Inc()
	return nil
}

// Start registers the receive callback and runs the dispatch loop until ctx
// is canceled. Every frame on the bus reaches the sink, own transmissions
// included; the transport is the source of truth for bus traffic.
func (a *Adapter) Start(ctx context.Context, sink func(FrameEvent)) error {
	if err := a.transport.AddFrameHandler(a.enqueue); err != nil {
		return fmt.Errorf("failed to register frame handler: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-a.events:
				sink(ev)
			}
		}
	}()

	return nil
}

// enqueue runs on the transport's goroutine. Drop-oldest on overflow.
func (a *Adapter) enqueue(ev FrameEvent) {
	for {
		select {
		case a.events <- ev:
			return
		default:
		}

		select {
		case <-a.events:
			a.metrics.RecvQueueDropped.Inc()
			log.Printf("[Bridge] Receive queue full, dropped oldest bus frame")
		default:
		}
	}
}

// Close tears down the transport binding.
func (a *Adapter) Close() error {
	return a.transport.Close()
}
