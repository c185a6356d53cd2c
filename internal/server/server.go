// Package server owns the bridge's TCP listeners, the live-client registry
// and the fan-out of bus-received frames.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"openvns/bridge/internal/bus"
	"openvns/bridge/internal/can"
	"openvns/bridge/internal/codec"
	"openvns/bridge/internal/config"
	"openvns/bridge/internal/metric"
)

// Server accepts client connections on two endpoints, one per protocol
// variant, and relays frames between the clients and the bus.
//
// Fan-out is compact-encoded for every client, including structured-variant
// ones. The asymmetry (structured clients send JSON but receive compact
// bytes) is kept for compatibility with the deployed client fleet.
type Server struct {
	config  *config.Config
	redis   *redis.Client // optional session mirror, may be nil
	bus     *bus.Adapter
	metrics *metric.Metrics

	compact    codec.Compact
	structured codec.Structured

	compactLn    net.Listener
	structuredLn net.Listener
	clients      sync.Map // map[string]*Client
	nextConnID   atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a bridge server. redisClient may be nil to disable the
// session mirror.
func New(cfg *config.Config, redisClient *redis.Client, busAdapter *bus.Adapter, metrics *metric.Metrics) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		redis:   redisClient,
		bus:     busAdapter,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.group, _ = errgroup.WithContext(ctx)
	return s
}

// Start binds both listeners, wires the bus receive path to fan-out and
// begins accepting connections.
func (s *Server) Start() error {
	var err error
	s.compactLn, err = net.Listen("tcp", s.config.CompactAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.CompactAddr, err)
	}
	s.structuredLn, err = net.Listen("tcp", s.config.StructuredAddr)
	if err != nil {
		s.compactLn.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.config.StructuredAddr, err)
	}

	if err := s.bus.Start(s.ctx, s.Broadcast); err != nil {
		s.compactLn.Close()
		s.structuredLn.Close()
		return err
	}

	log.Printf("[Bridge] Compact endpoint listening on %s", s.config.CompactAddr)
	log.Printf("[Bridge] Structured endpoint listening on %s", s.config.StructuredAddr)

	s.group.Go(func() error { return s.acceptLoop(s.compactLn, s.compact) })
	s.group.Go(func() error { return s.acceptLoop(s.structuredLn, s.structured) })
	s.group.Go(s.startHTTPServer)

	s.sendProbeFrame()
	return nil
}

// Stop signals every handler to stop, closes the listeners and all client
// connections, and waits for the accept loops to drain.
func (s *Server) Stop() {
	s.cancel()
	if s.compactLn != nil {
		s.compactLn.Close()
	}
	if s.structuredLn != nil {
		s.structuredLn.Close()
	}
	s.clients.Range(func(_, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.close()
		}
		return true
	})
	s.group.Wait()
}

// CompactAddr returns the bound compact endpoint address.
func (s *Server) CompactAddr() net.Addr { return s.compactLn.Addr() }

// StructuredAddr returns the bound structured endpoint address.
func (s *Server) StructuredAddr() net.Addr { return s.structuredLn.Addr() }

// sendProbeFrame verifies bus connectivity at startup. Failure is logged,
// not fatal.
func (s *Server) sendProbeFrame() {
	probe, _ := can.New(0x123, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err := s.bus.Forward(s.ctx, probe); err != nil {
		log.Printf("[Bridge] Startup probe frame failed: %v", err)
		return
	}
	log.Printf("[Bridge] Startup probe frame sent (id=0x%x)", probe.ID)
}

func (s *Server) acceptLoop(ln net.Listener, c codec.Codec) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				log.Printf("[Bridge] Accept error on %s: %v", ln.Addr(), err)
				continue
			}
		}

		client := &Client{
			ConnID:     fmt.Sprintf("%s-%d", s.config.BridgeID, s.nextConnID.Add(1)),
			Conn:       conn,
			Codec:      c,
			RemoteIP:   conn.RemoteAddr().String(),
			lastActive: time.Now(),
		}

		s.clients.Store(client.ConnID, client)
		s.metrics.ClientsConnected.Inc()
		s.registerSession(client)

		go s.handleClient(client)
	}
}

// Broadcast encodes one bus frame with the compact codec and writes the
// same bytes to every registered client. Best-effort per client: a failed
// write closes that client and fan-out continues with the rest.
func (s *Server) Broadcast(ev bus.FrameEvent) {
	payload := s.compact.Encode(ev.Frame)

	delivered := 0
	s.clients.Range(func(_, value interface{}) bool {
		client, ok := value.(*Client)
		if !ok {
			return true
		}

		client.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := client.Conn.Write(payload); err != nil {
			log.Printf("[Bridge] Fan-out write to %s failed, closing: %v", client.ConnID, err)
			s.metrics.ClientWriteErrors.Inc()
			s.clients.Delete(client.ConnID)
			client.close()
			return true
		}

		s.metrics.FramesFannedOut.Inc()
		delivered++
		return true
	})

	log.Printf("[Bridge] Fan-out %s frame id=0x%x dlc=%d to %d clients", ev.Direction, ev.Frame.ID, ev.Frame.DLC, delivered)
}

// cleanupClient removes the client from the registry and releases its
// connection. Runs exactly once, from the read loop's defer.
func (s *Server) cleanupClient(c *Client) {
	log.Printf("[Bridge] Connection closed: %s", c.ConnID)

	s.clients.Delete(c.ConnID)
	s.metrics.ClientsConnected.Dec()
	c.close()
	s.dropSession(c)
}

func (s *Server) sessionKey(c *Client) string {
	return fmt.Sprintf("vcan:sess:%s", c.ConnID)
}

func (s *Server) registerSession(c *Client) {
	if s.redis == nil {
		return
	}

	value := fmt.Sprintf("%s:%s:%s", s.config.BridgeID, c.Codec.Name(), c.RemoteIP)
	if err := s.redis.Set(s.ctx, s.sessionKey(c), value, readTimeout).Err(); err != nil {
		log.Printf("[Bridge] Failed to register session %s: %v", c.ConnID, err)
	}
}

func (s *Server) refreshSession(c *Client) {
	if s.redis == nil {
		return
	}
	s.redis.Expire(s.ctx, s.sessionKey(c), readTimeout)
}

func (s *Server) dropSession(c *Client) {
	if s.redis == nil {
		return
	}
	s.redis.Del(context.Background(), s.sessionKey(c))
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/clients", s.handleClients)
	mux.HandleFunc("/send-frame", s.handleSendFrame)
	mux.Handle("/metrics", s.metrics.Handler())

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	log.Printf("[Bridge] HTTP server listening on %s", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-s.ctx.Done()
		server.Shutdown(context.Background())
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[Bridge] HTTP server error: %v", err)
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"bridge_id": s.config.BridgeID,
		"channel":   s.config.CANChannel,
	})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := make([]map[string]interface{}, 0)

	s.clients.Range(func(_, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			clients = append(clients, map[string]interface{}{
				"conn_id":     client.ConnID,
				"remote_ip":   client.RemoteIP,
				"protocol":    client.Codec.Name(),
				"last_active": client.LastActive(),
			})
		}
		return true
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(clients)
}

// handleSendFrame injects a frame onto the bus, for manual testing.
func (s *Server) handleSendFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID   uint32 `json:"id"`
		Data []int  `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := make([]byte, len(req.Data))
	for i, v := range req.Data {
		if v < 0 || v > 0xFF {
			http.Error(w, fmt.Sprintf("data[%d] out of byte range", i), http.StatusBadRequest)
			return
		}
		data[i] = byte(v)
	}

	frame, truncated := can.New(req.ID, 0, data)
	if truncated {
		log.Printf("[Bridge] send-frame payload truncated to %d bytes", can.MaxPayload)
	}

	if err := s.bus.Forward(r.Context(), frame); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}
