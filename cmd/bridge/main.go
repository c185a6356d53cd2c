package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"openvns/bridge/internal/bus"
	"openvns/bridge/internal/config"
	"openvns/bridge/internal/metric"
	"openvns/bridge/internal/server"
)

func main() {
	log.Println("[Bridge] Starting virtual CAN bridge...")

	cfg := config.Load()
	log.Printf("[Bridge] Configuration loaded: ID=%s, Channel=%s", cfg.BridgeID, cfg.CANChannel)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Bridge] Failed to connect to Redis: %v", err)
	}
	log.Println("[Bridge] Connected to Redis")
	defer redisClient.Close()

	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[Bridge] Failed to connect to NATS: %v", err)
	}
	log.Println("[Bridge] Connected to NATS")
	defer natsConn.Close()

	metrics := metric.New()
	transport := bus.NewNATSTransport(natsConn, cfg.CANChannel, cfg.BridgeID)
	adapter := bus.NewAdapter(transport, cfg.RecvQueueSize, metrics)
	defer adapter.Close()

	srv := server.New(cfg, redisClient, adapter, metrics)
	if err := srv.Start(); err != nil {
		log.Fatalf("[Bridge] Failed to start server: %v", err)
	}

	log.Println("[Bridge] Server started successfully")
	log.Printf("[Bridge] HTTP API on port %d", cfg.HTTPPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("[Bridge] Shutting down...")

	srv.Stop()
	log.Println("[Bridge] Server stopped")
}
