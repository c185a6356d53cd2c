package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the bridge
type Config struct {
	BridgeID       string
	CompactAddr    string
	StructuredAddr string
	HTTPPort       int
	RedisURL       string
	NATSURL        string
	CANChannel     string
	RecvQueueSize  int
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		BridgeID:       getEnv("BRIDGE_ID", "bridge-01"),
		CompactAddr:    getEnv("COMPACT_ADDR", "127.0.0.1:5000"),
		StructuredAddr: getEnv("STRUCTURED_ADDR", "127.0.0.1:5001"),
		HTTPPort:       getEnvAsInt("HTTP_PORT", 8081),
		RedisURL:       getEnv("REDIS_URL", "localhost:6379"),
		NATSURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		CANChannel:     getEnv("CAN_CHANNEL", "CAN1"),
		RecvQueueSize:  getEnvAsInt("RECV_QUEUE_SIZE", 256),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
