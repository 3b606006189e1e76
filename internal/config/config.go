// Package config defines service configuration and its loading.
package config

import (
	"runtime"
	"time"
)

// Broker kinds.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// Store backends.
const (
	BackendBadger   = "badger"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is json or text.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Broker selects where telemetry arrives from: memory or redis.
	Broker string `koanf:"broker"`
	// Topic is the broker topic carrying telemetry.
	Topic string `koanf:"topic"`
	// QueueSize bounds the in-memory broker.
	QueueSize     int    `koanf:"queue_size"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// WorkerCount sets the number of ingestion workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeEnabled toggles the delivery dedupe guard.
	DedupeEnabled bool `koanf:"dedupe_enabled"`
	// DedupeSize sets the size of the deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// BroadcastBuffer is the per-subscriber buffer of the live stream.
	BroadcastBuffer int `koanf:"broadcast_buffer"`
	// BroadcastPolicy is drop_oldest or drop_newest.
	BroadcastPolicy string `koanf:"broadcast_policy"`

	// StoreBackend selects badger, mongo or postgres.
	StoreBackend     string `koanf:"store_backend"`
	BadgerPath       string `koanf:"badger_path"`
	BadgerInMemory   bool   `koanf:"badger_in_memory"`
	BadgerSyncWrites bool   `koanf:"badger_sync_writes"`
	MongoURI         string `koanf:"mongo_uri"`
	MongoDatabase    string `koanf:"mongo_database"`
	PostgresURL      string `koanf:"postgres_url"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "json",
		Addr:            ":9080",
		ShutdownTimeout: 15 * time.Second,
		Broker:          BrokerMemory,
		Topic:           "vehicle-data",
		QueueSize:       10_000,
		RedisAddr:       "localhost:6379",
		WorkerCount:     runtime.NumCPU() * 4,
		DedupeEnabled:   true,
		DedupeSize:      50_000,
		BroadcastBuffer: 256,
		BroadcastPolicy: "drop_oldest",
		StoreBackend:    BackendBadger,
		BadgerPath:      "data/badger",
		MongoDatabase:   "riskpulse",
	}
}
