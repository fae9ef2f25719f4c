package config

import (
	"os"
	"strings"
	"time"

	pstrings "splitledger/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr string

	// PostgresURL enables the PostgreSQL stores; empty keeps in-memory.
	PostgresURL string

	Redis RedisConfig

	// KafkaBrokers enables the domain event trail; empty disables it.
	KafkaBrokers []string

	// SendTimeout bounds each live connection's send path.
	SendTimeout time.Duration

	// JanitorInterval is how often stale connections are swept.
	JanitorInterval time.Duration
}

// RedisConfig holds connection settings for the offline notification queue.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("SPLITLEDGER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var brokers []string
	if raw := os.Getenv("SPLITLEDGER_KAFKA_BROKERS"); raw != "" {
		brokers = pstrings.DedupeAndTrim(strings.Split(raw, ","))
	}

	return Server{
		Addr:        addr,
		PostgresURL: os.Getenv("SPLITLEDGER_POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("SPLITLEDGER_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		KafkaBrokers:    brokers,
		SendTimeout:     5 * time.Second,
		JanitorInterval: 30 * time.Second,
	}
}
