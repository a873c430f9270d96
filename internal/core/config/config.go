// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Data service backends.
const (
	BackendRPC      = "rpc"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type DataServiceCfg struct {
	Backend     string        `env:"DATA_BACKEND" envDefault:"rpc"`
	RPCURL      string        `env:"DATA_RPC_URL" envDefault:"http://localhost:54321"`
	RPCKey      string        `env:"DATA_RPC_KEY"`
	DSN         string        `env:"DATA_DSN"`
	CallTimeout time.Duration `env:"DATA_CALL_TIMEOUT" envDefault:"15s"`
	TopN        int           `env:"STATS_TOP_N" envDefault:"10"`
}

type StatsCacheCfg struct {
	Enabled      bool          `env:"STATS_CACHE_ENABLED" envDefault:"false"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"32"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"2s"`
	OpTimeout    time.Duration `env:"CACHE_OP_TIMEOUT" envDefault:"250ms"`
	TTLCold      time.Duration `env:"CACHE_TTL_COLD" envDefault:"10m"`
	TTLWarm      time.Duration `env:"CACHE_TTL_WARM" envDefault:"1h"`
	TTLHot       time.Duration `env:"CACHE_TTL_HOT" envDefault:"6h"`
	HotThreshold float64       `env:"HOT_THRESHOLD" envDefault:"10"`
	WarmFraction float64       `env:"HOT_WARM_FRACTION" envDefault:"0.3"`
	HotHalfLife  time.Duration `env:"HOT_HALF_LIFE" envDefault:"10m"`
}

type KafkaCfg struct {
	Brokers            []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	SearchEvents       bool     `env:"SEARCH_EVENTS_ENABLED" envDefault:"false"`
	SearchTopic        string   `env:"SEARCH_EVENTS_TOPIC" envDefault:"registry-searches"`
	SearchQueue        int      `env:"SEARCH_EVENTS_QUEUE" envDefault:"1024"`
	Invalidation       bool     `env:"INVALIDATION_ENABLED" envDefault:"false"`
	InvalidationTopic  string   `env:"INVALIDATION_TOPIC" envDefault:"registry-invalidation"`
	InvalidationGroup  string   `env:"INVALIDATION_GROUP_ID" envDefault:"registry-cache-invalidator"`
	InvalidationOldest bool     `env:"INVALIDATION_OFFSET_OLDEST" envDefault:"true"`
}

type LocatorCfg struct {
	BoundariesPath string `env:"BOUNDARIES_PATH"`
	S3Bucket       string `env:"BOUNDARIES_S3_BUCKET"`
	S3Key          string `env:"BOUNDARIES_S3_KEY" envDefault:"districts.geojson"`
	S3Region       string `env:"BOUNDARIES_S3_REGION" envDefault:"eu-central-1"`
	S3Endpoint     string `env:"BOUNDARIES_S3_ENDPOINT"`
	S3PathStyle    bool   `env:"BOUNDARIES_S3_PATH_STYLE" envDefault:"false"`
	H3Res          int    `env:"H3_RES" envDefault:"7"`
}

type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8090"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogConsole      bool          `env:"LOG_CONSOLE" envDefault:"false"`
	LogSampleN      int           `env:"LOG_SAMPLE_N" envDefault:"0"`
	SessionCapacity int           `env:"SESSION_CAPACITY" envDefault:"4096"`
	StatsWaitMax    time.Duration `env:"STATS_WAIT_MAX" envDefault:"10s"`
	OverviewTTL     time.Duration `env:"OVERVIEW_TTL" envDefault:"24h"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Data            DataServiceCfg
	StatsCache      StatsCacheCfg
	Kafka           KafkaCfg
	Locator         LocatorCfg
}

// FromEnv parses the environment and normalizes out-of-range values.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Data.Backend = strings.ToLower(strings.TrimSpace(c.Data.Backend))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Kafka.Brokers = splitCSV(c.Kafka.Brokers)

	if c.SessionCapacity <= 0 {
		c.SessionCapacity = 4096
	}
	if c.StatsCache.PoolSize <= 0 {
		c.StatsCache.PoolSize = 32
	}
	if c.Data.TopN <= 0 {
		c.Data.TopN = 10
	}
	if c.Locator.H3Res < 0 {
		c.Locator.H3Res = 0
	}
	if c.Locator.H3Res > 15 {
		c.Locator.H3Res = 15
	}
	if c.StatsCache.WarmFraction <= 0 || c.StatsCache.WarmFraction >= 1 {
		c.StatsCache.WarmFraction = 0.3
	}
	if c.StatsCache.TTLWarm < c.StatsCache.TTLCold {
		c.StatsCache.TTLWarm = c.StatsCache.TTLCold
	}
	if c.StatsCache.TTLHot < c.StatsCache.TTLWarm {
		c.StatsCache.TTLHot = c.StatsCache.TTLWarm
	}
}

// Validate reports configuration combinations the server cannot start with.
func (c Config) Validate() error {
	switch c.Data.Backend {
	case BackendRPC:
		if strings.TrimSpace(c.Data.RPCURL) == "" {
			return fmt.Errorf("DATA_RPC_URL is required for backend %q", c.Data.Backend)
		}
	case BackendPostgres, BackendSQLite:
		if strings.TrimSpace(c.Data.DSN) == "" {
			return fmt.Errorf("DATA_DSN is required for backend %q", c.Data.Backend)
		}
	default:
		return fmt.Errorf("unknown DATA_BACKEND %q (want rpc|postgres|sqlite)", c.Data.Backend)
	}
	if (c.Kafka.SearchEvents || c.Kafka.Invalidation) && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when kafka features are enabled")
	}
	if c.Kafka.Invalidation && !c.StatsCache.Enabled {
		return fmt.Errorf("INVALIDATION_ENABLED requires STATS_CACHE_ENABLED")
	}
	return nil
}

func splitCSV(in []string) []string {
	var out []string
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
