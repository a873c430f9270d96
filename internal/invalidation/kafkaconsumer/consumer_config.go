package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/burial-registry/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

// FromConfig derives the consumer settings from the service configuration.
func FromConfig(k config.KafkaCfg) Config {
	return Config{
		Brokers:             k.Brokers,
		Topic:               k.InvalidationTopic,
		GroupID:             k.InvalidationGroup,
		InitialOffsetOldest: k.InvalidationOldest,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = "registry-invalidation"
	}
	if c.GroupID == "" {
		c.GroupID = "registry-cache-invalidator"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 4096
	}
	return c
}
