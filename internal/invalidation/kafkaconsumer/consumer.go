// Package kafkaconsumer applies cache invalidation events read from Kafka.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/burial-registry/internal/core/observability"
	"github.com/mohammed-shakir/burial-registry/internal/invalidation"
	mylog "github.com/mohammed-shakir/burial-registry/internal/logger"
)

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	zlog   *zerolog.Logger
	target invalidation.Target
	ver    *versionDedupe

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a consumer applying events to target. zl receives the structured
// error and audit lines; it may be nil.
func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, target invalidation.Target) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		zlog:   zl,
		target: target,
		ver:    newVersionDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
}

// Start joins the consumer group and consumes in the background until ctx is
// done or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("kafkaconsumer: invalidation target is required")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafkaconsumer: no brokers configured")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	h := c.handler()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.logger.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.logger.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			obs.IncKafkaConsumerError("group")
			c.logger.Error("kafka group error", "err", err)
		}
	}()

	c.logger.Info("kafka invalidation consumer started",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("kafka invalidation consumer stopped")
}

// Readiness reports whether partitions are assigned, and which.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })
	return true, partitions
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned.Store(true)
			c.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					c.assign[p] = struct{}{}
				}
			}
			c.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned.Store(false)
			c.assign = map[int32]struct{}{}
			c.assignMu.Unlock()
		},
		process: c.ProcessOne,
	}
}

// ProcessOne applies one message. Undecodable or invalid events are logged and
// skipped; a failing cache returns an error so the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	zl := mylog.FromContext(mylog.WithComponent(ctx, "kafka_consumer"), c.zlog)

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.reject(zl, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.reject(zl, msg, "validate", err)
		return nil
	}

	key := ev.Key()
	if c.ver.seen(key, ev.Version) {
		obs.ObserveInvalidation(ev.Scope, nil)
		c.logger.Debug("invalidation already applied", "key", key, "version", ev.Version)
		return nil
	}

	err := invalidation.Apply(ctx, c.target, ev)
	obs.ObserveInvalidation(ev.Scope, err)
	if err != nil {
		obs.IncKafkaConsumerError("apply")
		zl.Error().Err(err).
			Str("kind", "apply").
			Str("scope", ev.Scope).
			Str("district_id", string(ev.DistrictID)).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return fmt.Errorf("apply %s: %w", key, err)
	}
	c.ver.record(key, ev.Version)

	zl.Info().
		Str("event", "invalidation").
		Str("op", ev.Op).
		Str("scope", ev.Scope).
		Str("district_id", string(ev.DistrictID)).
		Uint64("version", ev.Version).
		Msg("cache invalidated")
	return nil
}

func (c *Consumer) reject(zl *zerolog.Logger, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	zl.Error().Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("kafka error")
}
