// Package searchevents publishes submitted searches to Kafka.
//
// Publishing never blocks the request path: events go through a bounded queue
// and are dropped when it is full.
package searchevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	obs "github.com/mohammed-shakir/burial-registry/internal/core/observability"
)

type Event struct {
	SessionID      string    `json:"session_id,omitempty"`
	Query          string    `json:"ime"`
	DistrictID     model.ID  `json:"okrug,omitempty"`
	MunicipalityID model.ID  `json:"opstina,omitempty"`
	CemeteryID     model.ID  `json:"groblje,omitempty"`
	TS             time.Time `json:"ts"`
}

// Sink receives search events.
type Sink interface {
	Publish(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

type Publisher struct {
	topic     string
	events    chan Event
	prod      sarama.AsyncProducer
	logger    *slog.Logger
	stopped   chan struct{}
	errsDone  chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewPublisher connects an async producer to brokers.
func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("searchevents: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:    topic,
		events:   make(chan Event, queueSize),
		prod:     prod,
		logger:   logger,
		stopped:  make(chan struct{}),
		errsDone: make(chan struct{}),
	}
	go p.run()
	go p.drainErrors()
	return p
}

func (p *Publisher) run() {
	defer close(p.stopped)
	for ev := range p.events {
		b, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error("searchevents: marshal", "err", err)
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Value: sarama.ByteEncoder(b),
		}
		// one session's searches land on one partition, in order
		if ev.SessionID != "" {
			msg.Key = sarama.StringEncoder(ev.SessionID)
		}
		p.prod.Input() <- msg
	}
}

func (p *Publisher) drainErrors() {
	defer close(p.errsDone)
	for err := range p.prod.Errors() {
		if err != nil {
			obs.ObserveSearchEvent("failed")
			p.logger.Warn("searchevents: producer error", "err", err.Err, "topic", p.topic)
		}
	}
}

// Publish queues ev; it is dropped when the queue is full or the publisher closed.
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		obs.ObserveSearchEvent("dropped")
		return
	}
	select {
	case p.events <- ev:
		obs.ObserveSearchEvent("queued")
	default:
		obs.ObserveSearchEvent("dropped")
	}
}

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
		<-p.stopped

		if cerr := p.prod.Close(); cerr != nil {
			err = fmt.Errorf("searchevents: close producer: %w", cerr)
		}
		<-p.errsDone
	})
	return err
}
