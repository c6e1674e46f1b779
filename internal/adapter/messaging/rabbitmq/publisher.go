// Package rabbitmq distributes committed ledger events over a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"carbon-ledger/internal/core/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// ChannelOpener opens a fresh channel, usually conn.Channel.
type ChannelOpener func() (Channel, error)

// Dial connects to the broker, retrying with exponential backoff until
// attempts are exhausted or ctx is done.
func Dial(ctx context.Context, url string, attempts int, log zerolog.Logger) (*amqp.Connection, error) {
	wait := time.Second
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			log.Info().Int("attempt", i).Msg("RabbitMQ connection established")
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			log.Warn().Err(err).Int("attempt", i).Msg("RabbitMQ dial failed")
			break
		}
		log.Warn().Err(err).Int("attempt", i).Dur("retry_in", wait).Msg("RabbitMQ dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, fmt.Errorf("dial rabbitmq after %d attempts: %w", attempts, lastErr)
}

// ConnectionOpener adapts an AMQP connection to a ChannelOpener.
func ConnectionOpener(conn *amqp.Connection) ChannelOpener {
	return func() (Channel, error) {
		return conn.Channel()
	}
}

// Publisher implements ports.EventPublisher.
type Publisher struct {
	open     ChannelOpener
	exchange string
	log      zerolog.Logger

	mu sync.Mutex
	ch Channel
}

// NewPublisher opens a channel and declares the durable topic exchange.
func NewPublisher(open ChannelOpener, exchange string, log zerolog.Logger) (*Publisher, error) {
	p := &Publisher{open: open, exchange: exchange, log: log}
	if _, err := p.channel(); err != nil {
		return nil, err
	}
	return p, nil
}

// channel returns the open channel, reopening it after a broker-side close.
// Callers must hold p.mu or be the constructor.
func (p *Publisher) channel() (Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.ch = ch
	return ch, nil
}

// Publish sends the event as persistent JSON routed by its type.
func (p *Publisher) Publish(ctx context.Context, e *domain.LedgerEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, e.Type.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    strconv.FormatInt(e.Seq, 10),
		Type:         string(e.Type),
		Timestamp:    e.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event %d: %w", e.Seq, err)
	}
	return nil
}

// Close closes the channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	return p.ch.Close()
}

// LogPublisher stands in for the broker when messaging is disabled.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish logs the event at debug level.
func (p *LogPublisher) Publish(ctx context.Context, e *domain.LedgerEvent) error {
	p.log.Debug().
		Int64("seq", e.Seq).
		Str("routing_key", e.Type.RoutingKey()).
		Str("hash", e.Hash).
		Msg("Ledger event (messaging disabled)")
	return nil
}
