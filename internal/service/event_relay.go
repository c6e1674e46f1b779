package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carbon-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// EventRelay hands committed ledger events to the broker in sequence order
// and marks them published. A failed publish stops the batch and is retried
// on the next tick.
type EventRelay struct {
	events    ports.LedgerEventRepository
	publisher ports.EventPublisher
	metrics   ports.Metrics
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
}

// NewEventRelay creates the outbox relay.
func NewEventRelay(events ports.LedgerEventRepository, publisher ports.EventPublisher, metrics ports.Metrics,
	interval time.Duration, batchSize int, log zerolog.Logger) *EventRelay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &EventRelay{
		events:    events,
		publisher: publisher,
		metrics:   metrics,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Run flushes on every tick until ctx is done.
func (r *EventRelay) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Int("batch_size", r.batchSize).Msg("event relay started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("event relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn().Err(err).Msg("event relay flush failed")
			}
		}
	}
}

// Flush publishes one batch and returns how many events went out.
func (r *EventRelay) Flush(ctx context.Context) (int, error) {
	pending, err := r.events.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unpublished events: %w", err)
	}

	sent := 0
	defer func() { r.metrics.EventsPublished(sent) }()
	for i := range pending {
		e := &pending[i]
		if err := r.publisher.Publish(ctx, e); err != nil {
			return sent, fmt.Errorf("publish event %d: %w", e.Seq, err)
		}
		if err := r.events.MarkPublished(ctx, e.Seq, time.Now().UTC()); err != nil {
			return sent, fmt.Errorf("mark event %d published: %w", e.Seq, err)
		}
		sent++
	}
	if sent > 0 {
		r.log.Debug().Int("count", sent).Int64("last_seq", pending[sent-1].Seq).Msg("events relayed")
	}
	return sent, nil
}
