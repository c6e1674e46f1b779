package memory

import (
	"context"
	"fmt"
	"time"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventRepo implements ports.LedgerEventRepository.
type EventRepo struct {
	s *Store
}

// Events returns the ledger event log.
func (s *Store) Events() *EventRepo {
	return &EventRepo{s: s}
}

func (r *EventRepo) LockHead(ctx context.Context, tx pgx.Tx) (*domain.ChainHead, error) {
	if _, err := r.s.own(tx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	h := r.s.head
	return &h, nil
}

// Append requires the event to follow the head directly.
func (r *EventRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEvent) error {
	return r.s.write(tx, func() (func(), error) {
		if e.Seq != r.s.head.Seq+1 || e.PrevHash != r.s.head.Hash {
			return nil, fmt.Errorf("event %d does not extend head %d", e.Seq, r.s.head.Seq)
		}
		ref := referenceKey{e.Actor, e.Reference}
		if e.Reference != "" {
			if _, taken := r.s.references[ref]; taken {
				return nil, ports.ErrReferenceConflict
			}
			r.s.references[ref] = e.Seq
		}
		prevHead := r.s.head
		r.s.events = append(r.s.events, *e)
		r.s.head = domain.ChainHead{Seq: e.Seq, Hash: e.Hash}
		return func() {
			r.s.events = r.s.events[:len(r.s.events)-1]
			r.s.head = prevHead
			if e.Reference != "" {
				delete(r.s.references, ref)
			}
		}, nil
	})
}

// GetByReference returns nil, nil when the pair is unused.
func (r *EventRepo) GetByReference(ctx context.Context, actor, reference string) (*domain.LedgerEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seq, ok := r.s.references[referenceKey{actor, reference}]
	if !ok {
		return nil, nil
	}
	e := r.s.events[seq-1]
	return &e, nil
}

// List returns events in sequence order matching the filter.
func (r *EventRepo) List(ctx context.Context, f domain.EventFilter) ([]domain.LedgerEvent, error) {
	return r.list(clampLimit(f.Limit), func(e *domain.LedgerEvent) bool {
		if e.Seq <= f.AfterSeq {
			return false
		}
		if f.Type != "" && e.Type != f.Type {
			return false
		}
		if f.Identity != "" && e.Actor != f.Identity && e.From != f.Identity && e.To != f.Identity {
			return false
		}
		if f.SubjectID != nil && (e.SubjectID == nil || *e.SubjectID != *f.SubjectID) {
			return false
		}
		return true
	}), nil
}

func (r *EventRepo) ListUnpublished(ctx context.Context, limit int) ([]domain.LedgerEvent, error) {
	return r.list(clampLimit(limit), func(e *domain.LedgerEvent) bool { return e.PublishedAt == nil }), nil
}

// MarkPublished is not transactional; the relay calls it after publishing.
func (r *EventRepo) MarkPublished(ctx context.Context, seq int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if seq < 1 || seq > int64(len(r.s.events)) {
		return fmt.Errorf("ledger event not found: %d", seq)
	}
	at = at.UTC()
	r.s.events[seq-1].PublishedAt = &at
	return nil
}

func (r *EventRepo) list(limit int, keep func(*domain.LedgerEvent) bool) []domain.LedgerEvent {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.LedgerEvent
	for i := range r.s.events {
		if len(out) == limit {
			break
		}
		if keep(&r.s.events[i]) {
			out = append(out, r.s.events[i])
		}
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultEventLimit
	case limit > maxEventLimit:
		return maxEventLimit
	}
	return limit
}
