package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation     = "23505"
	referenceConstraint = "uq_ledger_events_reference"
	defaultEventLimit   = 100
	maxEventLimit       = 1000
)

// EventRepo implements ports.LedgerEventRepository.
type EventRepo struct {
	pool Pool
}

// NewEventRepo creates a new EventRepo.
func NewEventRepo(pool Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

const eventColumns = "seq, event_type, actor, asset, from_id, to_id, amount, subject_id, reference, payload, prev_hash, hash, created_at, published_at"

// LockHead locks the single chain head row.
// This MUST be called within a transaction.
func (r *EventRepo) LockHead(ctx context.Context, tx pgx.Tx) (*domain.ChainHead, error) {
	query := `SELECT seq, hash FROM ledger_head WHERE id = 1 FOR UPDATE`

	h := &domain.ChainHead{}
	if err := tx.QueryRow(ctx, query).Scan(&h.Seq, &h.Hash); err != nil {
		return nil, fmt.Errorf("lock ledger head: %w", err)
	}
	return h, nil
}

// Append inserts a sealed event and moves the head to it.
func (r *EventRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEvent) error {
	query := `INSERT INTO ledger_events (seq, event_type, actor, asset, from_id, to_id, amount, subject_id,
		reference, payload, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		e.Seq, string(e.Type), e.Actor, string(e.Asset), e.From, e.To, e.Amount, e.SubjectID,
		e.Reference, []byte(e.Payload), e.PrevHash, e.Hash, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == referenceConstraint {
			return ports.ErrReferenceConflict
		}
		return fmt.Errorf("insert ledger event: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE ledger_head SET seq = $1, hash = $2 WHERE id = 1`, e.Seq, e.Hash)
	if err != nil {
		return fmt.Errorf("advance ledger head: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("ledger head missing")
	}
	return nil
}

// GetByReference finds the event an actor recorded under a client reference.
func (r *EventRepo) GetByReference(ctx context.Context, actor, reference string) (*domain.LedgerEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE actor = $1 AND reference = $2`

	e, err := scanEvent(r.pool.QueryRow(ctx, query, actor, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event by reference: %w", err)
	}
	return e, nil
}

// List returns events in sequence order matching the filter.
func (r *EventRepo) List(ctx context.Context, f domain.EventFilter) ([]domain.LedgerEvent, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, "seq > "+arg(f.AfterSeq))
	if f.Type != "" {
		where = append(where, "event_type = "+arg(string(f.Type)))
	}
	if f.Identity != "" {
		p := arg(f.Identity)
		where = append(where, "(actor = "+p+" OR from_id = "+p+" OR to_id = "+p+")")
	}
	if f.SubjectID != nil {
		where = append(where, "subject_id = "+arg(*f.SubjectID))
	}

	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY seq LIMIT ` + arg(clampLimit(f.Limit))
	return r.list(ctx, query, args...)
}

// ListUnpublished returns the oldest events not yet handed to the broker.
func (r *EventRepo) ListUnpublished(ctx context.Context, limit int) ([]domain.LedgerEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE published_at IS NULL ORDER BY seq LIMIT $1`
	return r.list(ctx, query, clampLimit(limit))
}

// MarkPublished stamps the publication time of one event.
func (r *EventRepo) MarkPublished(ctx context.Context, seq int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE ledger_events SET published_at = $1 WHERE seq = $2`, at, seq)
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger event not found: %d", seq)
	}
	return nil
}

func (r *EventRepo) list(ctx context.Context, query string, args ...any) ([]domain.LedgerEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger events: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (*domain.LedgerEvent, error) {
	e := &domain.LedgerEvent{}
	var (
		eventType, asset string
		payload          []byte
	)
	err := row.Scan(
		&e.Seq, &eventType, &e.Actor, &asset, &e.From, &e.To, &e.Amount, &e.SubjectID,
		&e.Reference, &payload, &e.PrevHash, &e.Hash, &e.CreatedAt, &e.PublishedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Type = domain.EventType(eventType)
	e.Asset = domain.Asset(asset)
	e.Payload = json.RawMessage(payload)
	return e, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultEventLimit
	}
	if limit > maxEventLimit {
		return maxEventLimit
	}
	return limit
}
