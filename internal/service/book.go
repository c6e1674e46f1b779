package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const referenceTTL = 24 * time.Hour

// Book is the shared write path of the ledger. Every mutating service runs
// its transaction through it so that locks are always taken in the same
// order: entity row, balances (sorted), supply, chain head.
type Book struct {
	identities ports.IdentityRepository
	balances   ports.BalanceRepository
	supply     ports.SupplyRepository
	events     ports.LedgerEventRepository
	transactor ports.DBTransactor
	cache      ports.IdempotencyCache
	metrics    ports.Metrics
	adminID    string
	log        zerolog.Logger
	clock      func() time.Time
}

// BookDeps groups the collaborators of a Book.
type BookDeps struct {
	Identities ports.IdentityRepository
	Balances   ports.BalanceRepository
	Supply     ports.SupplyRepository
	Events     ports.LedgerEventRepository
	Transactor ports.DBTransactor
	Cache      ports.IdempotencyCache
	Metrics    ports.Metrics
}

// NewBook creates the shared ledger core. adminID must already be validated.
func NewBook(deps BookDeps, adminID string, log zerolog.Logger) *Book {
	admin, _ := domain.NormalizeIdentity(adminID)
	return &Book{
		identities: deps.Identities,
		balances:   deps.Balances,
		supply:     deps.Supply,
		events:     deps.Events,
		transactor: deps.Transactor,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		adminID:    admin,
		log:        log,
		clock:      time.Now,
	}
}

// now is truncated to what Postgres stores so hashes survive a round trip.
func (b *Book) now() time.Time {
	return b.clock().UTC().Truncate(time.Microsecond)
}

func (b *Book) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := b.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	return tx, nil
}

func (b *Book) commit(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// observe records the outcome of an operation and passes err through.
func (b *Book) observe(op string, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = apperror.CodeOf(err)
	}
	b.metrics.ObserveOperation(op, outcome)
	return err
}

func normalize(raw string) (string, error) {
	id, ok := domain.NormalizeIdentity(raw)
	if !ok {
		return "", apperror.ErrInvalidIdentity(raw)
	}
	return id, nil
}

func (b *Book) isAdmin(id string) bool {
	n, ok := domain.NormalizeIdentity(id)
	return ok && n == b.adminID
}

func (b *Book) requireAdmin(caller string) (string, error) {
	id, err := normalize(caller)
	if err != nil {
		return "", err
	}
	if id != b.adminID {
		return "", apperror.ErrNotAdmin(id)
	}
	return id, nil
}

// requireRegistered normalizes raw and checks that it names a registered identity.
func (b *Book) requireRegistered(ctx context.Context, raw string) (string, error) {
	id, err := normalize(raw)
	if err != nil {
		return "", err
	}
	identity, err := b.identities.GetByID(ctx, id)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("get identity: %w", err))
	}
	if identity == nil {
		return "", apperror.ErrNotRegistered(id)
	}
	return id, nil
}

// lockBalances locks the balance rows of ids in sorted order and returns
// their current amounts.
func (b *Book) lockBalances(ctx context.Context, tx pgx.Tx, asset domain.Asset, ids ...string) (map[string]decimal.Decimal, error) {
	sorted := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	locked := make(map[string]decimal.Decimal, len(sorted))
	for _, id := range sorted {
		amount, err := b.balances.GetForUpdate(ctx, tx, id, asset)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("lock balance %s/%s: %w", id, asset, err))
		}
		locked[id] = amount
	}
	return locked, nil
}

// move applies one balance effect to rows locked by lockBalances. An empty
// from mints and an empty to burns; both update the asset supply.
func (b *Book) move(ctx context.Context, tx pgx.Tx, asset domain.Asset, from, to string, amount decimal.Decimal, locked map[string]decimal.Decimal) error {
	if from != "" {
		have := locked[from]
		if have.LessThan(amount) {
			return apperror.ErrInsufficientBalance(from, string(asset), have.String(), amount.String())
		}
		locked[from] = have.Sub(amount)
		if err := b.balances.Update(ctx, tx, from, asset, locked[from]); err != nil {
			return apperror.InternalError(fmt.Errorf("debit %s: %w", from, err))
		}
	}
	if to != "" {
		locked[to] = locked[to].Add(amount)
		if err := b.balances.Update(ctx, tx, to, asset, locked[to]); err != nil {
			return apperror.InternalError(fmt.Errorf("credit %s: %w", to, err))
		}
	}
	if from != "" && to != "" {
		return nil
	}

	supply, err := b.supply.GetForUpdate(ctx, tx, asset)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock supply %s: %w", asset, err))
	}
	if from == "" {
		supply.Minted = supply.Minted.Add(amount)
		// Every balance and the burned counter are bounded by minted.
		if !domain.InRange(supply.Minted) {
			return apperror.ErrInvalidAmount(domain.AmountString(amount))
		}
	}
	if to == "" {
		supply.Burned = supply.Burned.Add(amount)
	}
	if err := b.supply.Update(ctx, tx, supply); err != nil {
		return apperror.InternalError(fmt.Errorf("update supply %s: %w", asset, err))
	}
	return nil
}

// unitsMoved feeds the volume counters after a commit.
func (b *Book) unitsMoved(e *domain.LedgerEvent) {
	if !e.MovesValue() {
		return
	}
	kind := ports.UnitsTransferred
	switch {
	case e.From == "":
		kind = ports.UnitsMinted
	case e.To == "":
		kind = ports.UnitsBurned
	}
	b.metrics.AddUnits(e.Asset, kind, e.Amount)
}

// appendEvent seals e behind the locked chain head and stores it.
func (b *Book) appendEvent(ctx context.Context, tx pgx.Tx, e *domain.LedgerEvent, payload any) error {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("marshal %s payload: %w", e.Type, err))
		}
		e.Payload = raw
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = b.now()
	}

	head, err := b.events.LockHead(ctx, tx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock ledger head: %w", err))
	}
	e.Seal(*head)
	if err := b.events.Append(ctx, tx, e); err != nil {
		if errors.Is(err, ports.ErrReferenceConflict) {
			return err
		}
		return apperror.InternalError(fmt.Errorf("append %s event: %w", e.Type, err))
	}
	return nil
}

// operation identifies a retried call by the fields that must match the
// event recorded under its reference.
type operation struct {
	actor     string
	reference string
	kind      domain.EventType
	to        string
	subjectID *int64
}

func (o operation) key() string {
	return o.actor + ":" + o.reference
}

// match turns a stored event into the replay result or DuplicateReference.
func (o operation) match(e *domain.LedgerEvent) (*domain.LedgerEvent, error) {
	if !e.SameOperation(o.kind, o.to, o.subjectID) {
		return nil, apperror.ErrDuplicateReference(o.reference)
	}
	return e, nil
}

// cachedReplay is the Redis fast path. A cache failure is logged and
// treated as a miss.
func (b *Book) cachedReplay(ctx context.Context, op operation) (*domain.LedgerEvent, error) {
	if op.reference == "" {
		return nil, nil
	}
	raw, err := b.cache.Get(ctx, op.key())
	if err != nil {
		b.log.Warn().Err(err).Str("key", op.key()).Msg("redis idempotency check failed, falling through to DB")
		return nil, nil
	}
	if raw == nil {
		return nil, nil
	}
	var e domain.LedgerEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		b.log.Warn().Err(err).Str("key", op.key()).Msg("discarding unreadable idempotency entry")
		return nil, nil
	}
	return op.match(&e)
}

// storedReplay looks the reference up in the event log.
func (b *Book) storedReplay(ctx context.Context, op operation) (*domain.LedgerEvent, error) {
	if op.reference == "" {
		return nil, nil
	}
	e, err := b.events.GetByReference(ctx, op.actor, op.reference)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get event by reference: %w", err))
	}
	if e == nil {
		return nil, nil
	}
	return op.match(e)
}

// lostRace resolves an append that hit the reference index: another call
// with the same reference committed first.
func (b *Book) lostRace(ctx context.Context, op operation) (*domain.LedgerEvent, error) {
	e, err := b.storedReplay(ctx, op)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperror.ErrDuplicateReference(op.reference)
	}
	return e, nil
}

// remember caches a committed event under its reference (best effort).
func (b *Book) remember(ctx context.Context, e *domain.LedgerEvent) {
	if e.Reference == "" {
		return
	}
	key := e.Actor + ":" + e.Reference
	raw, err := json.Marshal(e)
	if err == nil {
		err = b.cache.Set(ctx, key, raw, referenceTTL)
	}
	if err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}
