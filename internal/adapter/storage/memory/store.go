// Package memory is an in-process implementation of the repository ports.
// It serialises writers behind a single transaction slot and undoes the
// writes of a rolled back transaction. Reads outside a transaction may
// observe uncommitted writes of the current writer.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	errForeignTx   = errors.New("memory: transaction does not belong to this store")
	errTxClosed    = errors.New("memory: transaction already closed")
	errUnsupported = errors.New("memory: operation not supported")
)

type balanceKey struct {
	identity string
	asset    domain.Asset
}

type referenceKey struct {
	actor     string
	reference string
}

// Store holds every table in memory.
type Store struct {
	slot chan struct{}

	mu           sync.RWMutex
	identities   map[string]domain.Identity
	balances     map[balanceKey]domain.Balance
	supply       map[domain.Asset]domain.Supply
	requests     map[domain.RequestKind]*requestTable
	campaigns    map[int64]domain.Campaign
	certificates map[int64]domain.Certificate
	events       []domain.LedgerEvent
	references   map[referenceKey]int64
	head         domain.ChainHead
	nextCampaign int64
	nextCert     int64
}

type requestTable struct {
	rows   map[int64]domain.ReviewRequest
	nextID int64
}

// NewStore creates an empty store with supply rows for every asset and the
// chain head at genesis.
func NewStore() *Store {
	s := &Store{
		slot:         make(chan struct{}, 1),
		identities:   make(map[string]domain.Identity),
		balances:     make(map[balanceKey]domain.Balance),
		supply:       make(map[domain.Asset]domain.Supply),
		campaigns:    make(map[int64]domain.Campaign),
		certificates: make(map[int64]domain.Certificate),
		references:   make(map[referenceKey]int64),
		head:         domain.ChainHead{Hash: domain.GenesisHash},
		requests: map[domain.RequestKind]*requestTable{
			domain.RequestKindIssuance: {rows: make(map[int64]domain.ReviewRequest)},
			domain.RequestKindProject:  {rows: make(map[int64]domain.ReviewRequest)},
		},
	}
	now := time.Now().UTC()
	for _, a := range domain.Assets {
		s.supply[a] = domain.Supply{Asset: a, Minted: decimal.Zero, Burned: decimal.Zero, UpdatedAt: now}
	}
	return s
}

// Begin implements ports.DBTransactor. It blocks until the previous writer
// commits or rolls back, or ctx is done.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.slot <- struct{}{}:
		return &memTx{store: s}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("begin memory transaction: %w", ctx.Err())
	}
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Name returns the dependency name.
func (s *Store) Name() string {
	return "memory"
}

// write applies fn under the data lock and records its inverse on tx.
func (s *Store) write(tx pgx.Tx, fn func() (undo func(), err error)) error {
	t, err := s.own(tx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	undo, err := fn()
	if err != nil {
		return err
	}
	if undo != nil {
		t.undo = append(t.undo, undo)
	}
	return nil
}

// own checks that tx is an open transaction of this store.
func (s *Store) own(tx pgx.Tx) (*memTx, error) {
	t, ok := tx.(*memTx)
	if !ok || t.store != s {
		return nil, errForeignTx
	}
	if t.closed {
		return nil, errTxClosed
	}
	return t, nil
}

// memTx is the store's pgx.Tx. Only Commit and Rollback are meaningful.
type memTx struct {
	store  *Store
	undo   []func()
	closed bool
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("nested transaction: %w", errUnsupported)
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.closed {
		return errTxClosed
	}
	t.undo = nil
	t.release()
	return nil
}

// Rollback replays the undo log in reverse. It is a no-op once the
// transaction is closed so it can always be deferred.
func (t *memTx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.undo = nil
	t.release()
	return nil
}

func (t *memTx) release() {
	t.closed = true
	<-t.store.slot
}

func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), errUnsupported
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{}
}
func (t *memTx) Conn() *pgx.Conn { return nil }

type errRow struct{}

func (errRow) Scan(dest ...any) error { return errUnsupported }
