package service

import (
	"context"
	"errors"
	"fmt"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
)

// verifyPage is how many events Verify reads per query.
const verifyPage = 1000

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	book *Book
}

// NewLedgerService creates the balance ledger.
func NewLedgerService(book *Book) *LedgerServiceImpl {
	return &LedgerServiceImpl{book: book}
}

func (s *LedgerServiceImpl) BalanceOf(ctx context.Context, identity string, asset domain.Asset) (decimal.Decimal, error) {
	id, err := normalize(identity)
	if err != nil {
		return decimal.Zero, err
	}
	if !asset.Valid() {
		return decimal.Zero, apperror.ErrNotFound("Asset", string(asset))
	}
	amount, err := s.book.balances.Get(ctx, id, asset)
	if err != nil {
		return decimal.Zero, apperror.InternalError(fmt.Errorf("get balance: %w", err))
	}
	return amount, nil
}

// Balances returns one entry per asset, zero when nothing is stored.
func (s *LedgerServiceImpl) Balances(ctx context.Context, identity string) ([]domain.Balance, error) {
	id, err := normalize(identity)
	if err != nil {
		return nil, err
	}
	stored, err := s.book.balances.ListByIdentity(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list balances: %w", err))
	}
	byAsset := make(map[domain.Asset]domain.Balance, len(stored))
	for _, b := range stored {
		byAsset[b.Asset] = b
	}
	out := make([]domain.Balance, 0, len(domain.Assets))
	for _, a := range domain.Assets {
		b, ok := byAsset[a]
		if !ok {
			b = domain.Balance{IdentityID: id, Asset: a, Amount: decimal.Zero}
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *LedgerServiceImpl) Supply(ctx context.Context, asset domain.Asset) (*domain.Supply, error) {
	if !asset.Valid() {
		return nil, apperror.ErrNotFound("Asset", string(asset))
	}
	supply, err := s.book.supply.Get(ctx, asset)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get supply: %w", err))
	}
	return supply, nil
}

// Mint issues carbon credits. Administrator only.
func (s *LedgerServiceImpl) Mint(ctx context.Context, caller, to string, amount decimal.Decimal) (*domain.LedgerEvent, error) {
	e, err := s.issue(ctx, domain.EventMint, domain.AssetCarbon, caller, to, amount)
	return e, s.book.observe("mint", err)
}

// Deposit credits the settlement asset. Administrator only.
func (s *LedgerServiceImpl) Deposit(ctx context.Context, caller, to string, amount decimal.Decimal) (*domain.LedgerEvent, error) {
	e, err := s.issue(ctx, domain.EventDeposit, domain.AssetBase, caller, to, amount)
	return e, s.book.observe("deposit", err)
}

func (s *LedgerServiceImpl) issue(ctx context.Context, kind domain.EventType, asset domain.Asset, caller, to string, amount decimal.Decimal) (*domain.LedgerEvent, error) {
	admin, err := s.book.requireAdmin(caller)
	if err != nil {
		return nil, err
	}
	if !domain.IsValidAmount(amount) {
		return nil, apperror.ErrInvalidAmount(domain.AmountString(amount))
	}
	recipient, err := s.book.requireRegistered(ctx, to)
	if err != nil {
		return nil, err
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	locked, err := s.book.lockBalances(ctx, dbTx, asset, recipient)
	if err != nil {
		return nil, err
	}
	if err := s.book.move(ctx, dbTx, asset, "", recipient, amount, locked); err != nil {
		return nil, err
	}
	event := &domain.LedgerEvent{Type: kind, Actor: admin, Asset: asset, To: recipient, Amount: amount}
	if err := s.book.appendEvent(ctx, dbTx, event, nil); err != nil {
		return nil, err
	}
	if err := s.book.commit(ctx, dbTx); err != nil {
		return nil, err
	}

	s.book.unitsMoved(event)
	s.book.log.Info().
		Str("identity", recipient).
		Str("asset", string(asset)).
		Str("amount", amount.String()).
		Int64("seq", event.Seq).
		Msg("units issued")
	return event, nil
}

// Transfer moves credits between two registered identities.
func (s *LedgerServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*domain.LedgerEvent, error) {
	e, err := s.transfer(ctx, req)
	return e, s.book.observe("transfer", err)
}

func (s *LedgerServiceImpl) transfer(ctx context.Context, req ports.TransferRequest) (*domain.LedgerEvent, error) {
	from, err := s.book.requireRegistered(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if !domain.IsValidAmount(req.Amount) {
		return nil, apperror.ErrInvalidAmount(domain.AmountString(req.Amount))
	}
	to, err := s.book.requireRegistered(ctx, req.To)
	if err != nil {
		return nil, err
	}
	if from == to {
		return nil, apperror.Validation("Cannot transfer to the same identity")
	}

	op := operation{actor: from, reference: req.Reference, kind: domain.EventTransfer, to: to}
	return s.settle(ctx, op, func(e *domain.LedgerEvent) {
		e.From, e.To, e.Amount = from, to, req.Amount
	})
}

// Retire burns credits of the holder.
func (s *LedgerServiceImpl) Retire(ctx context.Context, req ports.RetireRequest) (*domain.LedgerEvent, error) {
	e, err := s.retire(ctx, req)
	return e, s.book.observe("retire", err)
}

func (s *LedgerServiceImpl) retire(ctx context.Context, req ports.RetireRequest) (*domain.LedgerEvent, error) {
	holder, err := s.book.requireRegistered(ctx, req.Holder)
	if err != nil {
		return nil, err
	}
	if !domain.IsValidAmount(req.Amount) {
		return nil, apperror.ErrInvalidAmount(domain.AmountString(req.Amount))
	}

	op := operation{actor: holder, reference: req.Reference, kind: domain.EventRetire}
	return s.settle(ctx, op, func(e *domain.LedgerEvent) {
		e.From, e.Amount = holder, req.Amount
	})
}

// settle runs a carbon credit movement with reference replay.
func (s *LedgerServiceImpl) settle(ctx context.Context, op operation, fill func(*domain.LedgerEvent)) (*domain.LedgerEvent, error) {
	if prior, err := s.book.cachedReplay(ctx, op); prior != nil || err != nil {
		return prior, err
	}

	event := &domain.LedgerEvent{Type: op.kind, Actor: op.actor, Asset: domain.AssetCarbon, Reference: op.reference}
	fill(event)

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	locked, err := s.book.lockBalances(ctx, dbTx, event.Asset, event.From, event.To)
	if err != nil {
		return nil, err
	}
	if prior, err := s.book.storedReplay(ctx, op); prior != nil || err != nil {
		return prior, err
	}
	if err := s.book.move(ctx, dbTx, event.Asset, event.From, event.To, event.Amount, locked); err != nil {
		return nil, err
	}
	if err := s.book.appendEvent(ctx, dbTx, event, nil); err != nil {
		if errors.Is(err, ports.ErrReferenceConflict) {
			_ = dbTx.Rollback(ctx)
			return s.book.lostRace(ctx, op)
		}
		return nil, err
	}
	if err := s.book.commit(ctx, dbTx); err != nil {
		return nil, err
	}

	s.book.remember(ctx, event)
	s.book.unitsMoved(event)
	s.book.log.Info().
		Str("type", string(event.Type)).
		Str("from", event.From).
		Str("to", event.To).
		Str("amount", event.Amount.String()).
		Int64("seq", event.Seq).
		Msg("credits moved")
	return event, nil
}

// Events lists ledger events. Administrator only.
func (s *LedgerServiceImpl) Events(ctx context.Context, caller string, filter domain.EventFilter) ([]domain.LedgerEvent, error) {
	if _, err := s.book.requireAdmin(caller); err != nil {
		return nil, err
	}
	if filter.Identity != "" {
		id, err := normalize(filter.Identity)
		if err != nil {
			return nil, err
		}
		filter.Identity = id
	}
	events, err := s.book.events.List(ctx, filter)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list events: %w", err))
	}
	return events, nil
}

type balanceKey struct {
	identity string
	asset    domain.Asset
}

// Verify replays the whole chain and checks it against the stored balances
// and supply counters. Administrator only. Writers are held off by the chain
// head lock while it runs.
func (s *LedgerServiceImpl) Verify(ctx context.Context, caller string) (*domain.VerifyReport, error) {
	report, err := s.verify(ctx, caller)
	return report, s.book.observe("verify", err)
}

func (s *LedgerServiceImpl) verify(ctx context.Context, caller string) (*domain.VerifyReport, error) {
	if _, err := s.book.requireAdmin(caller); err != nil {
		return nil, err
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	head, err := s.book.events.LockHead(ctx, dbTx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock ledger head: %w", err))
	}

	report := &domain.VerifyReport{
		HeadSeq:    head.Seq,
		HeadHash:   head.Hash,
		ChainValid: true,
		Balanced:   true,
		Supply:     make(map[domain.Asset]*domain.Supply, len(domain.Assets)),
	}
	for _, a := range domain.Assets {
		report.Supply[a] = &domain.Supply{Asset: a, Minted: decimal.Zero, Burned: decimal.Zero}
	}
	derived := make(map[balanceKey]decimal.Decimal)

	prev := domain.ChainHead{Hash: domain.GenesisHash}
	for {
		page, err := s.book.events.List(ctx, domain.EventFilter{AfterSeq: prev.Seq, Limit: verifyPage})
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("list events: %w", err))
		}
		for i := range page {
			e := &page[i]
			if e.Seq != prev.Seq+1 {
				report.ChainProblem("event %d follows %d", e.Seq, prev.Seq)
			}
			if e.PrevHash != prev.Hash {
				report.ChainProblem("event %d does not link to its predecessor", e.Seq)
			}
			if e.ComputeHash() != e.Hash {
				report.ChainProblem("event %d hash mismatch", e.Seq)
			}
			if e.MovesValue() {
				applyEvent(e, derived, report.Supply[e.Asset])
			}
			prev = domain.ChainHead{Seq: e.Seq, Hash: e.Hash}
			report.Events++
		}
		if len(page) < verifyPage || prev.Seq >= head.Seq {
			break
		}
	}
	if prev != *head {
		report.ChainProblem("replayed head %d does not match stored head %d", prev.Seq, head.Seq)
	}

	if err := s.checkBalances(ctx, report, derived); err != nil {
		return nil, err
	}

	if !report.OK() {
		s.book.log.Error().Strs("problems", report.Problems).Msg("ledger verification failed")
	}
	return report, nil
}

func applyEvent(e *domain.LedgerEvent, derived map[balanceKey]decimal.Decimal, supply *domain.Supply) {
	if e.From == "" {
		supply.Minted = supply.Minted.Add(e.Amount)
	} else {
		k := balanceKey{e.From, e.Asset}
		derived[k] = derived[k].Sub(e.Amount)
	}
	if e.To == "" {
		supply.Burned = supply.Burned.Add(e.Amount)
	} else {
		k := balanceKey{e.To, e.Asset}
		derived[k] = derived[k].Add(e.Amount)
	}
}

func (s *LedgerServiceImpl) checkBalances(ctx context.Context, report *domain.VerifyReport, derived map[balanceKey]decimal.Decimal) error {
	stored, err := s.book.balances.ListAll(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("list balances: %w", err))
	}

	sums := make(map[domain.Asset]decimal.Decimal)
	seen := make(map[balanceKey]bool, len(stored))
	for _, b := range stored {
		k := balanceKey{b.IdentityID, b.Asset}
		seen[k] = true
		sums[b.Asset] = sums[b.Asset].Add(b.Amount)
		if b.Amount.IsNegative() {
			report.BalanceProblem("balance %s/%s is negative", b.IdentityID, b.Asset)
		}
		if want := derived[k]; !want.Equal(b.Amount) {
			report.BalanceProblem("balance %s/%s is %s, events give %s", b.IdentityID, b.Asset, b.Amount, want)
		}
	}
	for k, want := range derived {
		if !seen[k] && !want.IsZero() {
			report.BalanceProblem("balance %s/%s is missing, events give %s", k.identity, k.asset, want)
		}
	}

	for _, a := range domain.Assets {
		replayed := report.Supply[a]
		supply, err := s.book.supply.Get(ctx, a)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("get supply: %w", err))
		}
		if !supply.Minted.Equal(replayed.Minted) || !supply.Burned.Equal(replayed.Burned) {
			report.BalanceProblem("supply %s is %s/%s, events give %s/%s", a, supply.Minted, supply.Burned, replayed.Minted, replayed.Burned)
		}
		if !sums[a].Equal(replayed.Circulating()) {
			report.BalanceProblem("balances of %s sum to %s, circulating supply is %s", a, sums[a], replayed.Circulating())
		}
		replayed.UpdatedAt = supply.UpdatedAt
	}
	return nil
}
