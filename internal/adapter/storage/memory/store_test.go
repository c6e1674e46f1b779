package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	bob   = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

// Compile-time interface checks.
var (
	_ ports.DBTransactor            = (*Store)(nil)
	_ ports.HealthChecker           = (*Store)(nil)
	_ ports.IdentityRepository      = (*IdentityRepo)(nil)
	_ ports.BalanceRepository       = (*BalanceRepo)(nil)
	_ ports.SupplyRepository        = (*SupplyRepo)(nil)
	_ ports.ReviewRequestRepository = (*RequestRepo)(nil)
	_ ports.CampaignRepository      = (*CampaignRepo)(nil)
	_ ports.CertificateRepository   = (*CertificateRepo)(nil)
	_ ports.LedgerEventRepository   = (*EventRepo)(nil)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStore_CommitKeepsWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	created, err := s.Identities().Create(ctx, tx, &domain.Identity{ID: alice, Handle: "alice"})
	require.NoError(t, err)
	assert.True(t, created)
	_, err = s.Balances().GetForUpdate(ctx, tx, alice, domain.AssetCarbon)
	require.NoError(t, err)
	require.NoError(t, s.Balances().Update(ctx, tx, alice, domain.AssetCarbon, dec("500")))
	require.NoError(t, tx.Commit(ctx))
	// A deferred rollback after commit is harmless.
	require.NoError(t, tx.Rollback(ctx))

	got, err := s.Balances().Get(ctx, alice, domain.AssetCarbon)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("500")))

	id, err := s.Identities().GetByID(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "alice", id.Handle)
}

func TestStore_RollbackUndoesWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Identities().Create(ctx, tx, &domain.Identity{ID: alice, Handle: "alice"})
	require.NoError(t, err)
	_, err = s.Balances().GetForUpdate(ctx, tx, alice, domain.AssetCarbon)
	require.NoError(t, err)
	require.NoError(t, s.Balances().Update(ctx, tx, alice, domain.AssetCarbon, dec("10")))
	sup, err := s.Supplies().GetForUpdate(ctx, tx, domain.AssetCarbon)
	require.NoError(t, err)
	sup.Minted = dec("10")
	require.NoError(t, s.Supplies().Update(ctx, tx, sup))
	c := &domain.Campaign{Creator: alice, Name: "reforest", TargetAmount: dec("100"), RaisedAmount: decimal.Zero, IsActive: true}
	require.NoError(t, s.Campaigns().Create(ctx, tx, c))
	require.NoError(t, tx.Rollback(ctx))

	id, err := s.Identities().GetByID(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, id)
	balances, err := s.Balances().ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, balances)
	sup, err = s.Supplies().Get(ctx, domain.AssetCarbon)
	require.NoError(t, err)
	assert.True(t, sup.Minted.IsZero())

	// The id sequence is rewound as well.
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	c2 := &domain.Campaign{Creator: alice, Name: "again", TargetAmount: dec("100"), IsActive: true}
	require.NoError(t, s.Campaigns().Create(ctx, tx, c2))
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, int64(1), c2.ID)
}

func TestStore_SingleWriter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Commit(ctx))
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback(ctx))
}

func TestStore_RejectsClosedAndForeignTransactions(t *testing.T) {
	s := NewStore()
	other := NewStore()
	ctx := context.Background()

	tx, err := other.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Identities().Create(ctx, tx, &domain.Identity{ID: alice})
	assert.ErrorIs(t, err, errForeignTx)
	require.NoError(t, tx.Rollback(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	_, err = s.Balances().GetForUpdate(ctx, tx, alice, domain.AssetCarbon)
	assert.ErrorIs(t, err, errTxClosed)
	assert.ErrorIs(t, tx.Commit(ctx), errTxClosed)
}

func TestBalanceRepo_UpdateRejectsNegative(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	assert.Error(t, s.Balances().Update(ctx, tx, alice, domain.AssetBase, dec("1")), "row must be locked first")
	_, err = s.Balances().GetForUpdate(ctx, tx, alice, domain.AssetBase)
	require.NoError(t, err)
	assert.Error(t, s.Balances().Update(ctx, tx, alice, domain.AssetBase, dec("-1")))
}

func TestRequestRepo_WorkflowsAreSeparate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	issuance := &domain.ReviewRequest{Requester: alice, EvidenceRef: "ipfs://a", Status: domain.RequestStatusPending}
	project := &domain.ReviewRequest{Requester: alice, EvidenceRef: "ipfs://b", Amount: dec("5"), Status: domain.RequestStatusPending}
	require.NoError(t, s.IssuanceRequests().Create(ctx, tx, issuance))
	require.NoError(t, s.ProjectSubmissions().Create(ctx, tx, project))
	assert.Equal(t, int64(1), issuance.ID)
	assert.Equal(t, int64(1), project.ID)
	assert.Equal(t, domain.RequestKindProject, project.Kind)

	now := time.Now().UTC()
	admin := bob
	issuance.Status = domain.RequestStatusApproved
	issuance.ReviewedBy = &admin
	issuance.ReviewedAt = &now
	require.NoError(t, s.IssuanceRequests().UpdateReview(ctx, tx, issuance))
	// A second review of the same request is refused.
	assert.Error(t, s.IssuanceRequests().UpdateReview(ctx, tx, issuance))
	require.NoError(t, tx.Commit(ctx))

	pending, err := s.IssuanceRequests().ListByStatus(ctx, domain.RequestStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	all, err := s.ProjectSubmissions().ListByRequester(ctx, alice, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ipfs://b", all[0].EvidenceRef)
}

func TestCampaignRepo_ListActive(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	a := &domain.Campaign{Creator: alice, Name: "a", TargetAmount: dec("10"), RaisedAmount: decimal.Zero, IsActive: true}
	b := &domain.Campaign{Creator: bob, Name: "b", TargetAmount: dec("10"), RaisedAmount: decimal.Zero, IsActive: true}
	require.NoError(t, s.Campaigns().Create(ctx, tx, a))
	require.NoError(t, s.Campaigns().Create(ctx, tx, b))

	over := *b
	over.RaisedAmount = dec("11")
	assert.Error(t, s.Campaigns().UpdateFunding(ctx, tx, &over))
	require.NoError(t, tx.Commit(ctx))

	active, err := s.Campaigns().ListActive(ctx, alice)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, bob, active[0].Creator)

	active, err = s.Campaigns().ListActive(ctx, "")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func appendEvent(t *testing.T, s *Store, e *domain.LedgerEvent) error {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	head, err := s.Events().LockHead(ctx, tx)
	require.NoError(t, err)
	e.Seal(*head)
	if err := s.Events().Append(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func TestEventRepo_ChainAndReferences(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	subject := int64(7)

	first := &domain.LedgerEvent{Type: domain.EventMint, Actor: bob, Asset: domain.AssetCarbon, To: alice, Amount: dec("5"), CreatedAt: time.Now().UTC()}
	require.NoError(t, appendEvent(t, s, first))
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, domain.GenesisHash, first.PrevHash)

	second := &domain.LedgerEvent{Type: domain.EventDonation, Actor: alice, Asset: domain.AssetCarbon, From: alice, To: bob,
		Amount: dec("2"), SubjectID: &subject, Reference: "r-1", Payload: json.RawMessage(`{"requested":"2"}`), CreatedAt: time.Now().UTC()}
	require.NoError(t, appendEvent(t, s, second))
	assert.Equal(t, first.Hash, second.PrevHash)

	dup := &domain.LedgerEvent{Type: domain.EventTransfer, Actor: alice, Reference: "r-1", CreatedAt: time.Now().UTC()}
	assert.ErrorIs(t, appendEvent(t, s, dup), ports.ErrReferenceConflict)

	// The failed append left the head untouched.
	third := &domain.LedgerEvent{Type: domain.EventRetire, Actor: alice, Asset: domain.AssetCarbon, From: alice, Amount: dec("1"), CreatedAt: time.Now().UTC()}
	require.NoError(t, appendEvent(t, s, third))
	assert.Equal(t, int64(3), third.Seq)
	assert.Equal(t, second.Hash, third.PrevHash)

	got, err := s.Events().GetByReference(ctx, alice, "r-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.Hash, got.Hash)
	missing, err := s.Events().GetByReference(ctx, bob, "r-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	bySubject, err := s.Events().List(ctx, domain.EventFilter{SubjectID: &subject})
	require.NoError(t, err)
	require.Len(t, bySubject, 1)
	assert.Equal(t, int64(2), bySubject[0].Seq)

	forBob, err := s.Events().List(ctx, domain.EventFilter{Identity: bob})
	require.NoError(t, err)
	assert.Len(t, forBob, 2)

	after, err := s.Events().List(ctx, domain.EventFilter{AfterSeq: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, int64(2), after[0].Seq)
}

func TestEventRepo_Publication(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, appendEvent(t, s, &domain.LedgerEvent{Type: domain.EventMint, Actor: alice, CreatedAt: time.Now().UTC()}))
	}

	require.NoError(t, s.Events().MarkPublished(ctx, 1, time.Now()))
	assert.Error(t, s.Events().MarkPublished(ctx, 9, time.Now()))

	pending, err := s.Events().ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(2), pending[0].Seq)
}
