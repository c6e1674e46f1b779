package postgres

import (
	"context"
	"testing"
	"time"

	"carbon-ledger/internal/core/domain"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func certificateColumnNames() []string {
	return []string{"id", "owner", "creator", "name", "description", "evidence_ref", "price", "listed", "created_at", "updated_at"}
}

func TestCertificateRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCertificateRepo(mock)
	now := time.Now().UTC()
	c := &domain.Certificate{
		Owner: alice, Creator: alice,
		Metadata: domain.CertificateMetadata{Name: "Reef", Description: "coral", EvidenceRef: "ipfs://h"},
		Price:    dec("50"), Listed: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO certificates .+ RETURNING id").
		WithArgs(alice, alice, "Reef", "coral", "ipfs://h", eqDec("50"), true, now, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.Create(context.Background(), tx, c))
	assert.Equal(t, int64(9), c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCertificateRepo(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM certificates WHERE id .+ FOR UPDATE").
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(certificateColumnNames()).
			AddRow(int64(9), alice, alice, "Reef", "coral", "ipfs://h", dec("50"), true, now, now))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	got, err := repo.GetByIDForUpdate(context.Background(), tx, 9)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Reef", got.Metadata.Name)
	assert.True(t, got.Price.Equal(dec("50")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCertificateRepo(mock)
	now := time.Now().UTC()
	c := &domain.Certificate{ID: 9, Owner: bob, Price: dec("50"), Listed: false, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE certificates SET owner").
		WithArgs(bob, eqDec("50"), false, now, int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Update(context.Background(), tx, c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepo_ListByOwner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCertificateRepo(mock)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM certificates WHERE owner = \\$1").
		WithArgs(bob).
		WillReturnRows(pgxmock.NewRows(certificateColumnNames()).
			AddRow(int64(9), bob, alice, "Reef", "", "", dec("50"), false, now, now))

	got, err := repo.ListByOwner(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, alice, got[0].Creator)
	assert.False(t, got[0].Listed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
