package postgres

import (
	"context"
	"testing"
	"time"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityRepo_Create(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"new identity", 1, true},
		{"already registered", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			repo := NewIdentityRepo(mock)
			identity := &domain.Identity{ID: alice, Handle: "alice", CreatedAt: time.Now().UTC()}

			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO identities .+ ON CONFLICT").
				WithArgs(alice, "alice", identity.CreatedAt).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))

			tx, err := mock.Begin(context.Background())
			require.NoError(t, err)

			created, err := repo.Create(context.Background(), tx, identity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, created)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIdentityRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdentityRepo(mock)
	created := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM identities WHERE id").
		WithArgs(alice).
		WillReturnRows(pgxmock.NewRows([]string{"id", "handle", "created_at"}).AddRow(alice, "alice", created))

	got, err := repo.GetByID(context.Background(), alice)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Handle)
	assert.Equal(t, created, got.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdentityRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM identities WHERE id").
		WithArgs(bob).
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), bob)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
