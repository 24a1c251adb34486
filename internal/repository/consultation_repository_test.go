package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zacode/consultation-service/internal/domain"
	"github.com/zacode/consultation-service/internal/persistence"
)

// These tests run against a disposable database named by TEST_POSTGRES_DSN.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, persistence.RunMigrations(ctx, pool, zap.NewNop()))
	return pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, 'user')`,
		id, "Dina", id+"@example.com")
	require.NoError(t, err)
	return id
}

func TestConsultationRepositoryRespondAppliesOnce(t *testing.T) {
	pool := newTestPool(t)
	repo := NewConsultationRepository(pool)
	ctx := context.Background()

	c := &domain.Consultation{
		ID:         uuid.NewString(),
		UserID:     seedUser(t, pool),
		Type:       "billing",
		Content:    "question",
		Status:     domain.ConsultationStatusAwaiting,
		TicketCode: "TKT-" + uuid.NewString()[:8],
	}
	require.NoError(t, repo.Create(ctx, c))

	first, applied, err := repo.Respond(ctx, RespondInput{ID: c.ID, Response: "first", At: time.Now()})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, "first", *first.AdminResponse)

	require.NoError(t, repo.MarkUserNotified(ctx, c.ID))

	second, applied, err := repo.Respond(ctx, RespondInput{ID: c.ID, Response: "second", At: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, "first", *second.AdminResponse)
	require.True(t, first.ResponseDate.Equal(*second.ResponseDate))
	require.True(t, second.NotificationSentToUser)

	missing, applied, err := repo.Respond(ctx, RespondInput{ID: uuid.NewString(), Response: "x", At: time.Now()})
	require.NoError(t, err)
	require.False(t, applied)
	require.Nil(t, missing)
}

func TestConsultationRepositoryDuplicateTicketCode(t *testing.T) {
	pool := newTestPool(t)
	repo := NewConsultationRepository(pool)
	ctx := context.Background()
	userID := seedUser(t, pool)
	code := "TKT-" + uuid.NewString()[:8]

	for i, want := range []error{nil, ErrDuplicateTicketCode} {
		err := repo.Create(ctx, &domain.Consultation{
			ID:         uuid.NewString(),
			UserID:     userID,
			Type:       "general",
			Content:    "attempt",
			Status:     domain.ConsultationStatusAwaiting,
			TicketCode: code,
		})
		require.ErrorIs(t, err, want, "attempt %d", i)
	}
}
