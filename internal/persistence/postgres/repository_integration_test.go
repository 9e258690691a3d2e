//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/progress/internal/domain"
)

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()

	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	userID := uuid.NewString()
	duration := 15
	record := domain.CompletionRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		ExerciseID:  "ex-atem-1",
		BodyArea:    domain.AreaAtmung,
		CompletedAt: time.Now().UTC(),
		DurationMin: &duration,
		Difficulty:  domain.DifficultyBeginner,
		CreatedAt:   time.Now().UTC(),
	}

	require.NoError(t, repo.InsertCompletion(ctx, record))

	count, err := repo.CountCompletions(ctx, userID, domain.TimeRange{})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	minutes, err := repo.SumDurationMinutes(ctx, userID, domain.TimeRange{})
	require.NoError(t, err)
	require.Equal(t, 15, minutes)

	records, next, err := repo.ListCompletions(ctx, userID, nil, 10)
	require.NoError(t, err)
	require.Nil(t, next)
	require.Len(t, records, 1)
	require.Equal(t, record.ID, records[0].ID)
	require.NotNil(t, records[0].DurationMin)
	require.Equal(t, 15, *records[0].DurationMin)

	// The insert must have queued a completion.recorded outbox row.
	var outboxCount int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE event_type = 'completion.recorded' AND partition_key = $1`,
		userID).Scan(&outboxCount))
	require.Equal(t, 1, outboxCount)
}

func TestRepositoryStreakUpsert(t *testing.T) {
	ctx := context.Background()

	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	userID := uuid.NewString()
	now := time.Now().UTC()

	state := domain.NewStreakState(userID, domain.StreakTypeDaily, now)
	require.NoError(t, repo.SaveStreak(ctx, state))

	stored, err := repo.GetStreak(ctx, userID, domain.StreakTypeDaily)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 1, stored.CurrentCount)

	stored.Advance(now.Add(24 * time.Hour))
	require.NoError(t, repo.SaveStreak(ctx, *stored))

	updated, err := repo.GetStreak(ctx, userID, domain.StreakTypeDaily)
	require.NoError(t, err)
	require.Equal(t, 2, updated.CurrentCount)
	require.Equal(t, 2, updated.BestCount)
}

func TestRepositoryRejectsDuplicateAward(t *testing.T) {
	ctx := context.Background()

	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	userID := uuid.NewString()
	award := domain.AchievementAward{
		ID:            uuid.NewString(),
		UserID:        userID,
		AchievementID: "erste-schritte",
		AwardedAt:     time.Now().UTC(),
		Snapshot:      domain.StatsSnapshot{TotalSessions: 1, CurrentStreak: 1},
	}
	require.NoError(t, repo.InsertAward(ctx, award))

	duplicate := award
	duplicate.ID = uuid.NewString()
	err := repo.InsertAward(ctx, duplicate)
	require.ErrorIs(t, err, domain.ErrDuplicateAward)

	has, err := repo.HasAward(ctx, userID, "erste-schritte")
	require.NoError(t, err)
	require.True(t, has)

	awards, err := repo.ListAwards(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, awards, 1)
	require.NotNil(t, awards[0].Definition)
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("wellness"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
		"../../../db/postgres/migrations/0002_outbox_dlq_retry.up.sql",
		"../../../db/postgres/migrations/0003_seed_achievements.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
