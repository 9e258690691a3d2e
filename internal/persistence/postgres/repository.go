// Package postgres provides pgx-backed persistence for completions,
// streaks, achievements, and the event outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/progress/internal/domain"
	"example.com/progress/internal/events"
	"example.com/progress/internal/observability"
)

// consistencyWindow is the trailing window used for per-area consistency.
const consistencyWindow = 30 * 24 * time.Hour

// Repository implements the domain repository interfaces on Postgres.
// Writes that downstream systems care about also record outbox events
// inside the same transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const completionColumns = `completion_id, user_id, exercise_id, body_area, completed_at, duration_min,
        difficulty, note, mood, energy, heart_rate, hrv, stress_level, recovery_score, created_at`

// InsertCompletion persists the record and queues a completion.recorded
// outbox event in a single transaction.
func (r *Repository) InsertCompletion(ctx context.Context, record domain.CompletionRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO completions (` + completionColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err = tx.Exec(ctx, stmt,
		record.ID,
		record.UserID,
		record.ExerciseID,
		string(record.BodyArea),
		record.CompletedAt,
		record.DurationMin,
		string(record.Difficulty),
		nullIfEmpty(record.Note),
		textOrNil(record.Mood),
		textOrNil(record.Energy),
		record.Biometrics.HeartRate,
		record.Biometrics.HRV,
		record.Biometrics.StressLevel,
		record.Biometrics.RecoveryScore,
		record.CreatedAt,
	)
	if err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, "completion.recorded", record.ID, record.UserID, events.CompletionRecorded{
		CompletionID: record.ID,
		UserID:       record.UserID,
		ExerciseID:   record.ExerciseID,
		BodyArea:     string(record.BodyArea),
		CompletedAt:  record.CompletedAt,
		DurationMin:  record.Minutes(),
		Difficulty:   string(record.Difficulty),
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordCompletionPersisted(record.CreatedAt)
	return nil
}

// ListCompletions returns a page of the user's history, newest first.
func (r *Repository) ListCompletions(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.CompletionRecord, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT ` + completionColumns + ` FROM completions WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (completed_at, completion_id) < ($3, $4)`
		args = append(args, cursor.CompletedAt, cursor.ID)
	}
	query += ` ORDER BY completed_at DESC, completion_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.CompletionRecord, 0, limit)
	for rows.Next() {
		record, scanErr := scanCompletion(rows)
		if scanErr != nil {
			return nil, nil, scanErr
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CompletedAt: last.CompletedAt, ID: last.ID}
	}
	return results, next, nil
}

// CountCompletions counts the user's completions, optionally bounded.
func (r *Repository) CountCompletions(ctx context.Context, userID string, rng domain.TimeRange) (int, error) {
	query := `SELECT COUNT(*) FROM completions WHERE user_id=$1`
	args := []any{userID}
	query, args = applyRange(query, args, rng)

	var count int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SumDurationMinutes sums session minutes, treating missing durations as zero.
func (r *Repository) SumDurationMinutes(ctx context.Context, userID string, rng domain.TimeRange) (int, error) {
	query := `SELECT COALESCE(SUM(duration_min), 0) FROM completions WHERE user_id=$1`
	args := []any{userID}
	query, args = applyRange(query, args, rng)

	var sum int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// CountByArea returns lifetime completion counts grouped by body area.
func (r *Repository) CountByArea(ctx context.Context, userID string) (map[domain.BodyArea]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT body_area, COUNT(*) FROM completions WHERE user_id=$1 GROUP BY body_area`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.BodyArea]int)
	for rows.Next() {
		var area string
		var count int
		if err := rows.Scan(&area, &count); err != nil {
			return nil, err
		}
		counts[domain.BodyArea(area)] = count
	}
	return counts, rows.Err()
}

// AreaAggregates computes the per-area rollup in one grouped query.
func (r *Repository) AreaAggregates(ctx context.Context, userID string) (map[domain.BodyArea]domain.AreaAggregate, error) {
	cutoff := time.Now().UTC().Add(-consistencyWindow)
	rows, err := r.pool.Query(ctx,
		`SELECT body_area, COUNT(*), COALESCE(SUM(duration_min), 0),
                COUNT(*) FILTER (WHERE completed_at >= $2), MAX(completed_at)
           FROM completions WHERE user_id=$1 GROUP BY body_area`,
		userID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.BodyArea]domain.AreaAggregate)
	for rows.Next() {
		var area string
		var agg domain.AreaAggregate
		if err := rows.Scan(&area, &agg.Sessions, &agg.Minutes, &agg.RecentSessions, &agg.LastPracticed); err != nil {
			return nil, err
		}
		out[domain.BodyArea(area)] = agg
	}
	return out, rows.Err()
}

// FavoriteExercises ranks exercises by frequency within each area, ties
// broken deterministically by exercise ID.
func (r *Repository) FavoriteExercises(ctx context.Context, userID string, perArea int) (map[domain.BodyArea][]domain.ExerciseFrequency, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT body_area, exercise_id, cnt FROM (
             SELECT body_area, exercise_id, COUNT(*) AS cnt,
                    ROW_NUMBER() OVER (PARTITION BY body_area ORDER BY COUNT(*) DESC, exercise_id ASC) AS rank
               FROM completions WHERE user_id=$1
              GROUP BY body_area, exercise_id
         ) ranked WHERE rank <= $2 ORDER BY body_area, rank`,
		userID, perArea)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.BodyArea][]domain.ExerciseFrequency)
	for rows.Next() {
		var area string
		var freq domain.ExerciseFrequency
		if err := rows.Scan(&area, &freq.ExerciseID, &freq.Count); err != nil {
			return nil, err
		}
		out[domain.BodyArea(area)] = append(out[domain.BodyArea(area)], freq)
	}
	return out, rows.Err()
}

// CountSince counts completions at or after the given instant.
func (r *Repository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM completions WHERE user_id=$1 AND completed_at >= $2`,
		userID, since).Scan(&count)
	return count, err
}

// DistinctAreasSince counts distinct body areas practiced since the instant.
func (r *Repository) DistinctAreasSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT body_area) FROM completions WHERE user_id=$1 AND completed_at >= $2`,
		userID, since).Scan(&count)
	return count, err
}

// LastCompletionAt returns the most recent completion time, nil when none.
func (r *Repository) LastCompletionAt(ctx context.Context, userID string) (*time.Time, error) {
	var last *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(completed_at) FROM completions WHERE user_id=$1`, userID).Scan(&last)
	return last, err
}

const streakColumns = `user_id, streak_type, current_count, best_count, last_activity_date, started_at, updated_at`

// GetStreak loads one streak row, nil when the user has none yet.
func (r *Repository) GetStreak(ctx context.Context, userID string, streakType domain.StreakType) (*domain.StreakState, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+streakColumns+` FROM streaks WHERE user_id=$1 AND streak_type=$2`,
		userID, string(streakType))

	state, err := scanStreak(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// ListStreaks returns every streak row for the user.
func (r *Repository) ListStreaks(ctx context.Context, userID string) ([]domain.StreakState, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+streakColumns+` FROM streaks WHERE user_id=$1 ORDER BY streak_type`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StreakState
	for rows.Next() {
		state, scanErr := scanStreak(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

// SaveStreak upserts the per-(user, type) row. The single-row upsert is
// what keeps concurrent same-user completions from corrupting the counter.
func (r *Repository) SaveStreak(ctx context.Context, state domain.StreakState) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO streaks (user_id, streak_type, current_count, best_count, last_activity_date, started_at, updated_at)
         VALUES ($1,$2,$3,$4,$5,$6,NOW())
         ON CONFLICT (user_id, streak_type) DO UPDATE
            SET current_count=EXCLUDED.current_count,
                best_count=EXCLUDED.best_count,
                last_activity_date=EXCLUDED.last_activity_date,
                updated_at=NOW()`,
		state.UserID, string(state.Type), state.CurrentCount, state.BestCount,
		state.LastActivityDate, state.StartedAt)
	return err
}

// BackfillBiometrics applies late readings without overwriting ones
// already present on the row.
func (r *Repository) BackfillBiometrics(ctx context.Context, completionID string, readings domain.Biometrics) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE completions
            SET heart_rate=COALESCE($2, heart_rate),
                hrv=COALESCE($3, hrv),
                stress_level=COALESCE($4, stress_level),
                recovery_score=COALESCE($5, recovery_score)
          WHERE completion_id=$1`,
		completionID, readings.HeartRate, readings.HRV, readings.StressLevel, readings.RecoveryScore)
	return err
}

const definitionColumns = `achievement_id, name, description, category, criteria, icon, points, rarity, created_at`

// ListDefinitions returns the catalog ordered by category then points.
func (r *Repository) ListDefinitions(ctx context.Context) ([]domain.AchievementDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+definitionColumns+` FROM achievement_definitions ORDER BY category, points`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AchievementDefinition
	for rows.Next() {
		def, scanErr := scanDefinition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// GetDefinition returns nil when the definition does not exist.
func (r *Repository) GetDefinition(ctx context.Context, achievementID string) (*domain.AchievementDefinition, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM achievement_definitions WHERE achievement_id=$1`, achievementID)

	def, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &def, nil
}

// EarnedIDs returns the set of definitions the user already holds.
func (r *Repository) EarnedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT achievement_id FROM achievement_awards WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// InsertAward persists an award and queues the achievement.awarded outbox
// event in the same transaction. A unique violation on (user, achievement)
// maps to domain.ErrDuplicateAward so racing evaluators can treat the
// loss as a no-op.
func (r *Repository) InsertAward(ctx context.Context, award domain.AchievementAward) error {
	snapshot, err := json.Marshal(award.Snapshot)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO achievement_awards (award_id, user_id, achievement_id, awarded_at, stats_snapshot)
         VALUES ($1,$2,$3,$4,$5)`,
		award.ID, award.UserID, award.AchievementID, award.AwardedAt, snapshot)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = fmt.Errorf("%w: user=%s achievement=%s", domain.ErrDuplicateAward, award.UserID, award.AchievementID)
		}
		return err
	}

	payload := events.AchievementAwarded{
		AwardID:       award.ID,
		UserID:        award.UserID,
		AchievementID: award.AchievementID,
		AwardedAt:     award.AwardedAt,
	}
	if award.Definition != nil {
		payload.Points = award.Definition.Points
		payload.Rarity = string(award.Definition.Rarity)
	}
	if err = insertOutbox(ctx, tx, "achievement.awarded", award.ID, award.UserID, payload); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordAchievementAwarded(award.AwardedAt)
	return nil
}

// HasAward reports whether the user holds the definition.
func (r *Repository) HasAward(ctx context.Context, userID, achievementID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM achievement_awards WHERE user_id=$1 AND achievement_id=$2)`,
		userID, achievementID).Scan(&exists)
	return exists, err
}

const awardSelect = `SELECT a.award_id, a.user_id, a.achievement_id, a.awarded_at, a.stats_snapshot,
        d.achievement_id, d.name, d.description, d.category, d.criteria, d.icon, d.points, d.rarity, d.created_at
   FROM achievement_awards a
   JOIN achievement_definitions d ON d.achievement_id = a.achievement_id`

// ListAwards returns the user's awards newest first; limit <= 0 means all.
func (r *Repository) ListAwards(ctx context.Context, userID string, limit int) ([]domain.AchievementAward, error) {
	query := awardSelect + ` WHERE a.user_id=$1 ORDER BY a.awarded_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.queryAwards(ctx, query, args...)
}

// ListAwardsSince returns awards granted at or after the instant, newest first.
func (r *Repository) ListAwardsSince(ctx context.Context, userID string, since time.Time, limit int) ([]domain.AchievementAward, error) {
	query := awardSelect + ` WHERE a.user_id=$1 AND a.awarded_at >= $2 ORDER BY a.awarded_at DESC`
	args := []any{userID, since}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return r.queryAwards(ctx, query, args...)
}

func (r *Repository) queryAwards(ctx context.Context, query string, args ...any) ([]domain.AchievementAward, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AchievementAward
	for rows.Next() {
		var award domain.AchievementAward
		var def domain.AchievementDefinition
		var snapshot []byte
		var criteria []byte
		if err := rows.Scan(
			&award.ID, &award.UserID, &award.AchievementID, &award.AwardedAt, &snapshot,
			&def.ID, &def.Name, &def.Description, &def.Category, &criteria, &def.Icon, &def.Points, &def.Rarity, &def.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &award.Snapshot); err != nil {
				return nil, err
			}
		}
		def.RawCriteria = json.RawMessage(criteria)
		award.Definition = &def
		out = append(out, award)
	}
	return out, rows.Err()
}

// AwardCountsByDefinition returns award counts, most-awarded first.
func (r *Repository) AwardCountsByDefinition(ctx context.Context) ([]domain.AwardCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT achievement_id, COUNT(*) FROM achievement_awards GROUP BY achievement_id ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AwardCount
	for rows.Next() {
		var c domain.AwardCount
		if err := rows.Scan(&c.AchievementID, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCompletion(row pgx.Row) (domain.CompletionRecord, error) {
	var record domain.CompletionRecord
	var area, difficulty string
	var note, mood, energy *string
	if err := row.Scan(
		&record.ID, &record.UserID, &record.ExerciseID, &area, &record.CompletedAt, &record.DurationMin,
		&difficulty, &note, &mood, &energy,
		&record.Biometrics.HeartRate, &record.Biometrics.HRV,
		&record.Biometrics.StressLevel, &record.Biometrics.RecoveryScore,
		&record.CreatedAt,
	); err != nil {
		return domain.CompletionRecord{}, err
	}
	record.BodyArea = domain.BodyArea(area)
	record.Difficulty = domain.Difficulty(difficulty)
	if note != nil {
		record.Note = *note
	}
	if mood != nil {
		m := domain.Mood(*mood)
		record.Mood = &m
	}
	if energy != nil {
		e := domain.EnergyLevel(*energy)
		record.Energy = &e
	}
	return record, nil
}

func scanStreak(row pgx.Row) (domain.StreakState, error) {
	var state domain.StreakState
	var streakType string
	if err := row.Scan(
		&state.UserID, &streakType, &state.CurrentCount, &state.BestCount,
		&state.LastActivityDate, &state.StartedAt, &state.UpdatedAt,
	); err != nil {
		return domain.StreakState{}, err
	}
	state.Type = domain.StreakType(streakType)
	return state, nil
}

func scanDefinition(row pgx.Row) (domain.AchievementDefinition, error) {
	var def domain.AchievementDefinition
	var criteria []byte
	var rarity string
	if err := row.Scan(
		&def.ID, &def.Name, &def.Description, &def.Category, &criteria,
		&def.Icon, &def.Points, &rarity, &def.CreatedAt,
	); err != nil {
		return domain.AchievementDefinition{}, err
	}
	def.RawCriteria = json.RawMessage(criteria)
	def.Rarity = domain.Rarity(rarity)
	return def, nil
}

func applyRange(query string, args []any, rng domain.TimeRange) (string, []any) {
	if rng.From != nil {
		args = append(args, *rng.From)
		query += fmt.Sprintf(" AND completed_at >= $%d", len(args))
	}
	if rng.To != nil {
		args = append(args, *rng.To)
		query += fmt.Sprintf(" AND completed_at <= $%d", len(args))
	}
	return query, args
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func textOrNil[T ~string](value *T) any {
	if value == nil {
		return nil
	}
	return string(*value)
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"completion.recorded": {
		Topic:         "progress_events",
		SchemaSubject: "progress_events-value",
	},
	"achievement.awarded": {
		Topic:         "achievement_events",
		SchemaSubject: "achievement_events-value",
	},
}

// insertOutbox queues one event row inside the caller's transaction.
// Events partition by user so a user's stream stays ordered.
func insertOutbox(ctx context.Context, tx pgx.Tx, eventType, aggregateID, userID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, stmt,
		aggregateTypeFor(eventType),
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		userID,
		body,
	)
	return err
}

func aggregateTypeFor(eventType string) string {
	if eventType == "achievement.awarded" {
		return "award"
	}
	return "completion"
}
