// Package api exposes HTTP handlers for the progress service.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/progress/internal/auth"
	"example.com/progress/internal/domain"
	"example.com/progress/internal/observability"
	"example.com/progress/internal/persistence"
)

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	progress     *domain.ProgressService
	achievements *domain.AchievementService
	logger       *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(progress *domain.ProgressService, achievements *domain.AchievementService, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{progress: progress, achievements: achievements, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/completions", h.completions)
	mux.HandleFunc("/v1/progress", h.progressSnapshot)
	mux.HandleFunc("/v1/progress/streaks", h.streaks)
	mux.HandleFunc("/v1/progress/body-areas", h.bodyAreas)
	mux.HandleFunc("/v1/achievements", h.achievementCatalog)
	mux.HandleFunc("/v1/achievements/earned", h.earnedAchievements)
	mux.HandleFunc("/v1/achievements/stats", h.achievementStats)
	mux.HandleFunc("/v1/achievements/", h.achievementByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) completions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.recordCompletion(w, r)
	case http.MethodGet:
		h.listCompletions(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) recordCompletion(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeProgressWrite)
	if !ok {
		return
	}

	var req RecordCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	input, err := req.Validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	record, err := h.progress.RecordCompletion(r.Context(), claims.Subject, input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	observability.RecordCompletionAccepted()

	// Achievement evaluation must never fail an already-persisted
	// completion. Errors are logged and surfaced as an empty award list.
	awarded, err := h.achievements.CheckAchievements(r.Context(), claims.Subject, record)
	if err != nil {
		h.logger.Printf("api: achievement check for user %s: %v", claims.Subject, err)
		observability.RecordEvaluationFailure()
	}

	resp := RecordCompletionResponse{
		Completion:   toCompletionView(record),
		NewlyAwarded: make([]AchievementView, 0, len(awarded)),
	}
	for _, def := range awarded {
		resp.NewlyAwarded = append(resp.NewlyAwarded, toAchievementView(def))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) listCompletions(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeProgressRead, auth.ScopeProgressWrite)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.progress.ListCompletions(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]CompletionView, 0, len(records))
	for _, record := range records {
		items = append(items, toCompletionView(record))
	}
	writeJSON(w, http.StatusOK, ListCompletionsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) progressSnapshot(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireGet(w, r)
	if !ok {
		return
	}

	rng, err := parseTimeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	snapshot, err := h.progress.GetUserProgress(r.Context(), claims.Subject, rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toProgressView(snapshot))
}

func (h *Handler) streaks(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireGet(w, r)
	if !ok {
		return
	}

	states, err := h.progress.GetStreaks(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	now := time.Now().UTC()
	items := make([]StreakView, 0, len(states))
	for _, state := range states {
		items = append(items, toStreakView(state, now))
	}
	writeJSON(w, http.StatusOK, StreaksResponse{Items: items})
}

func (h *Handler) bodyAreas(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireGet(w, r)
	if !ok {
		return
	}

	stats, err := h.progress.GetBodyAreaStats(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]BodyAreaStatsView, 0, len(stats))
	for _, entry := range stats {
		items = append(items, toBodyAreaStatsView(entry))
	}
	writeJSON(w, http.StatusOK, BodyAreaStatsResponse{Items: items})
}

func (h *Handler) achievementCatalog(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireGet(w, r)
	if !ok {
		return
	}

	entries, err := h.achievements.GetAllAchievementsWithProgress(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]AchievementProgressView, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toAchievementProgressView(entry))
	}
	writeJSON(w, http.StatusOK, AchievementCatalogResponse{Items: items})
}

func (h *Handler) earnedAchievements(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireGet(w, r)
	if !ok {
		return
	}

	awards, err := h.achievements.GetUserAchievements(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]AwardView, 0, len(awards))
	for _, award := range awards {
		items = append(items, toAwardView(award))
	}
	writeJSON(w, http.StatusOK, EarnedAchievementsResponse{Items: items})
}

func (h *Handler) achievementStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireGet(w, r); !ok {
		return
	}

	stats, err := h.achievements.GetAchievementStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := AchievementStatsResponse{
		TotalDefinitions: stats.TotalDefinitions,
		TotalAwards:      stats.TotalAwards,
		RareAwards:       make([]AchievementView, 0, len(stats.RareAwards)),
	}
	if stats.MostAwarded != nil {
		view := toAchievementView(*stats.MostAwarded)
		resp.MostAwarded = &view
	}
	for _, def := range stats.RareAwards {
		resp.RareAwards = append(resp.RareAwards, toAchievementView(def))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) achievementByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/achievements/")
	id, tail, found := strings.Cut(rest, "/")
	if id == "" || !found || tail != "progress" {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}

	claims, ok := requireGet(w, r)
	if !ok {
		return
	}

	progress, err := h.achievements.CalculateProgress(r.Context(), claims.Subject, id)
	if err != nil {
		if errors.Is(err, domain.ErrAchievementNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Achievement not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAchievementProgressView(progress))
}

// requireGet enforces the GET method plus a read (or write) scope.
func requireGet(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return nil, false
	}
	return requireScope(w, r, auth.ScopeProgressRead, auth.ScopeProgressWrite)
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func parseTimeRange(r *http.Request) (domain.TimeRange, error) {
	var rng domain.TimeRange
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.TimeRange{}, errors.New("invalid from timestamp")
		}
		rng.From = &parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.TimeRange{}, errors.New("invalid to timestamp")
		}
		rng.To = &parsed
	}
	return rng, nil
}

// RecordCompletionRequest is the payload for POST /v1/completions.
type RecordCompletionRequest struct {
	ExerciseID    string `json:"exercise_id"`
	BodyArea      string `json:"body_area"`
	DurationMin   *int   `json:"duration_min,omitempty"`
	Difficulty    string `json:"difficulty"`
	Note          string `json:"note,omitempty"`
	Mood          string `json:"mood,omitempty"`
	Energy        string `json:"energy,omitempty"`
	HeartRate     *int   `json:"heart_rate,omitempty"`
	HRV           *int   `json:"hrv,omitempty"`
	StressLevel   *int   `json:"stress_level,omitempty"`
	RecoveryScore *int   `json:"recovery_score,omitempty"`
}

// Validate parses the closed enum fields once at the boundary and returns
// the typed service input.
func (r RecordCompletionRequest) Validate() (domain.CompletionInput, error) {
	if strings.TrimSpace(r.ExerciseID) == "" {
		return domain.CompletionInput{}, errors.New("exercise_id is required")
	}

	area, err := domain.ParseBodyArea(r.BodyArea)
	if err != nil {
		return domain.CompletionInput{}, err
	}

	difficulty, err := domain.ParseDifficulty(r.Difficulty)
	if err != nil {
		return domain.CompletionInput{}, err
	}

	if r.DurationMin != nil && *r.DurationMin <= 0 {
		return domain.CompletionInput{}, errors.New("duration_min must be > 0 when present")
	}

	input := domain.CompletionInput{
		ExerciseID:  r.ExerciseID,
		BodyArea:    area,
		DurationMin: r.DurationMin,
		Difficulty:  difficulty,
		Note:        r.Note,
		Biometrics: domain.Biometrics{
			HeartRate:     r.HeartRate,
			HRV:           r.HRV,
			StressLevel:   r.StressLevel,
			RecoveryScore: r.RecoveryScore,
		},
	}

	if r.Mood != "" {
		mood, err := domain.ParseMood(r.Mood)
		if err != nil {
			return domain.CompletionInput{}, err
		}
		input.Mood = &mood
	}
	if r.Energy != "" {
		energy, err := domain.ParseEnergyLevel(r.Energy)
		if err != nil {
			return domain.CompletionInput{}, err
		}
		input.Energy = &energy
	}
	return input, nil
}

// CompletionView exposes one completion over the wire.
type CompletionView struct {
	CompletionID  string    `json:"completion_id"`
	UserID        string    `json:"user_id"`
	ExerciseID    string    `json:"exercise_id"`
	BodyArea      string    `json:"body_area"`
	CompletedAt   time.Time `json:"completed_at"`
	DurationMin   *int      `json:"duration_min,omitempty"`
	Difficulty    string    `json:"difficulty"`
	Note          string    `json:"note,omitempty"`
	Mood          *string   `json:"mood,omitempty"`
	Energy        *string   `json:"energy,omitempty"`
	HeartRate     *int      `json:"heart_rate,omitempty"`
	HRV           *int      `json:"hrv,omitempty"`
	StressLevel   *int      `json:"stress_level,omitempty"`
	RecoveryScore *int      `json:"recovery_score,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RecordCompletionResponse pairs the stored record with achievements the
// completion unlocked.
type RecordCompletionResponse struct {
	Completion   CompletionView    `json:"completion"`
	NewlyAwarded []AchievementView `json:"newly_awarded"`
}

// ListCompletionsResponse packages one history page.
type ListCompletionsResponse struct {
	Items      []CompletionView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// StreakView exposes a streak state; active is derived from the gap to
// the last activity day, never stored.
type StreakView struct {
	Type             string     `json:"streak_type"`
	CurrentCount     int        `json:"current_count"`
	BestCount        int        `json:"best_count"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	IsActive         bool       `json:"is_active"`
}

// StreaksResponse packages the streak list.
type StreaksResponse struct {
	Items []StreakView `json:"items"`
}

// ExerciseFrequencyView is one favorite-exercise ranking entry.
type ExerciseFrequencyView struct {
	ExerciseID string `json:"exercise_id"`
	Count      int    `json:"count"`
}

// BodyAreaStatsView exposes the per-area statistics block.
type BodyAreaStatsView struct {
	Area              string                  `json:"area"`
	TotalSessions     int                     `json:"total_sessions"`
	TotalMinutes      int                     `json:"total_minutes"`
	AverageDuration   float64                 `json:"average_duration"`
	ConsistencyScore  float64                 `json:"consistency_score"`
	FavoriteExercises []ExerciseFrequencyView `json:"favorite_exercises"`
	Mastery           string                  `json:"mastery"`
	LastPracticed     time.Time               `json:"last_practiced"`
}

// BodyAreaStatsResponse packages the per-area list in catalog order.
type BodyAreaStatsResponse struct {
	Items []BodyAreaStatsView `json:"items"`
}

// WeeklyProgressView compares this week's sessions against the fixed goal.
type WeeklyProgressView struct {
	Sessions  int       `json:"sessions"`
	Goal      int       `json:"goal"`
	WeekStart time.Time `json:"week_start"`
}

// ProgressView is the aggregate snapshot for GET /v1/progress.
type ProgressView struct {
	UserID             string              `json:"user_id"`
	TotalSessions      int                 `json:"total_sessions"`
	TotalMinutes       int                 `json:"total_minutes"`
	CurrentStreak      int                 `json:"current_streak"`
	LongestStreak      int                 `json:"longest_streak"`
	BodyAreaStats      []BodyAreaStatsView `json:"body_area_stats"`
	RecentAchievements []AwardView         `json:"recent_achievements"`
	LastActivityAt     *time.Time          `json:"last_activity_at,omitempty"`
	Weekly             WeeklyProgressView  `json:"weekly_progress"`
}

// AchievementView exposes a catalog definition.
type AchievementView struct {
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Icon          string `json:"icon"`
	Points        int    `json:"points"`
	Rarity        string `json:"rarity"`
}

// AwardView exposes one earned achievement with its definition attached.
type AwardView struct {
	AwardID       string               `json:"award_id"`
	AchievementID string               `json:"achievement_id"`
	AwardedAt     time.Time            `json:"awarded_at"`
	Snapshot      domain.StatsSnapshot `json:"stats_snapshot"`
	Definition    *AchievementView     `json:"definition,omitempty"`
}

// AchievementProgressView reports progress toward one definition.
type AchievementProgressView struct {
	Definition  AchievementView `json:"definition"`
	Current     int             `json:"current"`
	Target      int             `json:"target"`
	Percentage  float64         `json:"percentage"`
	IsCompleted bool            `json:"is_completed"`
}

// AchievementCatalogResponse packages the catalog with progress.
type AchievementCatalogResponse struct {
	Items []AchievementProgressView `json:"items"`
}

// EarnedAchievementsResponse packages the user's awards.
type EarnedAchievementsResponse struct {
	Items []AwardView `json:"items"`
}

// AchievementStatsResponse summarises the catalog across all users.
type AchievementStatsResponse struct {
	TotalDefinitions int               `json:"total_definitions"`
	TotalAwards      int               `json:"total_awards"`
	MostAwarded      *AchievementView  `json:"most_awarded,omitempty"`
	RareAwards       []AchievementView `json:"rare_awards"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toCompletionView(record domain.CompletionRecord) CompletionView {
	view := CompletionView{
		CompletionID:  record.ID,
		UserID:        record.UserID,
		ExerciseID:    record.ExerciseID,
		BodyArea:      string(record.BodyArea),
		CompletedAt:   record.CompletedAt,
		DurationMin:   record.DurationMin,
		Difficulty:    string(record.Difficulty),
		Note:          record.Note,
		HeartRate:     record.Biometrics.HeartRate,
		HRV:           record.Biometrics.HRV,
		StressLevel:   record.Biometrics.StressLevel,
		RecoveryScore: record.Biometrics.RecoveryScore,
		CreatedAt:     record.CreatedAt,
	}
	if record.Mood != nil {
		mood := string(*record.Mood)
		view.Mood = &mood
	}
	if record.Energy != nil {
		energy := string(*record.Energy)
		view.Energy = &energy
	}
	return view
}

func toStreakView(state domain.StreakState, now time.Time) StreakView {
	return StreakView{
		Type:             string(state.Type),
		CurrentCount:     state.CurrentCount,
		BestCount:        state.BestCount,
		LastActivityDate: state.LastActivityDate,
		StartedAt:        state.StartedAt,
		IsActive:         state.IsActive(now),
	}
}

func toBodyAreaStatsView(stats domain.BodyAreaStats) BodyAreaStatsView {
	favorites := make([]ExerciseFrequencyView, 0, len(stats.FavoriteExercises))
	for _, freq := range stats.FavoriteExercises {
		favorites = append(favorites, ExerciseFrequencyView(freq))
	}
	return BodyAreaStatsView{
		Area:              string(stats.Area),
		TotalSessions:     stats.TotalSessions,
		TotalMinutes:      stats.TotalMinutes,
		AverageDuration:   stats.AverageDuration,
		ConsistencyScore:  stats.ConsistencyScore,
		FavoriteExercises: favorites,
		Mastery:           string(stats.Mastery),
		LastPracticed:     stats.LastPracticed,
	}
}

func toProgressView(snapshot domain.ProgressSnapshot) ProgressView {
	areas := make([]BodyAreaStatsView, 0, len(snapshot.BodyAreaStats))
	for _, entry := range snapshot.BodyAreaStats {
		areas = append(areas, toBodyAreaStatsView(entry))
	}
	recent := make([]AwardView, 0, len(snapshot.RecentAchievements))
	for _, award := range snapshot.RecentAchievements {
		recent = append(recent, toAwardView(award))
	}
	return ProgressView{
		UserID:             snapshot.UserID,
		TotalSessions:      snapshot.TotalSessions,
		TotalMinutes:       snapshot.TotalMinutes,
		CurrentStreak:      snapshot.CurrentStreak,
		LongestStreak:      snapshot.LongestStreak,
		BodyAreaStats:      areas,
		RecentAchievements: recent,
		LastActivityAt:     snapshot.LastActivityAt,
		Weekly: WeeklyProgressView{
			Sessions:  snapshot.Weekly.Sessions,
			Goal:      snapshot.Weekly.Goal,
			WeekStart: snapshot.Weekly.WeekStart,
		},
	}
}

func toAchievementView(def domain.AchievementDefinition) AchievementView {
	return AchievementView{
		AchievementID: def.ID,
		Name:          def.Name,
		Description:   def.Description,
		Category:      def.Category,
		Icon:          def.Icon,
		Points:        def.Points,
		Rarity:        string(def.Rarity),
	}
}

func toAwardView(award domain.AchievementAward) AwardView {
	view := AwardView{
		AwardID:       award.ID,
		AchievementID: award.AchievementID,
		AwardedAt:     award.AwardedAt,
		Snapshot:      award.Snapshot,
	}
	if award.Definition != nil {
		def := toAchievementView(*award.Definition)
		view.Definition = &def
	}
	return view
}

func toAchievementProgressView(progress domain.AchievementProgress) AchievementProgressView {
	return AchievementProgressView{
		Definition:  toAchievementView(progress.Definition),
		Current:     progress.Current,
		Target:      progress.Target,
		Percentage:  progress.Percentage,
		IsCompleted: progress.IsCompleted,
	}
}
