package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownCriteria is returned when a persisted criteria descriptor
// cannot be decoded into a known kind.
var ErrUnknownCriteria = errors.New("unknown achievement criteria")

// EvalState carries the aggregate values criteria are judged against.
// It is assembled once per evaluation pass from the store.
type EvalState struct {
	TotalSessions    int
	CurrentStreak    int
	AreaSessions     map[BodyArea]int
	SessionsThisWeek int
	AreasThisWeek    int
}

// Criterion is one decoded achievement rule. The set of implementations
// is closed; descriptors are decoded exactly once by DecodeCriteria and
// evaluated through these two methods, so there is no string dispatch
// past the storage boundary.
type Criterion interface {
	// Satisfied reports whether the rule holds for the given state.
	Satisfied(state EvalState) bool
	// Current returns the value measured against Target for progress display.
	Current(state EvalState) int
	// Target returns the threshold the rule compares against.
	Target() int
}

// TotalSessionsCriterion requires a lifetime completion count.
type TotalSessionsCriterion struct {
	Sessions int
}

func (c TotalSessionsCriterion) Satisfied(state EvalState) bool { return c.Current(state) >= c.Sessions }
func (c TotalSessionsCriterion) Current(state EvalState) int    { return state.TotalSessions }
func (c TotalSessionsCriterion) Target() int                    { return c.Sessions }

// StreakCriterion requires a current daily streak length.
type StreakCriterion struct {
	Days int
}

func (c StreakCriterion) Satisfied(state EvalState) bool { return c.Current(state) >= c.Days }
func (c StreakCriterion) Current(state EvalState) int    { return state.CurrentStreak }
func (c StreakCriterion) Target() int                    { return c.Days }

// BodyAreaMasteryCriterion requires a lifetime completion count within one area.
type BodyAreaMasteryCriterion struct {
	Area     BodyArea
	Sessions int
}

func (c BodyAreaMasteryCriterion) Satisfied(state EvalState) bool {
	return c.Current(state) >= c.Sessions
}
func (c BodyAreaMasteryCriterion) Current(state EvalState) int { return state.AreaSessions[c.Area] }
func (c BodyAreaMasteryCriterion) Target() int                 { return c.Sessions }

// ConsistencyRule selects which weekly condition a ConsistencyCriterion checks.
type ConsistencyRule string

const (
	// ConsistencyPerfectWeek requires at least seven completions since the
	// most recent Sunday 00:00 UTC boundary.
	ConsistencyPerfectWeek ConsistencyRule = "perfect_week"
	// ConsistencyAllBodyAreas requires every category to be practiced
	// within the current week.
	ConsistencyAllBodyAreas ConsistencyRule = "all_body_areas"
)

// ConsistencyCriterion requires weekly practice behaviour.
type ConsistencyCriterion struct {
	Rule ConsistencyRule
}

func (c ConsistencyCriterion) Satisfied(state EvalState) bool {
	return c.Current(state) >= c.Target()
}

func (c ConsistencyCriterion) Current(state EvalState) int {
	if c.Rule == ConsistencyAllBodyAreas {
		return state.AreasThisWeek
	}
	return state.SessionsThisWeek
}

func (c ConsistencyCriterion) Target() int {
	if c.Rule == ConsistencyAllBodyAreas {
		return len(BodyAreas)
	}
	return WeeklySessionGoal
}

// MilestoneFlag names a one-off event a milestone criterion waits for.
type MilestoneFlag string

const (
	MilestoneJoinedCommunity MilestoneFlag = "joined_community"
	MilestoneSharedProgress  MilestoneFlag = "shared_progress"
)

// MilestoneCriterion marks catalog entries for one-off events. No trigger
// records these events yet, so the criterion never evaluates true; the
// definitions stay visible in the catalog with zero progress.
type MilestoneCriterion struct {
	Flag MilestoneFlag
}

func (c MilestoneCriterion) Satisfied(EvalState) bool {
	// Not yet implemented: neither flag has a recording trigger.
	return false
}
func (c MilestoneCriterion) Current(EvalState) int { return 0 }
func (c MilestoneCriterion) Target() int           { return 1 }

// criteriaDescriptor is the persisted JSONB shape of a criteria rule.
type criteriaDescriptor struct {
	Type       string          `json:"type"`
	Target     int             `json:"target"`
	BodyArea   string          `json:"body_area,omitempty"`
	Timeframe  string          `json:"timeframe,omitempty"`
	Conditions map[string]bool `json:"conditions,omitempty"`
}

// DecodeCriteria parses a persisted criteria descriptor into its variant.
// Malformed or unrecognised descriptors return ErrUnknownCriteria so batch
// callers can skip the definition instead of failing the whole pass.
func DecodeCriteria(raw json.RawMessage) (Criterion, error) {
	var desc criteriaDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCriteria, err)
	}

	switch desc.Type {
	case "total_sessions":
		if desc.Target <= 0 {
			return nil, fmt.Errorf("%w: total_sessions target must be > 0", ErrUnknownCriteria)
		}
		return TotalSessionsCriterion{Sessions: desc.Target}, nil
	case "streak":
		if desc.Target <= 0 {
			return nil, fmt.Errorf("%w: streak target must be > 0", ErrUnknownCriteria)
		}
		return StreakCriterion{Days: desc.Target}, nil
	case "body_area_mastery":
		area, err := ParseBodyArea(desc.BodyArea)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownCriteria, err)
		}
		if desc.Target <= 0 {
			return nil, fmt.Errorf("%w: mastery target must be > 0", ErrUnknownCriteria)
		}
		return BodyAreaMasteryCriterion{Area: area, Sessions: desc.Target}, nil
	case "consistency":
		switch {
		case desc.Conditions["all_body_areas"]:
			return ConsistencyCriterion{Rule: ConsistencyAllBodyAreas}, nil
		case desc.Conditions["perfect_week"]:
			return ConsistencyCriterion{Rule: ConsistencyPerfectWeek}, nil
		}
		return nil, fmt.Errorf("%w: consistency descriptor has no known condition", ErrUnknownCriteria)
	case "milestone":
		switch {
		case desc.Conditions["joined_community"]:
			return MilestoneCriterion{Flag: MilestoneJoinedCommunity}, nil
		case desc.Conditions["shared_progress"]:
			return MilestoneCriterion{Flag: MilestoneSharedProgress}, nil
		}
		return nil, fmt.Errorf("%w: milestone descriptor has no known flag", ErrUnknownCriteria)
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnknownCriteria, desc.Type)
}
