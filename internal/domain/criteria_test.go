package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeCriteriaVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Criterion
	}{
		{
			"total sessions",
			`{"type":"total_sessions","target":50}`,
			TotalSessionsCriterion{Sessions: 50},
		},
		{
			"streak",
			`{"type":"streak","target":7}`,
			StreakCriterion{Days: 7},
		},
		{
			"body area mastery",
			`{"type":"body_area_mastery","target":25,"body_area":"nervensystem"}`,
			BodyAreaMasteryCriterion{Area: AreaNervensystem, Sessions: 25},
		},
		{
			"perfect week",
			`{"type":"consistency","target":7,"timeframe":"weekly","conditions":{"perfect_week":true}}`,
			ConsistencyCriterion{Rule: ConsistencyPerfectWeek},
		},
		{
			"all body areas",
			`{"type":"consistency","target":8,"timeframe":"weekly","conditions":{"all_body_areas":true}}`,
			ConsistencyCriterion{Rule: ConsistencyAllBodyAreas},
		},
		{
			"milestone",
			`{"type":"milestone","target":1,"conditions":{"joined_community":true}}`,
			MilestoneCriterion{Flag: MilestoneJoinedCommunity},
		},
	}

	for _, tc := range cases {
		got, err := DecodeCriteria(json.RawMessage(tc.raw))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %#v got %#v", tc.name, tc.want, got)
		}
	}
}

func TestDecodeCriteriaRejectsUnknown(t *testing.T) {
	bad := []string{
		`{"type":"teleport","target":1}`,
		`{"type":"total_sessions","target":0}`,
		`{"type":"body_area_mastery","target":10,"body_area":"elbows"}`,
		`{"type":"consistency","target":7}`,
		`{"type":"milestone","target":1}`,
		`not json`,
	}
	for _, raw := range bad {
		if _, err := DecodeCriteria(json.RawMessage(raw)); !errors.Is(err, ErrUnknownCriteria) {
			t.Fatalf("expected ErrUnknownCriteria for %s, got %v", raw, err)
		}
	}
}

func TestStreakCriterionThreshold(t *testing.T) {
	criterion := StreakCriterion{Days: 7}

	if criterion.Satisfied(EvalState{CurrentStreak: 6}) {
		t.Fatal("streak 6 must not satisfy target 7")
	}
	if !criterion.Satisfied(EvalState{CurrentStreak: 7}) {
		t.Fatal("streak 7 must satisfy target 7")
	}
}

func TestBodyAreaMasteryThreshold(t *testing.T) {
	criterion := BodyAreaMasteryCriterion{Area: AreaNervensystem, Sessions: 25}

	almost := EvalState{AreaSessions: map[BodyArea]int{AreaNervensystem: 24}}
	if criterion.Satisfied(almost) {
		t.Fatal("24 sessions must not satisfy target 25")
	}

	done := EvalState{AreaSessions: map[BodyArea]int{AreaNervensystem: 25}}
	if !criterion.Satisfied(done) {
		t.Fatal("25 sessions must satisfy target 25")
	}

	other := EvalState{AreaSessions: map[BodyArea]int{AreaSchlaf: 100}}
	if criterion.Satisfied(other) {
		t.Fatal("sessions in another area must not count")
	}
}

func TestConsistencyCriteria(t *testing.T) {
	week := ConsistencyCriterion{Rule: ConsistencyPerfectWeek}
	if week.Satisfied(EvalState{SessionsThisWeek: 6}) {
		t.Fatal("6 sessions is not a perfect week")
	}
	if !week.Satisfied(EvalState{SessionsThisWeek: 7}) {
		t.Fatal("7 sessions completes a perfect week")
	}

	all := ConsistencyCriterion{Rule: ConsistencyAllBodyAreas}
	if all.Target() != len(BodyAreas) {
		t.Fatalf("expected target %d got %d", len(BodyAreas), all.Target())
	}
	if all.Satisfied(EvalState{AreasThisWeek: 7}) {
		t.Fatal("7 of 8 areas must not satisfy")
	}
	if !all.Satisfied(EvalState{AreasThisWeek: 8}) {
		t.Fatal("all 8 areas must satisfy")
	}
}

func TestMilestoneNeverSatisfied(t *testing.T) {
	for _, flag := range []MilestoneFlag{MilestoneJoinedCommunity, MilestoneSharedProgress} {
		criterion := MilestoneCriterion{Flag: flag}
		if criterion.Satisfied(EvalState{TotalSessions: 1000, CurrentStreak: 365}) {
			t.Fatalf("milestone %s has no trigger and must not be satisfied", flag)
		}
		if criterion.Current(EvalState{}) != 0 {
			t.Fatalf("milestone %s must report zero progress", flag)
		}
	}
}
