package leaderboard

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"agentrank/internal/events"
	"agentrank/internal/logging"
	"agentrank/internal/store"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRank_StrongAgentAboveWeak(t *testing.T) {
	rows := Rank([]Input{
		{AgentID: "agent_weak", ImpactAvg: 0.5, Consistency: 0.5, CollaborationWeight: 2},
		{AgentID: "agent_strong", ImpactAvg: 0.9, Consistency: 1.0, CollaborationWeight: 10},
	}, DefaultWeights, now)

	want := []store.LeaderboardRow{
		{AgentID: "agent_strong", Position: 1, RankScore: 0.95, ImpactAvg: 0.9, Consistency: 1, ConsistencyRank: 1, CollaborationWeightSum: 10, ComputedAt: now},
		{AgentID: "agent_weak", Position: 2, RankScore: 0.44, ImpactAvg: 0.5, Consistency: 0.5, ConsistencyRank: 2, CollaborationWeightSum: 2, ComputedAt: now},
	}
	if diff := cmp.Diff(want, rows, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if !(rows[0].RankScore > rows[1].RankScore) {
		t.Error("strong agent not strictly above weak agent")
	}
}

func TestRank_TiesAndZeroMaxima(t *testing.T) {
	rows := Rank([]Input{
		{AgentID: "b", ImpactAvg: 0.4},
		{AgentID: "a", ImpactAvg: 0.4},
		{AgentID: "c", ImpactAvg: -0.2},
	}, DefaultWeights, now)

	var order []string
	for _, r := range rows {
		order = append(order, r.AgentID)
		if math.IsNaN(r.RankScore) {
			t.Fatalf("NaN score for %s", r.AgentID)
		}
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if rows[0].RankScore != 0.2 || rows[2].RankScore != -0.1 {
		t.Errorf("scores = %v, %v", rows[0].RankScore, rows[2].RankScore)
	}
	if len(Rank(nil, DefaultWeights, now)) != 0 {
		t.Error("empty input should rank nothing")
	}
}

func TestCollaborationWeights(t *testing.T) {
	got := CollaborationWeights([]*store.Link{
		{SourceAgent: "a", TargetAgent: "b", Strength: 0.5},
		{SourceAgent: "c", TargetAgent: "a", Strength: 0.25},
	})
	want := map[string]float64{"a": 0.75, "b": 0.5, "c": 0.25}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCollaborationWeights_SelfLoopCountsOnce(t *testing.T) {
	got := CollaborationWeights([]*store.Link{
		{SourceAgent: "a", TargetAgent: "a", Strength: 0.5},
		{SourceAgent: "a", TargetAgent: "b", Strength: 0.25},
	})
	want := map[string]float64{"a": 0.75, "b": 0.25}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestInsights(t *testing.T) {
	previous := []*store.LeaderboardRow{
		{AgentID: "a", Position: 1}, {AgentID: "b", Position: 2}, {AgentID: "c", Position: 3},
	}
	current := []store.LeaderboardRow{
		{AgentID: "c", Position: 1, RankScore: 0.8, ImpactAvg: 0.9},
		{AgentID: "a", Position: 2, ImpactAvg: 0.4},
		{AgentID: "b", Position: 3, ImpactAvg: -0.1},
	}
	swings := map[string]Swing{"a": {From: 0.9, To: 0.88}, "b": {From: 0.5, To: 0.8}}

	got := Insights(previous, current, swings, now)
	var cats []string
	for _, in := range got {
		cats = append(cats, in.Category+":"+in.AgentID)
	}
	want := []string{"leader:c", "consistency:b", "movement:c", "impact:b"}
	if diff := cmp.Diff(want, cats); diff != "" {
		t.Errorf("insights mismatch (-want +got):\n%s", diff)
	}
	if got[1].Summary != "b consistency rose by 0.30 (0.50 to 0.80)" {
		t.Errorf("swing summary = %q", got[1].Summary)
	}
	if got[2].Summary != "c climbed 2 places" {
		t.Errorf("movement summary = %q", got[2].Summary)
	}
}

func TestInsights_SmallSwingAndStableLeader(t *testing.T) {
	rows := []store.LeaderboardRow{{AgentID: "a", Position: 1, ImpactAvg: 0.5}}
	got := Insights([]*store.LeaderboardRow{&rows[0]}, rows, map[string]Swing{"a": {From: 0.9, To: 0.93}}, now)
	if len(got) != 0 {
		t.Errorf("insights = %+v, want none", got)
	}
}

func TestRanker_Run(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	rec := &events.Recorder{}
	r := NewRanker(s, WithPublisher(rec), WithLogger(logging.Discard()), WithClock(func() time.Time { return now }))

	if err := s.InsertMetricSnapshots(ctx, []*store.MetricSnapshot{
		{AgentID: "agent_a", AverageImpact: 0.5, Consistency: 0.5},
		{AgentID: "agent_b", AverageImpact: 0.9, Consistency: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateLink(ctx, &store.Link{SourceAgent: "agent_b", TargetAgent: "agent_a", Strength: 1}); err != nil {
		t.Fatal(err)
	}

	res, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 2 || res.Rows[0].AgentID != "agent_b" {
		t.Fatalf("rows = %+v", res.Rows)
	}
	if len(res.Insights) != 1 || res.Insights[0].Category != store.InsightLeader {
		t.Errorf("first-run insights = %+v", res.Insights)
	}

	// agent_a overtakes after a new snapshot.
	if err := s.InsertMetricSnapshots(ctx, []*store.MetricSnapshot{{AgentID: "agent_a", AverageImpact: 1, Consistency: 1}}); err != nil {
		t.Fatal(err)
	}
	res, err = r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := s.ListLeaderboard(ctx, 0)
	if len(stored) != 2 || stored[0].AgentID != "agent_a" {
		t.Errorf("stored leaderboard = %+v", stored)
	}
	var cats []string
	for _, in := range res.Insights {
		cats = append(cats, in.Category)
	}
	if diff := cmp.Diff([]string{store.InsightLeader, store.InsightConsistency, store.InsightMovement}, cats); diff != "" {
		t.Errorf("second-run insights mismatch (-want +got):\n%s", diff)
	}
	if n := len(rec.OfType(events.TypeLeaderboardRanked)); n != 2 {
		t.Errorf("ranked events = %d, want 2", n)
	}
	if n := len(rec.OfType(events.TypeInsightCreated)); n != 4 {
		t.Errorf("insight events = %d, want 4", n)
	}
	all, _ := s.ListInsights(ctx, 0)
	if len(all) != 4 {
		t.Errorf("stored insights = %d, want 4", len(all))
	}
}
