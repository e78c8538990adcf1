package leaderboard

import (
	"fmt"
	"math"
	"time"

	"agentrank/internal/store"
)

// MinConsistencySwing is the smallest change in consistency worth an insight.
const MinConsistencySwing = 0.05

// Swing is a change in an agent's consistency between two snapshots.
type Swing struct {
	From, To float64
}

func (s Swing) delta() float64 { return s.To - s.From }

// Insights compares the new ranking with the previous one. It reports a new
// leader, the largest consistency swing, the largest positional climb and
// every agent with negative average impact.
func Insights(previous []*store.LeaderboardRow, current []store.LeaderboardRow, swings map[string]Swing, now time.Time) []store.Insight {
	if len(current) == 0 {
		return nil
	}
	var out []store.Insight
	add := func(agent, category, format string, args ...any) {
		out = append(out, store.Insight{
			AgentID:   agent,
			Category:  category,
			Summary:   fmt.Sprintf(format, args...),
			CreatedAt: now,
		})
	}

	leader := current[0]
	switch {
	case len(previous) == 0:
		add(leader.AgentID, store.InsightLeader, "%s leads the first ranking with score %.3f", leader.AgentID, leader.RankScore)
	case previous[0].AgentID != leader.AgentID:
		add(leader.AgentID, store.InsightLeader, "%s takes #1 from %s with score %.3f",
			leader.AgentID, previous[0].AgentID, leader.RankScore)
	}

	var swingAgent string
	var best Swing
	for _, row := range current {
		s, ok := swings[row.AgentID]
		if !ok {
			continue
		}
		if swingAgent == "" || math.Abs(s.delta()) > math.Abs(best.delta()) {
			swingAgent, best = row.AgentID, s
		}
	}
	if swingAgent != "" && math.Abs(best.delta()) >= MinConsistencySwing {
		dir := "rose"
		if best.delta() < 0 {
			dir = "fell"
		}
		add(swingAgent, store.InsightConsistency, "%s consistency %s by %.2f (%.2f to %.2f)",
			swingAgent, dir, math.Abs(best.delta()), best.From, best.To)
	}

	prevPos := make(map[string]int, len(previous))
	for _, p := range previous {
		prevPos[p.AgentID] = p.Position
	}
	var mover string
	var climb int
	for _, row := range current {
		before, ok := prevPos[row.AgentID]
		if !ok {
			continue
		}
		if c := before - row.Position; c > climb {
			mover, climb = row.AgentID, c
		}
	}
	if mover != "" {
		places := "places"
		if climb == 1 {
			places = "place"
		}
		add(mover, store.InsightMovement, "%s climbed %d %s", mover, climb, places)
	}

	for _, row := range current {
		if row.ImpactAvg < 0 {
			add(row.AgentID, store.InsightImpact, "%s has negative average impact (%.2f)", row.AgentID, row.ImpactAvg)
		}
	}
	return out
}
