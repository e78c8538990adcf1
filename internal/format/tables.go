package format

import (
	"strconv"
	"strings"

	"agentrank/internal/optimizer"
	"agentrank/internal/reflection"
	"agentrank/internal/relay"
	"agentrank/internal/store"
)

const textWidth = 60

// Agents renders the agent registry.
func Agents(m Mode, agents []*store.Agent) string {
	tb := NewTable(m)
	tb.Header("ID", "Name", "Role", "Provider", "Model", "Temp", "Enabled", "Version")
	for _, a := range agents {
		tb.Row(a.ID, a.Name, a.Role, a.Provider, a.Model, a.Temperature, BoolMark(a.Enabled), a.Version)
	}
	tb.AlignRight(6, 8)
	return tb.String()
}

// Behaviors renders behaviors with their enablement.
func Behaviors(m Mode, behaviors []*store.Behavior) string {
	tb := NewTable(m)
	tb.Header("ID", "Agent", "Name", "Action", "Trigger", "Enabled", "Version")
	for _, b := range behaviors {
		tb.Row(b.ID, b.AgentID, b.Name, b.ActionType, b.TriggerType, BoolMark(b.Enabled), b.Version)
	}
	return tb.String()
}

// Outcome renders one behavior run.
func Outcome(m Mode, o *relay.Outcome) string {
	tb := NewTable(m)
	tb.Header("Field", "Value")
	tb.Row("run", o.RunID)
	tb.Row("behavior", o.BehaviorID)
	tb.Row("agent", o.AgentID)
	tb.Row("provider", strings.TrimSuffix(o.Provider+"/"+o.Model, "/"))
	tb.Row("duration", FmtMillis(o.DurationMS))
	tb.Row("success", BoolMark(o.Success))
	if o.Error != "" {
		tb.Row("error", o.Error)
	}
	tb.Row("output", o.Output)
	tb.Wrap(2, 100)
	return tb.String()
}

// Collaboration renders a fan-out result, one row per link.
func Collaboration(m Mode, r *relay.CollaborationResult) string {
	tb := NewTable(m)
	tb.Header("#", "Target", "Kind", "Action", "Behavior", "OK", "Output / Error")
	ok := 0
	for i, lr := range r.Results {
		detail := lr.Output
		if !lr.Success {
			detail = lr.Error
		} else {
			ok++
		}
		tb.Row(i+1, lr.TargetAgent, lr.Kind, lr.ActionType, lr.BehaviorID, BoolMark(lr.Success), Truncate(detail, textWidth))
	}
	tb.Footer("", r.SourceAgent, "", "", "", ok, "of "+strconv.Itoa(r.LinksExecuted)+" links succeeded")
	return tb.String()
}

// Reflections renders reflections, newest first.
func Reflections(m Mode, refs []*store.Reflection) string {
	tb := NewTable(m)
	tb.Header("Created", "Agent", "Kind", "Behavior", "Impact", "Confidence", "Summary")
	for _, r := range refs {
		tb.Row(FmtTime(r.CreatedAt), r.AgentID, r.Kind, r.BehaviorID, FmtImpact(r.Impact), FmtScore(r.Confidence), Truncate(r.Summary, textWidth))
	}
	tb.AlignRight(5, 6)
	return tb.String()
}

// ReflectionBatch renders a batch reflection.
func ReflectionBatch(m Mode, r *reflection.BatchResult) string {
	tb := NewTable(m)
	tb.Header("Agent", "OK", "Reflection / Error")
	for _, it := range r.Items {
		detail := it.ReflectionID
		if !it.Success {
			detail = it.Error
		}
		tb.Row(it.AgentID, BoolMark(it.Success), Truncate(detail, textWidth))
	}
	tb.Footer("reflected "+strconv.Itoa(r.Reflected), "", "failed "+strconv.Itoa(r.Failed))
	return tb.String()
}

// Metrics renders metric snapshots.
func Metrics(m Mode, snaps []*store.MetricSnapshot) string {
	tb := NewTable(m)
	tb.Header("Agent", "Avg impact", "Consistency", "Reflections", "Behaviors", "Calculated")
	for _, s := range snaps {
		tb.Row(s.AgentID, FmtScore(s.AverageImpact), FmtScore(s.Consistency), s.ReflectionCount, s.BehaviorCount, FmtTime(s.CalculatedAt))
	}
	tb.AlignRight(2, 3, 4, 5)
	return tb.String()
}

// Leaderboard renders ranked rows followed by the insights, if any.
func Leaderboard(m Mode, rows []*store.LeaderboardRow, insights []*store.Insight) string {
	tb := NewTable(m)
	tb.Header("#", "Agent", "Score", "Impact", "Consistency", "Cons. rank", "Collab weight")
	for _, r := range rows {
		tb.Row(r.Position, r.AgentID, FmtScore(r.RankScore), FmtScore(r.ImpactAvg), FmtScore(r.Consistency), r.ConsistencyRank, FmtScore(r.CollaborationWeightSum))
	}
	out := tb.String()
	if len(insights) == 0 {
		return out
	}
	it := NewTable(m)
	it.Header("Category", "Agent", "Insight")
	for _, in := range insights {
		it.Row(in.Category, in.AgentID, in.Summary)
	}
	return out + "\n\n" + it.String()
}

// Tune renders the optimizer's decisions.
func Tune(m Mode, r *optimizer.Result) string {
	tb := NewTable(m)
	tb.Header("Behavior", "Agent", "Action type", "Samples", "Mean impact", "Decision", "Changed")
	for _, d := range r.Decisions {
		mean := "-"
		if d.Action != optimizer.ActionInsufficient {
			mean = FmtScore(d.MeanImpact)
		}
		tb.Row(d.BehaviorID, d.AgentID, d.ActionType, d.Samples, mean, d.Action, BoolMark(d.Changed))
	}
	tb.Footer("boosted "+strconv.Itoa(r.Boosted), "disabled "+strconv.Itoa(r.Disabled))
	return tb.String()
}
