// Package leaderboard ranks agents on a composite of impact, consistency and
// collaboration weight, and derives advisory insights from each ranking run.
package leaderboard

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"agentrank/internal/apperr"
	"agentrank/internal/events"
	"agentrank/internal/logging"
	"agentrank/internal/store"
	"agentrank/internal/telemetry"
)

// Weights are the coefficients of the composite rank score.
type Weights struct {
	Impact        float64
	Consistency   float64
	Collaboration float64
}

// DefaultWeights is 0.5 impact, 0.3 consistency, 0.2 collaboration.
var DefaultWeights = Weights{Impact: 0.5, Consistency: 0.3, Collaboration: 0.2}

// Input is one agent's ranking evidence.
type Input struct {
	AgentID             string
	ImpactAvg           float64
	Consistency         float64
	CollaborationWeight float64
}

// Rank scores and orders inputs. Consistency and collaboration are
// normalised by their maximum across inputs, so scores are relative to the
// current population; a zero maximum contributes nothing. Rows are sorted by
// score descending with ties broken by agent id.
func Rank(inputs []Input, w Weights, now time.Time) []store.LeaderboardRow {
	var maxCons, maxCollab float64
	for _, in := range inputs {
		maxCons = max(maxCons, in.Consistency)
		maxCollab = max(maxCollab, in.CollaborationWeight)
	}

	rows := make([]store.LeaderboardRow, len(inputs))
	for i, in := range inputs {
		score := w.Impact * in.ImpactAvg
		if maxCons > 0 {
			score += w.Consistency * in.Consistency / maxCons
		}
		if maxCollab > 0 {
			score += w.Collaboration * in.CollaborationWeight / maxCollab
		}
		rows[i] = store.LeaderboardRow{
			AgentID:                in.AgentID,
			RankScore:              score,
			ImpactAvg:              in.ImpactAvg,
			Consistency:            in.Consistency,
			CollaborationWeightSum: in.CollaborationWeight,
			ComputedAt:             now,
		}
	}

	byCons := make([]int, len(rows))
	for i := range byCons {
		byCons[i] = i
	}
	sort.Slice(byCons, func(a, b int) bool {
		ra, rb := rows[byCons[a]], rows[byCons[b]]
		if ra.Consistency != rb.Consistency {
			return ra.Consistency > rb.Consistency
		}
		return ra.AgentID < rb.AgentID
	})
	for pos, idx := range byCons {
		rows[idx].ConsistencyRank = pos + 1
	}

	sort.Slice(rows, func(a, b int) bool {
		if rows[a].RankScore != rows[b].RankScore {
			return rows[a].RankScore > rows[b].RankScore
		}
		return rows[a].AgentID < rows[b].AgentID
	})
	for i := range rows {
		rows[i].Position = i + 1
	}
	return rows
}

// CollaborationWeights sums link strength per agent over outgoing and
// incoming links. A self-loop counts once.
func CollaborationWeights(links []*store.Link) map[string]float64 {
	out := make(map[string]float64)
	for _, l := range links {
		out[l.SourceAgent] += l.Strength
		if l.TargetAgent != l.SourceAgent {
			out[l.TargetAgent] += l.Strength
		}
	}
	return out
}

// Ranker recomputes the leaderboard from stored metrics and links.
type Ranker struct {
	store     store.Store
	weights   Weights
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithWeights sets the rank score coefficients.
func WithWeights(w Weights) Option { return func(r *Ranker) { r.weights = w } }

// WithPublisher publishes ranking and insight events.
func WithPublisher(p events.Publisher) Option { return func(r *Ranker) { r.publisher = p } }

// WithTelemetry exports rank scores.
func WithTelemetry(m *telemetry.Metrics) Option { return func(r *Ranker) { r.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Ranker) { r.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Ranker) { r.now = now } }

// NewRanker creates a Ranker.
func NewRanker(s store.Store, opts ...Option) *Ranker {
	r := &Ranker{
		store:     s,
		weights:   DefaultWeights,
		publisher: events.Nop{},
		logger:    logging.New("leaderboard"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is one ranking run.
type Result struct {
	Rows     []store.LeaderboardRow `json:"rows"`
	Insights []store.Insight        `json:"insights"`
}

// Run ranks every agent with a metric snapshot, replaces the stored
// leaderboard, and records insights comparing against the previous one.
func (r *Ranker) Run(ctx context.Context) (*Result, error) {
	latest, err := r.store.LatestMetrics(ctx)
	if err != nil {
		return nil, apperr.Persistence("latest metrics", err)
	}
	links, err := r.store.ListLinks(ctx)
	if err != nil {
		return nil, apperr.Persistence("list links", err)
	}
	previous, err := r.store.ListLeaderboard(ctx, 0)
	if err != nil {
		return nil, apperr.Persistence("list leaderboard", err)
	}

	collab := CollaborationWeights(links)
	inputs := make([]Input, 0, len(latest))
	for _, m := range latest {
		inputs = append(inputs, Input{
			AgentID:             m.AgentID,
			ImpactAvg:           m.AverageImpact,
			Consistency:         m.Consistency,
			CollaborationWeight: collab[m.AgentID],
		})
	}
	now := r.now().UTC()
	rows := Rank(inputs, r.weights, now)

	ptrs := make([]*store.LeaderboardRow, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	if err := r.store.ReplaceLeaderboard(ctx, ptrs); err != nil {
		return nil, apperr.Persistence("replace leaderboard", err)
	}

	swings, err := r.consistencySwings(ctx, rows)
	if err != nil {
		return nil, err
	}
	insights := Insights(previous, rows, swings, now)
	if len(insights) > 0 {
		iptrs := make([]*store.Insight, len(insights))
		for i := range insights {
			iptrs[i] = &insights[i]
		}
		if err := r.store.InsertInsights(ctx, iptrs); err != nil {
			return nil, apperr.Persistence("insert insights", err)
		}
	}

	r.metrics.SetLeaderboard(rows)
	r.publish(ctx, rows, insights, now)
	r.logger.InfoContext(ctx, "leaderboard ranked", "agents", len(rows), "insights", len(insights))
	return &Result{Rows: rows, Insights: insights}, nil
}

// consistencySwings returns, per ranked agent with at least two snapshots,
// the change in consistency between its two most recent snapshots.
func (r *Ranker) consistencySwings(ctx context.Context, rows []store.LeaderboardRow) (map[string]Swing, error) {
	out := make(map[string]Swing)
	for _, row := range rows {
		hist, err := r.store.MetricHistory(ctx, row.AgentID, 2)
		if err != nil {
			return nil, apperr.Persistence("metric history", err)
		}
		if len(hist) == 2 {
			out[row.AgentID] = Swing{From: hist[1].Consistency, To: hist[0].Consistency}
		}
	}
	return out, nil
}

func (r *Ranker) publish(ctx context.Context, rows []store.LeaderboardRow, insights []store.Insight, now time.Time) {
	e := events.Event{Type: events.TypeLeaderboardRanked, At: now, Data: map[string]any{"agents": len(rows)}}
	if len(rows) > 0 {
		e.AgentID = rows[0].AgentID
		e.Data["leader_score"] = rows[0].RankScore
	}
	r.publisher.Publish(ctx, e)
	for _, in := range insights {
		r.publisher.Publish(ctx, events.Event{
			Type:    events.TypeInsightCreated,
			AgentID: in.AgentID,
			Summary: in.Summary,
			Data:    map[string]any{"category": in.Category},
			At:      now,
		})
	}
}
