// Package metrics aggregates reflections into per-agent snapshots.
package metrics

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"agentrank/internal/apperr"
	"agentrank/internal/logging"
	"agentrank/internal/store"
)

// DefaultWindow is how many recent reflections are aggregated.
const DefaultWindow = 500

// Stats summarises one set of impact samples.
type Stats struct {
	Mean        float64
	Variance    float64
	Consistency float64
}

// Summarize returns the mean, population variance and consistency of samples.
// Consistency is 1 - min(1, stddev); no samples yields mean 0, consistency 1.
// NaN and infinite samples are skipped.
func Summarize(samples []float64) Stats {
	samples = finite(samples)
	if len(samples) == 0 {
		return Stats{Consistency: 1}
	}
	var sum float64
	for _, x := range samples {
		sum += x
	}
	mean := sum / float64(len(samples))
	var sq float64
	for _, x := range samples {
		d := x - mean
		sq += d * d
	}
	variance := sq / float64(len(samples))
	return Stats{
		Mean:        mean,
		Variance:    variance,
		Consistency: 1 - math.Min(1, math.Sqrt(variance)),
	}
}

func finite(xs []float64) []float64 {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			out := append([]float64(nil), xs[:i]...)
			for _, y := range xs[i+1:] {
				if !math.IsNaN(y) && !math.IsInf(y, 0) {
					out = append(out, y)
				}
			}
			return out
		}
	}
	return xs
}

// Compute derives one snapshot per agent that has at least one reflection or
// one behavior, sorted by agent id. Reflections without an impact count toward
// ReflectionCount but not toward the statistics.
func Compute(reflections []*store.Reflection, behaviors []*store.Behavior, now time.Time) []store.MetricSnapshot {
	type acc struct {
		samples     []float64
		reflections int
		behaviors   int
	}
	byAgent := make(map[string]*acc)
	get := func(id string) *acc {
		a, ok := byAgent[id]
		if !ok {
			a = &acc{}
			byAgent[id] = a
		}
		return a
	}
	for _, r := range reflections {
		a := get(r.AgentID)
		a.reflections++
		if r.Impact != nil {
			a.samples = append(a.samples, *r.Impact)
		}
	}
	for _, b := range behaviors {
		get(b.AgentID).behaviors++
	}

	out := make([]store.MetricSnapshot, 0, len(byAgent))
	for id, a := range byAgent {
		st := Summarize(a.samples)
		out = append(out, store.MetricSnapshot{
			AgentID:         id,
			AverageImpact:   st.Mean,
			Consistency:     st.Consistency,
			ReflectionCount: a.reflections,
			BehaviorCount:   a.behaviors,
			CalculatedAt:    now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Aggregator recomputes and persists snapshots.
type Aggregator struct {
	store  store.Store
	window int
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator creates an Aggregator reading up to window recent reflections.
func NewAggregator(s store.Store, window int, logger *slog.Logger) *Aggregator {
	if window < 1 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = logging.New("metrics")
	}
	return &Aggregator{store: s, window: window, logger: logger, now: time.Now}
}

// Recompute appends a fresh snapshot for every qualifying agent.
func (a *Aggregator) Recompute(ctx context.Context) ([]store.MetricSnapshot, error) {
	reflections, err := a.store.ListReflections(ctx, a.window)
	if err != nil {
		return nil, apperr.Persistence("list reflections", err)
	}
	behaviors, err := a.store.ListBehaviors(ctx)
	if err != nil {
		return nil, apperr.Persistence("list behaviors", err)
	}

	snaps := Compute(reflections, behaviors, a.now().UTC())
	ptrs := make([]*store.MetricSnapshot, len(snaps))
	for i := range snaps {
		ptrs[i] = &snaps[i]
	}
	if err := a.store.InsertMetricSnapshots(ctx, ptrs); err != nil {
		return nil, apperr.Persistence("insert metric snapshots", err)
	}
	a.logger.InfoContext(ctx, "metrics recomputed", "agents", len(snaps), "reflections", len(reflections))
	return snaps, nil
}
