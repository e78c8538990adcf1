// Package optimizer closes the control loop: it enables or disables
// behaviors based on the mean impact of their recent reflections.
//
// Each behavior is a two-state machine (enabled, disabled). A mean below the
// low threshold disables an enabled behavior; a mean at or above the high
// threshold enables a disabled one; anything in between leaves it alone. The
// decision depends only on stored reflections, so repeated or concurrent runs
// converge on the same state.
package optimizer

import (
	"context"
	"log/slog"

	"agentrank/internal/apperr"
	"agentrank/internal/cache"
	"agentrank/internal/config"
	"agentrank/internal/events"
	"agentrank/internal/logging"
	"agentrank/internal/metrics"
	"agentrank/internal/store"
	"agentrank/internal/telemetry"
)

// Decision actions.
const (
	ActionDisable      = "disable"
	ActionEnable       = "enable"
	ActionKeep         = "keep"
	ActionInsufficient = "insufficient_samples"
)

// Decision is the optimizer's verdict on one behavior.
type Decision struct {
	BehaviorID string  `json:"behavior_id"`
	AgentID    string  `json:"agent_id"`
	ActionType string  `json:"action_type"`
	Samples    int     `json:"samples"`
	MeanImpact float64 `json:"mean_impact"`
	Action     string  `json:"action"`
	// Changed is false when the target state was already in place, e.g. a
	// concurrent run got there first.
	Changed bool `json:"changed"`
}

// Result summarises one tuning run.
type Result struct {
	Boosted   int        `json:"boosted"`
	Disabled  int        `json:"disabled"`
	Decisions []Decision `json:"decisions"`
}

// Optimizer tunes behavior enablement.
type Optimizer struct {
	store     store.Store
	cfg       config.OptimizerConfig
	cache     *cache.BehaviorCache
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithCache invalidates entries of this cache on every transition.
func WithCache(c *cache.BehaviorCache) Option { return func(o *Optimizer) { o.cache = c } }

// WithPublisher publishes transition events.
func WithPublisher(p events.Publisher) Option { return func(o *Optimizer) { o.publisher = p } }

// WithTelemetry counts transitions.
func WithTelemetry(m *telemetry.Metrics) Option { return func(o *Optimizer) { o.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Optimizer) { o.logger = l } }

// New creates an Optimizer with thresholds cfg.
func New(s store.Store, cfg config.OptimizerConfig, opts ...Option) *Optimizer {
	o := &Optimizer{
		store:     s,
		cfg:       cfg,
		publisher: events.Nop{},
		logger:    logging.New("optimizer"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.MinSamples < 1 {
		o.cfg.MinSamples = 1
	}
	return o
}

// Decide applies the transition rule to one behavior's impact samples.
func Decide(enabled bool, samples []float64, cfg config.OptimizerConfig) (action string, mean float64) {
	if len(samples) < cfg.MinSamples || len(samples) == 0 {
		return ActionInsufficient, 0
	}
	mean = metrics.Summarize(samples).Mean
	switch {
	case enabled && mean < cfg.LowThreshold:
		return ActionDisable, mean
	case !enabled && mean >= cfg.HighThreshold:
		return ActionEnable, mean
	default:
		return ActionKeep, mean
	}
}

// Tune evaluates every behavior and applies the resulting transitions.
// Store failures abort the run immediately.
func (o *Optimizer) Tune(ctx context.Context) (*Result, error) {
	behaviors, err := o.store.ListBehaviors(ctx)
	if err != nil {
		return nil, apperr.Persistence("list behaviors", err)
	}

	res := &Result{Decisions: make([]Decision, 0, len(behaviors))}
	for _, b := range behaviors {
		samples, err := o.samples(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		action, mean := Decide(b.Enabled, samples, o.cfg)
		d := Decision{
			BehaviorID: b.ID,
			AgentID:    b.AgentID,
			ActionType: b.ActionType,
			Samples:    len(samples),
			MeanImpact: mean,
			Action:     action,
		}
		if action == ActionEnable || action == ActionDisable {
			enable := action == ActionEnable
			changed, err := o.store.SetBehaviorEnabled(ctx, b.ID, enable)
			if err != nil {
				return nil, apperr.Persistence("set behavior enabled", err)
			}
			d.Changed = changed
			if changed {
				o.transitioned(ctx, b, enable, mean, len(samples))
				if enable {
					res.Boosted++
				} else {
					res.Disabled++
				}
			}
		}
		res.Decisions = append(res.Decisions, d)
	}
	o.logger.InfoContext(ctx, "behaviors tuned", "evaluated", len(behaviors),
		"boosted", res.Boosted, "disabled", res.Disabled)
	return res, nil
}

// samples returns the impacts of the behavior's most recent reflections that
// carry one, newest first, capped at the window.
func (o *Optimizer) samples(ctx context.Context, behaviorID string) ([]float64, error) {
	reflections, err := o.store.ListReflectionsByBehavior(ctx, behaviorID, 0)
	if err != nil {
		return nil, apperr.Persistence("list reflections", err)
	}
	var out []float64
	for _, r := range reflections {
		if r.Impact == nil {
			continue
		}
		out = append(out, *r.Impact)
		if o.cfg.Window > 0 && len(out) == o.cfg.Window {
			break
		}
	}
	return out, nil
}

func (o *Optimizer) transitioned(ctx context.Context, b *store.Behavior, enabled bool, mean float64, n int) {
	if o.cache != nil {
		o.cache.Invalidate(b.AgentID, b.ActionType)
	}
	o.metrics.ObserveTransition(enabled)
	typ := events.TypeBehaviorDisabled
	if enabled {
		typ = events.TypeBehaviorEnabled
	}
	o.publisher.Publish(ctx, events.Event{
		Type:       typ,
		AgentID:    b.AgentID,
		BehaviorID: b.ID,
		Data:       map[string]any{"mean_impact": mean, "samples": n},
	})
	o.logger.InfoContext(ctx, "behavior transition", "behavior_id", b.ID, "agent_id", b.AgentID,
		"enabled", enabled, "mean_impact", mean, "samples", n)
}
