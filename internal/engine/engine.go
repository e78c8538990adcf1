// Package engine is the facade over the control loop. Every operation
// returns a response carrying a Status (success flag, wire code, message)
// instead of an error, and a panic inside an operation is reported as an
// INTERNAL status rather than crossing the boundary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"agentrank/internal/apperr"
	"agentrank/internal/cache"
	"agentrank/internal/config"
	"agentrank/internal/events"
	"agentrank/internal/leaderboard"
	"agentrank/internal/logging"
	"agentrank/internal/metrics"
	"agentrank/internal/optimizer"
	"agentrank/internal/provider"
	"agentrank/internal/reflection"
	"agentrank/internal/relay"
	"agentrank/internal/seed"
	"agentrank/internal/store"
	"agentrank/internal/telemetry"
)

// Default list sizes.
const (
	DefaultListLimit    = 50
	DefaultInsightLimit = 20
)

// Cycle stages, in order.
const (
	StageReflect = "reflect"
	StageMetrics = "metrics"
	StageRank    = "rank"
	StageTune    = "tune"
	StageDone    = "done"
)

// Engine wires the control-loop components around one store.
type Engine struct {
	store     store.Store
	cache     *cache.BehaviorCache
	relay     *relay.Relay
	reflector *reflection.Engine
	metrics   *metrics.Aggregator
	ranker    *leaderboard.Ranker
	optimizer *optimizer.Optimizer
	telemetry *telemetry.Metrics
	logger    *slog.Logger

	closers []func() error
}

type options struct {
	publisher events.Publisher
	telemetry *telemetry.Metrics
	logger    *slog.Logger
	clock     func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithPublisher publishes control-loop events.
func WithPublisher(p events.Publisher) Option { return func(o *options) { o.publisher = p } }

// WithTelemetry records Prometheus metrics.
func WithTelemetry(m *telemetry.Metrics) Option { return func(o *options) { o.telemetry = m } }

// WithLogger sets the facade logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock overrides the time source of the relay and the ranker.
func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

// New builds an Engine over s, resolving agent providers through reg.
func New(cfg *config.Config, s store.Store, reg *provider.Registry, opts ...Option) *Engine {
	o := options{publisher: events.Nop{}, logger: logging.New("engine"), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	bc := cache.New(cfg.Cache.BehaviorTTL)
	return &Engine{
		store: s,
		cache: bc,
		relay: relay.New(s, reg,
			relay.WithCache(bc),
			relay.WithParallel(cfg.Relay.Parallel),
			relay.WithTelemetry(o.telemetry),
			relay.WithClock(o.clock),
		),
		reflector: reflection.New(s, reg,
			reflection.WithDefaults(reflection.Defaults{
				Confidence: cfg.Reflection.DefaultConfidence,
				Impact:     cfg.Reflection.DefaultImpact,
			}),
			reflection.WithMemoryLimit(cfg.Reflection.MemoryLimit),
			reflection.WithParallel(cfg.Reflection.Parallel),
			reflection.WithTelemetry(o.telemetry),
		),
		metrics: metrics.NewAggregator(s, cfg.Metrics.Window, nil),
		ranker: leaderboard.NewRanker(s,
			leaderboard.WithWeights(leaderboard.Weights{
				Impact:        cfg.Leaderboard.ImpactWeight,
				Consistency:   cfg.Leaderboard.ConsistencyWeight,
				Collaboration: cfg.Leaderboard.CollaborationWeight,
			}),
			leaderboard.WithPublisher(o.publisher),
			leaderboard.WithTelemetry(o.telemetry),
			leaderboard.WithClock(o.clock),
		),
		optimizer: optimizer.New(s, cfg.Optimizer,
			optimizer.WithCache(bc),
			optimizer.WithPublisher(o.publisher),
			optimizer.WithTelemetry(o.telemetry),
		),
		telemetry: o.telemetry,
		logger:    o.logger,
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Telemetry returns the Prometheus metrics, or nil when none were configured.
func (e *Engine) Telemetry() *telemetry.Metrics { return e.telemetry }

// Close releases everything Open acquired, most recent first.
func (e *Engine) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}

func ok() Status { return Status{Success: true} }

func (e *Engine) fail(ctx context.Context, op string, err error) Status {
	code := apperr.CodeOf(err)
	level := slog.LevelWarn
	if code == apperr.CodeInternal || code == apperr.CodePersistence {
		level = slog.LevelError
	}
	e.logger.Log(ctx, level, "operation failed", "op", op, "code", code, "error", err)
	return Status{Code: code, Message: err.Error()}
}

// guard turns a panic into an INTERNAL status. It must be deferred directly.
func (e *Engine) guard(op string, st *Status) {
	r := recover()
	if r == nil {
		return
	}
	e.logger.Error("operation panicked", "op", op, "panic", r, "stack", string(debug.Stack()))
	*st = Status{Code: apperr.CodeInternal, Message: fmt.Sprintf("internal error: %v", r)}
}

// RunBehavior executes one behavior on demand. Disabled behaviors may still
// be run explicitly; only autonomous execution respects enablement.
func (e *Engine) RunBehavior(ctx context.Context, behaviorID string, params map[string]any) (resp RunBehaviorResponse) {
	defer e.guard("run_behavior", &resp.Status)
	out, err := e.relay.RunBehavior(ctx, behaviorID, params, relay.RunOptions{})
	resp.Outcome = out
	if b, gerr := e.store.GetBehavior(ctx, behaviorID); gerr == nil && b != nil {
		resp.Behavior = b
	}
	if err != nil {
		resp.Status = e.fail(ctx, "run_behavior", err)
		return resp
	}
	resp.Status = ok()
	return resp
}

// ListBehaviors returns every behavior.
func (e *Engine) ListBehaviors(ctx context.Context) (resp ListBehaviorsResponse) {
	defer e.guard("list_behaviors", &resp.Status)
	bs, err := e.store.ListBehaviors(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "list_behaviors", apperr.Persistence("list behaviors", err))
		return resp
	}
	resp.Behaviors, resp.Status = bs, ok()
	return resp
}

// CreateBehavior stores a new behavior and drops any cached lookup for its
// (agent, action type) pair.
func (e *Engine) CreateBehavior(ctx context.Context, in CreateBehaviorInput) (resp CreateBehaviorResponse) {
	defer e.guard("create_behavior", &resp.Status)
	in.AgentID = strings.TrimSpace(in.AgentID)
	in.ActionType = strings.TrimSpace(in.ActionType)
	if in.AgentID == "" || in.ActionType == "" {
		resp.Status = e.fail(ctx, "create_behavior",
			apperr.Validation(apperr.CodeMissingFields, "agent_id and action_type are required"))
		return resp
	}
	agent, err := e.store.GetAgent(ctx, in.AgentID)
	if err != nil {
		resp.Status = e.fail(ctx, "create_behavior", apperr.Persistence("get agent", err))
		return resp
	}
	if agent == nil {
		resp.Status = e.fail(ctx, "create_behavior", apperr.NotFound("agent", in.AgentID))
		return resp
	}

	b := &store.Behavior{
		AgentID:     in.AgentID,
		Name:        in.Name,
		ActionType:  in.ActionType,
		TriggerType: in.TriggerType,
		Config:      in.Config,
		Enabled:     in.Enabled == nil || *in.Enabled,
	}
	if b.Name == "" {
		b.Name = b.ActionType
	}
	if b.TriggerType == "" {
		b.TriggerType = "manual"
	}
	if err := e.store.CreateBehavior(ctx, b); err != nil {
		resp.Status = e.fail(ctx, "create_behavior", apperr.Persistence("create behavior", err))
		return resp
	}
	e.cache.Invalidate(b.AgentID, b.ActionType)
	e.logger.InfoContext(ctx, "behavior created", "behavior_id", b.ID, "agent_id", b.AgentID, "action_type", b.ActionType)
	resp.Behavior, resp.Status = b, ok()
	return resp
}

// Relay sends a message from sender to receiver.
func (e *Engine) Relay(ctx context.Context, conversationID, sender, receiver, content string) (resp RelayResponse) {
	defer e.guard("relay", &resp.Status)
	reply, err := e.relay.Relay(ctx, conversationID, sender, receiver, content)
	if err != nil {
		resp.Status = e.fail(ctx, "relay", err)
		return resp
	}
	resp.Reply, resp.Status = reply, ok()
	return resp
}

// Collaborate fans out over the source agent's outgoing links. Per-link
// failures are reported in Results and do not fail the call.
func (e *Engine) Collaborate(ctx context.Context, sourceAgent string, maxLinks int) (resp CollaborateResponse) {
	defer e.guard("collaborate", &resp.Status)
	res, err := e.relay.Collaborate(ctx, sourceAgent, maxLinks)
	if err != nil {
		resp.Status = e.fail(ctx, "collaborate", err)
		return resp
	}
	resp.LinksExecuted, resp.Results, resp.Status = res.LinksExecuted, res.Results, ok()
	return resp
}

// Reflect records a reflection for agentID. A non-nil override is stored as
// a manual reflection without calling the provider.
func (e *Engine) Reflect(ctx context.Context, agentID string, override *reflection.Override) (resp ReflectResponse) {
	defer e.guard("reflect", &resp.Status)
	r, err := e.reflector.Reflect(ctx, agentID, reflection.Options{Override: override})
	if err != nil {
		resp.Status = e.fail(ctx, "reflect", err)
		return resp
	}
	resp.Reflection, resp.Status = r, ok()
	return resp
}

// ListReflections returns the most recent reflections first.
func (e *Engine) ListReflections(ctx context.Context, limit int) (resp ListReflectionsResponse) {
	defer e.guard("list_reflections", &resp.Status)
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rs, err := e.store.ListReflections(ctx, limit)
	if err != nil {
		resp.Status = e.fail(ctx, "list_reflections", apperr.Persistence("list reflections", err))
		return resp
	}
	resp.Reflections, resp.Status = rs, ok()
	return resp
}

// RecomputeMetrics appends a fresh metric snapshot per qualifying agent.
func (e *Engine) RecomputeMetrics(ctx context.Context) (resp RecomputeMetricsResponse) {
	defer e.guard("recompute_metrics", &resp.Status)
	rows, err := e.metrics.Recompute(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "recompute_metrics", err)
		return resp
	}
	resp.Updated, resp.Rows, resp.Status = len(rows), rows, ok()
	return resp
}

// ListMetrics returns the latest snapshot per agent.
func (e *Engine) ListMetrics(ctx context.Context) (resp ListMetricsResponse) {
	defer e.guard("list_metrics", &resp.Status)
	rows, err := e.store.LatestMetrics(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "list_metrics", apperr.Persistence("latest metrics", err))
		return resp
	}
	resp.Rows, resp.Status = rows, ok()
	return resp
}

// RankLeaderboard recomputes the leaderboard from the latest metrics.
func (e *Engine) RankLeaderboard(ctx context.Context) (resp RankLeaderboardResponse) {
	defer e.guard("rank_leaderboard", &resp.Status)
	res, err := e.ranker.Run(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "rank_leaderboard", err)
		return resp
	}
	resp.Updated, resp.Rows, resp.Insights, resp.Status = len(res.Rows), res.Rows, res.Insights, ok()
	return resp
}

// GetLeaderboard returns the stored leaderboard and the most recent insights.
func (e *Engine) GetLeaderboard(ctx context.Context, limit int) (resp GetLeaderboardResponse) {
	defer e.guard("get_leaderboard", &resp.Status)
	rows, err := e.store.ListLeaderboard(ctx, limit)
	if err != nil {
		resp.Status = e.fail(ctx, "get_leaderboard", apperr.Persistence("list leaderboard", err))
		return resp
	}
	insights, err := e.store.ListInsights(ctx, DefaultInsightLimit)
	if err != nil {
		resp.Status = e.fail(ctx, "get_leaderboard", apperr.Persistence("list insights", err))
		return resp
	}
	resp.Rows, resp.Insights, resp.Status = rows, insights, ok()
	return resp
}

// TuneBehaviors runs the feedback optimizer once.
func (e *Engine) TuneBehaviors(ctx context.Context) (resp TuneResponse) {
	defer e.guard("tune_behaviors", &resp.Status)
	res, err := e.optimizer.Tune(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "tune_behaviors", err)
		return resp
	}
	resp.Boosted, resp.Disabled, resp.Decisions, resp.Status = res.Boosted, res.Disabled, res.Decisions, ok()
	return resp
}

// RunCycle runs one control-loop iteration: reflect every enabled agent,
// recompute metrics, rank, then tune. It stops at the first stage whose
// query-level work fails; per-agent reflection failures do not stop it.
func (e *Engine) RunCycle(ctx context.Context) (resp CycleResponse) {
	defer e.guard("run_cycle", &resp.Status)
	start := time.Now()

	resp.Stage = StageReflect
	batch, err := e.reflector.ReflectAll(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "run_cycle", err)
		return resp
	}
	resp.Reflections = batch

	resp.Stage = StageMetrics
	snaps, err := e.metrics.Recompute(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "run_cycle", err)
		return resp
	}
	resp.MetricsUpdated = len(snaps)

	resp.Stage = StageRank
	ranked, err := e.ranker.Run(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "run_cycle", err)
		return resp
	}
	resp.Ranked, resp.Insights = len(ranked.Rows), len(ranked.Insights)

	resp.Stage = StageTune
	tuned, err := e.optimizer.Tune(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "run_cycle", err)
		return resp
	}
	resp.Boosted, resp.Disabled = tuned.Boosted, tuned.Disabled

	resp.Stage, resp.Status = StageDone, ok()
	e.logger.InfoContext(ctx, "cycle complete",
		"reflected", batch.Reflected, "reflect_failed", batch.Failed,
		"metrics", resp.MetricsUpdated, "ranked", resp.Ranked, "insights", resp.Insights,
		"boosted", resp.Boosted, "disabled", resp.Disabled, "elapsed", time.Since(start))
	return resp
}

// ListAgents returns the agent registry.
func (e *Engine) ListAgents(ctx context.Context) (resp ListAgentsResponse) {
	defer e.guard("list_agents", &resp.Status)
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		resp.Status = e.fail(ctx, "list_agents", apperr.Persistence("list agents", err))
		return resp
	}
	resp.Agents, resp.Status = agents, ok()
	return resp
}

// Seed imports a network file's content. The behavior cache is flushed since
// seeded behaviors bypass CreateBehavior.
func (e *Engine) Seed(ctx context.Context, n *seed.Network) (resp SeedResponse) {
	defer e.guard("seed", &resp.Status)
	sum, err := seed.Apply(ctx, e.store, n)
	e.cache.Flush()
	if err != nil {
		resp.Summary = sum
		if errors.Is(err, seed.ErrInvalid) {
			resp.Status = e.fail(ctx, "seed", apperr.Validation(apperr.CodeInvalidInput, "%v", err))
		} else {
			resp.Status = e.fail(ctx, "seed", apperr.Persistence("seed", err))
		}
		return resp
	}
	resp.Summary, resp.Status = sum, ok()
	return resp
}
