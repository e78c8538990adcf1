// Package reflection turns an agent's recent activity into scored
// self-evaluations. Reflections are append-only and are the evidence the
// metrics aggregator and the optimizer work from.
package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"agentrank/internal/apperr"
	"agentrank/internal/logging"
	"agentrank/internal/provider"
	"agentrank/internal/store"
	"agentrank/internal/telemetry"
)

// DefaultMemoryLimit is how many memory entries feed one reflection by default.
const DefaultMemoryLimit = 20

// Engine produces reflections.
type Engine struct {
	store       store.Store
	providers   *provider.Registry
	defaults    Defaults
	memoryLimit int
	parallel    int
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaults sets the fallback values for fields a response omits.
func WithDefaults(d Defaults) Option { return func(e *Engine) { e.defaults = d } }

// WithMemoryLimit sets the default number of memory entries per reflection.
func WithMemoryLimit(n int) Option { return func(e *Engine) { e.memoryLimit = n } }

// WithParallel bounds concurrent agents in ReflectAll.
func WithParallel(n int) Option { return func(e *Engine) { e.parallel = n } }

// WithTelemetry records reflection counters.
func WithTelemetry(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an Engine.
func New(s store.Store, reg *provider.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		providers:   reg,
		defaults:    DefaultDefaults,
		memoryLimit: DefaultMemoryLimit,
		parallel:    1,
		logger:      logging.New("reflection"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.memoryLimit < 1 {
		e.memoryLimit = DefaultMemoryLimit
	}
	if e.parallel < 1 {
		e.parallel = 1
	}
	return e
}

// Override supplies reflection fields directly, bypassing the provider.
type Override struct {
	Summary    string   `json:"summary"`
	Content    string   `json:"content,omitempty"`
	Impact     *float64 `json:"impact,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	BehaviorID string   `json:"behavior_id,omitempty"`
}

// Options controls one reflection.
type Options struct {
	// Limit caps the memory entries gathered; 0 uses the engine default.
	Limit    int
	Override *Override
}

// Reflect writes one reflection for agentID. Without an override the agent's
// provider is asked to evaluate its recent activity; a malformed answer
// degrades to default scores rather than failing.
func (e *Engine) Reflect(ctx context.Context, agentID string, opts Options) (*store.Reflection, error) {
	if agentID == "" {
		return nil, apperr.Validation(apperr.CodeMissingFields, "agent id is required")
	}
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, apperr.Persistence("get agent", err)
	}
	if agent == nil {
		return nil, apperr.NotFound("agent", agentID)
	}

	var r *store.Reflection
	if opts.Override != nil {
		r, err = e.manual(ctx, agent, opts.Override)
	} else {
		r, err = e.auto(ctx, agent, opts.Limit)
	}
	if err != nil {
		return nil, err
	}

	if err := e.store.InsertReflection(ctx, r); err != nil {
		return nil, apperr.Persistence("insert reflection", err)
	}
	e.metrics.ObserveReflection(r.Kind)
	attrs := []any{"agent_id", agent.ID, "kind", r.Kind, "confidence", r.Confidence}
	if r.Impact != nil {
		attrs = append(attrs, "impact", *r.Impact)
	}
	if r.BehaviorID != "" {
		attrs = append(attrs, "behavior_id", r.BehaviorID)
	}
	e.logger.InfoContext(ctx, "reflection recorded", attrs...)
	return r, nil
}

func (e *Engine) manual(ctx context.Context, agent *store.Agent, o *Override) (*store.Reflection, error) {
	if strings.TrimSpace(o.Summary) == "" {
		return nil, apperr.Validation(apperr.CodeMissingFields, "override summary is required")
	}
	if o.BehaviorID != "" {
		b, err := e.store.GetBehavior(ctx, o.BehaviorID)
		if err != nil {
			return nil, apperr.Persistence("get behavior", err)
		}
		if b == nil {
			return nil, apperr.NotFound("behavior", o.BehaviorID)
		}
	}
	for name, v := range map[string]*float64{"impact": o.Impact, "confidence": o.Confidence} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "override %s must be a finite number", name)
		}
	}
	conf := e.defaults.Confidence
	if o.Confidence != nil {
		conf = *o.Confidence
	}
	r := &store.Reflection{
		AgentID:    agent.ID,
		BehaviorID: o.BehaviorID,
		Kind:       store.ReflectionManual,
		Summary:    o.Summary,
		Content:    o.Content,
		Confidence: store.Clamp01(conf),
		Metadata:   map[string]any{"source": "override"},
	}
	if o.Impact != nil {
		r.Impact = store.Float(*o.Impact)
	}
	return r, nil
}

func (e *Engine) auto(ctx context.Context, agent *store.Agent, limit int) (*store.Reflection, error) {
	if limit <= 0 {
		limit = e.memoryLimit
	}
	memories, err := e.store.ListMemories(ctx, agent.ID, limit)
	if err != nil {
		return nil, apperr.Persistence("list memories", err)
	}
	behaviors, err := e.store.ListBehaviorsByAgent(ctx, agent.ID)
	if err != nil {
		return nil, apperr.Persistence("list behaviors", err)
	}

	p, err := e.providers.Resolve(agent.Provider)
	if err != nil {
		return nil, apperr.Upstream("reflect "+agent.ID, err)
	}
	text, err := p.Generate(ctx, provider.Request{
		System:      agent.Prompt,
		Prompt:      buildPrompt(agent, memories, behaviors),
		Model:       agent.Model,
		Temperature: agent.Temperature,
	})
	if err != nil {
		return nil, apperr.Upstream("reflect "+agent.ID, err)
	}

	parsed, perr := e.defaults.Parse(text)
	if perr != nil {
		e.logger.WarnContext(ctx, "reflection response unparsed, using defaults",
			"agent_id", agent.ID, "error", perr)
	}
	if parsed.BehaviorID != "" && !ownsBehavior(behaviors, parsed.BehaviorID) {
		e.logger.DebugContext(ctx, "dropping unknown behavior reference",
			"agent_id", agent.ID, "behavior_id", parsed.BehaviorID)
		parsed.BehaviorID = ""
	}

	meta := map[string]any{"memory_count": len(memories)}
	if len(parsed.Defaulted) > 0 {
		meta["defaulted"] = parsed.Defaulted
	}
	return &store.Reflection{
		AgentID:    agent.ID,
		BehaviorID: parsed.BehaviorID,
		Kind:       store.ReflectionAuto,
		Summary:    parsed.Summary,
		Content:    text,
		Confidence: parsed.Confidence,
		Impact:     store.Float(parsed.Impact),
		Metadata:   meta,
	}, nil
}

func ownsBehavior(behaviors []*store.Behavior, id string) bool {
	for _, b := range behaviors {
		if b.ID == id {
			return true
		}
	}
	return false
}

func buildPrompt(agent *store.Agent, memories []*store.Memory, behaviors []*store.Behavior) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Review the recent work of agent %s", agent.Name)
	if agent.Role != "" {
		fmt.Fprintf(&sb, " (%s)", agent.Role)
	}
	sb.WriteString(".\n\nRecent activity, newest first:\n")
	if len(memories) == 0 {
		sb.WriteString("- none\n")
	}
	for _, m := range memories {
		fmt.Fprintf(&sb, "- [%s] %s\n", m.Kind, m.Content)
	}
	sb.WriteString("\nBehaviors:\n")
	if len(behaviors) == 0 {
		sb.WriteString("- none\n")
	}
	for _, b := range behaviors {
		state := "enabled"
		if !b.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "- %s %s (%s) %s\n", b.ID, b.Name, b.ActionType, state)
	}
	fmt.Fprintf(&sb, "\n%s:\n", provider.ReflectionMarker)
	sb.WriteString("Reflection: <one sentence>\n")
	sb.WriteString("Impact: <number from 0 to 1>\n")
	sb.WriteString("Confidence: <number from 0 to 1>\n")
	sb.WriteString("Behavior: <behavior id this is about, or none>\n")
	return sb.String()
}

// BatchItem is one agent's result in ReflectAll.
type BatchItem struct {
	AgentID      string `json:"agent_id"`
	ReflectionID string `json:"reflection_id,omitempty"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// BatchResult summarises ReflectAll.
type BatchResult struct {
	Reflected int         `json:"reflected"`
	Failed    int         `json:"failed"`
	Items     []BatchItem `json:"items"`
}

// ReflectAll reflects every enabled agent. A failing agent is recorded in its
// item and never stops the batch; only listing the agents can fail the call.
func (e *Engine) ReflectAll(ctx context.Context) (*BatchResult, error) {
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return nil, apperr.Persistence("list agents", err)
	}
	var enabled []*store.Agent
	for _, a := range agents {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}

	items := make([]BatchItem, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for i, a := range enabled {
		g.Go(func() error {
			item := BatchItem{AgentID: a.ID}
			r, err := e.Reflect(gctx, a.ID, Options{})
			if err != nil {
				item.Error = err.Error()
				e.logger.WarnContext(gctx, "batch reflection failed", "agent_id", a.ID, "error", err)
			} else {
				item.Success = true
				item.ReflectionID = r.ID
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait() // errors captured in BatchItem.Error

	res := &BatchResult{Items: items}
	for _, it := range items {
		if it.Success {
			res.Reflected++
		} else {
			res.Failed++
		}
	}
	return res, nil
}
