// Package relay executes behaviors and relays messages between agents
// through each agent's bound provider. Every call appends exactly one run
// record, whether the provider succeeded or not.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agentrank/internal/apperr"
	"agentrank/internal/cache"
	"agentrank/internal/logging"
	"agentrank/internal/provider"
	"agentrank/internal/store"
	"agentrank/internal/telemetry"
)

// Relay runs behaviors and relays messages.
type Relay struct {
	store     store.Store
	providers *provider.Registry
	cache     *cache.BehaviorCache
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	parallel  int
	now       func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithCache sets the behavior lookup cache used by collaborate.
func WithCache(c *cache.BehaviorCache) Option { return func(r *Relay) { r.cache = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Relay) { r.logger = l } }

// WithParallel bounds concurrent link executions during collaborate.
func WithParallel(n int) Option { return func(r *Relay) { r.parallel = n } }

// WithTelemetry records run counters.
func WithTelemetry(m *telemetry.Metrics) Option { return func(r *Relay) { r.metrics = m } }

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option { return func(r *Relay) { r.now = now } }

// New creates a Relay over s, resolving providers from reg.
func New(s store.Store, reg *provider.Registry, opts ...Option) *Relay {
	r := &Relay{
		store:     s,
		providers: reg,
		logger:    logging.New("relay"),
		parallel:  1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.New(cache.DefaultTTL)
	}
	if r.parallel < 1 {
		r.parallel = 1
	}
	return r
}

// Cache returns the behavior lookup cache.
func (r *Relay) Cache() *cache.BehaviorCache { return r.cache }

// RunOptions controls a behavior run.
type RunOptions struct {
	// Autonomous runs (triggered by the loop rather than an operator)
	// require the behavior and its agent to be enabled.
	Autonomous bool
}

// Outcome is the result of one behavior run.
type Outcome struct {
	RunID      string `json:"run_id"`
	BehaviorID string `json:"behavior_id"`
	AgentID    string `json:"agent_id"`
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Input      string `json:"input"`
	Output     string `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// RunBehavior executes one behavior. On provider failure the outcome is still
// returned, alongside an upstream error, and the failed run is recorded.
func (r *Relay) RunBehavior(ctx context.Context, behaviorID string, params map[string]any, opts RunOptions) (*Outcome, error) {
	if behaviorID == "" {
		return nil, apperr.Validation(apperr.CodeMissingFields, "behavior id is required")
	}
	b, err := r.store.GetBehavior(ctx, behaviorID)
	if err != nil {
		return nil, apperr.Persistence("get behavior", err)
	}
	if b == nil {
		return nil, apperr.NotFound("behavior", behaviorID)
	}
	agent, err := r.store.GetAgent(ctx, b.AgentID)
	if err != nil {
		return nil, apperr.Persistence("get agent", err)
	}
	if agent == nil {
		return nil, apperr.NotFound("agent", b.AgentID)
	}
	if opts.Autonomous {
		if !b.Enabled {
			return nil, apperr.Validation(apperr.CodeBehaviorDisabled, "behavior %s is disabled", b.ID)
		}
		if !agent.Enabled {
			return nil, apperr.Validation(apperr.CodeBehaviorDisabled, "agent %s is disabled", agent.ID)
		}
	}

	system := r.renderAgentPrompt(agent, b, params)
	req := provider.Request{
		System:      system,
		Prompt:      behaviorPrompt(agent, b, params),
		Model:       agent.Model,
		Temperature: agent.Temperature,
	}
	out := &Outcome{
		BehaviorID: b.ID,
		AgentID:    agent.ID,
		Provider:   agent.Provider,
		Model:      agent.Model,
		Input:      req.Prompt,
	}

	text, dur, genErr := r.generate(ctx, agent, req)
	out.DurationMS = dur.Milliseconds()
	out.Output = text
	out.Success = genErr == nil
	if genErr != nil {
		out.Error = genErr.Error()
	}

	run := &store.Run{
		BehaviorID: b.ID,
		AgentID:    agent.ID,
		Input:      req.Prompt,
		Output:     text,
		Provider:   agent.Provider,
		Model:      agent.Model,
		DurationMS: out.DurationMS,
		Success:    out.Success,
		Error:      out.Error,
	}
	if err := r.store.InsertRun(ctx, run); err != nil {
		return nil, apperr.Persistence("insert run", err)
	}
	out.RunID = run.ID
	r.metrics.ObserveRun(out.Success)

	mem := &store.Memory{AgentID: agent.ID}
	if genErr != nil {
		mem.Kind = store.MemoryFailure
		mem.Content = fmt.Sprintf("behavior %s (%s) failed: %s", b.Name, b.ActionType, out.Error)
	} else {
		mem.Kind = store.MemoryOutcome
		mem.Content = fmt.Sprintf("behavior %s (%s) succeeded: %s", b.Name, b.ActionType, truncate(text, memoryExcerpt))
	}
	if err := r.store.InsertMemory(ctx, mem); err != nil {
		return nil, apperr.Persistence("insert memory", err)
	}

	if genErr != nil {
		r.logger.WarnContext(ctx, "behavior run failed",
			"behavior_id", b.ID, "agent_id", agent.ID, "provider", agent.Provider, "error", genErr)
		return out, apperr.Upstream("run behavior "+b.ID, genErr).WithCode(apperr.CodeExecutionFailed)
	}
	r.logger.InfoContext(ctx, "behavior run",
		"behavior_id", b.ID, "agent_id", agent.ID, "provider", agent.Provider, "duration_ms", out.DurationMS)
	return out, nil
}

// RelayReply is the receiver's answer to a relayed message.
type RelayReply struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver"`
	Reply          string `json:"reply"`
	DurationMS     int64  `json:"duration_ms"`
}

// Relay sends content from sender to receiver and returns the receiver's
// reply. An empty conversationID starts a new conversation.
func (r *Relay) Relay(ctx context.Context, conversationID, sender, receiver, content string) (*RelayReply, error) {
	if sender == "" || receiver == "" || content == "" {
		return nil, apperr.Validation(apperr.CodeMissingFields, "sender, receiver and content are required")
	}
	from, err := r.store.GetAgent(ctx, sender)
	if err != nil {
		return nil, apperr.Persistence("get agent", err)
	}
	if from == nil {
		return nil, apperr.NotFound("agent", sender)
	}
	to, err := r.store.GetAgent(ctx, receiver)
	if err != nil {
		return nil, apperr.Persistence("get agent", err)
	}
	if to == nil {
		return nil, apperr.NotFound("agent", receiver)
	}
	if conversationID == "" {
		conversationID = store.NewID()
	}

	req := provider.Request{
		System:      r.renderAgentPrompt(to, nil, nil),
		Prompt:      fmt.Sprintf("Message from %s:\n%s", from.Name, content),
		Model:       to.Model,
		Temperature: to.Temperature,
	}
	text, dur, genErr := r.generate(ctx, to, req)

	run := &store.Run{
		ConversationID: conversationID,
		AgentID:        to.ID,
		SenderAgent:    from.ID,
		Input:          req.Prompt,
		Output:         text,
		Provider:       to.Provider,
		Model:          to.Model,
		DurationMS:     dur.Milliseconds(),
		Success:        genErr == nil,
	}
	if genErr != nil {
		run.Error = genErr.Error()
	}
	if err := r.store.InsertRun(ctx, run); err != nil {
		return nil, apperr.Persistence("insert run", err)
	}
	r.metrics.ObserveRun(run.Success)

	if genErr != nil {
		mem := &store.Memory{AgentID: to.ID, Kind: store.MemoryFailure,
			Content: fmt.Sprintf("relay from %s failed: %s", from.ID, run.Error)}
		if err := r.store.InsertMemory(ctx, mem); err != nil {
			return nil, apperr.Persistence("insert memory", err)
		}
		r.logger.WarnContext(ctx, "relay failed", "conversation_id", conversationID,
			"sender", from.ID, "receiver", to.ID, "error", genErr)
		return nil, apperr.Upstream("relay to "+to.ID, genErr).WithCode(apperr.CodeExecutionFailed)
	}

	mem := &store.Memory{AgentID: to.ID, Kind: store.MemoryMessage,
		Content: fmt.Sprintf("conversation %s with %s: %s", conversationID, from.ID, truncate(text, memoryExcerpt))}
	if err := r.store.InsertMemory(ctx, mem); err != nil {
		return nil, apperr.Persistence("insert memory", err)
	}
	r.logger.InfoContext(ctx, "relay", "conversation_id", conversationID,
		"sender", from.ID, "receiver", to.ID, "duration_ms", run.DurationMS)

	return &RelayReply{
		ConversationID: conversationID,
		RunID:          run.ID,
		Sender:         from.ID,
		Receiver:       to.ID,
		Reply:          text,
		DurationMS:     run.DurationMS,
	}, nil
}

// generate resolves the agent's provider and calls it. Both an unknown
// provider and a failed call come back as the returned error.
func (r *Relay) generate(ctx context.Context, agent *store.Agent, req provider.Request) (string, time.Duration, error) {
	p, err := r.providers.Resolve(agent.Provider)
	if err != nil {
		return "", 0, err
	}
	start := r.now()
	text, err := p.Generate(ctx, req)
	return text, r.now().Sub(start), err
}
