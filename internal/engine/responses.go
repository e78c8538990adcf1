package engine

import (
	"agentrank/internal/optimizer"
	"agentrank/internal/reflection"
	"agentrank/internal/relay"
	"agentrank/internal/seed"
	"agentrank/internal/store"
)

// Status is embedded in every response. Code is empty on success.
type Status struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// RunBehaviorResponse is returned by RunBehavior. Outcome is set for failed
// executions too.
type RunBehaviorResponse struct {
	Status
	Behavior *store.Behavior `json:"behavior,omitempty"`
	Outcome  *relay.Outcome  `json:"outcome,omitempty"`
}

// ListBehaviorsResponse is returned by ListBehaviors.
type ListBehaviorsResponse struct {
	Status
	Behaviors []*store.Behavior `json:"behaviors"`
}

// CreateBehaviorInput describes a new behavior. Enabled defaults to true.
type CreateBehaviorInput struct {
	AgentID     string         `json:"agent_id"`
	ActionType  string         `json:"action_type"`
	Name        string         `json:"name,omitempty"`
	TriggerType string         `json:"trigger_type,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty"`
}

// CreateBehaviorResponse is returned by CreateBehavior.
type CreateBehaviorResponse struct {
	Status
	Behavior *store.Behavior `json:"behavior,omitempty"`
}

// RelayResponse is returned by Relay.
type RelayResponse struct {
	Status
	Reply *relay.RelayReply `json:"reply,omitempty"`
}

// CollaborateResponse is returned by Collaborate.
type CollaborateResponse struct {
	Status
	LinksExecuted int                `json:"links_executed"`
	Results       []relay.LinkResult `json:"results"`
}

// ReflectResponse is returned by Reflect.
type ReflectResponse struct {
	Status
	Reflection *store.Reflection `json:"reflection,omitempty"`
}

// ListReflectionsResponse is returned by ListReflections.
type ListReflectionsResponse struct {
	Status
	Reflections []*store.Reflection `json:"reflections"`
}

// RecomputeMetricsResponse is returned by RecomputeMetrics.
type RecomputeMetricsResponse struct {
	Status
	Updated int                    `json:"updated"`
	Rows    []store.MetricSnapshot `json:"rows"`
}

// ListMetricsResponse is returned by ListMetrics: the latest snapshot per agent.
type ListMetricsResponse struct {
	Status
	Rows []*store.MetricSnapshot `json:"rows"`
}

// RankLeaderboardResponse is returned by RankLeaderboard.
type RankLeaderboardResponse struct {
	Status
	Updated  int                    `json:"updated"`
	Rows     []store.LeaderboardRow `json:"rows"`
	Insights []store.Insight        `json:"insights"`
}

// GetLeaderboardResponse is returned by GetLeaderboard.
type GetLeaderboardResponse struct {
	Status
	Rows     []*store.LeaderboardRow `json:"rows"`
	Insights []*store.Insight        `json:"insights"`
}

// TuneResponse is returned by TuneBehaviors.
type TuneResponse struct {
	Status
	Boosted   int                  `json:"boosted"`
	Disabled  int                  `json:"disabled"`
	Decisions []optimizer.Decision `json:"decisions"`
}

// CycleResponse summarises one full control-loop iteration. Stage records the
// last stage reached, which is where a failed cycle stopped.
type CycleResponse struct {
	Status
	Stage          string                  `json:"stage"`
	Reflections    *reflection.BatchResult `json:"reflections,omitempty"`
	MetricsUpdated int                     `json:"metrics_updated"`
	Ranked         int                     `json:"ranked"`
	Insights       int                     `json:"insights"`
	Boosted        int                     `json:"boosted"`
	Disabled       int                     `json:"disabled"`
}

// ListAgentsResponse is returned by ListAgents.
type ListAgentsResponse struct {
	Status
	Agents []*store.Agent `json:"agents"`
}

// SeedResponse is returned by Seed.
type SeedResponse struct {
	Status
	Summary *seed.Summary `json:"summary,omitempty"`
}
