package store

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Link kinds.
const (
	LinkRelay   = "relay"
	LinkAssist  = "assist"
	LinkAnalyze = "analyze"
)

// Reflection kinds.
const (
	ReflectionAuto   = "auto"
	ReflectionManual = "manual"
)

// Memory kinds.
const (
	MemoryOutcome = "outcome"
	MemoryFailure = "failure"
	MemoryMessage = "message"
)

// Insight categories.
const (
	InsightLeader      = "leader"
	InsightConsistency = "consistency"
	InsightMovement    = "movement"
	InsightImpact      = "impact"
)

// DefaultLinkStrength is applied to links created without a strength.
const DefaultLinkStrength = 0.5

// Agent is a named worker bound to a text-generation provider.
type Agent struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Role        string    `json:"role,omitempty" yaml:"role"`
	Prompt      string    `json:"prompt,omitempty" yaml:"prompt"`
	Provider    string    `json:"provider" yaml:"provider"`
	Model       string    `json:"model,omitempty" yaml:"model"`
	Temperature float64   `json:"temperature" yaml:"temperature"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	Version     int       `json:"version" yaml:"-"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// Link is a directed, weighted collaboration edge between two agents.
type Link struct {
	ID          string    `json:"id" yaml:"id"`
	SourceAgent string    `json:"source_agent" yaml:"source"`
	TargetAgent string    `json:"target_agent" yaml:"target"`
	Kind        string    `json:"kind" yaml:"kind"`
	Strength    float64   `json:"strength" yaml:"strength"`
	Context     string    `json:"context,omitempty" yaml:"context"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}

// Behavior is a runnable, toggleable action owned by an agent.
type Behavior struct {
	ID          string         `json:"id" yaml:"id"`
	AgentID     string         `json:"agent_id" yaml:"agent"`
	Name        string         `json:"name" yaml:"name"`
	ActionType  string         `json:"action_type" yaml:"action_type"`
	TriggerType string         `json:"trigger_type" yaml:"trigger_type"`
	Config      map[string]any `json:"config,omitempty" yaml:"config"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Version     int            `json:"version" yaml:"-"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
}

// Run records one provider execution, either a behavior run or a relayed message.
type Run struct {
	ID             string    `json:"id"`
	BehaviorID     string    `json:"behavior_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	AgentID        string    `json:"agent_id"`
	SenderAgent    string    `json:"sender_agent,omitempty"`
	Input          string    `json:"input"`
	Output         string    `json:"output,omitempty"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Memory is a short note an agent accumulates between reflections.
type Memory struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Reflection is a scored self-evaluation.
// Impact is nil when no numeric impact was recorded.
type Reflection struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	BehaviorID string         `json:"behavior_id,omitempty"`
	Kind       string         `json:"kind"`
	Summary    string         `json:"summary"`
	Content    string         `json:"content,omitempty"`
	Confidence float64        `json:"confidence"`
	Impact     *float64       `json:"impact,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// MetricSnapshot is one agent's aggregate at one point in time.
type MetricSnapshot struct {
	ID              int64     `json:"id"`
	AgentID         string    `json:"agent_id"`
	AverageImpact   float64   `json:"average_impact"`
	Consistency     float64   `json:"consistency"`
	ReflectionCount int       `json:"reflection_count"`
	BehaviorCount   int       `json:"behavior_count"`
	CalculatedAt    time.Time `json:"calculated_at"`
}

// LeaderboardRow is one ranked position.
type LeaderboardRow struct {
	AgentID                string    `json:"agent_id"`
	Position               int       `json:"position"`
	RankScore              float64   `json:"rank_score"`
	ImpactAvg              float64   `json:"impact_avg"`
	Consistency            float64   `json:"consistency"`
	ConsistencyRank        int       `json:"consistency_rank"`
	CollaborationWeightSum float64   `json:"collaboration_weight_sum"`
	ComputedAt             time.Time `json:"computed_at"`
}

// Insight is an advisory observation produced alongside a ranking run.
type Insight struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Category  string    `json:"category"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// NewID returns a fresh random identifier.
func NewID() string { return uuid.NewString() }

// Clamp01 limits v to [0,1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Float returns a pointer to v, for optional impact values.
func Float(v float64) *float64 { return &v }

// normalizeAgent applies write-time invariants shared by both stores.
func normalizeAgent(a *Agent) {
	a.Temperature = Clamp01(a.Temperature)
	if a.Version < 1 {
		a.Version = 1
	}
}

// normalizeLink applies write-time invariants shared by both stores.
func normalizeLink(l *Link) {
	if l.ID == "" {
		l.ID = NewID()
	}
	if l.Kind == "" {
		l.Kind = LinkRelay
	}
	if l.Strength <= 0 {
		l.Strength = DefaultLinkStrength
	}
	l.Strength = Clamp01(l.Strength)
}
