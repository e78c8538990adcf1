// Package store persists the agent network and the evidence the control loop
// runs on. Domain code depends only on the Store interface; the
// implementation is SQLite (SqlStore) or in-memory (MemStore).
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by mutations addressed at a missing row.
// Getters return (nil, nil) instead.
var ErrNotFound = errors.New("not found")

// Store is the persistence facade for the control loop.
//
// Runs, memories, reflections, metric snapshots, links and insights are
// append-only. Behaviors are mutable only through SetBehaviorEnabled, and the
// leaderboard is replaced wholesale.
type Store interface {
	// SaveAgent inserts or updates an agent. Updating an existing id bumps Version.
	SaveAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)

	CreateLink(ctx context.Context, l *Link) error
	ListLinks(ctx context.Context) ([]*Link, error)
	// ListLinksBySource returns outgoing links, most recent first; limit <= 0 means all.
	ListLinksBySource(ctx context.Context, sourceAgent string, limit int) ([]*Link, error)

	CreateBehavior(ctx context.Context, b *Behavior) error
	GetBehavior(ctx context.Context, id string) (*Behavior, error)
	ListBehaviors(ctx context.Context) ([]*Behavior, error)
	ListBehaviorsByAgent(ctx context.Context, agentID string) ([]*Behavior, error)
	// FindEnabledBehavior returns the most recently updated enabled behavior
	// for (agent, action type), or nil.
	FindEnabledBehavior(ctx context.Context, agentID, actionType string) (*Behavior, error)
	// SetBehaviorEnabled sets the enabled flag and reports whether it changed.
	SetBehaviorEnabled(ctx context.Context, id string, enabled bool) (changed bool, err error)

	InsertRun(ctx context.Context, r *Run) error
	// ListRuns returns the most recent runs first; limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	InsertMemory(ctx context.Context, m *Memory) error
	// ListMemories returns an agent's most recent memory entries first.
	ListMemories(ctx context.Context, agentID string, limit int) ([]*Memory, error)

	InsertReflection(ctx context.Context, r *Reflection) error
	// ListReflections returns the most recent reflections across all agents first.
	ListReflections(ctx context.Context, limit int) ([]*Reflection, error)
	// ListReflectionsByBehavior returns a behavior's most recent reflections first.
	ListReflectionsByBehavior(ctx context.Context, behaviorID string, limit int) ([]*Reflection, error)

	InsertMetricSnapshots(ctx context.Context, snaps []*MetricSnapshot) error
	// LatestMetrics returns the most recent snapshot per agent, ordered by agent id.
	LatestMetrics(ctx context.Context) ([]*MetricSnapshot, error)
	// MetricHistory returns an agent's snapshots, most recent first.
	MetricHistory(ctx context.Context, agentID string, limit int) ([]*MetricSnapshot, error)

	// ReplaceLeaderboard discards the current leaderboard and stores rows.
	ReplaceLeaderboard(ctx context.Context, rows []*LeaderboardRow) error
	// ListLeaderboard returns rows ordered by position; limit <= 0 means all.
	ListLeaderboard(ctx context.Context, limit int) ([]*LeaderboardRow, error)

	InsertInsights(ctx context.Context, insights []*Insight) error
	ListInsights(ctx context.Context, limit int) ([]*Insight, error)

	Close() error
}
