// Package events publishes control-loop notifications (insights, behavior
// transitions, ranking runs) for outside consumers. Nothing in the loop reads
// them back, and publish failures are logged rather than returned.
package events

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Event types.
const (
	TypeInsightCreated    = "insight.created"
	TypeBehaviorEnabled   = "behavior.enabled"
	TypeBehaviorDisabled  = "behavior.disabled"
	TypeLeaderboardRanked = "leaderboard.ranked"
)

// Event is one notification.
type Event struct {
	Type       string         `json:"type"`
	AgentID    string         `json:"agent_id,omitempty"`
	BehaviorID string         `json:"behavior_id,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	At         time.Time      `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps published events in memory, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// OfType returns the published events of type t.
func (r *Recorder) OfType(t string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
