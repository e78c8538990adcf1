package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for tests and dry runs.
// Append-only tables are slices in insertion order, so "most recent first"
// means iterating backwards.
type MemStore struct {
	mu  sync.Mutex
	now func() time.Time

	agents      map[string]*Agent
	behaviors   map[string]*Behavior
	behaviorSeq map[string]int64
	seq         int64

	links       []*Link
	runs        []*Run
	memories    []*Memory
	reflections []*Reflection
	snapshots   []*MetricSnapshot
	leaderboard []*LeaderboardRow
	insights    []*Insight
	nextSnap    int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		now:         time.Now,
		agents:      make(map[string]*Agent),
		behaviors:   make(map[string]*Behavior),
		behaviorSeq: make(map[string]int64),
	}
}

// SetClock overrides the store's time source, for deterministic tests.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemStore) Close() error { return nil }

// --- Agents ---

func (s *MemStore) SaveAgent(_ context.Context, a *Agent) error {
	if a == nil || a.ID == "" {
		return errors.New("agent id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	normalizeAgent(a)
	now := s.now().UTC()
	if prev, ok := s.agents[a.ID]; ok {
		a.Version = prev.Version + 1
		a.CreatedAt = prev.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (s *MemStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemStore) ListAgents(_ context.Context) ([]*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Links ---

func (s *MemStore) CreateLink(_ context.Context, l *Link) error {
	if l == nil || l.SourceAgent == "" || l.TargetAgent == "" {
		return errors.New("link source and target are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	normalizeLink(l)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}
	cp := *l
	s.links = append(s.links, &cp)
	return nil
}

// newestFirst copies the kept items sorted by time descending; items with
// equal timestamps come out in reverse insertion order.
func newestFirst[T any](items []*T, at func(*T) time.Time, keep func(*T) bool, limit int) []*T {
	out := make([]*T, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if keep == nil || keep(items[i]) {
			cp := *items[i]
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return at(out[i]).After(at(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func linkTime(l *Link) time.Time { return l.CreatedAt }

func (s *MemStore) ListLinks(_ context.Context) ([]*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.links, linkTime, nil, 0), nil
}

func (s *MemStore) ListLinksBySource(_ context.Context, sourceAgent string, limit int) ([]*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.links, linkTime, func(l *Link) bool { return l.SourceAgent == sourceAgent }, limit), nil
}

// --- Behaviors ---

func copyBehavior(b *Behavior) *Behavior {
	cp := *b
	if b.Config != nil {
		cp.Config = maps.Clone(b.Config)
	}
	return &cp
}

func (s *MemStore) CreateBehavior(_ context.Context, b *Behavior) error {
	if b == nil || b.AgentID == "" || b.ActionType == "" {
		return errors.New("behavior agent_id and action_type are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = NewID()
	}
	if _, dup := s.behaviors[b.ID]; dup {
		return fmt.Errorf("behavior %s already exists", b.ID)
	}
	if b.Version < 1 {
		b.Version = 1
	}
	now := s.now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	s.seq++
	s.behaviorSeq[b.ID] = s.seq
	s.behaviors[b.ID] = copyBehavior(b)
	return nil
}

func (s *MemStore) GetBehavior(_ context.Context, id string) (*Behavior, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.behaviors[id]
	if !ok {
		return nil, nil
	}
	return copyBehavior(b), nil
}

// sortedBehaviors returns matching behaviors in creation order.
func (s *MemStore) sortedBehaviors(keep func(*Behavior) bool) []*Behavior {
	var out []*Behavior
	for _, b := range s.behaviors {
		if keep == nil || keep(b) {
			out = append(out, copyBehavior(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.behaviorSeq[out[i].ID] < s.behaviorSeq[out[j].ID] })
	return out
}

func (s *MemStore) ListBehaviors(_ context.Context) ([]*Behavior, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sortedBehaviors(nil)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *MemStore) ListBehaviorsByAgent(_ context.Context, agentID string) ([]*Behavior, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedBehaviors(func(b *Behavior) bool { return b.AgentID == agentID }), nil
}

func (s *MemStore) FindEnabledBehavior(_ context.Context, agentID, actionType string) (*Behavior, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Behavior
	for _, b := range s.behaviors {
		if b.AgentID != agentID || b.ActionType != actionType || !b.Enabled {
			continue
		}
		if best == nil || b.UpdatedAt.After(best.UpdatedAt) ||
			(b.UpdatedAt.Equal(best.UpdatedAt) && s.behaviorSeq[b.ID] > s.behaviorSeq[best.ID]) {
			best = b
		}
	}
	if best == nil {
		return nil, nil
	}
	return copyBehavior(best), nil
}

func (s *MemStore) SetBehaviorEnabled(_ context.Context, id string, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.behaviors[id]
	if !ok {
		return false, fmt.Errorf("behavior %s: %w", id, ErrNotFound)
	}
	if b.Enabled == enabled {
		return false, nil
	}
	b.Enabled = enabled
	b.Version++
	b.UpdatedAt = s.now().UTC()
	return true, nil
}

// --- Runs ---

func (s *MemStore) InsertRun(_ context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	cp := *r
	s.runs = append(s.runs, &cp)
	return nil
}

func (s *MemStore) ListRuns(_ context.Context, limit int) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.runs, func(r *Run) time.Time { return r.CreatedAt }, nil, limit), nil
}

// --- Memories ---

func (s *MemStore) InsertMemory(_ context.Context, m *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	cp := *m
	s.memories = append(s.memories, &cp)
	return nil
}

func (s *MemStore) ListMemories(_ context.Context, agentID string, limit int) ([]*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.memories, func(m *Memory) time.Time { return m.CreatedAt },
		func(m *Memory) bool { return m.AgentID == agentID }, limit), nil
}

// --- Reflections ---

func (s *MemStore) InsertReflection(_ context.Context, r *Reflection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	r.Confidence = Clamp01(r.Confidence)
	reflectionMetadata(r)
	cp := *r
	cp.Metadata = maps.Clone(r.Metadata)
	if r.Impact != nil {
		cp.Impact = Float(*r.Impact)
	}
	s.reflections = append(s.reflections, &cp)
	return nil
}

func reflectionTime(r *Reflection) time.Time { return r.CreatedAt }

func (s *MemStore) ListReflections(_ context.Context, limit int) ([]*Reflection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.reflections, reflectionTime, nil, limit), nil
}

func (s *MemStore) ListReflectionsByBehavior(_ context.Context, behaviorID string, limit int) ([]*Reflection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.reflections, reflectionTime,
		func(r *Reflection) bool { return r.BehaviorID == behaviorID }, limit), nil
}

// --- Metric snapshots ---

func (s *MemStore) InsertMetricSnapshots(_ context.Context, snaps []*MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range snaps {
		s.nextSnap++
		m.ID = s.nextSnap
		if m.CalculatedAt.IsZero() {
			m.CalculatedAt = s.now().UTC()
		}
		cp := *m
		s.snapshots = append(s.snapshots, &cp)
	}
	return nil
}

func (s *MemStore) LatestMetrics(_ context.Context) ([]*MetricSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[string]*MetricSnapshot)
	for _, m := range s.snapshots {
		latest[m.AgentID] = m
	}
	out := make([]*MetricSnapshot, 0, len(latest))
	for _, m := range latest {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *MemStore) MetricHistory(_ context.Context, agentID string, limit int) ([]*MetricSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*MetricSnapshot
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if s.snapshots[i].AgentID != agentID {
			continue
		}
		cp := *s.snapshots[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Leaderboard ---

func (s *MemStore) ReplaceLeaderboard(_ context.Context, rows []*LeaderboardRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboard = make([]*LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		cp := *r
		s.leaderboard = append(s.leaderboard, &cp)
	}
	sort.SliceStable(s.leaderboard, func(i, j int) bool { return s.leaderboard[i].Position < s.leaderboard[j].Position })
	return nil
}

func (s *MemStore) ListLeaderboard(_ context.Context, limit int) ([]*LeaderboardRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.leaderboard)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*LeaderboardRow, 0, n)
	for _, r := range s.leaderboard[:n] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// --- Insights ---

func (s *MemStore) InsertInsights(_ context.Context, insights []*Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range insights {
		if in.ID == "" {
			in.ID = NewID()
		}
		if in.CreatedAt.IsZero() {
			in.CreatedAt = s.now().UTC()
		}
		cp := *in
		s.insights = append(s.insights, &cp)
	}
	return nil
}

func (s *MemStore) ListInsights(_ context.Context, limit int) ([]*Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.insights, func(in *Insight) time.Time { return in.CreatedAt }, nil, limit), nil
}
