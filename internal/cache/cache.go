// Package cache holds the behavior lookup cache used by autonomous execution.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"agentrank/internal/store"
)

// DefaultTTL is used when New is given a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// BehaviorCache caches the enabled behavior for an (agent, action type) pair.
// Only hits are cached; a lookup that finds nothing always goes to the store.
// Entries expire after the TTL and are dropped explicitly on any enable,
// disable or create affecting the pair.
type BehaviorCache struct {
	c *gocache.Cache
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration) *BehaviorCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BehaviorCache{c: gocache.New(ttl, 2*ttl)}
}

func key(agentID, actionType string) string {
	return agentID + "\x00" + actionType
}

// Get returns a copy of the cached behavior, if present.
func (bc *BehaviorCache) Get(agentID, actionType string) (*store.Behavior, bool) {
	v, ok := bc.c.Get(key(agentID, actionType))
	if !ok {
		return nil, false
	}
	b := *v.(*store.Behavior)
	return &b, true
}

// Set stores b under its own agent and action type.
func (bc *BehaviorCache) Set(b *store.Behavior) {
	if b == nil {
		return
	}
	cp := *b
	bc.c.SetDefault(key(b.AgentID, b.ActionType), &cp)
}

// Invalidate drops the entry for the pair.
func (bc *BehaviorCache) Invalidate(agentID, actionType string) {
	bc.c.Delete(key(agentID, actionType))
}

// Flush drops every entry.
func (bc *BehaviorCache) Flush() { bc.c.Flush() }

// Len reports the number of live entries.
func (bc *BehaviorCache) Len() int { return bc.c.ItemCount() }

// Lookup returns the enabled behavior for the pair, consulting the cache first
// and filling it from s on a hit in the store.
func (bc *BehaviorCache) Lookup(ctx context.Context, s store.Store, agentID, actionType string) (*store.Behavior, error) {
	if b, ok := bc.Get(agentID, actionType); ok {
		return b, nil
	}
	b, err := s.FindEnabledBehavior(ctx, agentID, actionType)
	if err != nil {
		return nil, err
	}
	if b != nil {
		bc.Set(b)
	}
	return b, nil
}
