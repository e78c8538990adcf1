package mcp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"agentrank/internal/logging"
)

func TestWatchParent_CancelsWhenParentChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pid atomic.Int64
	pid.Store(100)
	watchParent(ctx, 5*time.Millisecond, cancel, logging.Discard(), func() int { return int(pid.Load()) })

	pid.Store(1)
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after parent change")
	}
}

func TestWatchParent_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	watchParent(ctx, 5*time.Millisecond, cancel, logging.Discard(), func() int {
		calls.Add(1)
		return 7
	})
	cancel()
	time.Sleep(30 * time.Millisecond)
	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != n {
		t.Error("watcher kept polling after cancel")
	}
}
