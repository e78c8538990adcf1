package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// WatchParent polls the parent PID and calls cancel when it changes, so a
// stdio server does not outlive the client that spawned it. It never reads
// stdin; the stdio transport owns it. The goroutine exits when ctx is done.
func WatchParent(ctx context.Context, interval time.Duration, cancel context.CancelFunc, logger *slog.Logger) {
	watchParent(ctx, interval, cancel, logger, os.Getppid)
}

func watchParent(ctx context.Context, interval time.Duration, cancel context.CancelFunc, logger *slog.Logger, getppid func() int) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ppid := getppid()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if getppid() != ppid {
					logger.Warn("parent process exited, shutting down", "parent_pid", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
