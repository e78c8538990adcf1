package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"agentrank/internal/apperr"
	"agentrank/internal/store"
)

func (f *fixture) link(t *testing.T, source, target, kind string, at time.Time) *store.Link {
	t.Helper()
	l := &store.Link{SourceAgent: source, TargetAgent: target, Kind: kind, Strength: 0.8, Context: "launch", CreatedAt: at}
	if err := f.store.CreateLink(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	return l
}

func TestActionForKind(t *testing.T) {
	tests := map[string]string{
		store.LinkAssist:  store.LinkRelay,
		store.LinkRelay:   store.LinkRelay,
		store.LinkAnalyze: store.LinkAnalyze,
		"review":          "review",
	}
	for kind, want := range tests {
		if got := ActionForKind(kind); got != want {
			t.Errorf("ActionForKind(%q) = %q, want %q", kind, got, want)
		}
	}
}

func TestCollaborate_NoEnabledBehavior(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "agent_orchestrator", "p")
	f.agent(t, "agent_idle", "p")
	f.link(t, "agent_orchestrator", "agent_idle", store.LinkAnalyze, time.Now())

	res, err := f.relay.Collaborate(context.Background(), "agent_orchestrator", 0)
	if err != nil {
		t.Fatalf("Collaborate: %v", err)
	}
	if res.LinksExecuted != 1 || len(res.Results) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Results[0].Success || res.Results[0].Error != ErrNoEnabledBehavior {
		t.Errorf("link result = %+v", res.Results[0])
	}
	if runs := f.runs(t); len(runs) != 0 {
		t.Errorf("runs = %d, want 0", len(runs))
	}
}

func TestCollaborate_MixedLinksKeepOrder(t *testing.T) {
	for _, parallel := range []int{1, 4} {
		t.Run("parallel", func(t *testing.T) {
			f := newFixture(t, WithParallel(parallel))
			f.agent(t, "agent_orchestrator", "p")
			f.agent(t, "agent_writer", "p")
			f.agent(t, "agent_analyst", "p")
			f.agent(t, "agent_idle", "p")
			writerB := f.behavior(t, "agent_writer", store.LinkRelay, true, nil)
			analystB := f.behavior(t, "agent_analyst", store.LinkAnalyze, true, nil)

			base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
			f.link(t, "agent_orchestrator", "agent_idle", store.LinkRelay, base)
			f.link(t, "agent_orchestrator", "agent_analyst", store.LinkAnalyze, base.Add(time.Minute))
			f.link(t, "agent_orchestrator", "agent_writer", store.LinkAssist, base.Add(2*time.Minute))

			res, err := f.relay.Collaborate(context.Background(), "agent_orchestrator", 0)
			if err != nil {
				t.Fatalf("Collaborate: %v", err)
			}
			type row struct {
				Target, Action, Behavior string
				Success                  bool
			}
			var got []row
			for _, r := range res.Results {
				got = append(got, row{r.TargetAgent, r.ActionType, r.BehaviorID, r.Success})
			}
			want := []row{
				{"agent_writer", store.LinkRelay, writerB.ID, true},
				{"agent_analyst", store.LinkAnalyze, analystB.ID, true},
				{"agent_idle", store.LinkRelay, "", false},
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("results mismatch (-want +got):\n%s", diff)
			}
			if res.LinksExecuted != 3 {
				t.Errorf("LinksExecuted = %d, want 3", res.LinksExecuted)
			}
			if runs := f.runs(t); len(runs) != 2 {
				t.Errorf("runs = %d, want 2", len(runs))
			}
			for _, req := range f.prov.requests() {
				if !strings.Contains(req.Prompt, `"trigger": "collaborate"`) || !strings.Contains(req.Prompt, `"source_agent": "agent_orchestrator"`) {
					t.Errorf("collaborate params missing from prompt:\n%s", req.Prompt)
				}
			}
		})
	}
}

func TestCollaborate_MaxLinks(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "agent_orchestrator", "p")
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, target := range []string{"agent_a", "agent_b", "agent_c"} {
		f.link(t, "agent_orchestrator", target, store.LinkRelay, base.Add(time.Duration(i)*time.Minute))
	}

	res, err := f.relay.Collaborate(context.Background(), "agent_orchestrator", 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.LinksExecuted != 2 || res.Results[0].TargetAgent != "agent_c" || res.Results[1].TargetAgent != "agent_b" {
		t.Errorf("result = %+v", res)
	}
}

func TestCollaborate_MissingSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.relay.Collaborate(context.Background(), "", 0)
	if apperr.CodeOf(err) != apperr.CodeMissingSourceAgent {
		t.Errorf("err = %v, want MISSING_SOURCE_AGENT", err)
	}
}

func TestCollaborate_StaleCacheEntryRejected(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "agent_orchestrator", "p")
	f.agent(t, "agent_writer", "p")
	b := f.behavior(t, "agent_writer", store.LinkRelay, true, nil)
	f.link(t, "agent_orchestrator", "agent_writer", store.LinkRelay, time.Now())

	// Warm the cache, then disable behind its back.
	if _, err := f.relay.Cache().Lookup(context.Background(), f.store, "agent_writer", store.LinkRelay); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.SetBehaviorEnabled(context.Background(), b.ID, false); err != nil {
		t.Fatal(err)
	}

	res, err := f.relay.Collaborate(context.Background(), "agent_orchestrator", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Results[0]; got.Success || got.Error != ErrNoEnabledBehavior || got.BehaviorID != "" {
		t.Errorf("result = %+v", got)
	}
	if _, ok := f.relay.Cache().Get("agent_writer", store.LinkRelay); ok {
		t.Error("stale cache entry not invalidated")
	}
	if runs := f.runs(t); len(runs) != 0 {
		t.Errorf("runs = %d, want 0", len(runs))
	}
}

func TestCollaborate_StaleCacheEntryFallsBackToEnabledBehavior(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "agent_orchestrator", "p")
	f.agent(t, "agent_writer", "p")
	stale := f.behavior(t, "agent_writer", store.LinkRelay, true, nil)
	f.link(t, "agent_orchestrator", "agent_writer", store.LinkRelay, time.Now())

	if _, err := f.relay.Cache().Lookup(context.Background(), f.store, "agent_writer", store.LinkRelay); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.SetBehaviorEnabled(context.Background(), stale.ID, false); err != nil {
		t.Fatal(err)
	}
	fresh := f.behavior(t, "agent_writer", store.LinkRelay, true, nil)

	res, err := f.relay.Collaborate(context.Background(), "agent_orchestrator", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Results[0]; !got.Success || got.BehaviorID != fresh.ID {
		t.Errorf("result = %+v, want success on %s", got, fresh.ID)
	}
	if b, ok := f.relay.Cache().Get("agent_writer", store.LinkRelay); !ok || b.ID != fresh.ID {
		t.Errorf("cache entry = %+v, %v; want %s", b, ok, fresh.ID)
	}
	if runs := f.runs(t); len(runs) != 1 || runs[0].BehaviorID != fresh.ID {
		t.Errorf("runs = %+v", runs)
	}
}
