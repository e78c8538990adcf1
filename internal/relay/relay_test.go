package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"agentrank/internal/apperr"
	"agentrank/internal/logging"
	"agentrank/internal/provider"
	"agentrank/internal/store"
)

// scripted is a provider whose replies are set per test; it records every request.
type scripted struct {
	mu    sync.Mutex
	reqs  []provider.Request
	reply func(req provider.Request) (string, error)
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Generate(_ context.Context, req provider.Request) (string, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.reply == nil {
		return "done", nil
	}
	return s.reply(req)
}

func (s *scripted) requests() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Request(nil), s.reqs...)
}

type fixture struct {
	relay *Relay
	store *store.MemStore
	prov  *scripted
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := store.NewMemStore()
	p := &scripted{}
	reg := provider.NewRegistry(p, provider.Echo{})
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return &fixture{relay: New(s, reg, opts...), store: s, prov: p}
}

func (f *fixture) agent(t *testing.T, id, prompt string) *store.Agent {
	t.Helper()
	a := &store.Agent{ID: id, Name: strings.TrimPrefix(id, "agent_"), Prompt: prompt, Provider: "scripted", Temperature: 0.3, Enabled: true}
	if err := f.store.SaveAgent(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func (f *fixture) behavior(t *testing.T, agentID, action string, enabled bool, cfg map[string]any) *store.Behavior {
	t.Helper()
	b := &store.Behavior{AgentID: agentID, Name: action + "-task", ActionType: action, TriggerType: "manual", Enabled: enabled, Config: cfg}
	if err := f.store.CreateBehavior(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	return b
}

func (f *fixture) runs(t *testing.T) []*store.Run {
	t.Helper()
	runs, err := f.store.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	return runs
}

func TestRunBehavior_Success(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "agent_writer", "You write copy.")
	b := f.behavior(t, "agent_writer", "relay", true, map[string]any{"prompt": "Draft a tagline."})

	out, err := f.relay.RunBehavior(context.Background(), b.ID, map[string]any{"topic": "go"}, RunOptions{})
	if err != nil {
		t.Fatalf("RunBehavior: %v", err)
	}
	if !out.Success || out.Output != "done" || out.RunID == "" {
		t.Errorf("outcome = %+v", out)
	}

	reqs := f.prov.requests()
	if len(reqs) != 1 {
		t.Fatalf("provider calls = %d", len(reqs))
	}
	if reqs[0].System != "You write copy." || reqs[0].Temperature != 0.3 {
		t.Errorf("request = %+v", reqs[0])
	}
	for _, want := range []string{"Draft a tagline.", "Parameters:", `"topic": "go"`} {
		if !strings.Contains(reqs[0].Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, reqs[0].Prompt)
		}
	}

	runs := f.runs(t)
	if len(runs) != 1 || !runs[0].Success || runs[0].BehaviorID != b.ID {
		t.Errorf("runs = %+v", runs)
	}
	mems, _ := f.store.ListMemories(context.Background(), "agent_writer", 0)
	if len(mems) != 1 || mems[0].Kind != store.MemoryOutcome {
		t.Errorf("memories = %+v", mems)
	}
}

func TestRunBehavior_TemplateConsumesParams(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "agent_writer", "You are {{.Agent.Name}}. Topic: {{.Params.topic}}.{{.Params.absent}} Tone: {{.Config.tone}}")
	b := f.behavior(t, "agent_writer", "relay", true, map[string]any{"tone": "dry"})

	if _, err := f.relay.RunBehavior(context.Background(), b.ID, map[string]any{"topic": "ranking"}, RunOptions{}); err != nil {
		t.Fatal(err)
	}
	req := f.prov.requests()[0]
	if req.System != "You are writer. Topic: ranking. Tone: dry" {
		t.Errorf("system = %q", req.System)
	}
	if strings.Contains(req.Prompt, "Parameters:") {
		t.Errorf("params appended although template references them:\n%s", req.Prompt)
	}
}

func TestRunBehavior_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.prov.reply = func(provider.Request) (string, error) { return "", errors.New("HTTP 503") }
	f.agent(t, "agent_writer", "p")
	b := f.behavior(t, "agent_writer", "relay", true, nil)

	out, err := f.relay.RunBehavior(context.Background(), b.ID, nil, RunOptions{})
	if !apperr.IsUpstream(err) || apperr.CodeOf(err) != apperr.CodeExecutionFailed {
		t.Fatalf("err = %v (code %s), want upstream EXECUTION_FAILED", err, apperr.CodeOf(err))
	}
	if out == nil || out.Success || !strings.Contains(out.Error, "HTTP 503") {
		t.Errorf("outcome = %+v", out)
	}
	runs := f.runs(t)
	if len(runs) != 1 || runs[0].Success || runs[0].Error == "" {
		t.Errorf("runs = %+v", runs)
	}
	mems, _ := f.store.ListMemories(context.Background(), "agent_writer", 0)
	if len(mems) != 1 || mems[0].Kind != store.MemoryFailure {
		t.Errorf("memories = %+v", mems)
	}
}

func TestRunBehavior_UnknownProviderRecordsFailedRun(t *testing.T) {
	f := newFixture(t)
	a := &store.Agent{ID: "agent_x", Name: "x", Provider: "nowhere", Enabled: true}
	if err := f.store.SaveAgent(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	b := f.behavior(t, "agent_x", "analyze", true, nil)

	_, err := f.relay.RunBehavior(context.Background(), b.ID, nil, RunOptions{})
	if apperr.CodeOf(err) != apperr.CodeExecutionFailed {
		t.Fatalf("code = %s", apperr.CodeOf(err))
	}
	if runs := f.runs(t); len(runs) != 1 || runs[0].Success {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRunBehavior_Rejections(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "agent_writer", "p")
	disabled := f.behavior(t, "agent_writer", "relay", false, nil)
	orphan := &store.Behavior{AgentID: "agent_ghost", Name: "o", ActionType: "relay", Enabled: true}
	if err := f.store.CreateBehavior(context.Background(), orphan); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		id       string
		opts     RunOptions
		wantCode string
	}{
		{"empty id", "", RunOptions{}, apperr.CodeMissingFields},
		{"unknown behavior", "missing", RunOptions{}, apperr.CodeNotFound},
		{"unknown agent", orphan.ID, RunOptions{}, apperr.CodeNotFound},
		{"autonomous disabled", disabled.ID, RunOptions{Autonomous: true}, apperr.CodeBehaviorDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.relay.RunBehavior(context.Background(), tt.id, nil, tt.opts)
			if got := apperr.CodeOf(err); got != tt.wantCode {
				t.Errorf("code = %q, want %q (err %v)", got, tt.wantCode, err)
			}
		})
	}
	if runs := f.runs(t); len(runs) != 0 {
		t.Errorf("rejected calls wrote %d runs", len(runs))
	}

	// An operator may still run a disabled behavior by hand.
	if _, err := f.relay.RunBehavior(context.Background(), disabled.ID, nil, RunOptions{}); err != nil {
		t.Errorf("manual run of disabled behavior: %v", err)
	}
}

func TestRelay_Message(t *testing.T) {
	f := newFixture(t)
	f.prov.reply = func(req provider.Request) (string, error) { return "ack: " + req.Prompt, nil }
	f.agent(t, "agent_a", "You are A.")
	f.agent(t, "agent_b", "You are B.")

	reply, err := f.relay.Relay(context.Background(), "", "agent_a", "agent_b", "status?")
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if reply.ConversationID == "" || reply.Receiver != "agent_b" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Reply != "ack: Message from a:\nstatus?" {
		t.Errorf("reply text = %q", reply.Reply)
	}

	runs := f.runs(t)
	if len(runs) != 1 || runs[0].ConversationID != reply.ConversationID || runs[0].BehaviorID != "" || runs[0].SenderAgent != "agent_a" {
		t.Errorf("runs = %+v", runs)
	}
	mems, _ := f.store.ListMemories(context.Background(), "agent_b", 0)
	if len(mems) != 1 || mems[0].Kind != store.MemoryMessage {
		t.Errorf("receiver memories = %+v", mems)
	}

	again, err := f.relay.Relay(context.Background(), reply.ConversationID, "agent_b", "agent_a", "fine")
	if err != nil || again.ConversationID != reply.ConversationID {
		t.Errorf("continued conversation = %+v, %v", again, err)
	}
}

func TestRelay_Validation(t *testing.T) {
	f := newFixture(t)
	f.agent(t, "agent_a", "p")

	if _, err := f.relay.Relay(context.Background(), "", "agent_a", "", "x"); apperr.CodeOf(err) != apperr.CodeMissingFields {
		t.Errorf("missing receiver: %v", err)
	}
	if _, err := f.relay.Relay(context.Background(), "", "agent_a", "agent_z", "x"); !apperr.IsNotFound(err) {
		t.Errorf("unknown receiver: %v", err)
	}
	if runs := f.runs(t); len(runs) != 0 {
		t.Errorf("runs = %d, want 0", len(runs))
	}
}

func TestRelay_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.prov.reply = func(provider.Request) (string, error) { return "", errors.New("timeout") }
	f.agent(t, "agent_a", "p")
	f.agent(t, "agent_b", "p")

	_, err := f.relay.Relay(context.Background(), "c1", "agent_a", "agent_b", "hi")
	if apperr.CodeOf(err) != apperr.CodeExecutionFailed {
		t.Fatalf("err = %v", err)
	}
	if runs := f.runs(t); len(runs) != 1 || runs[0].Success {
		t.Errorf("runs = %+v", runs)
	}
}

func TestDurationRecorded(t *testing.T) {
	ticks := []time.Time{time.Unix(0, 0), time.Unix(0, int64(1500*time.Millisecond))}
	i := 0
	clock := func() time.Time {
		t := ticks[i%len(ticks)]
		i++
		return t
	}
	f := newFixture(t, WithClock(clock))
	f.agent(t, "agent_a", "p")
	b := f.behavior(t, "agent_a", "relay", true, nil)

	out, err := f.relay.RunBehavior(context.Background(), b.ID, nil, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.DurationMS != 1500 {
		t.Errorf("duration = %d, want 1500", out.DurationMS)
	}
}
