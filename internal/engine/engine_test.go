package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"agentrank/internal/apperr"
	"agentrank/internal/config"
	"agentrank/internal/events"
	"agentrank/internal/logging"
	"agentrank/internal/provider"
	"agentrank/internal/reflection"
	"agentrank/internal/seed"
	"agentrank/internal/store"
	"agentrank/internal/telemetry"
)

const network = `
agents:
  - id: agent_strong
    name: Strong
    prompt: "You are {{.Agent.Name}}."
  - id: agent_weak
    name: Weak
  - id: agent_flaky
    provider: flaky
links:
  - source: agent_strong
    target: agent_weak
    kind: assist
    strength: 0.9
  - source: agent_strong
    target: agent_flaky
    kind: analyze
behaviors:
  - id: beh_weak_relay
    agent: agent_weak
    action_type: relay
    config:
      prompt: Pass it on.
  - id: beh_flaky_analyze
    agent: agent_flaky
    action_type: analyze
`

func impact(v float64) *reflection.Override {
	return &reflection.Override{Summary: "scored", Impact: store.Float(v), Confidence: store.Float(0.9)}
}

func newEngine(s store.Store, rec *events.Recorder) *Engine {
	flaky := provider.Func{ID: "flaky", Fn: func(context.Context, provider.Request) (string, error) {
		return "", errors.New("model overloaded")
	}}
	reg := provider.NewRegistry(provider.Echo{}, flaky)
	e := New(config.Default(), s, reg,
		WithPublisher(rec),
		WithTelemetry(telemetry.New()),
		WithLogger(logging.Discard()),
	)
	n, err := seed.Load([]byte(network), ".yaml")
	gomega.Expect(err).To(gomega.Succeed())
	gomega.Expect(e.Seed(context.Background(), n).Success).To(gomega.BeTrue())
	return e
}

var _ = ginkgo.Describe("Engine", func() {
	var (
		ctx context.Context
		e   *Engine
		rec *events.Recorder
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		rec = &events.Recorder{}
		e = newEngine(store.NewMemStore(), rec)
	})

	ginkgo.Describe("round trip on SQLite", func() {
		ginkgo.It("creates, runs, reflects, aggregates and ranks", func() {
			s, err := store.OpenMemory()
			gomega.Expect(err).To(gomega.Succeed())
			ginkgo.DeferCleanup(s.Close)
			e := newEngine(s, rec)

			created := e.CreateBehavior(ctx, CreateBehaviorInput{
				AgentID:    "agent_strong",
				ActionType: "analyze",
				Config:     map[string]any{"prompt": "Review the draft."},
			})
			gomega.Expect(created.Success).To(gomega.BeTrue(), created.Message)
			gomega.Expect(created.Behavior.Enabled).To(gomega.BeTrue())
			gomega.Expect(created.Behavior.Name).To(gomega.Equal("analyze"))

			run := e.RunBehavior(ctx, created.Behavior.ID, map[string]any{"topic": "ranking"})
			gomega.Expect(run.Success).To(gomega.BeTrue(), run.Message)
			gomega.Expect(run.Outcome.Output).To(gomega.HavePrefix("[echo]"))
			gomega.Expect(run.Behavior.ID).To(gomega.Equal(created.Behavior.ID))

			ref := e.Reflect(ctx, "agent_strong", &reflection.Override{
				Summary:    "review landed well",
				Impact:     store.Float(0.9),
				Confidence: store.Float(0.8),
				BehaviorID: created.Behavior.ID,
			})
			gomega.Expect(ref.Success).To(gomega.BeTrue(), ref.Message)
			gomega.Expect(ref.Reflection.Kind).To(gomega.Equal(store.ReflectionManual))

			m := e.RecomputeMetrics(ctx)
			gomega.Expect(m.Success).To(gomega.BeTrue(), m.Message)
			gomega.Expect(m.Updated).To(gomega.BeNumerically(">=", 1))

			lb := e.RankLeaderboard(ctx)
			gomega.Expect(lb.Success).To(gomega.BeTrue(), lb.Message)
			gomega.Expect(lb.Rows[0].AgentID).To(gomega.Equal("agent_strong"))

			got := e.GetLeaderboard(ctx, 0)
			gomega.Expect(got.Success).To(gomega.BeTrue())
			gomega.Expect(got.Rows).To(gomega.HaveLen(lb.Updated))
			gomega.Expect(got.Insights).NotTo(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("CreateBehavior", func() {
		ginkgo.It("requires agent and action type", func() {
			resp := e.CreateBehavior(ctx, CreateBehaviorInput{AgentID: "agent_weak"})
			gomega.Expect(resp.Success).To(gomega.BeFalse())
			gomega.Expect(resp.Code).To(gomega.Equal(apperr.CodeMissingFields))
		})

		ginkgo.It("rejects unknown agents", func() {
			resp := e.CreateBehavior(ctx, CreateBehaviorInput{AgentID: "ghost", ActionType: "relay"})
			gomega.Expect(resp.Code).To(gomega.Equal(apperr.CodeNotFound))
		})

		ginkgo.It("honours an explicit disabled flag", func() {
			off := false
			resp := e.CreateBehavior(ctx, CreateBehaviorInput{AgentID: "agent_weak", ActionType: "analyze", Enabled: &off})
			gomega.Expect(resp.Success).To(gomega.BeTrue())
			gomega.Expect(resp.Behavior.Enabled).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("RunBehavior", func() {
		ginkgo.It("reports unknown behaviors", func() {
			resp := e.RunBehavior(ctx, "nope", nil)
			gomega.Expect(resp.Code).To(gomega.Equal(apperr.CodeNotFound))
		})

		ginkgo.It("reports provider failures with the failed outcome", func() {
			resp := e.RunBehavior(ctx, "beh_flaky_analyze", nil)
			gomega.Expect(resp.Success).To(gomega.BeFalse())
			gomega.Expect(resp.Code).To(gomega.Equal(apperr.CodeExecutionFailed))
			gomega.Expect(resp.Outcome).NotTo(gomega.BeNil())
			gomega.Expect(resp.Outcome.Success).To(gomega.BeFalse())
			gomega.Expect(resp.Message).To(gomega.ContainSubstring("model overloaded"))
		})

		ginkgo.It("turns a panic into INTERNAL", func() {
			panicky := provider.Func{ID: "echo", Fn: func(context.Context, provider.Request) (string, error) {
				panic("boom")
			}}
			s := store.NewMemStore()
			pe := New(config.Default(), s, provider.NewRegistry(panicky), WithLogger(logging.Discard()))
			n, _ := seed.Load([]byte(network), ".yaml")
			gomega.Expect(pe.Seed(ctx, n).Success).To(gomega.BeTrue())

			var resp RunBehaviorResponse
			gomega.Expect(func() { resp = pe.RunBehavior(ctx, "beh_weak_relay", nil) }).NotTo(gomega.Panic())
			gomega.Expect(resp.Success).To(gomega.BeFalse())
			gomega.Expect(resp.Code).To(gomega.Equal(apperr.CodeInternal))
			gomega.Expect(resp.Message).To(gomega.ContainSubstring("boom"))
		})
	})

	ginkgo.Describe("Relay and Collaborate", func() {
		ginkgo.It("relays a message to the receiver", func() {
			resp := e.Relay(ctx, "", "agent_strong", "agent_weak", "status?")
			gomega.Expect(resp.Success).To(gomega.BeTrue(), resp.Message)
			gomega.Expect(resp.Reply.ConversationID).NotTo(gomega.BeEmpty())
			gomega.Expect(resp.Reply.Reply).To(gomega.Equal("[echo] status?"))
		})

		ginkgo.It("rejects an empty relay", func() {
			resp := e.Relay(ctx, "", "agent_strong", "", "")
			gomega.Expect(resp.Code).To(gomega.Equal(apperr.CodeMissingFields))
		})

		ginkgo.It("isolates per-link failures", func() {
			resp := e.Collaborate(ctx, "agent_strong", 0)
			gomega.Expect(resp.Success).To(gomega.BeTrue(), resp.Message)
			gomega.Expect(resp.LinksExecuted).To(gomega.Equal(2))

			byTarget := map[string]bool{}
			for _, r := range resp.Results {
				byTarget[r.TargetAgent] = r.Success
			}
			gomega.Expect(byTarget).To(gomega.Equal(map[string]bool{"agent_weak": true, "agent_flaky": false}))
		})

		ginkgo.It("requires a source agent", func() {
			resp := e.Collaborate(ctx, "", 0)
			gomega.Expect(resp.Code).To(gomega.Equal(apperr.CodeMissingSourceAgent))
		})
	})

	ginkgo.Describe("TuneBehaviors", func() {
		ginkgo.It("disables a low-impact behavior once and publishes the transition", func() {
			for _, v := range []float64{0.1, 0.05} {
				o := impact(v)
				o.BehaviorID = "beh_weak_relay"
				gomega.Expect(e.Reflect(ctx, "agent_weak", o).Success).To(gomega.BeTrue())
			}

			first := e.TuneBehaviors(ctx)
			gomega.Expect(first.Success).To(gomega.BeTrue())
			gomega.Expect(first.Disabled).To(gomega.Equal(1))

			second := e.TuneBehaviors(ctx)
			gomega.Expect(second.Disabled).To(gomega.BeZero())
			gomega.Expect(second.Boosted).To(gomega.BeZero())

			gomega.Expect(rec.OfType(events.TypeBehaviorDisabled)).To(gomega.HaveLen(1))

			// Autonomous collaboration now finds nothing enabled on agent_weak.
			collab := e.Collaborate(ctx, "agent_strong", 0)
			for _, r := range collab.Results {
				if r.TargetAgent == "agent_weak" {
					gomega.Expect(r.Success).To(gomega.BeFalse())
					gomega.Expect(r.Error).To(gomega.ContainSubstring("no enabled behavior"))
				}
			}
		})

		ginkgo.It("keeps a high-impact behavior enabled", func() {
			for _, v := range []float64{0.9, 0.85} {
				o := impact(v)
				o.BehaviorID = "beh_weak_relay"
				gomega.Expect(e.Reflect(ctx, "agent_weak", o).Success).To(gomega.BeTrue())
			}
			resp := e.TuneBehaviors(ctx)
			gomega.Expect(resp.Disabled).To(gomega.BeZero())
			list := e.ListBehaviors(ctx)
			for _, b := range list.Behaviors {
				if b.ID == "beh_weak_relay" {
					gomega.Expect(b.Enabled).To(gomega.BeTrue())
				}
			}
		})
	})

	ginkgo.Describe("RunCycle", func() {
		ginkgo.It("runs every stage and isolates failing reflections", func() {
			resp := e.RunCycle(ctx)
			gomega.Expect(resp.Success).To(gomega.BeTrue(), resp.Message)
			gomega.Expect(resp.Stage).To(gomega.Equal(StageDone))
			gomega.Expect(resp.Reflections.Reflected).To(gomega.Equal(2))
			gomega.Expect(resp.Reflections.Failed).To(gomega.Equal(1))
			gomega.Expect(resp.MetricsUpdated).To(gomega.Equal(3))
			gomega.Expect(resp.Ranked).To(gomega.Equal(3))

			refs := e.ListReflections(ctx, 0)
			gomega.Expect(refs.Reflections).To(gomega.HaveLen(2))
			for _, r := range refs.Reflections {
				gomega.Expect(strings.Contains(r.Summary, "echo")).To(gomega.BeTrue())
			}
			gomega.Expect(rec.OfType(events.TypeLeaderboardRanked)).To(gomega.HaveLen(1))
		})
	})

	ginkgo.Describe("Seed", func() {
		ginkgo.It("reports invalid networks without writing", func() {
			resp := e.Seed(ctx, &seed.Network{Links: []seed.Link{{Source: "ghost", Target: "agent_weak"}}})
			gomega.Expect(resp.Code).To(gomega.Equal(apperr.CodeInvalidInput))
			agents := e.ListAgents(ctx)
			gomega.Expect(agents.Agents).To(gomega.HaveLen(3))
		})
	})
})
