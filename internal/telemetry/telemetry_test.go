package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"agentrank/internal/store"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveRun(true)
	m.ObserveRun(true)
	m.ObserveRun(false)
	m.ObserveReflection(store.ReflectionManual)
	m.ObserveTransition(false)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"runs success", testutil.ToFloat64(m.runs.WithLabelValues("true")), 2},
		{"runs failure", testutil.ToFloat64(m.runs.WithLabelValues("false")), 1},
		{"manual reflections", testutil.ToFloat64(m.reflections.WithLabelValues("manual")), 1},
		{"disabled transitions", testutil.ToFloat64(m.transitions.WithLabelValues("disabled")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestSetLeaderboard_Replaces(t *testing.T) {
	m := New()
	m.SetLeaderboard([]store.LeaderboardRow{{AgentID: "a", RankScore: 0.9}, {AgentID: "b", RankScore: 0.4}})
	m.SetLeaderboard([]store.LeaderboardRow{{AgentID: "a", RankScore: 0.7}})

	if n := testutil.CollectAndCount(m.rankScore); n != 1 {
		t.Errorf("gauge series = %d, want 1", n)
	}
	if got := testutil.ToFloat64(m.rankScore.WithLabelValues("a")); got != 0.7 {
		t.Errorf("a = %v, want 0.7", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRun(true)
	m.ObserveReflection("auto")
	m.ObserveTransition(true)
	m.SetLeaderboard(nil)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRun(true)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `agentrank_runs_total{success="true"} 1`) {
		t.Errorf("exposition missing run counter:\n%s", body)
	}
}
