package format_test

import (
	"strings"
	"testing"
	"time"

	"agentrank/internal/format"
	"agentrank/internal/optimizer"
	"agentrank/internal/relay"
	"agentrank/internal/store"
)

func TestTable_Modes(t *testing.T) {
	build := func(m format.Mode) string {
		tb := format.NewTable(m)
		tb.Header("Agent", "Score")
		tb.Row("agent_a", "0.950")
		tb.Row("agent_b", "0.880")
		return tb.String()
	}

	tests := []struct {
		mode    format.Mode
		want    []string
		notWant string
	}{
		{format.ASCII, []string{"agent_a", "0.950", "───"}, "| ---"},
		{format.Markdown, []string{"| agent", "---", "agent_b"}, "───"},
		{format.CSV, []string{"agent,score", "agent_a,0.950"}, "|"},
	}
	for _, tt := range tests {
		out := strings.ToLower(build(tt.mode))
		for _, w := range tt.want {
			if !strings.Contains(out, w) {
				t.Errorf("mode %d: missing %q in:\n%s", tt.mode, w, out)
			}
		}
		if strings.Contains(out, tt.notWant) {
			t.Errorf("mode %d: unexpected %q in:\n%s", tt.mode, tt.notWant, out)
		}
	}
}

func TestTable_FooterInMarkdown(t *testing.T) {
	tb := format.NewTable(format.Markdown)
	tb.Header("Stage", "Agents")
	tb.Row("reflect", 2)
	tb.Footer("total", 2)
	out := tb.String()
	if !strings.Contains(out, "total") {
		t.Errorf("footer missing:\n%s", out)
	}
}

func TestTable_AlignRightPadsLeft(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Header("Name", "Runs")
	tb.Row("agent_a", 7)
	tb.Row("agent_b", 12345)
	tb.AlignRight(2)
	out := tb.String()
	if !strings.Contains(out, "     7 ") {
		t.Errorf("expected right-aligned 7:\n%s", out)
	}
}

func TestTable_WrapCapsWidth(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Header("Output")
	tb.Row(strings.Repeat("x", 50))
	tb.Wrap(1, 10)
	for _, line := range strings.Split(tb.String(), "\n") {
		if strings.Contains(line, strings.Repeat("x", 11)) {
			t.Fatalf("cell not wrapped: %q", line)
		}
	}
}

// --- Helper tests ---

func TestFmtScoreAndImpact(t *testing.T) {
	if got := format.FmtScore(0.875); got != "0.875" {
		t.Errorf("FmtScore = %q", got)
	}
	if got := format.FmtImpact(nil); got != "-" {
		t.Errorf("FmtImpact(nil) = %q", got)
	}
	if got := format.FmtImpact(store.Float(-0.25)); got != "-0.250" {
		t.Errorf("FmtImpact(-0.25) = %q", got)
	}
}

func TestFmtMillis(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0ms"},
		{999, "999ms"},
		{1500, "1s"},
		{61_000, "1m 1s"},
	}
	for _, tc := range tests {
		if got := format.FmtMillis(tc.in); got != tc.want {
			t.Errorf("FmtMillis(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]format.Mode{"": format.ASCII, "table": format.ASCII, "MD": format.Markdown, "markdown": format.Markdown, "csv": format.CSV} {
		got, err := format.ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := format.ParseMode("html"); err == nil {
		t.Error("expected error for html")
	}
}

// --- Domain tables ---

func TestLeaderboard_WithInsights(t *testing.T) {
	rows := []*store.LeaderboardRow{
		{AgentID: "agent_strong", Position: 1, RankScore: 0.95, ImpactAvg: 0.9, Consistency: 1, ConsistencyRank: 1, CollaborationWeightSum: 10},
		{AgentID: "agent_weak", Position: 2, RankScore: 0.44, ImpactAvg: 0.5, Consistency: 0.5, ConsistencyRank: 2, CollaborationWeightSum: 2},
	}
	insights := []*store.Insight{{AgentID: "agent_strong", Category: store.InsightLeader, Summary: "agent_strong leads"}}
	out := format.Leaderboard(format.Markdown, rows, insights)
	for _, want := range []string{"| # ", "agent_strong", "0.950", "0.440", "agent_strong leads", "Category"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(format.Leaderboard(format.ASCII, rows, nil), "Category") {
		t.Error("insight table rendered without insights")
	}
}

func TestCollaboration_ShowsErrors(t *testing.T) {
	out := format.Collaboration(format.ASCII, &relay.CollaborationResult{
		SourceAgent:   "agent_a",
		LinksExecuted: 2,
		Results: []relay.LinkResult{
			{TargetAgent: "agent_b", Kind: "assist", ActionType: "relay", Success: true, Output: "done"},
			{TargetAgent: "agent_c", Kind: "analyze", ActionType: "analyze", Error: "no enabled behavior"},
		},
	})
	for _, want := range []string{"done", "no enabled behavior", "of 2 links succeeded"} {
		if !strings.Contains(strings.ToLower(out), want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestTune_InsufficientHasNoMean(t *testing.T) {
	out := format.Tune(format.Markdown, &optimizer.Result{
		Disabled: 1,
		Decisions: []optimizer.Decision{
			{BehaviorID: "b1", AgentID: "a", Samples: 2, MeanImpact: 0.075, Action: optimizer.ActionDisable, Changed: true},
			{BehaviorID: "b2", AgentID: "a", Samples: 1, Action: optimizer.ActionInsufficient},
		},
	})
	if !strings.Contains(out, "0.075") || !strings.Contains(strings.ToLower(out), "disabled 1") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "0.000") {
		t.Errorf("insufficient decision rendered a mean:\n%s", out)
	}
}

func TestReflections_NilImpact(t *testing.T) {
	out := format.Reflections(format.ASCII, []*store.Reflection{
		{AgentID: "a", Kind: store.ReflectionAuto, Summary: "fine", Confidence: 0.5},
	})
	if !strings.Contains(out, "fine") || !strings.Contains(out, " - ") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{59 * time.Second, "59s"},
		{60 * time.Second, "1m 0s"},
		{90 * time.Second, "1m 30s"},
		{5*time.Minute + 15*time.Second, "5m 15s"},
	}
	for _, tc := range tests {
		got := format.FmtDuration(tc.in)
		if got != tc.want {
			t.Errorf("FmtDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 8, "hello..."},
		{"ab", 3, "ab"},
		{"abcdef", 3, "abc"},
		{"réflexion", 6, "réf..."},
	}
	for _, tc := range tests {
		got := format.Truncate(tc.in, tc.maxLen)
		if got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.maxLen, got, tc.want)
		}
	}
}

func TestBoolMark(t *testing.T) {
	if format.BoolMark(true) != "✓" {
		t.Error("BoolMark(true) should be ✓")
	}
	if format.BoolMark(false) != "✗" {
		t.Error("BoolMark(false) should be ✗")
	}
}
