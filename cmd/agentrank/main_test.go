package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testNetwork = `
agents:
  - id: agent_a
    name: Alpha
  - id: agent_b
    name: Beta
links:
  - source: agent_a
    target: agent_b
behaviors:
  - id: beh_b
    agent: agent_b
    action_type: relay
    config:
      prompt: Say hello.
`

// isolate points config discovery and the database at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("AGENTRANK_CONFIG", filepath.Join(dir, "missing.yaml"))
	t.Setenv("AGENTRANK_DB_PATH", "")
	t.Setenv("AGENTRANK_NATS_URL", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func seedNetwork(t *testing.T, dir, db string) {
	t.Helper()
	path := filepath.Join(dir, "network.yaml")
	if err := os.WriteFile(path, []byte(testNetwork), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--db", db, "seed", "-f", path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "Seeded 2 agent(s), 1 link(s), 1 behavior(s)") {
		t.Fatalf("seed output = %q", out)
	}
}

func TestCLI_SeedListAndRun(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "agentrank.db")
	seedNetwork(t, dir, db)

	out, err := execute(t, "--db", db, "--json", "agents")
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	var agents struct {
		Success bool `json:"success"`
		Agents  []struct {
			ID string `json:"id"`
		} `json:"agents"`
	}
	if err := json.Unmarshal([]byte(out), &agents); err != nil {
		t.Fatalf("decode agents: %v\n%s", err, out)
	}
	if !agents.Success || len(agents.Agents) != 2 {
		t.Errorf("agents = %+v", agents)
	}

	out, err = execute(t, "--db", db, "run", "beh_b")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "[echo] Say hello.") {
		t.Errorf("run output missing echo reply:\n%s", out)
	}

	out, err = execute(t, "--db", db, "--format", "markdown", "behaviors")
	if err != nil {
		t.Fatalf("behaviors: %v", err)
	}
	if !strings.Contains(out, "| ID") || !strings.Contains(out, "beh_b") {
		t.Errorf("behaviors markdown missing row:\n%s", out)
	}
}

func TestCLI_ReseedIsIdempotent(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "agentrank.db")
	seedNetwork(t, dir, db)

	out, err := execute(t, "--db", db, "seed", "-f", filepath.Join(dir, "network.yaml"))
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if !strings.Contains(out, "0 link(s), 0 behavior(s); 2 skipped") {
		t.Errorf("reseed output = %q", out)
	}
}

func TestCLI_CycleAndTune(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "agentrank.db")
	seedNetwork(t, dir, db)

	for _, impact := range []string{"0.1", "0.05"} {
		if _, err := execute(t, "--db", db, "reflect", "agent_b",
			"--summary", "not helping", "--impact", impact, "--behavior", "beh_b"); err != nil {
			t.Fatalf("reflect: %v", err)
		}
	}

	out, err := execute(t, "--db", db, "--json", "cycle")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	var cycle struct {
		Success  bool   `json:"success"`
		Stage    string `json:"stage"`
		Ranked   int    `json:"ranked"`
		Disabled int    `json:"disabled"`
	}
	if err := json.Unmarshal([]byte(out), &cycle); err != nil {
		t.Fatalf("decode cycle: %v\n%s", err, out)
	}
	if !cycle.Success || cycle.Stage != "done" || cycle.Ranked != 2 || cycle.Disabled != 1 {
		t.Errorf("cycle = %+v", cycle)
	}

	out, err = execute(t, "--db", db, "--json", "tune")
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if !strings.Contains(out, `"disabled": 0`) {
		t.Errorf("second tune should not disable again:\n%s", out)
	}
}

func TestCLI_FailedStatusIsAnError(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "agentrank.db")

	_, err := execute(t, "--db", db, "run", "missing")
	var se *statusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *statusError", err)
	}
	if se.st.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", se.st.Code)
	}
}

func TestCLI_RejectsBadParams(t *testing.T) {
	dir := isolate(t)
	_, err := execute(t, "--db", filepath.Join(dir, "agentrank.db"), "run", "beh_b", "--params", "not-json")
	if err == nil || !strings.Contains(err.Error(), "--params must be a JSON object") {
		t.Errorf("err = %v", err)
	}
}
