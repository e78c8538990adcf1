package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"agentrank/internal/store"
)

const memoryExcerpt = 500

type promptData struct {
	Agent    *store.Agent
	Behavior *store.Behavior
	Params   map[string]any
	Config   map[string]any
}

// renderAgentPrompt expands the agent's prompt template. A template that does
// not parse is used verbatim.
func (r *Relay) renderAgentPrompt(agent *store.Agent, b *store.Behavior, params map[string]any) string {
	if !strings.Contains(agent.Prompt, "{{") {
		return agent.Prompt
	}
	tmpl, err := template.New(agent.ID).Option("missingkey=zero").Parse(agent.Prompt)
	if err != nil {
		r.logger.Warn("agent prompt is not a valid template", "agent_id", agent.ID, "error", err)
		return agent.Prompt
	}
	data := promptData{Agent: agent, Behavior: b, Params: params}
	if b != nil {
		data.Config = b.Config
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		r.logger.Warn("render agent prompt", "agent_id", agent.ID, "error", err)
		return agent.Prompt
	}
	// missingkey=zero still prints "<no value>" for absent map entries.
	return strings.ReplaceAll(sb.String(), "<no value>", "")
}

// behaviorPrompt is the user turn of a behavior run: the behavior
// instruction plus any parameters the agent template did not consume.
func behaviorPrompt(agent *store.Agent, b *store.Behavior, params map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Behavior: %s (%s)\n", b.Name, b.ActionType)
	if instr, ok := b.Config["prompt"].(string); ok && instr != "" {
		sb.WriteString(instr)
		sb.WriteString("\n")
	}
	if len(params) > 0 && !strings.Contains(agent.Prompt, ".Params") {
		data, err := json.MarshalIndent(params, "", "  ")
		if err != nil {
			data = []byte(fmt.Sprint(params))
		}
		sb.WriteString("\nParameters:\n")
		sb.Write(data)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
