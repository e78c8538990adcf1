// Package seed imports an agent network (agents, collaboration links and
// behaviors) from a YAML or JSON file into the store.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"agentrank/internal/provider"
	"agentrank/internal/store"
)

// Agent is one agent entry. Enabled defaults to true.
type Agent struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name,omitempty" yaml:"name,omitempty"`
	Role        string  `json:"role,omitempty" yaml:"role,omitempty"`
	Prompt      string  `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Link is one directed collaboration edge.
type Link struct {
	Source   string  `json:"source" yaml:"source"`
	Target   string  `json:"target" yaml:"target"`
	Kind     string  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Strength float64 `json:"strength,omitempty" yaml:"strength,omitempty"`
	Context  string  `json:"context,omitempty" yaml:"context,omitempty"`
}

// Behavior is one behavior entry. Enabled defaults to true.
type Behavior struct {
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	Agent       string         `json:"agent" yaml:"agent"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	ActionType  string         `json:"action_type" yaml:"action_type"`
	TriggerType string         `json:"trigger_type,omitempty" yaml:"trigger_type,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Network is the content of a seed file.
type Network struct {
	Agents    []Agent    `json:"agents" yaml:"agents"`
	Links     []Link     `json:"links" yaml:"links"`
	Behaviors []Behavior `json:"behaviors" yaml:"behaviors"`
}

// ErrInvalid marks a network that failed validation; nothing was written.
var ErrInvalid = errors.New("invalid seed network")

// Summary counts what Apply wrote.
type Summary struct {
	Agents    int `json:"agents"`
	Links     int `json:"links"`
	Behaviors int `json:"behaviors"`
	// Skipped counts links and behaviors that were already present.
	Skipped int `json:"skipped"`
}

// LoadFromPath reads a seed file. Format is detected by extension
// (.yaml/.yml or .json) or, failing that, by content.
func LoadFromPath(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return Load(data, filepath.Ext(path))
}

// Load parses a seed document. ext is a format hint; empty means detect.
func Load(data []byte, ext string) (*Network, error) {
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	if ext == "" && strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		ext = ".json"
	}
	var n Network
	if ext == ".json" {
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("parse seed json: %w", err)
		}
		return &n, nil
	}
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("parse seed yaml: %w", err)
	}
	return &n, nil
}

// Validate checks that every entry is complete and every reference points at
// an agent declared in the file or in known.
func (n *Network) Validate(known map[string]bool) error {
	var errs []error
	agents := make(map[string]bool, len(known)+len(n.Agents))
	for id := range known {
		agents[id] = true
	}
	for i, a := range n.Agents {
		if strings.TrimSpace(a.ID) == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
			continue
		}
		agents[a.ID] = true
	}
	for i, l := range n.Links {
		if l.Source == "" || l.Target == "" {
			errs = append(errs, fmt.Errorf("links[%d]: source and target are required", i))
			continue
		}
		for _, id := range []string{l.Source, l.Target} {
			if !agents[id] {
				errs = append(errs, fmt.Errorf("links[%d]: unknown agent %q", i, id))
			}
		}
	}
	for i, b := range n.Behaviors {
		if b.Agent == "" || b.ActionType == "" {
			errs = append(errs, fmt.Errorf("behaviors[%d]: agent and action_type are required", i))
			continue
		}
		if !agents[b.Agent] {
			errs = append(errs, fmt.Errorf("behaviors[%d]: unknown agent %q", i, b.Agent))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Apply validates n and writes it to s. Agents are upserted. Behaviors whose
// id already exists, and links duplicating an existing (source, target, kind)
// edge, are skipped, so applying the same file twice is harmless.
func Apply(ctx context.Context, s store.Store, n *Network) (*Summary, error) {
	existing, err := s.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, a := range existing {
		known[a.ID] = true
	}
	if err := n.Validate(known); err != nil {
		return nil, err
	}

	sum := &Summary{}
	for _, a := range n.Agents {
		if err := s.SaveAgent(ctx, a.toStore()); err != nil {
			return sum, fmt.Errorf("save agent %s: %w", a.ID, err)
		}
		sum.Agents++
	}

	for _, l := range n.Links {
		dup, err := hasLink(ctx, s, l)
		if err != nil {
			return sum, err
		}
		if dup {
			sum.Skipped++
			continue
		}
		sl := &store.Link{SourceAgent: l.Source, TargetAgent: l.Target, Kind: l.Kind, Strength: l.Strength, Context: l.Context}
		if err := s.CreateLink(ctx, sl); err != nil {
			return sum, fmt.Errorf("create link %s->%s: %w", l.Source, l.Target, err)
		}
		sum.Links++
	}

	for _, b := range n.Behaviors {
		if b.ID != "" {
			prev, err := s.GetBehavior(ctx, b.ID)
			if err != nil {
				return sum, fmt.Errorf("get behavior %s: %w", b.ID, err)
			}
			if prev != nil {
				sum.Skipped++
				continue
			}
		}
		if err := s.CreateBehavior(ctx, b.toStore()); err != nil {
			return sum, fmt.Errorf("create behavior %s/%s: %w", b.Agent, b.ActionType, err)
		}
		sum.Behaviors++
	}
	return sum, nil
}

func hasLink(ctx context.Context, s store.Store, l Link) (bool, error) {
	kind := l.Kind
	if kind == "" {
		kind = store.LinkRelay
	}
	links, err := s.ListLinksBySource(ctx, l.Source, 0)
	if err != nil {
		return false, fmt.Errorf("list links for %s: %w", l.Source, err)
	}
	for _, x := range links {
		if x.TargetAgent == l.Target && x.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func enabled(p *bool) bool { return p == nil || *p }

func (a Agent) toStore() *store.Agent {
	name := a.Name
	if name == "" {
		name = a.ID
	}
	prov := a.Provider
	if prov == "" {
		prov = provider.EchoName
	}
	return &store.Agent{
		ID:          a.ID,
		Name:        name,
		Role:        a.Role,
		Prompt:      a.Prompt,
		Provider:    prov,
		Model:       a.Model,
		Temperature: a.Temperature,
		Enabled:     enabled(a.Enabled),
	}
}

func (b Behavior) toStore() *store.Behavior {
	name := b.Name
	if name == "" {
		name = b.ActionType
	}
	trigger := b.TriggerType
	if trigger == "" {
		trigger = "manual"
	}
	return &store.Behavior{
		ID:          b.ID,
		AgentID:     b.Agent,
		Name:        name,
		ActionType:  b.ActionType,
		TriggerType: trigger,
		Config:      b.Config,
		Enabled:     enabled(b.Enabled),
	}
}
