package relay

import (
	"context"

	"golang.org/x/sync/errgroup"

	"agentrank/internal/apperr"
	"agentrank/internal/store"
)

// ErrNoEnabledBehavior is the result error for a link whose target has no
// enabled behavior for the link's action type.
const ErrNoEnabledBehavior = "no enabled behavior"

// ActionForKind maps a link kind to the action type run on the target.
// assist is normalised to relay; other kinds pass through unchanged.
func ActionForKind(kind string) string {
	if kind == store.LinkAssist {
		return store.LinkRelay
	}
	return kind
}

// LinkResult is the outcome of one link during a fan-out.
type LinkResult struct {
	LinkID      string `json:"link_id"`
	TargetAgent string `json:"target_agent"`
	Kind        string `json:"kind"`
	ActionType  string `json:"action_type"`
	BehaviorID  string `json:"behavior_id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Success     bool   `json:"success"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
}

// CollaborationResult is the outcome of a fan-out, one entry per link in
// link order.
type CollaborationResult struct {
	SourceAgent   string       `json:"source_agent"`
	LinksExecuted int          `json:"links_executed"`
	Results       []LinkResult `json:"results"`
}

// Collaborate fans work out along sourceAgent's outgoing links, most recent
// first, capped at maxLinks when positive. A failing link is recorded in its
// result and never stops the others; only loading the links can fail the call.
func (r *Relay) Collaborate(ctx context.Context, sourceAgent string, maxLinks int) (*CollaborationResult, error) {
	if sourceAgent == "" {
		return nil, apperr.Validation(apperr.CodeMissingSourceAgent, "source agent is required")
	}
	links, err := r.store.ListLinksBySource(ctx, sourceAgent, maxLinks)
	if err != nil {
		return nil, apperr.Persistence("list links", err)
	}

	results := make([]LinkResult, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, link := range links {
		g.Go(func() error {
			results[i] = r.runLink(gctx, link)
			return nil
		})
	}
	_ = g.Wait() // errors captured in LinkResult.Error

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	r.logger.InfoContext(ctx, "collaborate", "source_agent", sourceAgent,
		"links", len(links), "failed", failed)

	return &CollaborationResult{
		SourceAgent:   sourceAgent,
		LinksExecuted: len(links),
		Results:       results,
	}, nil
}

func (r *Relay) runLink(ctx context.Context, link *store.Link) LinkResult {
	res := LinkResult{
		LinkID:      link.ID,
		TargetAgent: link.TargetAgent,
		Kind:        link.Kind,
		ActionType:  ActionForKind(link.Kind),
	}
	if link.SourceAgent == link.TargetAgent {
		r.logger.WarnContext(ctx, "self-loop link", "link_id", link.ID, "agent_id", link.SourceAgent)
	}

	params := map[string]any{
		"trigger":      "collaborate",
		"source_agent": link.SourceAgent,
		"strength":     link.Strength,
		"context":      link.Context,
	}
	var (
		out *Outcome
		err error
	)
	// A cached behavior disabled since it was cached is dropped and looked
	// up again once.
	for attempt := 0; attempt < 2; attempt++ {
		var b *store.Behavior
		b, err = r.cache.Lookup(ctx, r.store, link.TargetAgent, res.ActionType)
		if err != nil {
			res.Error = apperr.Persistence("find behavior", err).Error()
			return res
		}
		if b == nil {
			res.BehaviorID, res.Error = "", ErrNoEnabledBehavior
			return res
		}
		res.BehaviorID = b.ID
		out, err = r.RunBehavior(ctx, b.ID, params, RunOptions{Autonomous: true})
		if apperr.CodeOf(err) != apperr.CodeBehaviorDisabled {
			break
		}
		r.cache.Invalidate(link.TargetAgent, res.ActionType)
	}
	if out != nil {
		res.RunID = out.RunID
		res.Output = out.Output
	}
	if err != nil {
		res.Error = err.Error()
		r.logger.WarnContext(ctx, "link failed", "link_id", link.ID, "target", link.TargetAgent, "error", err)
		return res
	}
	res.Success = true
	return res
}
