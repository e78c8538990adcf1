package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"agentrank/internal/format"
	"agentrank/internal/reflection"
	"agentrank/internal/relay"
)

func newRelayCmd(g *globalFlags) *cobra.Command {
	var from, to, conversation string
	cmd := &cobra.Command{
		Use:   "relay <message...>",
		Short: "Send a message from one agent to another and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			resp := a.engine.Relay(cmd.Context(), conversation, from, to, strings.Join(args, " "))
			return a.emit(resp.Status, resp, func() string {
				r := resp.Reply
				return fmt.Sprintf("[%s] %s -> %s (%s)\n%s", r.ConversationID, r.Sender, r.Receiver, format.FmtMillis(r.DurationMS), r.Reply)
			})
		}),
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "Sending agent ID (required)")
	f.StringVar(&to, "to", "", "Receiving agent ID (required)")
	f.StringVar(&conversation, "conversation", "", "Conversation ID (default: a new conversation)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newCollaborateCmd(g *globalFlags) *cobra.Command {
	var maxLinks int
	cmd := &cobra.Command{
		Use:   "collaborate <source-agent>",
		Short: "Run the enabled behaviors reachable over an agent's outgoing links",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			resp := a.engine.Collaborate(cmd.Context(), args[0], maxLinks)
			return a.emit(resp.Status, resp, func() string {
				return format.Collaboration(a.mode, &relay.CollaborationResult{
					SourceAgent:   args[0],
					LinksExecuted: resp.LinksExecuted,
					Results:       resp.Results,
				})
			})
		}),
	}
	cmd.Flags().IntVar(&maxLinks, "max-links", 0, "Follow at most this many links, most recent first (0 = all)")
	return cmd
}

func newReflectCmd(g *globalFlags) *cobra.Command {
	var ov reflection.Override
	var impact, confidence float64
	cmd := &cobra.Command{
		Use:   "reflect <agent-id>",
		Short: "Record a reflection for an agent",
		Long: `Asks the agent's provider to reflect on its recent memory and stores the
parsed summary, impact and confidence. With --summary the reflection is
recorded as given and no provider is called.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			var override *reflection.Override
			f := cmd.Flags()
			if f.Changed("impact") {
				ov.Impact = &impact
			}
			if f.Changed("confidence") {
				ov.Confidence = &confidence
			}
			if ov.Summary != "" || ov.Content != "" || ov.BehaviorID != "" || ov.Impact != nil || ov.Confidence != nil {
				override = &ov
			}
			resp := a.engine.Reflect(cmd.Context(), args[0], override)
			return a.emit(resp.Status, resp, func() string {
				return format.Reflections(a.mode, ptrsOf(resp.Reflection))
			})
		}),
	}
	f := cmd.Flags()
	f.StringVar(&ov.Summary, "summary", "", "Manual summary; skips the provider")
	f.StringVar(&ov.Content, "content", "", "Manual reflection body")
	f.Float64Var(&impact, "impact", 0, "Manual impact score")
	f.Float64Var(&confidence, "confidence", 0, "Manual confidence in [0,1]")
	f.StringVar(&ov.BehaviorID, "behavior", "", "Behavior the manual reflection scores")
	return cmd
}

func newReflectionsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reflections",
		Short: "List the most recent reflections",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			resp := a.engine.ListReflections(cmd.Context(), limit)
			return a.emit(resp.Status, resp, func() string { return format.Reflections(a.mode, resp.Reflections) })
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (0 = default)")
	return cmd
}

func ptrsOf[T any](p *T) []*T {
	if p == nil {
		return nil
	}
	return []*T{p}
}
