package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentrank/internal/engine"
	"agentrank/internal/format"
	"agentrank/internal/seed"
	"agentrank/internal/store"
)

func newSeedCmd(g *globalFlags) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import agents, links and behaviors from a YAML or JSON network file",
		Long: `Imports a network file. Agents are upserted; links and behaviors that
already exist are skipped, so seeding the same file twice is safe.`,
		Args: cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			n, err := seed.LoadFromPath(path)
			if err != nil {
				return err
			}
			resp := a.engine.Seed(cmd.Context(), n)
			return a.emit(resp.Status, resp, func() string {
				s := resp.Summary
				return fmt.Sprintf("Seeded %d agent(s), %d link(s), %d behavior(s); %d skipped", s.Agents, s.Links, s.Behaviors, s.Skipped)
			})
		}),
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "Network file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newAgentsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			resp := a.engine.ListAgents(cmd.Context())
			return a.emit(resp.Status, resp, func() string { return format.Agents(a.mode, resp.Agents) })
		}),
	}
}

func newBehaviorsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "behaviors",
		Short: "List behaviors and whether they are enabled",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			resp := a.engine.ListBehaviors(cmd.Context())
			return a.emit(resp.Status, resp, func() string { return format.Behaviors(a.mode, resp.Behaviors) })
		}),
	}
}

func newCreateBehaviorCmd(g *globalFlags) *cobra.Command {
	var in engine.CreateBehaviorInput
	var rawConfig string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "create-behavior",
		Short: "Create a behavior for an existing agent",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			cfg, err := parseParams("config", rawConfig)
			if err != nil {
				return err
			}
			in.Config = cfg
			if disabled {
				off := false
				in.Enabled = &off
			}
			resp := a.engine.CreateBehavior(cmd.Context(), in)
			return a.emit(resp.Status, resp, func() string {
				return format.Behaviors(a.mode, []*store.Behavior{resp.Behavior})
			})
		}),
	}
	f := cmd.Flags()
	f.StringVar(&in.AgentID, "agent", "", "Owning agent ID (required)")
	f.StringVar(&in.ActionType, "action", "", "Action type, e.g. relay, assist, analyze (required)")
	f.StringVar(&in.Name, "name", "", "Display name (default: the action type)")
	f.StringVar(&in.TriggerType, "trigger", "", "Trigger type (default: manual)")
	f.StringVar(&rawConfig, "config-json", "", `Behavior config as a JSON object, e.g. '{"prompt":"..."}'`)
	f.BoolVar(&disabled, "disabled", false, "Create the behavior disabled")
	return cmd
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var rawParams string
	cmd := &cobra.Command{
		Use:   "run <behavior-id>",
		Short: "Execute one behavior through its agent's provider",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			params, err := parseParams("params", rawParams)
			if err != nil {
				return err
			}
			resp := a.engine.RunBehavior(cmd.Context(), args[0], params)
			if !a.jsonOut && !resp.Success && resp.Outcome != nil {
				fmt.Fprintln(a.out, format.Outcome(a.mode, resp.Outcome))
			}
			return a.emit(resp.Status, resp, func() string { return format.Outcome(a.mode, resp.Outcome) })
		}),
	}
	cmd.Flags().StringVar(&rawParams, "params", "", "Template parameters as a JSON object")
	return cmd
}
