// agentrank runs the agent performance control loop: execute behaviors,
// reflect, aggregate metrics, rank agents and tune behaviors.
//
// Usage:
//
//	agentrank seed -f network.yaml
//	agentrank run <behavior-id> [--params '{"k":"v"}']
//	agentrank cycle
//	agentrank loop --interval 1h --listen :9090
//	agentrank serve
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"agentrank/internal/config"
	"agentrank/internal/engine"
	"agentrank/internal/format"
	"agentrank/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string
	tableMode  string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "agentrank",
		Short: "Adaptive agent performance and ranking engine",
		Long: "agentrank runs agent behaviors, records reflections, aggregates impact\n" +
			"metrics into a leaderboard and enables or disables behaviors from feedback.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Config file (overrides ./.agentrank/config.yaml)")
	pf.StringVar(&g.dbPath, "db", "", "SQLite database path (default "+config.DefaultDBPath+")")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&g.tableMode, "format", "table", "Table format: table, markdown or csv")
	pf.BoolVar(&g.jsonOut, "json", false, "Print the raw JSON response instead of a table")

	root.AddCommand(
		newSeedCmd(g),
		newAgentsCmd(g),
		newBehaviorsCmd(g),
		newCreateBehaviorCmd(g),
		newRunCmd(g),
		newRelayCmd(g),
		newCollaborateCmd(g),
		newReflectCmd(g),
		newReflectionsCmd(g),
		newMetricsCmd(g),
		newLeaderboardCmd(g),
		newTuneCmd(g),
		newCycleCmd(g),
		newLoopCmd(g),
		newServeCmd(g),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentrank:", err)
		os.Exit(1)
	}
}

// app is what every subcommand works with once flags are resolved.
type app struct {
	cfg     *config.Config
	engine  *engine.Engine
	mode    format.Mode
	jsonOut bool
	out     io.Writer
}

// open resolves configuration, configures logging and opens the engine.
// Callers must Close the returned app.
func (g *globalFlags) open(cmd *cobra.Command) (*app, error) {
	if g.configPath != "" {
		if err := os.Setenv("AGENTRANK_CONFIG", g.configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(&config.Config{
		DBPath: g.dbPath,
		Log:    config.LogConfig{Level: g.logLevel, Format: g.logFormat},
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logging.Init(level, cfg.Log.Format, cmd.ErrOrStderr())

	mode, err := format.ParseMode(g.tableMode)
	if err != nil {
		return nil, err
	}
	e, err := engine.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, engine: e, mode: mode, jsonOut: g.jsonOut, out: cmd.OutOrStdout()}, nil
}

func (a *app) Close() error { return a.engine.Close() }

// emit prints resp as indented JSON when --json is set, otherwise the output
// of render on success. A failed status becomes the command error.
func (a *app) emit(st engine.Status, resp any, render func() string) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	} else if st.Success && render != nil {
		fmt.Fprint(a.out, render())
		fmt.Fprintln(a.out)
	}
	if !st.Success {
		return &statusError{st}
	}
	return nil
}

type statusError struct{ st engine.Status }

func (e *statusError) Error() string { return e.st.Code + ": " + e.st.Message }

// withApp opens the app around fn.
func withApp(g *globalFlags, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := g.open(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

// parseParams decodes a JSON object flag; empty means no params.
func parseParams(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return m, nil
}

func ptrs[T any](xs []T) []*T {
	out := make([]*T, len(xs))
	for i := range xs {
		out[i] = &xs[i]
	}
	return out
}
