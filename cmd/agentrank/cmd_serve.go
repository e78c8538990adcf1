package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"agentrank/internal/logging"
	mcpserver "agentrank/internal/mcp"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Starts an MCP server over stdin/stdout exposing one tool per loop operation.

The server watches its parent process. When the client that spawned it goes
away, the server shuts itself down instead of lingering.`,
		Args: cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			srv := mcpserver.NewServer(a.engine, version)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			mcpserver.WatchParent(ctx, 2*time.Second, cancel, logging.New("mcp"))

			return srv.Run(ctx)
		}),
	}
}
