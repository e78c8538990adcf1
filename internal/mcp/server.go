// Package mcp exposes the control loop as Model Context Protocol tools, one
// tool per engine operation.
package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"agentrank/internal/engine"
	"agentrank/internal/logging"
	"agentrank/internal/reflection"
)

// Server wraps the MCP SDK server around an Engine.
type Server struct {
	MCPServer *sdkmcp.Server

	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates an MCP server whose tools call e.
func NewServer(e *engine.Engine, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{engine: e, logger: logging.New("mcp")}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "agentrank", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_behavior",
		Description: "Execute one behavior through its agent's provider and record the run.",
	}, s.handleRunBehavior)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_behaviors",
		Description: "List every behavior with its enabled flag.",
	}, s.handleListBehaviors)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "create_behavior",
		Description: "Create a behavior for an existing agent. Enabled defaults to true.",
	}, s.handleCreateBehavior)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "relay_message",
		Description: "Send a message from one agent to another and return the receiver's reply.",
	}, s.handleRelay)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "collaborate",
		Description: "Run the enabled behaviors reachable over a source agent's outgoing links. Per-link failures are reported, not raised.",
	}, s.handleCollaborate)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "reflect",
		Description: "Record a reflection for an agent. Supplying a summary stores a manual reflection without calling the provider.",
	}, s.handleReflect)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_reflections",
		Description: "List the most recent reflections across all agents.",
	}, s.handleListReflections)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "recompute_metrics",
		Description: "Append a fresh impact/consistency snapshot for every agent with reflections or behaviors.",
	}, s.handleRecomputeMetrics)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_metrics",
		Description: "List the latest metric snapshot per agent.",
	}, s.handleListMetrics)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "rank_leaderboard",
		Description: "Recompute the leaderboard from the latest metrics and collaboration weights, producing insights.",
	}, s.handleRankLeaderboard)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_leaderboard",
		Description: "Return the stored leaderboard and the most recent insights.",
	}, s.handleGetLeaderboard)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "tune_behaviors",
		Description: "Enable or disable behaviors from the mean impact of their recent reflections.",
	}, s.handleTuneBehaviors)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_cycle",
		Description: "Run one full loop iteration: reflect all enabled agents, recompute metrics, rank, tune.",
	}, s.handleRunCycle)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_agents",
		Description: "List the registered agents.",
	}, s.handleListAgents)
}

// --- Tool inputs ---
//
// Ids are omitempty so the schema marks them optional and the engine reports
// a missing one as a failed status.

type runBehaviorInput struct {
	BehaviorID string         `json:"behavior_id,omitempty" jsonschema:"id of the behavior to run"`
	Params     map[string]any `json:"params,omitempty" jsonschema:"parameters passed to the prompt template"`
}

type noInput struct{}

type createBehaviorInput struct {
	AgentID     string         `json:"agent_id,omitempty" jsonschema:"owning agent id"`
	ActionType  string         `json:"action_type,omitempty" jsonschema:"action type, e.g. relay or analyze"`
	Name        string         `json:"name,omitempty" jsonschema:"display name (defaults to the action type)"`
	TriggerType string         `json:"trigger_type,omitempty" jsonschema:"trigger type (defaults to manual)"`
	Config      map[string]any `json:"config,omitempty" jsonschema:"behavior configuration; a prompt key is appended to the run prompt"`
	Enabled     *bool          `json:"enabled,omitempty" jsonschema:"initial enabled flag (default true)"`
}

type relayInput struct {
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"conversation id; generated when empty"`
	Sender         string `json:"sender,omitempty" jsonschema:"sending agent id"`
	Receiver       string `json:"receiver,omitempty" jsonschema:"receiving agent id"`
	Content        string `json:"content,omitempty" jsonschema:"message text"`
}

type collaborateInput struct {
	SourceAgent string `json:"source_agent,omitempty" jsonschema:"agent whose outgoing links are followed"`
	MaxLinks    int    `json:"max_links,omitempty" jsonschema:"cap on links followed, most recent first (0 = all)"`
}

type reflectInput struct {
	AgentID    string   `json:"agent_id,omitempty" jsonschema:"agent to reflect on"`
	Summary    string   `json:"summary,omitempty" jsonschema:"manual summary; when set no provider is called"`
	Content    string   `json:"content,omitempty" jsonschema:"manual reflection body"`
	Impact     *float64 `json:"impact,omitempty" jsonschema:"manual impact score"`
	Confidence *float64 `json:"confidence,omitempty" jsonschema:"manual confidence in [0,1]"`
	BehaviorID string   `json:"behavior_id,omitempty" jsonschema:"behavior the manual reflection scores"`
}

type limitInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum rows returned (0 = default)"`
}

// --- Tool handlers ---

func (s *Server) handleRunBehavior(ctx context.Context, _ *sdkmcp.CallToolRequest, in runBehaviorInput) (*sdkmcp.CallToolResult, engine.RunBehaviorResponse, error) {
	return nil, s.engine.RunBehavior(ctx, in.BehaviorID, in.Params), nil
}

func (s *Server) handleListBehaviors(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, engine.ListBehaviorsResponse, error) {
	return nil, s.engine.ListBehaviors(ctx), nil
}

func (s *Server) handleCreateBehavior(ctx context.Context, _ *sdkmcp.CallToolRequest, in createBehaviorInput) (*sdkmcp.CallToolResult, engine.CreateBehaviorResponse, error) {
	return nil, s.engine.CreateBehavior(ctx, engine.CreateBehaviorInput{
		AgentID:     in.AgentID,
		ActionType:  in.ActionType,
		Name:        in.Name,
		TriggerType: in.TriggerType,
		Config:      in.Config,
		Enabled:     in.Enabled,
	}), nil
}

func (s *Server) handleRelay(ctx context.Context, _ *sdkmcp.CallToolRequest, in relayInput) (*sdkmcp.CallToolResult, engine.RelayResponse, error) {
	return nil, s.engine.Relay(ctx, in.ConversationID, in.Sender, in.Receiver, in.Content), nil
}

func (s *Server) handleCollaborate(ctx context.Context, _ *sdkmcp.CallToolRequest, in collaborateInput) (*sdkmcp.CallToolResult, engine.CollaborateResponse, error) {
	return nil, s.engine.Collaborate(ctx, in.SourceAgent, in.MaxLinks), nil
}

func (s *Server) handleReflect(ctx context.Context, _ *sdkmcp.CallToolRequest, in reflectInput) (*sdkmcp.CallToolResult, engine.ReflectResponse, error) {
	var override *reflection.Override
	if in.Summary != "" || in.Impact != nil || in.Confidence != nil || in.Content != "" || in.BehaviorID != "" {
		override = &reflection.Override{
			Summary:    in.Summary,
			Content:    in.Content,
			Impact:     in.Impact,
			Confidence: in.Confidence,
			BehaviorID: in.BehaviorID,
		}
	}
	return nil, s.engine.Reflect(ctx, in.AgentID, override), nil
}

func (s *Server) handleListReflections(ctx context.Context, _ *sdkmcp.CallToolRequest, in limitInput) (*sdkmcp.CallToolResult, engine.ListReflectionsResponse, error) {
	return nil, s.engine.ListReflections(ctx, in.Limit), nil
}

func (s *Server) handleRecomputeMetrics(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, engine.RecomputeMetricsResponse, error) {
	return nil, s.engine.RecomputeMetrics(ctx), nil
}

func (s *Server) handleListMetrics(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, engine.ListMetricsResponse, error) {
	return nil, s.engine.ListMetrics(ctx), nil
}

func (s *Server) handleRankLeaderboard(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, engine.RankLeaderboardResponse, error) {
	return nil, s.engine.RankLeaderboard(ctx), nil
}

func (s *Server) handleGetLeaderboard(ctx context.Context, _ *sdkmcp.CallToolRequest, in limitInput) (*sdkmcp.CallToolResult, engine.GetLeaderboardResponse, error) {
	return nil, s.engine.GetLeaderboard(ctx, in.Limit), nil
}

func (s *Server) handleTuneBehaviors(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, engine.TuneResponse, error) {
	return nil, s.engine.TuneBehaviors(ctx), nil
}

func (s *Server) handleRunCycle(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, engine.CycleResponse, error) {
	return nil, s.engine.RunCycle(ctx), nil
}

func (s *Server) handleListAgents(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, engine.ListAgentsResponse, error) {
	return nil, s.engine.ListAgents(ctx), nil
}
