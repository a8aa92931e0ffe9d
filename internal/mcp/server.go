// Package mcp exposes the progress and execution operations to AI agents over
// the Model Context Protocol.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"workopilot/internal/engine"
)

const (
	ServerName    = "workopilot"
	ServerVersion = "v0.1.0"

	// DefaultActor is recorded on writes made through the sidecar.
	DefaultActor = "ai"
)

// Server wraps the MCP server with the WorkoPilot tool set.
type Server struct {
	mcpServer *mcp.Server
	handler   *Handler
	logger    *slog.Logger
}

// NewServer registers every tool against e.
func NewServer(e engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: ServerVersion}, nil),
		handler:   &Handler{Engine: e, Logger: logger, Actor: DefaultActor},
		logger:    logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	h := s.handler
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_task_progress",
		Description: "Derive the progress state of a task with its label, suggested action and subtask counts.",
	}, h.HandleGetTaskProgress)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_quick_links",
		Description: "List open tasks that have a suggested next action, optionally within one project.",
	}, h.HandleListQuickLinks)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "mark_structuring_complete",
		Description: "Mark a task as broken down into subtasks so it becomes ready to start.",
	}, h.HandleMarkStructuringComplete)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_subtask",
		Description: "Append a pending subtask to a task.",
	}, h.HandleAddSubtask)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_subtask_status",
		Description: "Set a subtask to pending, in_progress or done.",
	}, h.HandleSetSubtaskStatus)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_substatus",
		Description: "Set the substatus of a task (structuring, executing, awaiting_user, awaiting_review). Empty clears it.",
	}, h.HandleSetSubstatus)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "start_execution",
		Description: "Record a running execution for a task or one of its subtasks. Fails while another execution is running.",
	}, h.HandleStartExecution)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "heartbeat_execution",
		Description: "Refresh the heartbeat of a running execution so it is not swept as stale.",
	}, h.HandleHeartbeatExecution)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "finish_execution",
		Description: "Finish a running execution as completed or failed.",
	}, h.HandleFinishExecution)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "prepare_terminal",
		Description: "Bind or reuse the terminal session of a task before running a subtask and report whether the agent context must be reset.",
	}, h.HandlePrepareTerminal)
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "transport", "stdio")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
