package dispatcher

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opsctl/sshbroker/internal/exec"
	"github.com/opsctl/sshbroker/internal/ptysession"
)

func registerExecTools(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("executeCommand",
			mcp.WithDescription("Execute a one-shot command on the remote host, sudo/Docker/tmux-aware"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithString("command", mcp.Required(), mcp.Description("Shell command line")),
			mcp.WithString("cwd", mcp.Description("Working directory to run the command from")),
			mcp.WithNumber("timeout", mcp.Description("Timeout in milliseconds (default 10000)")),
			mcp.WithBoolean("force", mcp.Description("Bypass the tmux safety pre-flight check")),
		),
		handleExecuteCommand(deps),
	)

	s.AddTool(
		mcp.NewTool("backgroundExecute",
			mcp.WithDescription("Run a command immediately, then repeatedly on a fixed interval"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithString("command", mcp.Required(), mcp.Description("Shell command line")),
			mcp.WithNumber("interval", mcp.Description("Interval in milliseconds (default 10000)")),
			mcp.WithString("cwd", mcp.Description("Working directory to run the command from")),
		),
		handleBackgroundExecute(deps),
	)

	s.AddTool(
		mcp.NewTool("stopBackground",
			mcp.WithDescription("Stop the background task for a connection, if any"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
		),
		handleStopBackground(deps),
	)

	s.AddTool(
		mcp.NewTool("listActiveSessions",
			mcp.WithDescription("List every active interactive terminal session"),
		),
		handleListActiveSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("listBackgroundTasks",
			mcp.WithDescription("List every running background task"),
		),
		handleListBackgroundTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("stopAllBackgroundTasks",
			mcp.WithDescription("Stop every running background task across all connections"),
		),
		handleStopAllBackgroundTasks(deps),
	)
}

func handleExecuteCommand(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		opts := exec.Options{
			Cwd:     req.GetString("cwd", ""),
			Timeout: time.Duration(req.GetInt("timeout", deps.Config.CommandTimeoutMs)) * time.Millisecond,
			Force:   req.GetBool("force", false),
		}

		result, err := deps.Executor.ExecuteCommand(ctx, connID, command, opts)
		if err != nil {
			return errorResult(err), nil
		}
		return textResult(result)
	}
}

func handleBackgroundExecute(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		interval := req.GetInt("interval", 10000)
		cwd := req.GetString("cwd", "")

		taskID := deps.Executor.BackgroundExecute(connID, command, interval, cwd)
		return mcp.NewToolResultText(taskID), nil
	}
}

func handleStopBackground(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		deps.Executor.StopBackground(connID)
		return mcp.NewToolResultText("stopped background task for " + connID), nil
	}
}

func handleListActiveSessions(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		active := make([]*ptysession.Session, 0)
		for _, s := range deps.Terminals.List() {
			if s.IsActive {
				active = append(active, s)
			}
		}
		return textResult(active)
	}
}

func handleListBackgroundTasks(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(deps.Executor.ListBackgroundTasks())
	}
}

func handleStopAllBackgroundTasks(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n := deps.Executor.StopAllBackgroundTasks()
		return textResult(struct {
			Stopped int `json:"stopped"`
		}{Stopped: n})
	}
}
