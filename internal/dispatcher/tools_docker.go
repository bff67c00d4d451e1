package dispatcher

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/opsctl/sshbroker/internal/exec"
)

func registerDockerTools(s *server.MCPServer, deps Deps) {
	s.AddTool(
		mcp.NewTool("executeCommandInDocker",
			mcp.WithDescription("Execute a command inside a named Docker container on the remote host"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithString("containerName", mcp.Required(), mcp.Description("Target container name")),
			mcp.WithString("command", mcp.Required(), mcp.Description("Command to run inside the container")),
			mcp.WithString("workdir", mcp.Description("Working directory inside the container")),
			mcp.WithString("user", mcp.Description("User to run as inside the container")),
			mcp.WithBoolean("interactive", mcp.Description("Pass -it to docker exec")),
			mcp.WithNumber("timeout", mcp.Description("Timeout in milliseconds (default 10000)")),
		),
		handleExecuteCommandInDocker(deps),
	)

	s.AddTool(
		mcp.NewTool("diagnoseContainerEnvironment",
			mcp.WithDescription("Run a fixed diagnostic probe sequence inside a container"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
			mcp.WithString("containerName", mcp.Required(), mcp.Description("Target container name")),
			mcp.WithString("packageName", mcp.Description("Package to probe with `which` before the fixed probes")),
		),
		handleDiagnoseContainerEnvironment(deps),
	)

	s.AddTool(
		mcp.NewTool("exitContainer",
			mcp.WithDescription("Clear the active container for a connection without touching its session history"),
			mcp.WithString("connectionId", mcp.Required(), mcp.Description("Connection identity")),
		),
		handleExitContainer(deps),
	)
}

func handleExecuteCommandInDocker(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		container, err := req.RequireString("containerName")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		opts := exec.DockerOptions{
			Workdir:     req.GetString("workdir", ""),
			User:        req.GetString("user", ""),
			Interactive: req.GetBool("interactive", false),
			Timeout:     time.Duration(req.GetInt("timeout", deps.Config.CommandTimeoutMs)) * time.Millisecond,
		}

		result, err := deps.Executor.ExecuteCommandInDocker(ctx, connID, container, command, opts)
		if err != nil {
			return errorResult(err), nil
		}
		return textResult(result)
	}
}

func handleDiagnoseContainerEnvironment(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		container, err := req.RequireString("containerName")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		packageName := req.GetString("packageName", "")

		result, err := deps.Executor.DiagnoseContainer(ctx, connID, container, packageName)
		if err != nil {
			return errorResult(err), nil
		}
		return textResult(result)
	}
}

func handleExitContainer(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		connID, err := req.RequireString("connectionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		deps.DockerCtx.ExitContainer(connID)
		return mcp.NewToolResultText("exited active container for " + connID), nil
	}
}
