// Package dispatcher implements the Tool Dispatcher: a thin contract layer
// binding the broker's core operations to named MCP tool calls over stdio.
// It validates nothing beyond what the matching operation already enforces —
// schema validation of tool arguments is explicitly out of scope (spec §1) —
// and translates every brokererr.Error into a textual, isError tool result
// rather than a transport fault.
package dispatcher

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/opsctl/sshbroker/internal/config"
	"github.com/opsctl/sshbroker/internal/dockercontext"
	"github.com/opsctl/sshbroker/internal/exec"
	"github.com/opsctl/sshbroker/internal/ptysession"
	"github.com/opsctl/sshbroker/internal/registry"
	"github.com/opsctl/sshbroker/internal/transfer"
	"github.com/opsctl/sshbroker/internal/tunnel"
	"github.com/opsctl/sshbroker/pkg/dockerbridge"
)

const (
	serverName    = "sshbrokerd"
	serverVersion = "1.0.0"
)

// Deps are every core collaborator the dispatcher's tool handlers call into.
type Deps struct {
	Registry  *registry.Registry
	Executor  *exec.Executor
	Transfers *transfer.Manager
	Tunnels   *tunnel.Manager
	Terminals *ptysession.Manager
	DockerCtx *dockercontext.Manager
	Bridge    *dockerbridge.Pool
	Config    *config.EnvConfig
}

// New builds the MCP server and registers every tool in §6's table plus the
// supplemented exitContainer escape hatch, but does not start serving.
func New(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	registerConnectionTools(s, deps)
	registerExecTools(s, deps)
	registerTransferTools(s, deps)
	registerTunnelTools(s, deps)
	registerTerminalTools(s, deps)
	registerDockerTools(s, deps)

	return s
}

// Serve runs the dispatcher over standard input/output until the orchestrator
// closes the channel or the process receives a termination signal.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
