package dispatcher

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/opsctl/sshbroker/internal/brokererr"
)

// errorResult renders err as an isError tool result, prefixing it with its
// brokererr.Kind when available so the orchestrator can branch on it without
// parsing free text.
func errorResult(err error) *mcp.CallToolResult {
	kind := brokererr.KindOf(err)
	return mcp.NewToolResultError(string(kind) + ": " + err.Error())
}
