package exec

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/opsctl/sshbroker/internal/dockercontext"
	"github.com/opsctl/sshbroker/internal/dockerparse"
)

// runNeedsContainerContext executes a compound command whose segments mix
// `docker exec` and regular shell segments (§4.F step 3, needsContainerContext
// branch): each docker exec segment runs in order, updating the Container
// Context after each; any trailing regular segments are joined with && and
// run inside the last container.
func (e *Executor) runNeedsContainerContext(client *ssh.Client, connID string, pc dockerparse.ParsedCommand, opts Options) (*Result, error) {
	var stdout, stderr strings.Builder
	exitCode := 0
	lastContainer := ""

	for _, seg := range pc.DockerExecs {
		out, errOut, code, err := runRaw(client, seg.Raw, "", opts.Timeout)
		if err != nil {
			e.registry.ReportTransportError(connID, err)
			return nil, err
		}
		stdout.WriteString(out)
		stderr.WriteString(errOut)
		exitCode = code
		lastContainer = seg.Container
		e.dockerCtx.SetContext(connID, seg.Container, seg.Workdir, seg.User, seg.Env)
		if code != 0 {
			return &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}, nil
		}
	}

	if len(pc.RegularSegments) > 0 && lastContainer != "" {
		joined := strings.Join(pc.RegularSegments, " && ")
		wrapped := fmt.Sprintf(`docker exec %s sh -c "%s"`, lastContainer, strings.ReplaceAll(joined, `"`, `\"`))
		out, errOut, code, err := runRaw(client, wrapped, "", opts.Timeout)
		if err != nil {
			e.registry.ReportTransportError(connID, err)
			return nil, err
		}
		stdout.WriteString(out)
		stderr.WriteString(errOut)
		exitCode = code
	}

	return &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// wrapActiveContainer rewraps a regular command with the connection's active
// container's docker exec form, per the "regular + active container" branch.
func wrapActiveContainer(dockerCtx *dockercontext.Manager, connID, rawCommand string) (string, bool) {
	active, ok := dockerCtx.GetActiveContainer(connID)
	if !ok {
		return rawCommand, false
	}
	session, _ := dockerCtx.Get(connID, active)
	return dockercontext.BuildExec(active, rawCommand, session, false), true
}
