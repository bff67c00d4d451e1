package exec

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/opsctl/sshbroker/internal/brokererr"
	"github.com/opsctl/sshbroker/internal/credential"
	"github.com/opsctl/sshbroker/internal/dockercontext"
	"github.com/opsctl/sshbroker/internal/dockerparse"
	"github.com/opsctl/sshbroker/internal/registry"
	"github.com/opsctl/sshbroker/pkg/dockerbridge"
)

// Executor is the Command Execution Engine.
type Executor struct {
	registry  *registry.Registry
	dockerCtx *dockercontext.Manager
	creds     credential.Store
	bridge    *dockerbridge.Pool

	truncateThreshold int

	tasksMu sync.Mutex
	tasks   map[string]*backgroundTask
}

func New(reg *registry.Registry, dockerCtx *dockercontext.Manager, creds credential.Store, bridge *dockerbridge.Pool, truncateThreshold int) *Executor {
	return &Executor{
		registry:          reg,
		dockerCtx:         dockerCtx,
		creds:             creds,
		bridge:            bridge,
		truncateThreshold: truncateThreshold,
		tasks:             make(map[string]*backgroundTask),
	}
}

// listContainerNames resolves the 30-second container list cache for connID,
// preferring the bridged Docker Engine API (pkg/dockerbridge) and falling
// back to parsing `docker ps -a --format` text output when the Engine API is
// unreachable for this user (no socket access), per SPEC_FULL.md §4.E.
func (e *Executor) listContainerNames(ctx context.Context, connID string, client *ssh.Client, forceRefresh bool) ([]string, error) {
	return e.dockerCtx.ResolveList(connID, forceRefresh, func() ([]string, error) {
		if e.bridge != nil {
			if infos, err := e.bridge.ListContainers(ctx, connID, client); err == nil {
				names := make([]string, 0, len(infos))
				for _, info := range infos {
					names = append(names, info.Name)
				}
				return names, nil
			}
		}

		out, _, _, err := runRaw(client, `docker ps -a --format '{{.Names}}'`, "", 0)
		if err != nil {
			return nil, brokererr.Wrap(brokererr.KindDockerFailed, "list containers", err)
		}
		var names []string
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				names = append(names, line)
			}
		}
		return names, nil
	})
}

// ExecuteCommand is the primary operation of the Command Execution Engine.
func (e *Executor) ExecuteCommand(ctx context.Context, connID, rawCommand string, opts Options) (*Result, error) {
	conn, ok := e.registry.Get(connID)
	if !ok {
		return nil, brokererr.New(brokererr.KindNotConnected, "unknown connection "+connID)
	}
	if conn.State() != registry.StateConnected {
		return nil, brokererr.New(brokererr.KindNotConnected, "connection "+connID+" is not connected")
	}
	conn.Touch()

	conn.ExecLock()
	defer conn.ExecUnlock()

	client := conn.Client()
	if client == nil {
		return nil, brokererr.New(brokererr.KindNotConnected, "connection "+connID+" has no live transport")
	}

	pc := dockerparse.Parse(rawCommand)

	if pc.Kind == dockerparse.KindCompound && pc.NeedsContainerContext {
		res, err := e.runNeedsContainerContext(client, connID, pc, opts)
		if err != nil {
			return nil, brokererr.Wrap(brokererr.KindDockerFailed, "docker-aware compound command", err)
		}
		res.Stdout = truncateOutput(res.Stdout, e.truncateThreshold)
		res.Stderr = truncateOutput(res.Stderr, e.truncateThreshold)
		return res, nil
	}

	command := rawCommand
	switch pc.Kind {
	case dockerparse.KindDockerExec:
		if len(pc.DockerExecs) == 1 {
			seg := pc.DockerExecs[0]
			e.dockerCtx.SetContext(connID, seg.Container, seg.Workdir, seg.User, seg.Env)
		}
	case dockerparse.KindDockerRun:
		// never rewritten
	case dockerparse.KindRegular:
		if wrapped, ok := wrapActiveContainer(e.dockerCtx, connID, rawCommand); ok {
			command = wrapped
		}
	}

	password := e.sudoPassword(ctx, conn)
	command = applySudoDispatch(command, password)

	sess, isSendKeys := tmuxSendKeysSession(command)
	if isSendKeys && !opts.Force {
		if err := tmuxPreflight(client, sess); err != nil {
			return nil, err
		}
	}

	// Capture the pane once before sending, unconditionally, per spec.md's
	// resolution of the beforeCapture open question: never rely on a capture
	// taken only inside the (sometimes-skipped) blocked-check branch above.
	var tmuxBefore string
	if isSendKeys {
		tmuxBefore = tmuxCapturePane(client, sess)
	}

	stdout, stderr, exitCode, err := runRaw(client, command, opts.Cwd, opts.Timeout)
	if err != nil {
		e.registry.ReportTransportError(connID, err)
		return nil, brokererr.Wrap(brokererr.KindInternal, "execute command", err)
	}

	if strings.HasPrefix(strings.TrimSpace(rawCommand), "cd ") && exitCode == 0 {
		e.refreshCurrentDirectory(conn, client)
	}

	if isSendKeys && exitCode == 0 {
		stdout = tmuxEnrichSendKeys(client, sess, tmuxBefore)
	} else if isTmuxRelated(command) {
		stdout = tmuxSummary(command, exitCode) + "\n" + stdout
	}

	return &Result{
		Stdout:   truncateOutput(stdout, e.truncateThreshold),
		Stderr:   truncateOutput(stderr, e.truncateThreshold),
		ExitCode: exitCode,
	}, nil
}

// ExecuteCommandInDocker runs command inside a named container, threading the
// result through the Container Context the same way an implicit wrap would.
func (e *Executor) ExecuteCommandInDocker(ctx context.Context, connID, containerName, command string, opts DockerOptions) (*Result, error) {
	conn, ok := e.registry.Get(connID)
	if !ok || conn.Client() == nil {
		return nil, brokererr.New(brokererr.KindNotConnected, "unknown connection "+connID)
	}
	known, err := e.listContainerNames(ctx, connID, conn.Client(), false)
	if err != nil {
		return nil, err
	}
	if !containsName(known, containerName) {
		return nil, brokererr.New(brokererr.KindUnknownContainer, "no such container: "+containerName)
	}

	session := e.dockerCtx.SetContext(connID, containerName, opts.Workdir, opts.User, nil)
	wrapped := dockercontext.BuildExec(containerName, command, session, opts.Interactive)
	return e.ExecuteCommand(ctx, connID, wrapped, Options{Timeout: opts.Timeout})
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// DiagnoseContainer runs a fixed diagnostic probe sequence inside a
// container, per SPEC_FULL.md's diagnoseContainerEnvironment tool.
func (e *Executor) DiagnoseContainer(ctx context.Context, connID, containerName, packageName string) (*Result, error) {
	probes := []string{"cat /etc/os-release", "ps aux", "df -h"}
	if packageName != "" {
		probes = append([]string{"which " + packageName}, probes...)
	}

	var out, errOut strings.Builder
	lastCode := 0
	for _, probe := range probes {
		res, err := e.ExecuteCommandInDocker(ctx, connID, containerName, probe, DockerOptions{})
		if err != nil {
			return nil, err
		}
		out.WriteString("$ " + probe + "\n" + res.Stdout)
		errOut.WriteString(res.Stderr)
		lastCode = res.ExitCode
	}
	return &Result{
		Stdout:   truncateOutput(out.String(), e.truncateThreshold),
		Stderr:   truncateOutput(errOut.String(), e.truncateThreshold),
		ExitCode: lastCode,
	}, nil
}

func (e *Executor) sudoPassword(ctx context.Context, conn *registry.Connection) string {
	snap := conn.ConfigSnapshot()
	if snap.Password != "" {
		return snap.Password
	}
	secret, err := e.creds.Load(ctx, conn.ID)
	if err != nil {
		zap.L().Warn("credential lookup failed during sudo dispatch", zap.String("connectionId", conn.ID), zap.Error(err))
		return ""
	}
	return secret.Password
}

func (e *Executor) refreshCurrentDirectory(conn *registry.Connection, client *ssh.Client) {
	session, err := client.NewSession()
	if err != nil {
		return
	}
	defer session.Close()
	out, err := session.Output("pwd")
	if err != nil {
		return
	}
	conn.SetCurrentDirectory(strings.TrimSpace(string(out)))
}
