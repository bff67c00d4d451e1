package exec

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const defaultTimeout = 10 * time.Second

// runRaw executes command on client with an optional cwd and timeout,
// returning collected stdout/stderr and the process exit code. On timeout it
// signals the remote process and returns exit code 1 with stdout/stderr
// collected so far, per the cancellation contract.
func runRaw(client *ssh.Client, command, cwd string, timeout time.Duration) (stdout, stderr string, exitCode int, err error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if cwd != "" {
		command = fmt.Sprintf("cd %s && %s", shellQuote(cwd), command)
	}

	session, sessErr := client.NewSession()
	if sessErr != nil {
		return "", "", -1, fmt.Errorf("create ssh session: %w", sessErr)
	}
	defer session.Close()

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return "", "", -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return "", "", -1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := session.Start(command); err != nil {
		return "", "", -1, fmt.Errorf("start command: %w", err)
	}

	var outBuf, errBuf strings.Builder
	collected := make(chan struct{}, 2)
	go func() {
		defer func() { collected <- struct{}{} }()
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			outBuf.WriteString(scanner.Text())
			outBuf.WriteByte('\n')
		}
	}()
	go func() {
		defer func() { collected <- struct{}{} }()
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			errBuf.WriteString(scanner.Text())
			errBuf.WriteByte('\n')
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- session.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-waitDone:
		<-collected
		<-collected
		if waitErr != nil {
			if exitErr, ok := waitErr.(*ssh.ExitError); ok {
				return outBuf.String(), errBuf.String(), exitErr.ExitStatus(), nil
			}
			return outBuf.String(), errBuf.String(), -1, fmt.Errorf("command execution failed: %w", waitErr)
		}
		return outBuf.String(), errBuf.String(), 0, nil
	case <-timer.C:
		_ = session.Signal(ssh.SIGKILL)
		// The scanner goroutines above are still writing to outBuf/errBuf
		// until their pipes hit EOF; wait for both to finish draining before
		// touching the builders, bounded since a just-SIGKILLed session's
		// pipes should close almost immediately.
		waitForCollection(collected, 2*time.Second)
		errBuf.WriteString(fmt.Sprintf("command timed out after %s", timeout))
		return outBuf.String(), errBuf.String(), 1, nil
	}
}

// waitForCollection waits for both scanner goroutines to signal completion
// on collected, giving up after grace so a pipe that somehow never closes
// can't hang the caller forever.
func waitForCollection(collected <-chan struct{}, grace time.Duration) {
	deadline := time.After(grace)
	for remaining := 2; remaining > 0; remaining-- {
		select {
		case <-collected:
		case <-deadline:
			return
		}
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
