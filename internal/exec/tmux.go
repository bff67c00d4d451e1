package exec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opsctl/sshbroker/internal/brokererr"
)

var (
	tmuxSendKeysPattern = regexp.MustCompile(`^tmux\s+send-keys\s+-t\s+(\S+)\s+.*\b(Enter|C-m)\b`)
	tmuxAnyPattern      = regexp.MustCompile(`\btmux\s+(send-keys|new-session|kill-session|has-session|capture-pane)\b`)
	interactiveCmdRe    = regexp.MustCompile(`^(vim|nano|less|more|top|htop|man)$`)
	promptLineRe        = regexp.MustCompile(`^.*[\$#>]\s+`)
)

// isTmuxRelated reports whether command touches any of the tmux
// subcommands whose output is enriched post-execution.
func isTmuxRelated(command string) bool {
	return tmuxAnyPattern.MatchString(command)
}

// tmuxSendKeysSession returns the target session name if command is a
// `tmux send-keys ... (Enter|C-m)` invocation.
func tmuxSendKeysSession(command string) (string, bool) {
	m := tmuxSendKeysPattern.FindStringSubmatch(command)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// tmuxPreflight runs the blocked-pane determination from §4.F step 5. It
// returns a *brokererr.Error with KindTmuxBlocked when the send should be
// suppressed entirely.
func tmuxPreflight(client *ssh.Client, session string) error {
	panesOut, _, _, err := runRaw(client, fmt.Sprintf(`tmux list-panes -t %s -F "#{pane_pid} #{pane_current_command}"`, shellQuote(session)), "", 5*time.Second)
	if err != nil {
		return nil // tmux session probably doesn't exist yet; let execution surface the real error
	}
	line := strings.TrimSpace(firstLine(panesOut))
	if line == "" {
		return nil
	}
	fields := strings.SplitN(line, " ", 2)
	pid := fields[0]
	paneCmd := ""
	if len(fields) > 1 {
		paneCmd = strings.TrimSpace(fields[1])
	}

	stateOut, _, _, _ := runRaw(client, fmt.Sprintf("ps -o state= -p %s", pid), "", 5*time.Second)
	state := strings.TrimSpace(stateOut)

	childOut, _, _, _ := runRaw(client, fmt.Sprintf("pgrep -P %s", pid), "", 5*time.Second)
	hasChild := strings.TrimSpace(childOut) != ""

	blocked := state == "D" || state == "T" || state == "W" || interactiveCmdRe.MatchString(paneCmd) || hasChild
	if !blocked {
		return nil
	}

	captureOut, _, _, _ := runRaw(client, fmt.Sprintf("tmux capture-pane -p -t %s -S -10", shellQuote(session)), "", 5*time.Second)
	msg := fmt.Sprintf(
		"tmux pane for session %q is blocked (pane command=%q, state=%q); last 10 lines:\n%s\nhint: pass force: true to send anyway",
		session, paneCmd, state, captureOut,
	)
	return brokererr.New(brokererr.KindTmuxBlocked, msg)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// tmuxCapturePane captures the pane's current contents. Callers use it to
// take the "before" snapshot prior to sending keys, per spec.md's resolution
// of the beforeCapture open question: always capture once before sending,
// never conditionally inside the blocked-check branch.
func tmuxCapturePane(client *ssh.Client, session string) string {
	out, _, _, _ := runRaw(client, fmt.Sprintf("tmux capture-pane -p -t %s", shellQuote(session)), "", 5*time.Second)
	return out
}

// tmuxEnrichSendKeys computes the longest-common-prefix diff between the
// pre-send pane capture and a post-send capture, and returns the newly
// appended lines plus a small preceding context window bounded by the two
// most recent prompt-like lines.
func tmuxEnrichSendKeys(client *ssh.Client, session, before string) string {
	time.Sleep(300 * time.Millisecond)
	after, _, _, _ := runRaw(client, fmt.Sprintf("tmux capture-pane -p -t %s", shellQuote(session)), "", 5*time.Second)

	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")

	common := 0
	for common < len(beforeLines) && common < len(afterLines) && beforeLines[common] == afterLines[common] {
		common++
	}
	appended := afterLines[common:]

	contextStart := common
	promptsSeen := 0
	for i := common - 1; i >= 0 && promptsSeen < 2; i-- {
		if promptLineRe.MatchString(beforeLines[i]) {
			promptsSeen++
			contextStart = i
		}
	}
	context := beforeLines[contextStart:common]

	var b strings.Builder
	for _, l := range context {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	for _, l := range appended {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// tmuxSummary builds the concise result for non-send-keys tmux operations
// (new-session, kill-session, has-session, capture-pane, compound tmux).
func tmuxSummary(command string, exitCode int) string {
	verdict := "ok"
	if exitCode != 0 {
		verdict = "failed (exit " + strconv.Itoa(exitCode) + ")"
	}
	return fmt.Sprintf("tmux operation %q: %s", command, verdict)
}
