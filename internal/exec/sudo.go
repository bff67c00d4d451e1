package exec

import "regexp"

var sudoWordBoundary = regexp.MustCompile(`\bsudo\b`)

// applySudoDispatch rewrites a command containing a bare `sudo` invocation to
// non-interactively consume a piped password, iff one is available. The
// password is never logged.
func applySudoDispatch(command, password string) string {
	if password == "" || !sudoWordBoundary.MatchString(command) {
		return command
	}
	rewritten := sudoWordBoundary.ReplaceAllString(command, "sudo -S")
	return `echo "` + password + `" | ` + rewritten + ` 2>/dev/null`
}
