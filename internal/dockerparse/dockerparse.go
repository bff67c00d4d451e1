// Package dockerparse classifies a shell command line intended for a remote
// POSIX shell: a plain command, a single `docker exec` invocation, a
// `docker run` invocation (always passed through untouched), or a compound
// line joining several of the above with &&, ||, or ;.
package dockerparse

import (
	"strings"

	"github.com/google/shlex"
)

type Kind string

const (
	KindRegular    Kind = "regular"
	KindDockerExec Kind = "docker_exec"
	KindDockerRun  Kind = "docker_run"
	KindCompound   Kind = "compound"
)

// argsConsumingOneValue are flags the parser recognizes but does not attach
// meaning to; it still must skip their argument when tokenizing.
var argsConsumingOneValue = map[string]bool{
	"-p": true, "-v": true, "--name": true,
}

// ExecSegment is a single parsed `docker exec` invocation.
type ExecSegment struct {
	Raw          string
	Container    string
	Workdir      string
	User         string
	Env          map[string]string
	Flags        []string // unrecognized short flags, e.g. -i, -t, -it, -d
	InnerCommand string
}

// ParsedCommand is the tagged output of Parse.
type ParsedCommand struct {
	Raw                   string
	Kind                  Kind
	DockerExecs           []ExecSegment
	RegularSegments       []string
	NeedsContainerContext bool
}

// Parse classifies line per the broker's Docker command parser contract.
func Parse(line string) ParsedCommand {
	segments := splitCompound(line)

	if len(segments) == 1 {
		return classifySingle(line, segments[0])
	}

	pc := ParsedCommand{Raw: line, Kind: KindCompound}
	hasExec, hasRegular := false, false
	for _, seg := range segments {
		single := classifySingle(seg, seg)
		switch single.Kind {
		case KindDockerExec:
			pc.DockerExecs = append(pc.DockerExecs, single.DockerExecs...)
			hasExec = true
		case KindDockerRun:
			pc.RegularSegments = append(pc.RegularSegments, seg)
		default:
			pc.RegularSegments = append(pc.RegularSegments, seg)
			hasRegular = true
		}
	}
	pc.NeedsContainerContext = hasExec && hasRegular
	return pc
}

func classifySingle(raw, segment string) ParsedCommand {
	tokens, err := shlex.Split(segment)
	if err != nil {
		tokens = strings.Fields(segment)
	}

	if idx := findDockerVerb(tokens, "exec"); idx >= 0 {
		return ParsedCommand{
			Raw:         raw,
			Kind:        KindDockerExec,
			DockerExecs: []ExecSegment{parseExecTokens(raw, tokens[idx+2:])},
		}
	}
	if findDockerVerb(tokens, "run") >= 0 {
		return ParsedCommand{Raw: raw, Kind: KindDockerRun, RegularSegments: []string{raw}}
	}
	return ParsedCommand{Raw: raw, Kind: KindRegular, RegularSegments: []string{raw}}
}

// findDockerVerb returns the index of "docker" when immediately followed by
// verb, or -1.
func findDockerVerb(tokens []string, verb string) int {
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i] == "docker" && tokens[i+1] == verb {
			return i
		}
	}
	return -1
}

func parseExecTokens(raw string, tokens []string) ExecSegment {
	seg := ExecSegment{Raw: raw, Env: map[string]string{}}

	i := 0
	for ; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == "-w" || tok == "--workdir":
			if i+1 < len(tokens) {
				i++
				seg.Workdir = tokens[i]
			}
		case strings.HasPrefix(tok, "--workdir="):
			seg.Workdir = strings.TrimPrefix(tok, "--workdir=")
		case tok == "-u" || tok == "--user":
			if i+1 < len(tokens) {
				i++
				seg.User = tokens[i]
			}
		case strings.HasPrefix(tok, "--user="):
			seg.User = strings.TrimPrefix(tok, "--user=")
		case tok == "-e" || tok == "--env":
			if i+1 < len(tokens) {
				i++
				k, v, ok := strings.Cut(tokens[i], "=")
				if ok {
					seg.Env[k] = v
				}
			}
		case strings.HasPrefix(tok, "--env="):
			k, v, ok := strings.Cut(strings.TrimPrefix(tok, "--env="), "=")
			if ok {
				seg.Env[k] = v
			}
		case argsConsumingOneValue[tok]:
			if i+1 < len(tokens) {
				i++
			}
		case strings.HasPrefix(tok, "-"):
			seg.Flags = append(seg.Flags, tok)
		default:
			// First non-option token is the container name; the rest is the
			// inner command.
			seg.Container = tok
			seg.InnerCommand = strings.Join(tokens[i+1:], " ")
			return seg
		}
	}
	return seg
}

// splitCompound splits line on unquoted &&, ||, or ;. The separators are
// dropped, each segment is trimmed of surrounding whitespace, and empty
// segments are discarded.
func splitCompound(line string) []string {
	var segments []string
	var cur strings.Builder
	var quote rune

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ';':
			segments = append(segments, cur.String())
			cur.Reset()
		case r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			segments = append(segments, cur.String())
			cur.Reset()
			i++
		case r == '|' && i+1 < len(runes) && runes[i+1] == '|':
			segments = append(segments, cur.String())
			cur.Reset()
			i++
		default:
			cur.WriteRune(r)
		}
	}
	segments = append(segments, cur.String())

	out := make([]string, 0, len(segments))
	for _, s := range segments {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(line)}
	}
	return out
}
