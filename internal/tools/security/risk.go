// Package security classifies shell commands by risk so the bash tool can
// gate execution. Classification is conservative: command substitution and
// loader-path injection are refused outright, and unknown commands default
// to yellow.
package security

import (
	"path"
	"strings"

	"github.com/haasonsaas/agentos/pkg/models"
)

// Assessment is the outcome of classifying one shell command.
type Assessment struct {
	// Command is the original command line.
	Command string `json:"command"`

	// Level is the highest risk level across all segments.
	Level models.RiskLevel `json:"level"`

	// Blocked commands are refused with no override.
	Blocked bool `json:"blocked"`

	// Reason explains a block or elevated classification.
	Reason string `json:"reason,omitempty"`
}

// greenCommands are harmless read-only commands.
var greenCommands = map[string]bool{
	"ls": true, "echo": true, "cat": true, "pwd": true, "cd": true,
	"head": true, "tail": true, "wc": true, "which": true, "date": true,
	"true": true, "false": true, "env": true, "printenv": true,
}

// yellowCommands are logged but permitted.
var yellowCommands = map[string]bool{
	"git": true, "npm": true, "find": true, "go": true, "make": true,
	"grep": true, "sed": true, "awk": true, "sort": true, "diff": true,
	"tar": true, "python": true, "python3": true, "node": true,
}

// redCommands require yolo mode.
var redCommands = map[string]bool{
	"rm": true, "curl": true, "wget": true, "sudo": true, "docker": true,
	"chmod": true, "chown": true, "kill": true, "killall": true,
	"ssh": true, "scp": true, "mv": true, "ln": true, "systemctl": true,
}

// injectionPrefixes at the start of a segment are refused outright.
var injectionPrefixes = []string{"LD_PRELOAD=", "LD_LIBRARY_PATH=", "PATH="}

// Classify analyzes a shell command. The command is split into segments
// on &&, ||, ;, and |; the highest segment level wins, and any critical
// segment blocks the command.
func Classify(cmd string) *Assessment {
	a := &Assessment{Command: cmd, Level: models.RiskGreen}

	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return a
	}

	if strings.Contains(cmd, "$(") || strings.Contains(cmd, "`") {
		a.Level = models.RiskCritical
		a.Blocked = true
		a.Reason = "command substitution is not permitted"
		return a
	}
	if strings.Contains(cmd, ":(){") || strings.Contains(cmd, ":() {") {
		a.Level = models.RiskCritical
		a.Blocked = true
		a.Reason = "fork bomb pattern"
		return a
	}

	for _, segment := range splitSegments(trimmed) {
		level, blocked, reason := classifySegment(segment)
		a.Level = a.Level.Max(level)
		if blocked && !a.Blocked {
			a.Blocked = true
			a.Reason = reason
		}
	}
	if a.Blocked {
		a.Level = models.RiskCritical
	}
	return a
}

// splitSegments splits on the shell chaining operators &&, ||, ;, |.
func splitSegments(cmd string) []string {
	var segments []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(cmd); i++ {
		if i+1 < len(cmd) && (cmd[i:i+2] == "&&" || cmd[i:i+2] == "||") {
			flush()
			i++
			continue
		}
		if cmd[i] == ';' || cmd[i] == '|' {
			flush()
			continue
		}
		cur.WriteByte(cmd[i])
	}
	flush()
	return segments
}

func classifySegment(segment string) (models.RiskLevel, bool, string) {
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return models.RiskGreen, false, ""
	}

	for _, prefix := range injectionPrefixes {
		if strings.HasPrefix(fields[0], prefix) {
			return models.RiskCritical, true, "loader path injection: " + prefix
		}
	}

	// Strip benign leading env-var assignments (FOO=bar cmd ...).
	for len(fields) > 0 && isEnvAssignment(fields[0]) {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return models.RiskGreen, false, ""
	}

	base := path.Base(fields[0])
	args := fields[1:]

	if blocked, reason := criticalSegment(base, args); blocked {
		return models.RiskCritical, true, reason
	}

	switch base {
	case "find":
		for _, arg := range args {
			if arg == "-exec" || arg == "--exec" {
				return models.RiskCritical, true, "find -exec is not permitted"
			}
		}
	case "git":
		for _, arg := range args {
			if arg == "--exec" || strings.HasPrefix(arg, "--upload-pack") || strings.HasPrefix(arg, "--post-checkout") {
				return models.RiskCritical, true, "git " + arg + " is not permitted"
			}
		}
	}

	switch {
	case greenCommands[base]:
		return models.RiskGreen, false, ""
	case redCommands[base]:
		return models.RiskRed, false, ""
	case yellowCommands[base]:
		return models.RiskYellow, false, ""
	default:
		// Unknown commands are yellow: logged, permitted.
		return models.RiskYellow, false, ""
	}
}

func isEnvAssignment(tok string) bool {
	eq := strings.Index(tok, "=")
	if eq <= 0 {
		return false
	}
	for _, r := range tok[:eq] {
		if !(r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// criticalSegment detects destructive commands that are blocked with no
// override.
func criticalSegment(base string, args []string) (bool, string) {
	if strings.HasPrefix(base, "mkfs") {
		return true, "filesystem format"
	}
	if base == "dd" {
		for _, arg := range args {
			if strings.HasPrefix(arg, "if=") || strings.HasPrefix(arg, "of=") {
				return true, "raw disk copy"
			}
		}
	}
	if base == "rm" {
		// Flags and paths are checked independently: rm / -rf is as
		// destructive as rm -rf /.
		recursive, force := false, false
		for _, arg := range args {
			if strings.HasPrefix(arg, "-") {
				if strings.Contains(arg, "r") || strings.Contains(arg, "R") {
					recursive = true
				}
				if strings.Contains(arg, "f") {
					force = true
				}
			}
		}
		if recursive && force {
			for _, arg := range args {
				if strings.HasPrefix(arg, "-") {
					continue
				}
				clean := strings.TrimSuffix(arg, "*")
				if clean == "/" || clean == "/." || arg == "/*" {
					return true, "recursive delete of filesystem root"
				}
			}
		}
	}
	return false, ""
}
