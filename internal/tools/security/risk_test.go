package security

import (
	"testing"

	"github.com/haasonsaas/agentos/pkg/models"
)

func TestClassify_Levels(t *testing.T) {
	tests := []struct {
		cmd     string
		level   models.RiskLevel
		blocked bool
	}{
		{"ls -la", models.RiskGreen, false},
		{"echo hello", models.RiskGreen, false},
		{"cat notes.txt", models.RiskGreen, false},
		{"pwd", models.RiskGreen, false},
		{"git status", models.RiskYellow, false},
		{"npm install", models.RiskYellow, false},
		{"find . -name '*.go'", models.RiskYellow, false},
		{"somethingunknown --flag", models.RiskYellow, false},
		{"rm old.log", models.RiskRed, false},
		{"curl https://example.com", models.RiskRed, false},
		{"sudo apt install jq", models.RiskRed, false},
		{"docker ps", models.RiskRed, false},
		{"chmod +x run.sh", models.RiskRed, false},
		{"rm -rf /", models.RiskCritical, true},
		{"rm -rf /*", models.RiskCritical, true},
		{"rm / -rf", models.RiskCritical, true},
		{"rm -r / -f", models.RiskCritical, true},
		{"rm -rf ./build", models.RiskRed, false},
		{"dd if=/dev/zero of=/dev/sda", models.RiskCritical, true},
		{"mkfs.ext4 /dev/sda1", models.RiskCritical, true},
		{":(){ :|:& };:", models.RiskCritical, true},
	}

	for _, tt := range tests {
		a := Classify(tt.cmd)
		if a.Level != tt.level {
			t.Errorf("%q: expected level %s, got %s", tt.cmd, tt.level, a.Level)
		}
		if a.Blocked != tt.blocked {
			t.Errorf("%q: expected blocked=%v, got %v (%s)", tt.cmd, tt.blocked, a.Blocked, a.Reason)
		}
	}
}

func TestClassify_HighestSegmentWins(t *testing.T) {
	a := Classify("ls && rm old.log")
	if a.Level != models.RiskRed {
		t.Errorf("expected red across segments, got %s", a.Level)
	}

	a = Classify("echo hi; git log | head")
	if a.Level != models.RiskYellow {
		t.Errorf("expected yellow across segments, got %s", a.Level)
	}

	a = Classify("echo ok && rm -rf /")
	if !a.Blocked {
		t.Error("critical segment must block the whole command")
	}
}

func TestClassify_CommandSubstitutionBlocked(t *testing.T) {
	for _, cmd := range []string{"echo $(whoami)", "echo `id`"} {
		a := Classify(cmd)
		if !a.Blocked {
			t.Errorf("%q: expected block for substitution", cmd)
		}
	}
}

func TestClassify_LoaderInjectionBlocked(t *testing.T) {
	for _, cmd := range []string{
		"LD_PRELOAD=/tmp/evil.so ls",
		"LD_LIBRARY_PATH=/tmp ls",
		"PATH=/tmp:$PATH ls",
	} {
		a := Classify(cmd)
		if !a.Blocked {
			t.Errorf("%q: expected block for loader injection", cmd)
		}
	}
}

func TestClassify_BenignEnvAssignmentStripped(t *testing.T) {
	a := Classify("GOOS=linux go build ./...")
	if a.Blocked {
		t.Errorf("benign env assignment should not block: %s", a.Reason)
	}
	if a.Level != models.RiskYellow {
		t.Errorf("expected yellow for go build, got %s", a.Level)
	}
}

func TestClassify_FindExecBlocked(t *testing.T) {
	a := Classify("find / -exec rm {} \\;")
	if !a.Blocked {
		t.Error("find -exec must be refused")
	}
}

func TestClassify_GitDangerousFlagsBlocked(t *testing.T) {
	for _, cmd := range []string{
		"git fetch --upload-pack=/tmp/evil origin",
		"git checkout --post-checkout=x main",
	} {
		a := Classify(cmd)
		if !a.Blocked {
			t.Errorf("%q: expected block", cmd)
		}
	}
}

func TestClassify_PathPrefixStripped(t *testing.T) {
	a := Classify("/usr/bin/rm old.log")
	if a.Level != models.RiskRed {
		t.Errorf("expected red for path-prefixed rm, got %s", a.Level)
	}
}

func TestClassify_Empty(t *testing.T) {
	a := Classify("")
	if a.Blocked || a.Level != models.RiskGreen {
		t.Errorf("empty command should be green, got %s", a.Level)
	}
}
