package childready

import "testing"

func TestReadyPromptSuffixes(t *testing.T) {
	for _, line := range []string{"> ", "$", "aider> $", "continue?", "❯", "user›"} {
		if !Ready(line) {
			t.Errorf("expected %q to be ready", line)
		}
	}
}

func TestReadyToolSubstrings(t *testing.T) {
	if !Ready("Claude Code is waiting") {
		t.Error("expected claude substring to be ready")
	}
	if !Ready("aider is thinking...") {
		t.Error("expected aider substring to be ready")
	}
}

func TestReadyFalseOnPlainOutput(t *testing.T) {
	if Ready("compiling module foo") {
		t.Error("expected plain output line to not be ready")
	}
}
