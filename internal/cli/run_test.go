package cli

import (
	"testing"

	"github.com/homer-dev/homer/internal/config"
)

func TestApplyConfigFallbackFillsUnsetFlagsOnly(t *testing.T) {
	cmd := RootCmd()
	if err := cmd.Flags().Set("tool", "claude"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	f := runFlags{Tool: "claude"}
	fileCfg := config.Config{Tool: "aider", Model: "opus", Agents: 4, LabelPrefix: "homer/"}

	applyConfigFallback(cmd, &f, fileCfg)

	if f.Tool != "claude" {
		t.Fatalf("explicitly-passed --tool was overwritten by config file: got %q", f.Tool)
	}
	if f.Model != "opus" {
		t.Fatalf("Model = %q, want fallback from config file", f.Model)
	}
	if f.Agents != 4 {
		t.Fatalf("Agents = %d, want fallback from config file", f.Agents)
	}
	if f.Label != "homer/" {
		t.Fatalf("Label = %q, want fallback from config file", f.Label)
	}
}

func TestApplyConfigFallbackLeavesFieldsAloneWhenFileEmpty(t *testing.T) {
	cmd := RootCmd()
	f := runFlags{Repo: "acme/widgets"}

	applyConfigFallback(cmd, &f, config.Config{})

	if f.Repo != "acme/widgets" {
		t.Fatalf("Repo = %q, want unchanged", f.Repo)
	}
}
