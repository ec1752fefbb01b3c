// Package toolcatalog holds the process-wide, immutable catalog of tool
// descriptors (spec.md §3, §9: "dynamic tool descriptors... express as a
// tagged variant enumerating supported tools"). No per-run state lives
// here; Resolve is a pure lookup.
package toolcatalog

import "github.com/homer-dev/homer/internal/models"

var claude = models.Tool{
	ID:      "claude",
	Name:    "Claude Code",
	Command: "claude",
	Capabilities: models.ToolCapabilities{
		Interactive:           true,
		PermissionModes:       []string{"default", "acceptEdits", "bypassPermissions", "plan"},
		SupportsSystemPrompt:  true,
		SupportsInitialPrompt: true,
	},
	BuildArgs: func(opts models.ToolRunOptions) []string {
		var args []string
		if opts.Model != "" {
			args = append(args, "--model", opts.Model)
		}
		if opts.PermissionMode != "" {
			args = append(args, "--permission-mode", opts.PermissionMode)
		}
		if opts.SystemPrompt != "" {
			args = append(args, "--append-system-prompt", opts.SystemPrompt)
		}
		return args
	},
	BuildInitial: func(initialPrompt string) []string {
		return []string{initialPrompt}
	},
}

var aider = models.Tool{
	ID:      "aider",
	Name:    "Aider",
	Command: "aider",
	Capabilities: models.ToolCapabilities{
		Interactive: true,
	},
	BuildArgs: func(opts models.ToolRunOptions) []string {
		var args []string
		if opts.Model != "" {
			args = append(args, "--model", opts.Model)
		}
		return args
	},
}

var known = map[string]models.Tool{
	claude.ID: claude,
	aider.ID:  aider,
}

// Resolve looks up id in the process-wide catalog, falling back to a
// capability-less generic descriptor for an unknown-but-executable command
// (spec.md §9).
func Resolve(id string) models.Tool {
	if t, ok := known[id]; ok {
		return t
	}
	return models.GenericTool(id, id)
}

// Known returns every cataloged tool descriptor.
func Known() []models.Tool {
	out := make([]models.Tool, 0, len(known))
	for _, t := range known {
		out = append(out, t)
	}
	return out
}
