package secondary

import (
	"context"

	"github.com/homer-dev/homer/internal/models"
)

// Verifier is the secondary port for component C (spec.md §4.C).
type Verifier interface {
	// Detect inspects projectRoot and returns the verify commands that
	// would run, without executing them.
	Detect(projectRoot string) []VerifyCommand
	// Run executes the detected commands and normalizes their results.
	Run(ctx context.Context, projectRoot string, commands []VerifyCommand) models.VerificationResult
}

// VerifyCommand is one detected project-verification command.
type VerifyCommand struct {
	Name    string
	Command string
	Args    []string
}
