package verify

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/homer-dev/homer/internal/core/errorkey"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// checkTimeout is the hard per-command timeout spec.md §4.C fixes.
const checkTimeout = 120 * time.Second

// tailPass/tailFail are the output-retention lengths spec.md §4.C fixes.
const (
	tailPass = 500
	tailFail = 800
)

// Run implements secondary.Verifier.Run: each command runs to completion
// (or timeout) with stdin closed, CWD at projectRoot, and its output
// normalized into a CheckResult.
func (r *Runner) Run(ctx context.Context, projectRoot string, commands []secondary.VerifyCommand) models.VerificationResult {
	if len(commands) == 0 {
		return models.VerificationResult{Passed: true, Skipped: true}
	}

	results := make([]models.CheckResult, 0, len(commands))
	allPassed := true

	for _, c := range commands {
		res := r.runOne(ctx, projectRoot, c)
		if !res.Passed {
			allPassed = false
		}
		results = append(results, res)
	}

	return models.VerificationResult{Passed: allPassed, Results: results}
}

func (r *Runner) runOne(ctx context.Context, projectRoot string, c secondary.VerifyCommand) models.CheckResult {
	runCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Command, c.Args...)
	cmd.Dir = projectRoot
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	passed := err == nil

	combined := stderr.String() + stdout.String()
	if combined == "" && err != nil {
		combined = err.Error()
	}

	limit := tailPass
	if !passed {
		limit = tailFail
	}

	result := models.CheckResult{
		Name:            c.Name,
		Command:         cmd.String(),
		Passed:          passed,
		TruncatedOutput: tail(combined, limit),
	}
	if !passed {
		result.ErrorKey = errorkey.Extract(c.Name, firstArgPath(c), combined)
	}
	return result
}

// firstArgPath gives errorkey.Extract a filename hint when the command
// targets one (e.g. test runners invoked with a path argument).
func firstArgPath(c secondary.VerifyCommand) string {
	for _, a := range c.Args {
		if len(a) > 0 && a[0] != '-' {
			return a
		}
	}
	return ""
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
