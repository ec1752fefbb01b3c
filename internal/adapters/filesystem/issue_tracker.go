package filesystem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// ghIssueTimeout bounds the shell-out so a hung CLI never blocks a
// scheduling pass.
const ghIssueTimeout = 30 * time.Second

// ghIssue mirrors the subset of `gh issue list --json` fields needed.
type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// IssueTracker implements secondary.IssueTracker by shelling out to the
// pre-existing `gh` CLI (spec.md §1: the issue-tracker client "shells out
// to a pre-existing tool" rather than speaking the provider API directly).
type IssueTracker struct{}

// NewIssueTracker creates an IssueTracker.
func NewIssueTracker() *IssueTracker { return &IssueTracker{} }

// ListIssues runs `gh issue list` scoped to repo and maps the result into
// orchestrator-visible IssueUnit values.
func (s *IssueTracker) ListIssues(repo string) ([]models.IssueUnit, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ghIssueTimeout)
	defer cancel()

	args := []string{"issue", "list", "--state", "open", "--json", "number,title,body,labels"}
	if repo != "" {
		args = append(args, "--repo", repo)
	}

	cmd := exec.CommandContext(ctx, "gh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gh issue list failed: %w (%s)", err, stderr.String())
	}

	var raw []ghIssue
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse gh issue list output: %w", err)
	}

	units := make([]models.IssueUnit, 0, len(raw))
	for _, ri := range raw {
		labels := make([]string, 0, len(ri.Labels))
		for _, l := range ri.Labels {
			labels = append(labels, l.Name)
		}
		units = append(units, models.IssueUnit{
			Number: ri.Number,
			Title:  ri.Title,
			Body:   ri.Body,
			Labels: labels,
		})
	}
	return units, nil
}

var _ secondary.IssueTracker = (*IssueTracker)(nil)
