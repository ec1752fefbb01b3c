package procbuf

import (
	"context"
	"strings"
	"testing"

	"github.com/homer-dev/homer/internal/core/signal"
	"github.com/homer-dev/homer/internal/models"
)

type fakeMemory struct {
	recorded []models.ContextCompaction
}

func (f *fakeMemory) RecordVerification(ctx context.Context, agentID, taskKey string, result models.VerificationResult, filesTouched []string, toolID string, attempt int) error {
	return nil
}
func (f *fakeMemory) RecordSuccess(ctx context.Context, agentID, taskKey string, filesTouched []string, verifyAttempts int, injectedRuleIDs []string) error {
	return nil
}
func (f *fakeMemory) RecordFailure(ctx context.Context, agentID, taskKey, reason string, outcome models.TaskRunOutcome, filesTouched []string, injectedRuleIDs []string) error {
	return nil
}
func (f *fakeMemory) RecordContextCompaction(ctx context.Context, c models.ContextCompaction) error {
	f.recorded = append(f.recorded, c)
	return nil
}
func (f *fakeMemory) BuildTaskMemory(ctx context.Context, taskKey string, filePaths []string) string {
	return ""
}
func (f *fakeMemory) BuildErrorContext(ctx context.Context, errorKey, filePath string) string {
	return ""
}
func (f *fakeMemory) BuildRerouteContext(ctx context.Context, taskKey string, filePaths []string) string {
	return ""
}
func (f *fakeMemory) BuildRuleHints(ctx context.Context, filePaths []string, errorKeys []string) string {
	return ""
}
func (f *fakeMemory) GetLastInjectedRuleIDs() []string { return nil }
func (f *fakeMemory) Consolidate(ctx context.Context) error {
	return nil
}

func TestAppendDetectsDoneSignal(t *testing.T) {
	p := New("agent-1", "story:1", nil)
	result := p.Append(context.Background(), []byte("working...\nHOMER_DONE\n"))
	if result.Kind != signal.Done {
		t.Fatalf("expected Done signal, got %v", result)
	}
}

func TestAppendLatchesAfterFirstSignal(t *testing.T) {
	p := New("agent-1", "story:1", nil)
	p.Append(context.Background(), []byte("HOMER_DONE\n"))
	result := p.Append(context.Background(), []byte("HOMER_DONE again\n"))
	if result.Kind != signal.None {
		t.Fatalf("expected latched None, got %v", result)
	}
}

func TestResetSignalRearms(t *testing.T) {
	p := New("agent-1", "story:1", nil)
	p.Append(context.Background(), []byte("HOMER_DONE\n"))
	p.ResetSignal()
	result := p.Append(context.Background(), []byte("HOMER_BLOCKED: stuck\n"))
	if result.Kind != signal.Blocked || result.Reason != "stuck" {
		t.Fatalf("expected re-armed Blocked signal, got %v", result)
	}
}

func TestAppendTrimsAndRecordsCompaction(t *testing.T) {
	mem := &fakeMemory{}
	p := New("agent-1", "story:1", mem)

	prefix := "src/app.go error\nError: something broke\nmy plan is to fix it\n" + strings.Repeat("x", TrimAt)
	p.Append(context.Background(), []byte(prefix))

	if len(p.Snapshot()) > TrimAt {
		t.Fatalf("buffer not trimmed: len=%d", len(p.Snapshot()))
	}
	if len(mem.recorded) != 1 {
		t.Fatalf("expected one compaction record, got %d", len(mem.recorded))
	}
}

func TestSetVerifyDigestPrefixesAfterTrim(t *testing.T) {
	mem := &fakeMemory{}
	p := New("agent-1", "story:1", mem)
	p.SetVerifyDigest("[verify attempt 1 failed: TS2345]\n")

	p.Append(context.Background(), []byte(strings.Repeat("y", TrimAt+10)))

	snap := string(p.Snapshot())
	if !strings.HasPrefix(snap, "[verify attempt 1 failed: TS2345]\n") {
		t.Fatalf("expected verify digest prefix, got start %q", snap[:40])
	}
}
