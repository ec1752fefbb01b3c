package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/primary"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// fakePTYHandle/fakePTYHost let tests drive onData/onExit directly.
type fakePTYHandle struct{ id string }

func (h *fakePTYHandle) ID() string { return h.id }

type spawnedPTY struct {
	handle  *fakePTYHandle
	cb      secondary.PTYCallbacks
	writes  [][]byte
	killed  bool
	command string
	args    []string
}

type fakePTYHost struct {
	mu       sync.Mutex
	byID     map[string]*spawnedPTY
	order    []string
	failNext bool
	seq      int
}

func newFakePTYHost() *fakePTYHost { return &fakePTYHost{byID: make(map[string]*spawnedPTY)} }

func (f *fakePTYHost) Spawn(ctx context.Context, command string, args []string, env []string, cwd string, cols, rows int, cb secondary.PTYCallbacks) (secondary.PTYHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("spawn failed")
	}
	f.seq++
	h := &fakePTYHandle{id: fmt.Sprintf("pty-%d", f.seq)}
	sp := &spawnedPTY{handle: h, cb: cb, command: command, args: args}
	f.byID[h.id] = sp
	f.order = append(f.order, h.id)
	return h, nil
}

func (f *fakePTYHost) Write(handle secondary.PTYHandle, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := f.byID[handle.ID()]
	sp.writes = append(sp.writes, data)
	return nil
}

func (f *fakePTYHost) Resize(handle secondary.PTYHandle, cols, rows int) error { return nil }

func (f *fakePTYHost) Kill(handle secondary.PTYHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[handle.ID()].killed = true
	return nil
}

func (f *fakePTYHost) last() *spawnedPTY {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[f.order[len(f.order)-1]]
}

var _ secondary.PTYHost = (*fakePTYHost)(nil)

// fakeVerifier returns a canned VerificationResult.
type fakeVerifier struct {
	mu     sync.Mutex
	result models.VerificationResult
	calls  int
}

func (v *fakeVerifier) Detect(projectRoot string) []secondary.VerifyCommand { return nil }
func (v *fakeVerifier) Run(ctx context.Context, projectRoot string, commands []secondary.VerifyCommand) models.VerificationResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.result
}

var _ secondary.Verifier = (*fakeVerifier)(nil)

// fakeMemory is a no-op primary.MemoryService recording what it's told.
type fakeMemory struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (m *fakeMemory) RecordVerification(ctx context.Context, agentID, taskKey string, result models.VerificationResult, filesTouched []string, toolID string, attempt int) error {
	return nil
}
func (m *fakeMemory) RecordSuccess(ctx context.Context, agentID, taskKey string, filesTouched []string, verifyAttempts int, injectedRuleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, taskKey)
	return nil
}
func (m *fakeMemory) RecordFailure(ctx context.Context, agentID, taskKey, reason string, outcome models.TaskRunOutcome, filesTouched []string, injectedRuleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, taskKey+":"+string(outcome))
	return nil
}
func (m *fakeMemory) RecordContextCompaction(ctx context.Context, c models.ContextCompaction) error {
	return nil
}
func (m *fakeMemory) BuildTaskMemory(ctx context.Context, taskKey string, filePaths []string) string {
	return ""
}
func (m *fakeMemory) BuildErrorContext(ctx context.Context, errorKey, filePath string) string { return "" }
func (m *fakeMemory) BuildRerouteContext(ctx context.Context, taskKey string, filePaths []string) string {
	return "WHAT PREVIOUS AGENTS TRIED"
}
func (m *fakeMemory) BuildRuleHints(ctx context.Context, filePaths []string, errorKeys []string) string {
	return ""
}
func (m *fakeMemory) GetLastInjectedRuleIDs() []string { return nil }
func (m *fakeMemory) Consolidate(ctx context.Context) error { return nil }

var _ primary.MemoryService = (*fakeMemory)(nil)

// fakeBus records published events in order.
type fakeSub struct{ ch chan models.Event }

func (s *fakeSub) Ch() <-chan models.Event { return s.ch }
func (s *fakeSub) Close()                  {}

type fakeBus struct {
	mu     sync.Mutex
	events []models.Event
}

func (b *fakeBus) Publish(evt models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}
func (b *fakeBus) Subscribe() secondary.Subscription { return &fakeSub{ch: make(chan models.Event, 64)} }
func (b *fakeBus) snapshot() []models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Event(nil), b.events...)
}

var _ secondary.EventBus = (*fakeBus)(nil)

type fakeNotes struct{}

func (fakeNotes) WriteAgentNote(agentID, content string) error  { return nil }
func (fakeNotes) AppendWorkflow(line string) error               { return nil }
func (fakeNotes) AppendProgress(line string) error               { return nil }
func (fakeNotes) WriteProjectContext(cwd, content string) error { return nil }

var _ secondary.NotesStore = fakeNotes{}

// emptyTaskSource never offers its own PRD/story work: every test drives the
// scheduler by passing a WorkUnit directly into SpawnRequest, so Next()
// falling through to an empty PRD (LoadPRD ok=false) is exactly what's
// wanted.
type emptyTaskSource struct{}

func (emptyTaskSource) LoadPRD(cwd string) (*models.PRD, bool)  { return nil, false }
func (emptyTaskSource) SavePRD(cwd string, prd *models.PRD) error { return nil }
func (emptyTaskSource) NextStory(prd *models.PRD) *models.UserStory { return nil }
func (emptyTaskSource) DecomposeStory(story models.UserStory) []models.SubtaskUnit { return nil }
func (emptyTaskSource) IssuesToPRD(issues []models.IssueUnit, repo string) *models.PRD { return nil }
func (emptyTaskSource) MarkStoryPassed(cwd string, prd *models.PRD, storyID string) error {
	return nil
}
func (emptyTaskSource) MarkStoryFailed(cwd string, prd *models.PRD, storyID string) error {
	return nil
}

var _ primary.TaskSourceService = emptyTaskSource{}

type fakeSessions struct{}

func (fakeSessions) Save(snapshot models.SessionSnapshot) error           { return nil }
func (fakeSessions) Load(repoSlug string) (*models.SessionSnapshot, bool) { return nil, false }
func (fakeSessions) GC(now time.Time) (int, error)                       { return 0, nil }

var _ secondary.SessionStore = fakeSessions{}

// newTestSupervisor wires a SupervisorServiceImpl over fakes, with a real
// SchedulerServiceImpl/TaskSourceServiceImpl backing it since their behavior
// is exactly what spec.md §8's scenarios exercise.
func newTestSupervisor(t *testing.T, maxVerify, maxReroutes int) (*SupervisorServiceImpl, *fakePTYHost, *fakeVerifier, *fakeBus) {
	t.Helper()
	pty := newFakePTYHost()
	verifier := &fakeVerifier{result: models.VerificationResult{Passed: true}}
	mem := &fakeMemory{}
	bus := &fakeBus{}
	taskSource := &emptyTaskSource{}
	scheduler := NewSchedulerService(taskSource, nil, ".", "", maxReroutes, zap.NewNop())
	sup := NewSupervisorService(pty, verifier, mem, scheduler, taskSource, bus, fakeNotes{}, fakeSessions{}, nil,
		".", "repo", "repo-slug", models.RunOptions{Auto: true, Agents: 2}, maxVerify, zap.NewNop())
	return sup, pty, verifier, bus
}

func storyUnit(id string) *models.WorkUnit {
	return models.NewStoryUnit(&models.StoryUnit{ID: id, Title: "story " + id, Criteria: []string{"it works"}})
}

func TestSpawnCreatesWorkingAgent(t *testing.T) {
	sup, pty, _, _ := newTestSupervisor(t, 5, 2)
	id, err := sup.Spawn(primary.SpawnRequest{ToolID: "claude", WorkUnit: storyUnit("s1")})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap := sup.Snapshot()
	require.Len(t, snap.Agents, 1)
	require.Equal(t, models.AgentWorking, snap.Agents[0].Status)
	require.Equal(t, "claude", pty.last().command)
}

// TestDoneSignalVerifiesAndPasses covers P1 (verifying is never skipped)
// and S1 (single story, first-try success).
func TestDoneSignalVerifiesAndPasses(t *testing.T) {
	sup, pty, verifier, bus := newTestSupervisor(t, 5, 2)
	verifier.result = models.VerificationResult{Passed: true}

	id, err := sup.Spawn(primary.SpawnRequest{ToolID: "claude", WorkUnit: storyUnit("s1")})
	require.NoError(t, err)

	sp := pty.last()
	sp.cb.OnData([]byte("all set\nHOMER_DONE\n"))

	require.Eventually(t, func() bool {
		for _, a := range sup.Snapshot().Agents {
			if a.ID == id {
				return a.Status == models.AgentDone
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "expected agent to reach done")

	var sawVerifying, sawDone bool
	for _, evt := range bus.snapshot() {
		if evt.Type == models.EventVerifyStart {
			sawVerifying = true
		}
		if evt.Type == models.EventAgentDone {
			sawDone = true
		}
	}
	require.True(t, sawVerifying, "expected verify:start to have been published")
	require.True(t, sawDone, "expected agent:done to have been published")
}

// TestVerifyFailureInjectsFeedbackAndRetries covers S2 and P2 (feedback
// written before status returns to working).
func TestVerifyFailureInjectsFeedbackAndRetries(t *testing.T) {
	sup, pty, verifier, _ := newTestSupervisor(t, 5, 2)
	verifier.result = models.VerificationResult{
		Passed:  false,
		Results: []models.CheckResult{{Name: "typecheck", Command: "tsc", Passed: false, TruncatedOutput: "boom"}},
	}

	id, err := sup.Spawn(primary.SpawnRequest{ToolID: "claude", WorkUnit: storyUnit("s1")})
	require.NoError(t, err)
	sp := pty.last()
	sp.cb.OnData([]byte("HOMER_DONE\n"))

	require.Eventually(t, func() bool {
		for _, a := range sup.Snapshot().Agents {
			if a.ID == id {
				return a.Status == models.AgentWorking && a.VerifyAttempts == 1
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "expected agent to retry after failed verify")

	require.NotEmpty(t, sp.writes, "expected feedback block written to the child")
	require.Contains(t, string(sp.writes[len(sp.writes)-1]), "HOMER VERIFICATION FAILED")
}

// TestVerifyExhaustedReroutesToNewAgent covers S3/P4: hitting MAX_VERIFY
// reroutes a fresh agent at the same task, with the dying agent terminal.
func TestVerifyExhaustedReroutesToNewAgent(t *testing.T) {
	sup, pty, verifier, bus := newTestSupervisor(t, 1, 2)
	verifier.result = models.VerificationResult{
		Passed:  false,
		Results: []models.CheckResult{{Name: "typecheck", Command: "tsc", Passed: false, TruncatedOutput: "boom"}},
	}

	oldID, err := sup.Spawn(primary.SpawnRequest{ToolID: "claude", WorkUnit: storyUnit("s1")})
	require.NoError(t, err)
	pty.last().cb.OnData([]byte("HOMER_DONE\n"))

	require.Eventually(t, func() bool {
		return len(sup.Snapshot().Agents) == 2
	}, 2*time.Second, 10*time.Millisecond, "expected a replacement agent to be spawned")

	snap := sup.Snapshot()
	var oldStatus, newStatus models.AgentStatus
	for _, a := range snap.Agents {
		if a.ID == oldID {
			oldStatus = a.Status
		} else {
			newStatus = a.Status
		}
	}
	require.Equal(t, models.AgentRerouted, oldStatus)
	require.Equal(t, models.AgentWorking, newStatus)

	var sawReroute bool
	for _, evt := range bus.snapshot() {
		if evt.Type == models.EventAgentRerouted {
			sawReroute = true
		}
	}
	require.True(t, sawReroute)
}

// TestRerouteBudgetExhaustedStopsReplacing covers S4/P4's inclusive budget:
// with MAX_REROUTES=0 the very first exhausted verify has no budget left.
func TestRerouteBudgetExhaustedStopsReplacing(t *testing.T) {
	sup, pty, verifier, _ := newTestSupervisor(t, 1, 0)
	verifier.result = models.VerificationResult{
		Passed:  false,
		Results: []models.CheckResult{{Name: "typecheck", Command: "tsc", Passed: false, TruncatedOutput: "boom"}},
	}

	_, err := sup.Spawn(primary.SpawnRequest{ToolID: "claude", WorkUnit: storyUnit("s1")})
	require.NoError(t, err)
	pty.last().cb.OnData([]byte("HOMER_DONE\n"))

	require.Eventually(t, func() bool {
		for _, a := range sup.Snapshot().Agents {
			if a.Status == models.AgentRerouted {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "expected the dying agent to reach rerouted")

	// No replacement: still only the one agent record.
	require.Len(t, sup.Snapshot().Agents, 1)
}

func TestKillTransitionsWorkingAgentToKilled(t *testing.T) {
	sup, pty, _, _ := newTestSupervisor(t, 5, 2)
	id, err := sup.Spawn(primary.SpawnRequest{ToolID: "claude", WorkUnit: storyUnit("s1")})
	require.NoError(t, err)

	require.NoError(t, sup.Kill(id))
	snap := sup.Snapshot()
	require.Equal(t, models.AgentKilled, snap.Agents[0].Status)
	require.True(t, pty.last().killed)

	// A second kill on an already-terminal agent is rejected (P1).
	require.Error(t, sup.Kill(id))
}

// TestCrashDuringWorkSchedulesReplacement covers S5: a PTY exit while
// working is recorded as crashed and, in auto mode, a replacement is
// spawned for the same task after the reroute delay.
func TestCrashDuringWorkSchedulesReplacement(t *testing.T) {
	sup, pty, _, _ := newTestSupervisor(t, 5, 2)
	_, err := sup.Spawn(primary.SpawnRequest{ToolID: "claude", WorkUnit: storyUnit("s1")})
	require.NoError(t, err)

	pty.last().cb.OnExit(1, "")

	require.Eventually(t, func() bool {
		return len(sup.Snapshot().Agents) == 2
	}, 3*time.Second, 10*time.Millisecond, "expected a crash replacement to be spawned")
}

func TestOutputReturnsRawBuffer(t *testing.T) {
	sup, pty, _, _ := newTestSupervisor(t, 5, 2)
	id, err := sup.Spawn(primary.SpawnRequest{ToolID: "claude"})
	require.NoError(t, err)

	pty.last().cb.OnData([]byte("hello"))
	data, ok := sup.Output(id)
	require.True(t, ok)
	require.Contains(t, string(data), "hello")
}

func TestSetToolChangesDefaultForFutureSpawns(t *testing.T) {
	sup, pty, _, _ := newTestSupervisor(t, 5, 2)
	require.NoError(t, sup.SetTool("", "aider"))
	_, err := sup.Spawn(primary.SpawnRequest{})
	require.NoError(t, err)
	require.Equal(t, "aider", pty.last().command)
}
