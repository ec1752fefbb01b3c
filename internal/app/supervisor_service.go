package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homer-dev/homer/internal/adapters/procbuf"
	"github.com/homer-dev/homer/internal/core/agentfsm"
	"github.com/homer-dev/homer/internal/core/childready"
	"github.com/homer-dev/homer/internal/core/errorkey"
	"github.com/homer-dev/homer/internal/core/feedback"
	"github.com/homer-dev/homer/internal/core/signal"
	"github.com/homer-dev/homer/internal/core/toolcatalog"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/primary"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// Timing constants of spec.md §4.G.
const (
	verifyDelay       = 100 * time.Millisecond
	rerouteDelay      = 1 * time.Second
	childReadyGrace   = 1500 * time.Millisecond
	childReadyPoll    = 200 * time.Millisecond
	childReadyHardCap = 8 * time.Second
	verifyTimeout     = 120 * time.Second
	consolidateEvery  = 10
	stateDebounce     = 50 * time.Millisecond
)

// agentRecord is the supervisor's private bookkeeping for one live or
// terminal agent, layered over the shared models.Agent record.
type agentRecord struct {
	agent  *models.Agent
	handle secondary.PTYHandle
	proc   *procbuf.Processor
	tool   models.Tool
	cancel context.CancelFunc
}

// SupervisorServiceImpl implements primary.SupervisorService (spec.md §4.G):
// the agent state machine, verify/reroute loop, and session persistence.
type SupervisorServiceImpl struct {
	ptyHost    secondary.PTYHost
	verifier   secondary.Verifier
	memory     primary.MemoryService
	scheduler  *SchedulerServiceImpl
	taskSource primary.TaskSourceService
	bus        secondary.EventBus
	notes      secondary.NotesStore
	sessions   secondary.SessionStore
	clock      secondary.Clock
	logger     *zap.Logger

	cwd       string
	repo      string
	repoSlug  string
	runOpts   models.RunOptions
	maxVerify int

	mu             sync.Mutex
	agents         map[string]*agentRecord
	order          []string
	activeTool     string
	agentSeq       int
	doneCount      int
	rerouteDigests map[string][]string
	shutdown       bool

	stateMu          sync.Mutex
	statePending     bool
	lastStatePublish time.Time
}

// NewSupervisorService builds a SupervisorServiceImpl. scheduler is the
// concrete type rather than primary.SchedulerService because the supervisor
// needs MarkDone/MarkPermanentlyFailed/StoryCompletedBySubtasks/
// CompletedSiblingCriteria, none of which belong on the driving-side port
// (spec.md §4.F: those calls are Supervisor-internal bookkeeping, not
// something the CLI or control surface ever invokes directly).
func NewSupervisorService(
	ptyHost secondary.PTYHost,
	verifier secondary.Verifier,
	memory primary.MemoryService,
	scheduler *SchedulerServiceImpl,
	taskSource primary.TaskSourceService,
	bus secondary.EventBus,
	notes secondary.NotesStore,
	sessions secondary.SessionStore,
	clock secondary.Clock,
	cwd, repo, repoSlug string,
	runOpts models.RunOptions,
	maxVerify int,
	logger *zap.Logger,
) *SupervisorServiceImpl {
	return &SupervisorServiceImpl{
		ptyHost: ptyHost, verifier: verifier, memory: memory, scheduler: scheduler,
		taskSource: taskSource, bus: bus, notes: notes, sessions: sessions, clock: clock,
		logger: logger,
		cwd:     cwd, repo: repo, repoSlug: repoSlug, runOpts: runOpts,
		maxVerify:      maxVerify,
		agents:         make(map[string]*agentRecord),
		rerouteDigests: make(map[string][]string),
	}
}

// Spawn implements primary.SupervisorService. A nil WorkUnit pulls the next
// unit from the scheduler; if none is available the agent runs interactive
// (no task bound).
func (s *SupervisorServiceImpl) Spawn(req primary.SpawnRequest) (string, error) {
	unit := req.WorkUnit
	if unit == nil {
		unit = s.scheduler.Next()
	}
	id, err := s.spawnAgent(req.ToolID, unit, req.Model, req.Perm, "")
	if err != nil && unit != nil {
		s.scheduler.Release(unit)
	}
	return id, err
}

func (s *SupervisorServiceImpl) Input(agentID string, data []byte) error {
	rec, ok := s.lookup(agentID)
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	return s.ptyHost.Write(rec.handle, data)
}

func (s *SupervisorServiceImpl) Resize(agentID string, cols, rows int) error {
	rec, ok := s.lookup(agentID)
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	return s.ptyHost.Resize(rec.handle, cols, rows)
}

// Kill implements a user-initiated kill, legal from any non-terminal status
// (spec.md §4.G "any -> killed").
func (s *SupervisorServiceImpl) Kill(agentID string) error {
	rec, ok := s.lookup(agentID)
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	s.mu.Lock()
	guard := agentfsm.CanTransition(rec.agent.Status, models.AgentKilled)
	unit := rec.agent.WorkUnit
	s.mu.Unlock()
	if !guard.Allowed {
		return guard.Error()
	}

	s.finishTerminal(agentID, models.AgentKilled)
	if unit != nil {
		s.scheduler.Release(unit)
	}
	return nil
}

func (s *SupervisorServiceImpl) Output(agentID string) ([]byte, bool) {
	rec, ok := s.lookup(agentID)
	if !ok {
		return nil, false
	}
	return rec.proc.Snapshot(), true
}

// SetTool implements the control surface's single tool-switch operation. A
// blank agentID sets the default tool new spawns pick up (the only case
// spec.md §6's `setTool(id)` describes); a non-blank agentID would target
// one live agent's tool, but a running PTY cannot have its underlying
// command swapped out from under it, so that case is rejected rather than
// silently ignored.
func (s *SupervisorServiceImpl) SetTool(agentID, toolID string) error {
	tool := toolcatalog.Resolve(toolID)
	if agentID == "" {
		s.mu.Lock()
		s.activeTool = tool.ID
		s.mu.Unlock()
		s.publishState()
		return nil
	}
	if _, ok := s.lookup(agentID); !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	return fmt.Errorf("cannot change tool of a live agent %q; spawn a new agent instead", agentID)
}

func (s *SupervisorServiceImpl) Snapshot() models.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]models.AgentView, 0, len(s.order))
	for _, id := range s.order {
		rec := s.agents[id]
		views = append(views, models.AgentView{
			ID:             rec.agent.ID,
			ToolID:         rec.agent.ToolID,
			Status:         rec.agent.Status,
			Task:           taskTitle(rec.agent.WorkUnit),
			VerifyAttempts: rec.agent.VerifyAttempts,
			StartedAt:      rec.agent.StartedAt.Format(time.RFC3339),
		})
	}
	return models.StateSnapshot{
		Agents: views, ActiveTool: s.activeTool, Auto: s.runOpts.Auto, MaxAgents: s.runOpts.Agents,
	}
}

// Reevaluate is the scheduler re-evaluation hook an external prd.json edit
// triggers (spec.md §4.E/§4.F, via the filesystem watcher wired in
// internal/wire). In auto mode it tops the live agent count back up to
// runOpts.Agents whenever the scheduler now has work it didn't have a
// moment ago; it is a no-op otherwise, including once the scheduler has
// genuinely run dry.
func (s *SupervisorServiceImpl) Reevaluate() {
	if !s.runOpts.Auto {
		return
	}
	for {
		s.mu.Lock()
		live := 0
		for _, rec := range s.agents {
			if !rec.agent.Status.Terminal() {
				live++
			}
		}
		target := s.runOpts.Agents
		s.mu.Unlock()

		if live >= target {
			return
		}
		unit := s.scheduler.Next()
		if unit == nil {
			return
		}
		if _, err := s.spawnAgent(s.activeTool, unit, "", "", ""); err != nil {
			s.scheduler.Release(unit)
			return
		}
	}
}

// Shutdown cancels every live PTY, persists a session snapshot (spec.md §5,
// §4.G), and flushes memory.
func (s *SupervisorServiceImpl) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true

	snapshotAgents := make([]models.SessionAgentSnapshot, 0, len(s.order))
	var handles []secondary.PTYHandle
	var cancels []context.CancelFunc
	for _, id := range s.order {
		rec := s.agents[id]
		snapshotAgents = append(snapshotAgents, models.SessionAgentSnapshot{
			ID: id, Task: taskTitle(rec.agent.WorkUnit), Tool: rec.agent.ToolID,
			Status: rec.agent.Status, StartedAt: rec.agent.StartedAt,
			OutputTail: rec.proc.LastLines(100),
		})
		if !rec.agent.Status.Terminal() {
			if rec.handle != nil {
				handles = append(handles, rec.handle)
			}
			if rec.cancel != nil {
				cancels = append(cancels, rec.cancel)
			}
		}
	}
	agentCounter := s.agentSeq
	repoSlug, repo, cwd, activeTool := s.repoSlug, s.repo, s.cwd, s.activeTool
	runOpts := s.runOpts
	s.mu.Unlock()

	for _, h := range handles {
		_ = s.ptyHost.Kill(h)
	}
	for _, c := range cancels {
		c()
	}

	runOpts.Tool = activeTool
	snap := models.SessionSnapshot{
		SessionID: repoSlug, Repo: repo, Cwd: cwd, SavedAt: s.now(),
		ActiveTool: activeTool, Agents: snapshotAgents, AgentCounter: agentCounter,
		Opts: runOpts,
	}
	if err := s.sessions.Save(snap); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	_ = s.memory.Consolidate(context.Background())
	return nil
}

// DetectResumableSession loads a non-stale session snapshot for this repo
// and publishes session:found (spec.md §4.G, §6). Concrete-only: resuming
// is a one-time CLI startup decision, not a control-surface operation, so
// it has no place on primary.SupervisorService.
func (s *SupervisorServiceImpl) DetectResumableSession() (*models.SessionSnapshot, bool) {
	snap, ok := s.sessions.Load(s.repoSlug)
	if !ok || snap.Stale(s.now()) {
		return nil, false
	}
	s.publish(models.EventSessionFound, models.SessionFoundPayload{
		SessionID: snap.SessionID, Repo: snap.Repo, SavedAt: snap.SavedAt,
	})
	return snap, true
}

// ResumeAll recreates every non-done agent from a session snapshot.
func (s *SupervisorServiceImpl) ResumeAll(snap *models.SessionSnapshot) []string {
	var ids []string
	for _, entry := range snap.Agents {
		if entry.Status == models.AgentDone {
			continue
		}
		id, err := s.resumeAgent(entry)
		if err != nil {
			s.logger.Warn("resume agent failed", zap.String("id", entry.ID), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// resumeAgent recreates one agent with a "continue previous work" preamble
// carrying up to 15 lines of its prior output tail (spec.md §4.G).
func (s *SupervisorServiceImpl) resumeAgent(entry models.SessionAgentSnapshot) (string, error) {
	preamble := fmt.Sprintf("Continue previous work as %s (%s).\n\nPrevious output tail:\n%s",
		entry.ID, entry.Task, lastNLines(entry.OutputTail, 15))
	return s.spawnAgent(entry.Tool, nil, "", "", preamble)
}

func (s *SupervisorServiceImpl) lookup(agentID string) (*agentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[agentID]
	return rec, ok
}

func (s *SupervisorServiceImpl) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

func (s *SupervisorServiceImpl) nextAgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentSeq++
	return fmt.Sprintf("agent-%d", s.agentSeq)
}

// spawnAgent is the single PTY-spawn path shared by Spawn, reroute,
// crash-replacement, and session resume. preamble (a reroute header or a
// resume continuation) is prefixed onto the task's system prompt when
// present.
func (s *SupervisorServiceImpl) spawnAgent(toolID string, unit *models.WorkUnit, model, perm, preamble string) (string, error) {
	s.mu.Lock()
	if toolID == "" {
		toolID = s.activeTool
	}
	s.mu.Unlock()
	tool := toolcatalog.Resolve(toolID)

	ctx := context.Background()
	var taskKey, systemPrompt, initialPrompt string
	if unit != nil {
		taskKey = unit.TaskKey()
		systemPrompt = s.memory.BuildTaskMemory(ctx, taskKey, nil)
		initialPrompt = s.taskPromptText(unit)
	}
	if preamble != "" {
		if systemPrompt != "" {
			systemPrompt = preamble + "\n\n" + systemPrompt
		} else {
			systemPrompt = preamble
		}
	}

	opts := models.ToolRunOptions{Model: model, PermissionMode: perm, SystemPrompt: systemPrompt, InitialPrompt: initialPrompt}
	args := tool.BuildArgs(opts)
	initialInline := tool.Capabilities.SupportsInitialPrompt && tool.BuildInitial != nil && initialPrompt != ""
	if initialInline {
		args = append(args, tool.BuildInitial(initialPrompt)...)
	}

	id := s.nextAgentID()
	injected := s.memory.GetLastInjectedRuleIDs()

	proc := procbuf.New(id, taskKey, s.memory)
	agent := &models.Agent{
		ID: id, ToolID: tool.ID, Status: models.AgentWorking,
		WorkUnit: unit, InjectedRules: injected, StartedAt: s.now(),
	}
	rec := &agentRecord{agent: agent, proc: proc, tool: tool}

	spawnCtx, cancel := context.WithCancel(context.Background())
	rec.cancel = cancel

	handle, err := s.ptyHost.Spawn(spawnCtx, tool.Command, args, strippedEnv(), s.cwd, 80, 24, secondary.PTYCallbacks{
		OnData: func(data []byte) { s.onData(id, data) },
		OnExit: func(code int, sig string) { s.onExit(id, code, sig) },
	})
	if err != nil {
		cancel()
		s.publish(models.EventError, models.ErrorPayload{Message: err.Error()})
		s.publish(models.EventToolSpawnFailed, models.ToolSpawnFailedPayload{ToolID: tool.ID, Cause: err.Error()})
		return "", fmt.Errorf("spawn %s: %w", tool.ID, err)
	}
	rec.handle = handle

	s.mu.Lock()
	s.agents[id] = rec
	s.order = append(s.order, id)
	s.activeTool = tool.ID
	s.mu.Unlock()

	s.publish(models.EventAgentSpawned, models.AgentSpawnedPayload{ID: id, Tool: tool.ID, Task: taskTitle(unit)})
	s.publishState()

	if !initialInline && initialPrompt != "" {
		go s.writeWhenReady(id, initialPrompt)
	}

	return id, nil
}

// taskPromptText renders the initial prompt text for a WorkUnit, including
// a subtask's already-completed sibling criteria (spec.md §4.F step 1).
func (s *SupervisorServiceImpl) taskPromptText(unit *models.WorkUnit) string {
	switch unit.Kind {
	case models.WorkUnitStory:
		var b strings.Builder
		b.WriteString(unit.Story.Title)
		if unit.Story.Description != "" {
			b.WriteString("\n\n")
			b.WriteString(unit.Story.Description)
		}
		if len(unit.Story.Criteria) > 0 {
			b.WriteString("\n\nAcceptance criteria:\n")
			for _, c := range unit.Story.Criteria {
				fmt.Fprintf(&b, "- %s\n", c)
			}
		}
		return b.String()
	case models.WorkUnitSubtask:
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n\nAcceptance criterion: %s", unit.Subtask.Title, unit.Subtask.Criterion)
		if siblings := s.scheduler.CompletedSiblingCriteria(unit.Subtask.ID); len(siblings) > 0 {
			b.WriteString("\n\nAlready completed in this story:\n")
			for _, c := range siblings {
				fmt.Fprintf(&b, "- %s\n", c)
			}
		}
		return b.String()
	case models.WorkUnitIssue:
		return fmt.Sprintf("%s\n\n%s", unit.Issue.Title, unit.Issue.Body)
	default:
		return ""
	}
}

// writeWhenReady polls the child's last output line until it looks like a
// prompt, then writes the initial prompt (spec.md §4.G "Waiting for child
// ready", for tools without SupportsInitialPrompt).
func (s *SupervisorServiceImpl) writeWhenReady(id, initialPrompt string) {
	rec, ok := s.lookup(id)
	if !ok {
		return
	}

	time.Sleep(childReadyGrace)
	deadline := time.Now().Add(childReadyHardCap - childReadyGrace)
	for !childready.Ready(rec.proc.LastLine()) && time.Now().Before(deadline) {
		time.Sleep(childReadyPoll)
	}
	_ = s.ptyHost.Write(rec.handle, []byte(initialPrompt+"\n"))
}

// onData is the PTY Host's OnData callback for one agent.
func (s *SupervisorServiceImpl) onData(id string, data []byte) {
	rec, ok := s.lookup(id)
	if !ok {
		return
	}
	s.publish(models.EventAgentOutput, models.AgentOutputPayload{ID: id, Data: data})

	result := rec.proc.Append(context.Background(), data)
	if result.Kind == signal.None {
		return
	}

	s.mu.Lock()
	status := rec.agent.Status
	s.mu.Unlock()
	if status != models.AgentWorking {
		return
	}

	switch result.Kind {
	case signal.Done:
		s.enterVerifying(id)
	case signal.Blocked:
		s.enterBlocked(id, result.Reason)
	}
}

// onExit is the PTY Host's OnExit callback for one agent.
func (s *SupervisorServiceImpl) onExit(id string, exitCode int, sig string) {
	rec, ok := s.lookup(id)
	if !ok {
		return
	}
	s.mu.Lock()
	prev := rec.agent.Status
	unit := rec.agent.WorkUnit
	toolID := rec.tool.ID
	injected := append([]string(nil), rec.agent.InjectedRules...)
	s.mu.Unlock()

	if prev.Terminal() {
		return
	}

	var taskKey string
	if unit != nil {
		taskKey = unit.TaskKey()
	}
	if prev == models.AgentWorking {
		_ = s.memory.RecordFailure(context.Background(), id, taskKey,
			fmt.Sprintf("process exited (code=%d, signal=%s)", exitCode, sig),
			models.TaskRunCrashed, nil, injected)
	}

	// spec.md's diagram has no edge out of verifying for a bare process
	// exit; a child dying mid off-process verify pass is treated like an
	// operator kill, since it can no longer respond either way.
	target := models.AgentExited
	if prev == models.AgentVerifying {
		target = models.AgentKilled
	}
	s.finishTerminal(id, target)

	if unit != nil {
		s.scheduler.Release(unit)
	}

	if s.runOpts.Auto && unit != nil && prev == models.AgentWorking {
		go s.scheduleCrashReplacement(unit, toolID)
	}
}

func (s *SupervisorServiceImpl) scheduleCrashReplacement(unit *models.WorkUnit, toolID string) {
	time.Sleep(rerouteDelay)
	if _, err := s.spawnAgent(toolID, unit, "", "", ""); err != nil {
		s.publish(models.EventError, models.ErrorPayload{Message: err.Error()})
	}
}

// enterVerifying moves an agent from working to verifying on a DoneSignal
// and schedules the verify pass ~100ms later (spec.md §4.G).
func (s *SupervisorServiceImpl) enterVerifying(id string) {
	s.mu.Lock()
	rec, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	guard := agentfsm.CanTransition(rec.agent.Status, models.AgentVerifying)
	if !guard.Allowed {
		s.mu.Unlock()
		return
	}
	prev := rec.agent.Status
	rec.agent.Status = models.AgentVerifying
	rec.agent.VerifyAttempts++
	attempt := rec.agent.VerifyAttempts
	s.mu.Unlock()

	s.publishStatus(id, prev, models.AgentVerifying)
	s.publish(models.EventVerifyStart, models.VerifyStartPayload{ID: id, Attempt: attempt})
	s.publishState()

	go func() {
		time.Sleep(verifyDelay)
		s.runVerify(id)
	}()
}

func (s *SupervisorServiceImpl) runVerify(id string) {
	rec, ok := s.lookup(id)
	if !ok {
		return
	}
	s.mu.Lock()
	if rec.agent.Status != models.AgentVerifying {
		s.mu.Unlock()
		return
	}
	attempt := rec.agent.VerifyAttempts
	unit := rec.agent.WorkUnit
	toolID := rec.tool.ID
	injected := append([]string(nil), rec.agent.InjectedRules...)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	commands := s.verifier.Detect(s.cwd)
	result := s.verifier.Run(ctx, s.cwd, commands)

	var taskKey string
	if unit != nil {
		taskKey = unit.TaskKey()
	}
	_ = s.memory.RecordVerification(context.Background(), id, taskKey, result, nil, toolID, attempt)
	s.publish(models.EventVerifyResult, models.VerifyResultPayload{
		ID: id, Passed: result.Passed, Attempt: attempt, Max: s.maxVerify, Results: result.Results,
	})

	if result.Passed || result.Skipped {
		s.handleVerifyPass(id, unit, injected, attempt)
		return
	}
	if agentfsm.CanRetryVerify(attempt, s.maxVerify).Allowed {
		s.handleVerifyRetry(id, result)
		return
	}
	s.handleVerifyExhausted(id, unit, result, injected)
}

func (s *SupervisorServiceImpl) handleVerifyPass(id string, unit *models.WorkUnit, injected []string, attempt int) {
	s.mu.Lock()
	rec, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	guard := agentfsm.CanTransition(rec.agent.Status, models.AgentDone)
	if !guard.Allowed {
		s.mu.Unlock()
		return
	}
	prev := rec.agent.Status
	rec.agent.Status = models.AgentDone
	s.doneCount++
	doneCount := s.doneCount
	s.mu.Unlock()

	if unit != nil {
		s.markUnitPassed(unit)
	}

	s.publishStatus(id, prev, models.AgentDone)
	s.publish(models.EventAgentDone, models.AgentDonePayload{ID: id, Task: taskTitle(unit)})

	note := fmt.Sprintf("agent %s completed %s", id, taskTitle(unit))
	_ = s.notes.WriteAgentNote(id, note)
	_ = s.notes.AppendWorkflow(note)
	if unit != nil && unit.Kind == models.WorkUnitSubtask {
		_ = s.notes.AppendProgress(fmt.Sprintf("[%s] %s", unit.Subtask.ParentID, unit.Subtask.Criterion))
	}
	s.rewriteProjectContext()

	var taskKey string
	if unit != nil {
		taskKey = unit.TaskKey()
	}
	_ = s.memory.RecordSuccess(context.Background(), id, taskKey, nil, attempt, injected)
	if doneCount%consolidateEvery == 0 {
		_ = s.memory.Consolidate(context.Background())
	}

	s.publishState()
}

// markUnitPassed records completion on the scheduler and, once a story (or
// all of its subtasks) passes, persists passes=true to the PRD.
func (s *SupervisorServiceImpl) markUnitPassed(unit *models.WorkUnit) {
	s.scheduler.MarkDone(unit)
	switch unit.Kind {
	case models.WorkUnitStory:
		s.markStoryPassedInPRD(unit.Story.ID)
	case models.WorkUnitSubtask:
		if s.scheduler.StoryCompletedBySubtasks(unit.Subtask.ParentID) {
			s.markStoryPassedInPRD(unit.Subtask.ParentID)
		}
	}
}

func (s *SupervisorServiceImpl) markStoryPassedInPRD(storyID string) {
	prd, ok := s.taskSource.LoadPRD(s.cwd)
	if !ok {
		return
	}
	_ = s.taskSource.MarkStoryPassed(s.cwd, prd, storyID)
}

func (s *SupervisorServiceImpl) markStoryFailedInPRD(unit *models.WorkUnit) {
	var storyID string
	switch unit.Kind {
	case models.WorkUnitStory:
		storyID = unit.Story.ID
	case models.WorkUnitSubtask:
		storyID = unit.Subtask.ParentID
	default:
		return
	}
	prd, ok := s.taskSource.LoadPRD(s.cwd)
	if !ok {
		return
	}
	_ = s.taskSource.MarkStoryFailed(s.cwd, prd, storyID)
}

// handleVerifyRetry writes the HOMER VERIFICATION FAILED block to the
// child's PTY and returns status to working (spec.md §4.G).
func (s *SupervisorServiceImpl) handleVerifyRetry(id string, result models.VerificationResult) {
	s.mu.Lock()
	rec, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	guard := agentfsm.CanTransition(rec.agent.Status, models.AgentWorking)
	if !guard.Allowed {
		s.mu.Unlock()
		return
	}
	attempt := rec.agent.VerifyAttempts
	rec.agent.VerifyHistory = append(rec.agent.VerifyHistory, models.VerifyHistoryEntry{
		Attempt: attempt, FailingNames: checkNames(result.FailedChecks()), FirstLines: firstLinesOf(result.FailedChecks()),
	})
	history := append([]models.VerifyHistoryEntry(nil), rec.agent.VerifyHistory...)
	var criteria []string
	if rec.agent.WorkUnit != nil && rec.agent.WorkUnit.Kind == models.WorkUnitStory {
		criteria = rec.agent.WorkUnit.Story.Criteria
	}
	prev := rec.agent.Status
	rec.agent.Status = models.AgentWorking
	handle := rec.handle
	proc := rec.proc
	s.mu.Unlock()

	var filePaths []string
	for _, c := range result.FailedChecks() {
		if c.ErrorKey != "" {
			filePaths = append(filePaths, errorkey.Prefix(c.ErrorKey))
		}
	}
	ruleHints := s.memory.BuildRuleHints(context.Background(), filePaths, nil)
	block := feedback.VerifyFailure(result, criteria, history, ruleHints)

	_ = s.ptyHost.Write(handle, []byte(block+"\n"))
	proc.ResetSignal()

	s.publishStatus(id, prev, models.AgentWorking)
	s.publishState()
}

// handleVerifyExhausted handles MAX_VERIFY being hit: the agent transitions
// to rerouted (the only legal edge out of a verifying agent's final
// attempt), and a replacement is spawned unless the reroute budget for this
// task is also exhausted.
func (s *SupervisorServiceImpl) handleVerifyExhausted(id string, unit *models.WorkUnit, result models.VerificationResult, injected []string) {
	summary := verifyFailureSummary(result)
	var taskKey string
	if unit != nil {
		taskKey = unit.TaskKey()
	}
	_ = s.memory.RecordFailure(context.Background(), id, taskKey, summary, models.TaskRunFailed, nil, injected)
	_ = s.notes.WriteAgentNote(id, fmt.Sprintf("agent %s exhausted verify retries on %s", id, taskTitle(unit)))

	rec, ok := s.lookup(id)
	if !ok {
		return
	}
	toolID := rec.tool.ID

	if unit == nil {
		s.finishTerminal(id, models.AgentRerouted)
		return
	}

	if s.scheduler.RegisterReroute(taskKey) {
		s.scheduler.MarkPermanentlyFailed(taskKey)
		s.markStoryFailedInPRD(unit)
		s.finishTerminal(id, models.AgentRerouted)
		return
	}

	count := s.scheduler.RerouteCount(taskKey)
	digests := s.consumeRerouteDigests(taskKey, summary)
	rerouteCtx := s.memory.BuildRerouteContext(context.Background(), taskKey, nil)
	header := feedback.RerouteHeader(count, summary, digests, rerouteCtx)

	s.finishTerminal(id, models.AgentRerouted)

	newID, err := s.spawnAgent(toolID, unit, "", "", header)
	if err != nil {
		s.publish(models.EventError, models.ErrorPayload{Message: err.Error()})
		return
	}
	s.publish(models.EventAgentRerouted, models.AgentReroutedPayload{
		OldID: id, NewID: newID, Task: unit.TaskKey(), Reason: summary,
	})
}

func (s *SupervisorServiceImpl) consumeRerouteDigests(taskKey, latestSummary string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := append([]string(nil), s.rerouteDigests[taskKey]...)
	s.rerouteDigests[taskKey] = append(s.rerouteDigests[taskKey], feedback.Truncate(latestSummary, 200))
	return prior
}

// enterBlocked handles a HOMER_BLOCKED signal (spec.md §4.G "working ->
// blocked (terminal, may reroute)").
func (s *SupervisorServiceImpl) enterBlocked(id, reason string) {
	s.mu.Lock()
	rec, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	guard := agentfsm.CanTransition(rec.agent.Status, models.AgentBlocked)
	if !guard.Allowed {
		s.mu.Unlock()
		return
	}
	prev := rec.agent.Status
	rec.agent.Status = models.AgentBlocked
	unit := rec.agent.WorkUnit
	injected := append([]string(nil), rec.agent.InjectedRules...)
	s.mu.Unlock()

	var taskKey string
	if unit != nil {
		taskKey = unit.TaskKey()
	}
	_ = s.memory.RecordFailure(context.Background(), id, taskKey, reason, models.TaskRunBlocked, nil, injected)
	if unit != nil {
		s.scheduler.Release(unit)
	}

	s.publishStatus(id, prev, models.AgentBlocked)
	s.publishState()
}

// finishTerminal applies a guarded transition to a terminal status, kills
// the PTY if still live, and publishes the resulting status change.
func (s *SupervisorServiceImpl) finishTerminal(id string, status models.AgentStatus) {
	s.mu.Lock()
	rec, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	guard := agentfsm.CanTransition(rec.agent.Status, status)
	if !guard.Allowed {
		s.mu.Unlock()
		return
	}
	prev := rec.agent.Status
	rec.agent.Status = status
	handle := rec.handle
	cancel := rec.cancel
	s.mu.Unlock()

	if handle != nil {
		_ = s.ptyHost.Kill(handle)
	}
	if cancel != nil {
		cancel()
	}

	s.publishStatus(id, prev, status)
	s.publishState()
}

func (s *SupervisorServiceImpl) rewriteProjectContext() {
	content := s.memory.BuildTaskMemory(context.Background(), "", nil)
	_ = s.notes.WriteProjectContext(s.cwd, content)
}

func (s *SupervisorServiceImpl) publish(t models.EventType, payload interface{}) {
	s.bus.Publish(models.Event{Type: t, Payload: payload, TS: s.now()})
}

func (s *SupervisorServiceImpl) publishStatus(id string, prev, next models.AgentStatus) {
	p := prev
	s.publish(models.EventAgentStatus, models.AgentStatusPayload{ID: id, Status: next, Prev: &p})
}

// publishState debounces `state` events to at most once per 50ms: the
// leading edge publishes immediately, further calls within the window
// collapse into one trailing publish reflecting the latest snapshot
// (spec.md §4.H).
func (s *SupervisorServiceImpl) publishState() {
	s.stateMu.Lock()
	now := s.now()
	if now.Sub(s.lastStatePublish) >= stateDebounce {
		s.lastStatePublish = now
		s.stateMu.Unlock()
		s.publish(models.EventState, s.Snapshot())
		return
	}
	if s.statePending {
		s.stateMu.Unlock()
		return
	}
	s.statePending = true
	s.stateMu.Unlock()

	go func() {
		time.Sleep(stateDebounce)
		s.stateMu.Lock()
		s.statePending = false
		s.lastStatePublish = s.now()
		s.stateMu.Unlock()
		s.publish(models.EventState, s.Snapshot())
	}()
}

func strippedEnv() []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func taskTitle(unit *models.WorkUnit) string {
	if unit == nil {
		return ""
	}
	return unit.Title()
}

func verifyFailureSummary(result models.VerificationResult) string {
	var parts []string
	for _, c := range result.FailedChecks() {
		parts = append(parts, fmt.Sprintf("[%s] %s", c.Name, c.TruncatedOutput))
	}
	return strings.Join(parts, "\n")
}

func checkNames(checks []models.CheckResult) []string {
	out := make([]string, len(checks))
	for i, c := range checks {
		out[i] = c.Name
	}
	return out
}

func firstLinesOf(checks []models.CheckResult) []string {
	out := make([]string, len(checks))
	for i, c := range checks {
		line := c.TruncatedOutput
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		out[i] = line
	}
	return out
}

func lastNLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

var _ primary.SupervisorService = (*SupervisorServiceImpl)(nil)
