// Package procbuf implements the per-agent Output Processor (spec.md §4.B):
// a trimmed, append-only output buffer with ANSI-stripped signal detection
// and the extract-then-discard protocol that feeds the memory store.
package procbuf

import (
	"context"
	"strings"
	"sync"

	"github.com/homer-dev/homer/internal/core/compaction"
	"github.com/homer-dev/homer/internal/core/errorkey"
	"github.com/homer-dev/homer/internal/core/signal"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/primary"
)

// Buffer size invariants, spec.md §4.B.
const (
	TrimAt = 300 * 1024
	Keep   = 128 * 1024
)

// Processor owns one agent's output buffer and signal-detection state.
type Processor struct {
	mu sync.Mutex

	agentID string
	taskKey string
	memory  primary.MemoryService

	buf          []byte
	verifyDigest string
	signaled     bool
}

// New creates a Processor for agentID working on taskKey. memory may be nil
// (e.g. interactive mode with no task context), in which case compaction
// records are simply dropped.
func New(agentID, taskKey string, memory primary.MemoryService) *Processor {
	return &Processor{agentID: agentID, taskKey: taskKey, memory: memory}
}

// SetVerifyDigest updates the verify-history digest prefixed onto the
// buffer on every trim (spec.md §4.B).
func (p *Processor) SetVerifyDigest(digest string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyDigest = digest
}

// ResetSignal re-arms signal detection; called when an agent's status
// returns to working (spec.md §4.B: "no further signals fire until status
// returns to working").
func (p *Processor) ResetSignal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signaled = false
}

// LastLine returns the ANSI-stripped last non-empty line of the current
// buffer, used by the supervisor's child-ready poll for tools that cannot
// accept an initial prompt via argument (spec.md §4.G).
func (p *Processor) LastLine() string {
	p.mu.Lock()
	stripped := stripANSI(string(p.buf))
	p.mu.Unlock()

	lines := strings.Split(stripped, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

// LastLines returns the last n ANSI-stripped lines of the current buffer,
// newline-joined (the session snapshot's output tail, spec.md §4.G).
func (p *Processor) LastLines(n int) string {
	p.mu.Lock()
	stripped := stripANSI(string(p.buf))
	p.mu.Unlock()

	lines := strings.Split(stripped, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Snapshot returns a copy of the current raw buffer (for the Output op).
func (p *Processor) Snapshot() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.buf))
	copy(out, p.buf)
	return out
}

// Append adds data to the buffer, trims if needed, and scans for a
// completion signal. It returns signal.Result{Kind: None} if detection is
// latched (already signaled since the last ResetSignal) or no signal is
// present.
func (p *Processor) Append(ctx context.Context, data []byte) signal.Result {
	p.mu.Lock()
	p.buf = append(p.buf, data...)
	needsTrim := len(p.buf) > TrimAt
	var discarded string
	if needsTrim {
		discarded = p.trimLocked()
	}
	alreadySignaled := p.signaled
	stripped := stripANSI(string(p.buf))
	p.mu.Unlock()

	if needsTrim {
		p.compact(ctx, discarded)
	}

	if alreadySignaled {
		return signal.Result{Kind: signal.None}
	}

	result := signal.Scan(stripped)
	if result.Kind != signal.None {
		p.mu.Lock()
		p.signaled = true
		p.mu.Unlock()
	}
	return result
}

// trimLocked must be called with p.mu held. It replaces the buffer with
// concat(verifyDigest, tail[-Keep:]) and returns the discarded prefix.
func (p *Processor) trimLocked() string {
	discarded := string(p.buf[:len(p.buf)-Keep])
	tail := p.buf[len(p.buf)-Keep:]

	newBuf := make([]byte, 0, len(p.verifyDigest)+len(tail))
	newBuf = append(newBuf, []byte(p.verifyDigest)...)
	newBuf = append(newBuf, tail...)
	p.buf = newBuf

	return discarded
}

// compact runs the extract-then-discard protocol (spec.md §4.B steps 1-4)
// over a just-discarded prefix and records the result to memory.
func (p *Processor) compact(ctx context.Context, discarded string) {
	if p.memory == nil {
		return
	}
	filePaths := errorkey.ExtractFilePaths(discarded)
	errs := errorkey.ExtractMarkers(discarded)
	approach := compaction.SampleApproachLines(discarded)

	if len(filePaths) == 0 && len(errs) == 0 && len(approach) == 0 {
		return
	}

	p.mu.Lock()
	taskKey := p.taskKey
	agentID := p.agentID
	p.mu.Unlock()

	_ = p.memory.RecordContextCompaction(ctx, models.ContextCompaction{
		AgentID:      agentID,
		TaskKey:      taskKey,
		FilePaths:    filePaths,
		Errors:       errs,
		ApproachNote: strings.Join(approach, "\n"),
	})
}
