// Package secondary defines the driven-side ports the application layer
// consumes: PTY process control, verification execution, memory
// repositories, filesystem persistence, the event bus, and the clock.
package secondary

import "context"

// PTYHandle is an opaque reference to a spawned child bound to a PTY.
type PTYHandle interface {
	ID() string
}

// PTYCallbacks are invoked by the PTY Host as bytes/exit arrive. They must
// return quickly; slow consumers should buffer internally.
type PTYCallbacks struct {
	OnData func(data []byte)
	OnExit func(exitCode int, signal string)
}

// PTYHost is the secondary port for component A (spec.md §4.A).
type PTYHost interface {
	// Spawn starts command with args/env/cwd bound to a new PTY sized
	// cols x rows (floored to 40x10), wiring callbacks for output/exit.
	Spawn(ctx context.Context, command string, args []string, env []string, cwd string, cols, rows int, cb PTYCallbacks) (PTYHandle, error)
	Write(handle PTYHandle, data []byte) error
	Resize(handle PTYHandle, cols, rows int) error
	Kill(handle PTYHandle) error
}
