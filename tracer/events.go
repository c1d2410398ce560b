package tracer

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/straytrace/stray/tracer/decode"
	"github.com/straytrace/stray/tracer/memory"
)

// A single observation emitted by the session.  Exactly one terminal event
// (ProcessExited or Signaled) ends every sequence.  Events are handed to
// the caller by value and not retained by the engine.
type Event interface {
	fmt.Stringer

	// True for events that end the session.
	Terminal() bool

	event()
}

type SyscallEntry struct {
	Number uint64
	Name   string
	Args   []decode.Arg
}

func (SyscallEntry) Terminal() bool {
	return false
}

func (SyscallEntry) event() {}

func (entry SyscallEntry) String() string {
	rendered := make([]string, 0, len(entry.Args))
	for _, arg := range entry.Args {
		rendered = append(rendered, arg.String())
	}

	return fmt.Sprintf(
		"syscall %s entry: (%s)",
		entry.Name,
		strings.Join(rendered, ", "))
}

type SyscallExit struct {
	Number uint64
	Name   string

	// Raw rax at the exit stop.  Negative errno values are the caller's
	// business to interpret.
	ReturnValue uint64
}

func (SyscallExit) Terminal() bool {
	return false
}

func (SyscallExit) event() {}

func (exit SyscallExit) String() string {
	return fmt.Sprintf(
		"syscall %s returned: 0x%x",
		exit.Name,
		exit.ReturnValue)
}

type ProcessExited struct {
	Status int
}

func (ProcessExited) Terminal() bool {
	return true
}

func (ProcessExited) event() {}

func (exited ProcessExited) String() string {
	return fmt.Sprintf("process exited with status: %d", exited.Status)
}

type Signaled struct {
	Signal syscall.Signal

	// Best-effort diagnostics captured at the last signal-delivery stop
	// before the tracee died.  Nil when unavailable.
	Instruction *memory.Instruction
}

func (Signaled) Terminal() bool {
	return true
}

func (Signaled) event() {}

func (signaled Signaled) String() string {
	result := fmt.Sprintf("process terminated with signal: %v", signaled.Signal)
	if signaled.Instruction != nil {
		result += fmt.Sprintf("\n  at: %s", signaled.Instruction)
	}
	return result
}
