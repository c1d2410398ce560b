package registers

import (
	"github.com/straytrace/stray/ptrace"
	. "github.com/straytrace/stray/tracer/common"
)

// Number of syscall argument slots in the amd64 calling convention.
const NumSyscallArgs = 6

// An immutable copy of the tracee's general purpose registers captured at
// one trace-stop.  A fresh snapshot is produced at every stop; the session
// never caches register values across stops.
type Snapshot struct {
	gpr ptrace.UserRegs
}

// Constructs a snapshot from raw register values.  Only tests and the
// accessor have business calling this.
func NewSnapshot(gpr ptrace.UserRegs) Snapshot {
	return Snapshot{gpr: gpr}
}

// The syscall number as reported before the kernel clobbers rax with the
// return value (orig_rax).  Meaningful at both entry and exit stops, but
// only the entry value is authoritative for entry/exit pairing.
func (snapshot Snapshot) SyscallNumber() uint64 {
	return snapshot.gpr.Orig_rax
}

// The idx'th syscall argument per the amd64 syscall calling convention
// (rdi, rsi, rdx, r10, r8, r9).  Only meaningful at entry stops.
func (snapshot Snapshot) Arg(idx int) uint64 {
	switch idx {
	case 0:
		return snapshot.gpr.Rdi
	case 1:
		return snapshot.gpr.Rsi
	case 2:
		return snapshot.gpr.Rdx
	case 3:
		return snapshot.gpr.R10
	case 4:
		return snapshot.gpr.R8
	case 5:
		return snapshot.gpr.R9
	default:
		panic("invalid syscall argument index")
	}
}

// The syscall return value (rax).  Only meaningful at exit stops.
func (snapshot Snapshot) ReturnValue() uint64 {
	return snapshot.gpr.Rax
}

func (snapshot Snapshot) InstructionPointer() VirtualAddress {
	return VirtualAddress(snapshot.gpr.Rip)
}

func (snapshot Snapshot) Flags() uint64 {
	return snapshot.gpr.Eflags
}
