package registers

import (
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"

	"github.com/straytrace/stray/ptrace"
	. "github.com/straytrace/stray/tracer/common"
)

type SnapshotSuite struct{}

func TestSnapshot(t *testing.T) {
	suite.RunTests(t, &SnapshotSuite{})
}

func (SnapshotSuite) TestSyscallRegisterMapping(t *testing.T) {
	snapshot := NewSnapshot(ptrace.UserRegs{
		Orig_rax: 257,
		Rax:      0xfffffffffffffffe, // -2 (ENOENT) at an exit stop
		Rdi:      1,
		Rsi:      2,
		Rdx:      3,
		R10:      4,
		R8:       5,
		R9:       6,
		Rip:      0x401000,
		Eflags:   0x246,
	})

	expect.Equal(t, uint64(257), snapshot.SyscallNumber())
	expect.Equal(t, uint64(0xfffffffffffffffe), snapshot.ReturnValue())
	expect.Equal(t, VirtualAddress(0x401000), snapshot.InstructionPointer())
	expect.Equal(t, uint64(0x246), snapshot.Flags())

	for idx := 0; idx < NumSyscallArgs; idx++ {
		expect.Equal(t, uint64(idx+1), snapshot.Arg(idx))
	}
}

func (SnapshotSuite) TestSnapshotIsValueCopy(t *testing.T) {
	gpr := ptrace.UserRegs{Rdi: 42}
	snapshot := NewSnapshot(gpr)

	// Mutating the source after capture must not leak into the snapshot.
	gpr.Rdi = 0
	expect.Equal(t, uint64(42), snapshot.Arg(0))
}
