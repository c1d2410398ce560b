package memory

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	. "github.com/straytrace/stray/tracer/common"
)

const (
	maxX64InstructionLength = 15
)

// The instruction the tracee was about to execute at a trace-stop.  Used
// purely for diagnostics (describing fatal signal stops); the tracer never
// rewrites tracee text.
type Instruction struct {
	Address VirtualAddress
	x86asm.Inst
}

func (inst Instruction) String() string {
	return fmt.Sprintf(
		"0x%016x: %s",
		uint64(inst.Address),
		x86asm.GNUSyntax(inst.Inst, uint64(inst.Address), nil))
}

// Decodes the single instruction at address in the tracee's address space.
func (mem *Memory) InstructionAt(address VirtualAddress) (Instruction, error) {
	data := make([]byte, maxX64InstructionLength)
	_, err := mem.Read(address, data)
	if err != nil {
		return Instruction{}, err
	}

	inst, err := x86asm.Decode(data, 64)
	if err != nil {
		return Instruction{}, fmt.Errorf(
			"failed to decode instruction at %s: %w",
			address,
			err)
	}

	return Instruction{
		Address: address,
		Inst:    inst,
	}, nil
}
