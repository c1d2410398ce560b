package ptrace

import (
	"os/exec"
)

type opType string

const (
	startOp      = opType("start")
	attachOp     = opType("attach")
	detachOp     = opType("detach")
	syscallOp    = opType("syscall")
	setOptionsOp = opType("setOptions")
	getRegsOp    = opType("getRegs")
	peekDataOp   = opType("peekData")
	readMemoryOp = opType("readMemory")
	getSigInfoOp = opType("getSigInfo")
)

type request struct {
	opType

	cmd         *exec.Cmd // only used by start
	disableASLR bool      // only used by start

	pid int // used by all except start

	signal int // syscall-trapped resume

	options Options // set options

	regs *UserRegs // get regs

	addr uintptr // peek data / read memory
	data []byte  // peek data / read memory

	responseChan chan response
}

type response struct {
	count int // peek data / read memory

	sigInfo *SigInfo // get sig info

	err error
}
