package tracer

import (
	"fmt"
	"syscall"
)

// Sends signals to and collects wait statuses from a single tracee.
type Signaler struct {
	pid int
}

func NewSignaler(pid int) *Signaler {
	return &Signaler{
		pid: pid,
	}
}

func (signaler *Signaler) ToProcess(signal syscall.Signal) error {
	err := syscall.Kill(signaler.pid, signal)
	if err != nil {
		return fmt.Errorf("failed to signal to process %d (%v): %w",
			signaler.pid,
			signal,
			err)
	}

	return nil
}

func (signaler *Signaler) KillToProcess() error {
	return signaler.ToProcess(syscall.SIGKILL)
}

func (signaler *Signaler) FromProcess() (syscall.WaitStatus, error) {
	// NOTE: golang does not support waitpid
	var waitStatus syscall.WaitStatus
	_, err := syscall.Wait4(signaler.pid, &waitStatus, 0, nil)
	if err != nil {
		return 0, fmt.Errorf(
			"failed to wait for process %d: %w",
			signaler.pid,
			err)
	}

	return waitStatus, nil
}
