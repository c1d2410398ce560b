package registers

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/straytrace/stray/ptrace"
	. "github.com/straytrace/stray/tracer/common"
)

type Accessor struct {
	tracer *ptrace.Tracer
}

func New(tracer *ptrace.Tracer) *Accessor {
	return &Accessor{
		tracer: tracer,
	}
}

// Captures the tracee's general purpose registers.  Only valid while the
// tracee is in a trace-stop; the session is responsible for never calling
// this on a running tracee.
func (accessor *Accessor) Snapshot() (Snapshot, error) {
	gpr, err := accessor.tracer.GetGeneralRegisters()
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return Snapshot{}, fmt.Errorf(
				"cannot read registers from process %d: %w",
				accessor.tracer.Pid,
				ErrProcessGone)
		}
		return Snapshot{}, err
	}

	return Snapshot{gpr: *gpr}, nil
}
