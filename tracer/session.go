package tracer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/straytrace/stray/ptrace"
	. "github.com/straytrace/stray/tracer/common"
	"github.com/straytrace/stray/tracer/decode"
	"github.com/straytrace/stray/tracer/memory"
	"github.com/straytrace/stray/tracer/registers"
	"github.com/straytrace/stray/tracer/syscalls"
)

// With PTRACE_O_TRACESYSGOOD, syscall stops report SIGTRAP with bit 7 set,
// distinguishing them from other traps.
const syscallTrapSignal = syscall.SIGTRAP | 0x80

type State string

const (
	Created        = State("created")
	Running        = State("running")
	StoppedAtEntry = State("stopped at syscall entry")
	StoppedAtExit  = State("stopped at syscall exit")
	Exited         = State("exited")
	Detached       = State("detached")
)

// What Run does to the tracee when its context is cancelled.  Cancellation
// always takes one of these two explicit actions; the session never leaves
// a dangling tracing relationship behind.
type CancelAction int

const (
	// Detach and leave the tracee running (default).
	CancelDetach = CancelAction(0)

	// Terminate the tracee.
	CancelKill = CancelAction(1)
)

type Config struct {
	// Start the tracee with aslr disabled for reproducible addresses.
	// Launch only.
	DisableASLR bool

	// Set PTRACE_O_EXITKILL so the kernel kills the tracee if the tracer
	// process dies without detaching.
	KillTraceeOnExit bool

	// Cap on remote string reads.  Zero means decode.DefaultMaxStringLen.
	MaxStringLen int

	// Restricts which syscalls produce events.  Nil reports everything.
	Filter *Filter

	// Applied on context cancellation in Run.
	OnCancel CancelAction

	// Tracee standard streams.  Launch only; nil falls back to the exec
	// package defaults.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Optional debug logger.  Nil discards.
	Logger *logrus.Logger
}

// Caller-supplied event consumer for Run.
type Sink interface {
	HandleEvent(Event) error
}

type SinkFunc func(Event) error

func (sink SinkFunc) HandleEvent(event Event) error {
	return sink(event)
}

// The syscall number and name captured at an entry stop, carried forward
// to the paired exit stop.  The exit stop's own syscall-number register is
// not trustworthy for pairing across kernel versions.
type pendingSyscall struct {
	number uint64
	name   string

	// False when the filter suppressed the entry event; the paired exit is
	// then suppressed too.
	reported bool
}

type signalDiagnostics struct {
	signal      syscall.Signal
	instruction *memory.Instruction
}

// Drives the tracer side of the ptrace protocol for one tracee: a strict
// resume / wait / decode / emit loop with no internal concurrency.  The
// session exclusively owns its tracee handle; the underlying tracing
// relationship allows one tracer per tracee.
type Session struct {
	Pid         int
	ownsProcess bool

	config Config
	logger *logrus.Entry

	tracer   *ptrace.Tracer
	accessor *registers.Accessor
	mem      *memory.Memory
	signaler *Signaler

	state State

	// Syscall stops alternate strictly entry, exit, entry, exit per syscall
	// instance.  The parity is tracked explicitly since register contents
	// alone cannot distinguish entry from exit for many syscalls.
	expectsSyscallExit bool
	pending            *pendingSyscall

	// Signal to deliver to the tracee on the next resume (signal
	// passthrough for non-syscall stops).
	resumeSignal int

	// Events produced during session setup, drained by Next before the
	// tracee is resumed again.
	queued []Event

	lastSignal *signalDiagnostics
}

func newSession(
	processTracer *ptrace.Tracer,
	ownsProcess bool,
	config Config,
) *Session {
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	return &Session{
		Pid:         processTracer.Pid,
		ownsProcess: ownsProcess,
		config:      config,
		logger:      logger.WithField("pid", processTracer.Pid),
		tracer:      processTracer,
		accessor:    registers.New(processTracer),
		mem:         memory.New(processTracer),
		signaler:    NewSignaler(processTracer.Pid),
		state:       Created,
	}
}

// Creates a new tracee process running the given command, stopped at the
// first instruction of the new image, and returns a session ready to trace
// it.  The one-time fork/exec relationship setup is irreversible; callers
// get back an opaque session, never raw process primitives.
func Launch(
	config Config,
	program string,
	args ...string,
) (
	*Session,
	error,
) {
	cmd := exec.Command(program, args...)
	cmd.Stdin = config.Stdin
	cmd.Stdout = config.Stdout
	cmd.Stderr = config.Stderr

	processTracer, err := ptrace.StartAndAttachToProcess(
		cmd,
		ptrace.StartOptions{
			DisableASLR: config.DisableASLR,
		})
	if err != nil {
		return nil, fmt.Errorf(
			"failed to launch %s: %w: %w",
			program,
			ErrSpawnFailed,
			err)
	}

	session := newSession(processTracer, true, config)

	waitStatus, err := session.signaler.FromProcess()
	if err != nil || !waitStatus.Stopped() {
		_ = session.tracer.Detach()
		return nil, fmt.Errorf(
			"failed to launch %s: tracee never reached its initial stop: %w",
			program,
			ErrSpawnFailed)
	}

	err = session.setTraceOptions()
	if err != nil {
		_ = session.Kill()
		return nil, err
	}

	session.seedExecveEvents(cmd.Path)
	session.logger.Debug("launched tracee")
	return session, nil
}

// Begins tracing an already-running process.  The target must be owned by
// the same user or the tracer must hold elevated privilege.
func Attach(config Config, pid int) (*Session, error) {
	processTracer, err := ptrace.AttachToProcess(pid)
	if err != nil {
		switch {
		case errors.Is(err, syscall.ESRCH):
			return nil, fmt.Errorf(
				"cannot attach to process %d: %w",
				pid,
				ErrNoSuchProcess)
		case errors.Is(err, syscall.EPERM):
			return nil, fmt.Errorf(
				"cannot attach to process %d: %w",
				pid,
				ErrPermissionDenied)
		default:
			return nil, err
		}
	}

	session := newSession(processTracer, false, config)

	waitStatus, err := session.signaler.FromProcess()
	if err != nil || !waitStatus.Stopped() {
		_ = session.tracer.Detach()
		return nil, fmt.Errorf(
			"cannot attach to process %d: %w",
			pid,
			ErrNoSuchProcess)
	}

	err = session.setTraceOptions()
	if err != nil {
		_ = session.Detach()
		return nil, err
	}

	session.logger.Debug("attached to tracee")
	return session, nil
}

func (session *Session) State() State {
	return session.state
}

func (session *Session) setTraceOptions() error {
	options := ptrace.O_TRACESYSGOOD
	if session.config.KillTraceeOnExit {
		options |= ptrace.O_EXITKILL
	}
	return session.tracer.SetOptions(options)
}

// The initial trace-stop of a launched tracee is the kernel's post-execve
// trap; the execve entry itself happened before tracing could observe any
// syscall stop.  Reconstruct the entry/exit pair here so a trace always
// opens with the program-load syscall, the way the completed-event stream
// is expected to read.
func (session *Session) seedExecveEvents(path string) {
	if !session.config.Filter.Matches(syscall.SYS_EXECVE) {
		return
	}

	snapshot, err := session.accessor.Snapshot()
	if err != nil {
		// Tracee raced away; the first Next call surfaces the terminal event.
		return
	}

	descriptor := syscalls.Describe(syscall.SYS_EXECVE)

	args := make([]decode.Arg, 0, descriptor.Arity)
	for idx := 0; idx < descriptor.Arity; idx++ {
		arg := decode.Arg{
			Kind: descriptor.Args[idx],
			Raw:  snapshot.Arg(idx),
		}
		if idx == 0 {
			// The path register was clobbered by the exec; the launch path is
			// the authoritative value.
			arg.Text = []byte(path)
		}
		args = append(args, arg)
	}

	session.queued = append(
		session.queued,
		SyscallEntry{
			Number: syscall.SYS_EXECVE,
			Name:   descriptor.Name,
			Args:   args,
		},
		SyscallExit{
			Number:      syscall.SYS_EXECVE,
			Name:        descriptor.Name,
			ReturnValue: snapshot.ReturnValue(),
		})
}

// Advances the tracee to the next reportable observation and returns
// exactly one event.  Blocks indefinitely in the kernel wait; callers
// wanting bounded waits must layer a deadline via Run's context.  Once a
// terminal event has been returned, further calls fail.
func (session *Session) Next() (Event, error) {
	switch session.state {
	case Exited:
		return nil, fmt.Errorf(
			"cannot resume process %d: %w",
			session.Pid,
			ErrProcessGone)
	case Detached:
		return nil, fmt.Errorf(
			"session for process %d is detached: %w",
			session.Pid,
			ErrInvalidState)
	}

	if len(session.queued) > 0 {
		event := session.queued[0]
		session.queued = session.queued[1:]
		return event, nil
	}

	for {
		signal := session.resumeSignal
		session.resumeSignal = 0

		err := session.tracer.SyscallTrappedResume(signal)
		if err != nil {
			// Process death is not transient; reap instead of retrying.
			return session.reapTerminal()
		}
		session.state = Running

		waitStatus, err := session.signaler.FromProcess()
		if err != nil {
			session.state = Exited
			return nil, fmt.Errorf(
				"lost process %d mid-trace: %w",
				session.Pid,
				ErrProcessGone)
		}

		event, err := session.handleWaitStatus(waitStatus)
		if err != nil {
			return nil, err
		}
		if event != nil {
			return event, nil
		}

		// Suppressed syscall or signal passthrough; keep going.
	}
}

func (session *Session) handleWaitStatus(
	waitStatus syscall.WaitStatus,
) (
	Event,
	error,
) {
	if waitStatus.Exited() {
		session.state = Exited
		session.logger.WithField("status", waitStatus.ExitStatus()).
			Debug("tracee exited")
		return ProcessExited{Status: waitStatus.ExitStatus()}, nil
	}

	if waitStatus.Signaled() {
		session.state = Exited
		event := Signaled{Signal: waitStatus.Signal()}
		if session.lastSignal != nil &&
			session.lastSignal.signal == waitStatus.Signal() {

			event.Instruction = session.lastSignal.instruction
		}
		session.logger.WithField("signal", waitStatus.Signal()).
			Debug("tracee killed by signal")
		return event, nil
	}

	if !waitStatus.Stopped() {
		return nil, nil
	}

	if waitStatus.StopSignal() == syscallTrapSignal {
		return session.handleSyscallStop()
	}

	session.handleSignalStop(waitStatus.StopSignal())
	return nil, nil
}

func (session *Session) handleSyscallStop() (Event, error) {
	snapshot, err := session.accessor.Snapshot()
	if err != nil {
		// Race between the stop notification and the register read; the
		// tracee is already gone.
		return session.reapTerminal()
	}

	if !session.expectsSyscallExit {
		session.expectsSyscallExit = true
		session.state = StoppedAtEntry

		number := snapshot.SyscallNumber()
		descriptor := syscalls.Describe(int(number))

		reported := session.config.Filter.Matches(int(number))
		session.pending = &pendingSyscall{
			number:   number,
			name:     descriptor.Name,
			reported: reported,
		}

		if !reported {
			return nil, nil
		}

		args := decode.Decode(
			snapshot,
			descriptor,
			session.mem,
			session.config.MaxStringLen)

		session.logger.WithField("syscall", descriptor.Name).
			Debug("syscall entry")

		return SyscallEntry{
			Number: number,
			Name:   descriptor.Name,
			Args:   args,
		}, nil
	}

	session.expectsSyscallExit = false
	session.state = StoppedAtExit

	pending := session.pending
	session.pending = nil

	if pending == nil || !pending.reported {
		return nil, nil
	}

	session.logger.WithField("syscall", pending.name).Debug("syscall exit")

	return SyscallExit{
		Number:      pending.number,
		Name:        pending.name,
		ReturnValue: snapshot.ReturnValue(),
	}, nil
}

// Non-syscall stop: remember best-effort diagnostics, then arrange for the
// signal to be re-delivered on the next resume so the tracee observes it.
// Group-stops must not have a signal re-injected; they are detectable
// because PTRACE_GETSIGINFO fails during a group-stop.
func (session *Session) handleSignalStop(signal syscall.Signal) {
	_, err := session.tracer.GetSigInfo()
	if err != nil {
		return
	}

	session.resumeSignal = int(signal)

	if signal == syscall.SIGTRAP {
		return
	}

	snapshot, err := session.accessor.Snapshot()
	if err != nil {
		return
	}

	diagnostics := &signalDiagnostics{signal: signal}
	instruction, err := session.mem.InstructionAt(
		snapshot.InstructionPointer())
	if err == nil {
		diagnostics.instruction = &instruction
	}
	session.lastSignal = diagnostics
}

// Collects the exit status of a tracee that died out from under the
// session and converts it into the terminal event.
func (session *Session) reapTerminal() (Event, error) {
	waitStatus, err := session.signaler.FromProcess()
	session.state = Exited

	if err == nil {
		if waitStatus.Exited() {
			return ProcessExited{Status: waitStatus.ExitStatus()}, nil
		}
		if waitStatus.Signaled() {
			return Signaled{Signal: waitStatus.Signal()}, nil
		}
	}

	return nil, fmt.Errorf(
		"lost process %d mid-trace: %w",
		session.Pid,
		ErrProcessGone)
}

// Decodes the instruction the tracee will execute next.  Only valid while
// the tracee is in a trace-stop (between emitted events).
func (session *Session) CurrentInstruction() (memory.Instruction, error) {
	switch session.state {
	case Created, StoppedAtEntry, StoppedAtExit:
	default:
		return memory.Instruction{}, fmt.Errorf(
			"cannot inspect process %d while %s: %w",
			session.Pid,
			session.state,
			ErrInvalidState)
	}

	snapshot, err := session.accessor.Snapshot()
	if err != nil {
		return memory.Instruction{}, err
	}

	return session.mem.InstructionAt(snapshot.InstructionPointer())
}

// Stops tracing without killing the tracee, which resumes normal
// execution.  Terminal; only valid between emitted events while the
// tracee is stopped.
func (session *Session) Detach() error {
	switch session.state {
	case Exited, Detached:
		return fmt.Errorf(
			"cannot detach session for process %d (%s): %w",
			session.Pid,
			session.state,
			ErrInvalidState)
	}

	err := session.tracer.Detach()
	if err != nil {
		return err
	}

	session.state = Detached
	session.logger.Debug("detached from tracee")
	return nil
}

// Terminates the tracee and reaps it.  Terminal.
func (session *Session) Kill() error {
	switch session.state {
	case Exited, Detached:
		return fmt.Errorf(
			"cannot kill process %d (%s): %w",
			session.Pid,
			session.state,
			ErrInvalidState)
	}

	err := session.signaler.KillToProcess()
	if err != nil {
		return err
	}

	// SIGKILL terminates even a ptrace-stopped tracee.
	_, _ = session.signaler.FromProcess()

	session.state = Exited

	// Shut down the ptrace server thread; the detach op fails against the
	// dead pid but still terminates the server loop.
	if !session.tracer.Detached() {
		_ = session.tracer.Detach()
	}

	session.logger.Debug("killed tracee")
	return nil
}

// Releases the session.  A still-active session is killed when the tracee
// was launched by this session, and detached (left running) when it was
// attached to.
func (session *Session) Close() error {
	switch session.state {
	case Exited, Detached:
		_ = session.tracer.Close()
		return nil
	}

	if session.ownsProcess {
		return session.Kill()
	}
	return session.Detach()
}

// Feeds events into sink until the terminal event, a sink error, or
// context cancellation.  On cancellation the configured CancelAction is
// applied (detach by default) before returning the context error;
// cancellation never interrupts an in-flight decode.
func (session *Session) Run(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			var err error
			if session.config.OnCancel == CancelKill {
				err = session.Kill()
			} else {
				err = session.Detach()
			}
			if err != nil {
				return err
			}
			return ctx.Err()
		default:
		}

		event, err := session.Next()
		if err != nil {
			return err
		}

		err = sink.HandleEvent(event)
		if err != nil {
			return err
		}

		if event.Terminal() {
			return nil
		}
	}
}
