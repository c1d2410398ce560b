package ptrace

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

type Options int

const (
	vmPageSize = 0x1000

	// ADDR_NO_RANDOMIZE personality flag.  Not exposed by x/sys/unix.
	addrNoRandomize = 0x0040000

	// Argument to the personality syscall that queries the current
	// personality without modifying it.
	queryPersonality = 0xffffffff

	O_EXITKILL     = Options(unix.PTRACE_O_EXITKILL)
	O_TRACESYSGOOD = Options(unix.PTRACE_O_TRACESYSGOOD)
)

// This matches user_regs_struct (64bit variant) defined in <sys/user.h>
type UserRegs = syscall.PtraceRegs

type SigInfo = unix.Siginfo

func ptrace(request int, pid int, addr uintptr, data uintptr) error {
	_, _, err := syscall.Syscall6(
		syscall.SYS_PTRACE,
		uintptr(request),
		uintptr(pid),
		addr,
		data,
		0,
		0)
	if err == 0 {
		return nil
	}
	return err
}

func ptracePtr(request int, pid int, addr uintptr, data unsafe.Pointer) error {
	return ptrace(request, pid, addr, uintptr(data))
}

func getSigInfo(pid int, out *SigInfo) error {
	return ptracePtr(syscall.PTRACE_GETSIGINFO, pid, 0, unsafe.Pointer(out))
}

// Flips ADDR_NO_RANDOMIZE on the calling os thread and returns a function
// that restores the previous personality.  The flag is inherited across
// fork/exec, so setting it on the (locked) server thread immediately before
// starting the tracee command disables aslr in the tracee.
func disableASLR() (restore func(), err error) {
	old, _, errno := syscall.Syscall(
		unix.SYS_PERSONALITY,
		queryPersonality,
		0,
		0)
	if errno != 0 {
		return nil, errno
	}

	_, _, errno = syscall.Syscall(
		unix.SYS_PERSONALITY,
		old|addrNoRandomize,
		0,
		0)
	if errno != 0 {
		return nil, errno
	}

	return func() {
		_, _, _ = syscall.Syscall(unix.SYS_PERSONALITY, old, 0, 0)
	}, nil
}

func readVirtualMemory(pid int, addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	localIovs := make([]unix.Iovec, 1)
	localIovs[0].Base = &data[0]
	localIovs[0].SetLen(len(data))

	var remoteIovs []unix.RemoteIovec

	remaining := len(data)

	// NOTE: We need to ensure RemoteIovec entries are page aligned.
	if addr%vmPageSize != 0 {
		pageEndAddr := ((addr + vmPageSize - 1) / vmPageSize) * vmPageSize

		size := int(pageEndAddr - addr)
		if remaining < size {
			size = remaining
		}

		remoteIovs = append(
			remoteIovs,
			unix.RemoteIovec{
				Base: addr,
				Len:  size,
			})
		remaining -= size
		addr += uintptr(size)
	}

	for remaining > 0 {
		size := remaining
		if size > vmPageSize {
			size = vmPageSize
		}

		remoteIovs = append(
			remoteIovs,
			unix.RemoteIovec{
				Base: addr,
				Len:  size,
			})

		remaining -= size
		addr += uintptr(size)
	}

	return unix.ProcessVMReadv(pid, localIovs, remoteIovs, 0)
}
