package common

import (
	"fmt"
)

var (
	// Session creation failures.
	ErrSpawnFailed      = fmt.Errorf("spawn failed")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrNoSuchProcess    = fmt.Errorf("no such process")

	// Active session failures.
	ErrInvalidState = fmt.Errorf("invalid state")
	ErrProcessGone  = fmt.Errorf("process gone")

	// Per-argument failure.  Recoverable; the argument decoder converts this
	// into an unreadable marker value rather than propagating it.
	ErrMemoryUnreadable = fmt.Errorf("memory unreadable")
)

type VirtualAddress uint64

func (addr VirtualAddress) String() string {
	return fmt.Sprintf("0x%016x", uint64(addr))
}
