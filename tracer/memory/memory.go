package memory

import (
	"bytes"
	"fmt"

	"github.com/straytrace/stray/ptrace"
	. "github.com/straytrace/stray/tracer/common"
)

// Machine word size on amd64.
const WordSize = 8

// A best-effort copy of a null-terminated byte sequence read out of the
// tracee's address space.  Truncated is set when the terminator was not
// found before the read cap, or when a word past the first became
// unreadable mid-scan.
type CString struct {
	Bytes     []byte
	Truncated bool
}

func (s CString) String() string {
	return string(s.Bytes)
}

type Memory struct {
	tracer *ptrace.Tracer
}

func New(tracer *ptrace.Tracer) *Memory {
	return &Memory{
		tracer: tracer,
	}
}

func (mem *Memory) Read(addr VirtualAddress, out []byte) (int, error) {
	count, err := mem.tracer.ReadFromVirtualMemory(uintptr(addr), out)
	if err != nil {
		return 0, fmt.Errorf(
			"failed to read from virtual memory at %s (%d) for process %d: %w",
			addr,
			len(out),
			mem.tracer.Pid,
			err)
	}

	return count, nil
}

// Reads one machine word at an arbitrary address in the tracee's address
// space.  The tracing relationship grants access regardless of page
// protection.
func (mem *Memory) ReadWord(addr VirtualAddress) (uint64, error) {
	var word [WordSize]byte
	count, err := mem.tracer.PeekData(uintptr(addr), word[:])
	if err != nil || count != WordSize {
		return 0, fmt.Errorf(
			"cannot read word at %s from process %d: %w",
			addr,
			mem.tracer.Pid,
			ErrMemoryUnreadable)
	}

	var value uint64
	for idx := WordSize - 1; idx >= 0; idx-- {
		value = value<<8 | uint64(word[idx])
	}
	return value, nil
}

// Reads successive words starting at addr, scanning each word's bytes in
// address order for a zero terminator, and concatenates the decoded bytes.
//
// Returns ErrMemoryUnreadable only when the very first word cannot be read
// (invalid address, or process gone).  Any later failure, and exhausting
// maxLen without finding a terminator, instead yield a partial CString with
// Truncated set.  Arguments mistagged as strings routinely point at
// unreadable memory; that must never take down the surrounding decode.
func (mem *Memory) ReadCString(
	addr VirtualAddress,
	maxLen int,
) (
	CString,
	error,
) {
	result := CString{}

	var word [WordSize]byte
	for len(result.Bytes) < maxLen {
		count, err := mem.tracer.PeekData(uintptr(addr), word[:])
		if err != nil || count != WordSize {
			if len(result.Bytes) == 0 {
				return CString{}, fmt.Errorf(
					"cannot read string at %s from process %d: %w",
					addr,
					mem.tracer.Pid,
					ErrMemoryUnreadable)
			}

			result.Truncated = true
			return result, nil
		}

		chunk := word[:]
		if terminator := bytes.IndexByte(chunk, 0); terminator != -1 {
			result.Bytes = append(result.Bytes, chunk[:terminator]...)
			if len(result.Bytes) > maxLen {
				result.Bytes = result.Bytes[:maxLen]
				result.Truncated = true
			}
			return result, nil
		}

		result.Bytes = append(result.Bytes, chunk...)
		addr += WordSize
	}

	result.Bytes = result.Bytes[:maxLen]
	result.Truncated = true
	return result, nil
}
