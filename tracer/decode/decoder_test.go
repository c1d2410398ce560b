package decode

import (
	"fmt"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"

	"github.com/straytrace/stray/ptrace"
	. "github.com/straytrace/stray/tracer/common"
	"github.com/straytrace/stray/tracer/memory"
	"github.com/straytrace/stray/tracer/registers"
	"github.com/straytrace/stray/tracer/syscalls"
)

// Serves canned strings keyed by address and records every call.
type fakeReader struct {
	strings map[VirtualAddress]memory.CString
	calls   []VirtualAddress
}

func (reader *fakeReader) ReadCString(
	addr VirtualAddress,
	maxLen int,
) (
	memory.CString,
	error,
) {
	reader.calls = append(reader.calls, addr)

	str, ok := reader.strings[addr]
	if !ok {
		return memory.CString{}, fmt.Errorf(
			"cannot read string at %s: %w",
			addr,
			ErrMemoryUnreadable)
	}

	if len(str.Bytes) > maxLen {
		return memory.CString{
			Bytes:     str.Bytes[:maxLen],
			Truncated: true,
		}, nil
	}
	return str, nil
}

// Fails every call.  Decoding pointer-kind arguments must never reach the
// reader at all.
type explodingReader struct {
	t *testing.T
}

func (reader explodingReader) ReadCString(
	addr VirtualAddress,
	maxLen int,
) (
	memory.CString,
	error,
) {
	reader.t.Fatalf("unexpected memory read at %s", addr)
	return memory.CString{}, nil
}

func entrySnapshot(number uint64, args [6]uint64) registers.Snapshot {
	return registers.NewSnapshot(ptrace.UserRegs{
		Orig_rax: number,
		Rdi:      args[0],
		Rsi:      args[1],
		Rdx:      args[2],
		R10:      args[3],
		R8:       args[4],
		R9:       args[5],
	})
}

type DecoderSuite struct{}

func TestDecoder(t *testing.T) {
	suite.RunTests(t, &DecoderSuite{})
}

func (DecoderSuite) TestIntegerAndPointerKinds(t *testing.T) {
	// mmap: address, integer, integer, integer, fd, integer.  None of the
	// six slots may touch tracee memory.
	descriptor := syscalls.Describe(9)
	expect.Equal(t, "mmap", descriptor.Name)

	snapshot := entrySnapshot(
		9,
		[6]uint64{0x7f0000001000, 4096, 3, 0x22, 5, 0})

	args := Decode(snapshot, descriptor, explodingReader{t}, 0)
	expect.Equal(t, 6, len(args))

	expect.Equal(t, syscalls.Address, args[0].Kind)
	expect.Equal(t, uint64(0x7f0000001000), args[0].Raw)
	expect.Equal(t, "0x00007f0000001000", args[0].String())

	expect.Equal(t, syscalls.Integer, args[1].Kind)
	expect.Equal(t, "4096", args[1].String())

	expect.Equal(t, syscalls.FileDescriptor, args[4].Kind)
	expect.Equal(t, "5", args[4].String())
}

func (DecoderSuite) TestStructPointerNeverDereferenced(t *testing.T) {
	// fstat: fd, struct.
	descriptor := syscalls.Describe(5)
	expect.Equal(t, "fstat", descriptor.Name)

	snapshot := entrySnapshot(5, [6]uint64{3, 0x7ffc00000040})

	args := Decode(snapshot, descriptor, explodingReader{t}, 0)
	expect.Equal(t, 2, len(args))
	expect.Equal(t, syscalls.StructPointer, args[1].Kind)
	expect.Equal(t, "0x00007ffc00000040", args[1].String())
}

func (DecoderSuite) TestStringArgument(t *testing.T) {
	descriptor := syscalls.Describe(2) // open: string, integer, integer
	reader := &fakeReader{
		strings: map[VirtualAddress]memory.CString{
			0x1000: {Bytes: []byte("/etc/passwd")},
		},
	}

	snapshot := entrySnapshot(2, [6]uint64{0x1000, 0, 0})

	args := Decode(snapshot, descriptor, reader, 0)
	expect.Equal(t, 3, len(args))

	expect.Equal(t, syscalls.String, args[0].Kind)
	expect.Equal(t, "/etc/passwd", string(args[0].Text))
	expect.False(t, args[0].Truncated)
	expect.False(t, args[0].Unreadable)
	expect.Equal(t, `"/etc/passwd"`, args[0].String())

	// Only the string slot consulted the reader.
	expect.Equal(t, 1, len(reader.calls))
	expect.Equal(t, VirtualAddress(0x1000), reader.calls[0])
}

func (DecoderSuite) TestStringTruncation(t *testing.T) {
	descriptor := syscalls.Describe(2)
	reader := &fakeReader{
		strings: map[VirtualAddress]memory.CString{
			0x1000: {Bytes: []byte("/very/long/path")},
		},
	}

	snapshot := entrySnapshot(2, [6]uint64{0x1000, 0, 0})

	args := Decode(snapshot, descriptor, reader, 5)
	expect.Equal(t, "/very", string(args[0].Text))
	expect.True(t, args[0].Truncated)
	expect.Equal(t, `"/very"...`, args[0].String())
}

func (DecoderSuite) TestUnreadableStringDoesNotAbortEvent(t *testing.T) {
	// execve: string, address, address.  The path register points at
	// unmapped memory; the remaining arguments must still decode.
	descriptor := syscalls.Describe(59)
	reader := &fakeReader{}

	snapshot := entrySnapshot(
		59,
		[6]uint64{0xdead0000, 0x7ffc00000100, 0x7ffc00000200})

	args := Decode(snapshot, descriptor, reader, 0)
	expect.Equal(t, 3, len(args))

	expect.True(t, args[0].Unreadable)
	expect.Equal(t, UnreadableMarker, args[0].String())

	expect.Equal(t, syscalls.Address, args[1].Kind)
	expect.Equal(t, "0x00007ffc00000100", args[1].String())
	expect.Equal(t, "0x00007ffc00000200", args[2].String())
}

func (DecoderSuite) TestZeroArity(t *testing.T) {
	descriptor := syscalls.Describe(39) // getpid
	args := Decode(entrySnapshot(39, [6]uint64{}), descriptor, explodingReader{t}, 0)
	expect.Equal(t, 0, len(args))
}

func (DecoderSuite) TestUnknownSyscallDecodesSafely(t *testing.T) {
	// Unknown descriptors tag all slots integer; decoding must not touch
	// memory regardless of what the registers hold.
	descriptor := syscalls.Describe(100000)

	snapshot := entrySnapshot(
		100000,
		[6]uint64{0xdead0000, 1, 2, 3, 4, 5})

	args := Decode(snapshot, descriptor, explodingReader{t}, 0)
	expect.Equal(t, 6, len(args))
	expect.Equal(t, "3735879680", args[0].String())
}
