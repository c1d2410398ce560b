package decode

import (
	"strconv"

	. "github.com/straytrace/stray/tracer/common"
	"github.com/straytrace/stray/tracer/memory"
	"github.com/straytrace/stray/tracer/registers"
	"github.com/straytrace/stray/tracer/syscalls"
)

// Rendered when a string-kind argument points at memory the tracer cannot
// read.  A value, not an error; one bad argument never aborts the event.
const UnreadableMarker = "<unreadable>"

// Cap on remote string reads when the caller does not specify one.
const DefaultMaxStringLen = 256

// The subset of the memory reader the decoder needs.  Tests substitute an
// instrumented implementation to prove pointer-kind arguments never touch
// tracee memory.
type StringReader interface {
	ReadCString(addr VirtualAddress, maxLen int) (memory.CString, error)
}

// One decoded syscall argument.  The decoding outcome (truncated string,
// unreadable memory) is carried in the value itself.
type Arg struct {
	Kind syscalls.ArgKind

	// The raw register value, always populated.
	Raw uint64

	// Only populated for string-kind arguments.
	Text       []byte
	Truncated  bool
	Unreadable bool
}

func (arg Arg) String() string {
	switch arg.Kind {
	case syscalls.String:
		if arg.Unreadable {
			return UnreadableMarker
		}
		quoted := strconv.Quote(string(arg.Text))
		if arg.Truncated {
			quoted += "..."
		}
		return quoted
	case syscalls.Address, syscalls.StructPointer:
		return VirtualAddress(arg.Raw).String()
	case syscalls.FileDescriptor:
		return strconv.FormatUint(arg.Raw, 10)
	default:
		return strconv.FormatUint(arg.Raw, 10)
	}
}

// Decodes the argument slots declared by the descriptor's arity, one Arg
// per slot.  Pointer-kind arguments (address / struct / fd) render their
// raw register value and are never dereferenced; only string-kind slots
// consult the reader.  A stateless per-event transformation.
func Decode(
	snapshot registers.Snapshot,
	descriptor syscalls.Descriptor,
	reader StringReader,
	maxStringLen int,
) []Arg {
	if maxStringLen <= 0 {
		maxStringLen = DefaultMaxStringLen
	}

	args := make([]Arg, 0, descriptor.Arity)
	for idx := 0; idx < descriptor.Arity; idx++ {
		kind := descriptor.Args[idx]
		arg := Arg{
			Kind: kind,
			Raw:  snapshot.Arg(idx),
		}

		if kind == syscalls.String {
			str, err := reader.ReadCString(VirtualAddress(arg.Raw), maxStringLen)
			if err != nil {
				// Misclassified arguments commonly point at unreadable memory.
				// Swallow into a marker value; the remaining arguments still
				// decode normally.
				arg.Unreadable = true
			} else {
				arg.Text = str.Bytes
				arg.Truncated = str.Truncated
			}
		}

		args = append(args, arg)
	}

	return args
}
