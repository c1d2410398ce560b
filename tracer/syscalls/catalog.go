package syscalls

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Number of argument slots in the amd64 syscall calling convention.
const NumArgSlots = 6

// Name reported for syscall numbers outside the known table.
const UnknownName = "unknown"

// The semantic kind of one syscall argument slot.  Bit-identical register
// values (string pointer, struct pointer, plain integer) can only be told
// apart by this static per-syscall per-slot annotation; there is no sound
// way to infer the kind from the value alone.
type ArgKind string

const (
	Integer        = ArgKind("integer")
	Address        = ArgKind("address")
	String         = ArgKind("string")
	StructPointer  = ArgKind("struct")
	FileDescriptor = ArgKind("fd")
	Unused         = ArgKind("unused")
)

func (kind ArgKind) isValid() bool {
	switch kind {
	case Integer, Address, String, StructPointer, FileDescriptor, Unused:
		return true
	default:
		return false
	}
}

// A static, read-only description of one syscall: its name plus the
// semantic kind of each declared argument slot.
type Descriptor struct {
	Number int
	Name   string
	Arity  int
	Args   [NumArgSlots]ArgKind
}

//go:embed table_amd64.yaml
var tableYAML []byte

type tableEntry struct {
	Num  int    `yaml:"num"`
	Name string `yaml:"name"`

	// nil (key absent) means unannotated: six integer slots.  An empty list
	// means the syscall takes no arguments.
	Args *[]ArgKind `yaml:"args"`
}

// Built once from the embedded table during package init; read-only
// afterwards, shared across sessions without locking.
var (
	byNumber map[int]Descriptor
	byName   map[string]Descriptor
)

func init() {
	var entries []tableEntry
	err := yaml.Unmarshal(tableYAML, &entries)
	if err != nil {
		panic("malformed embedded syscall table: " + err.Error())
	}

	byNumber = make(map[int]Descriptor, len(entries))
	byName = make(map[string]Descriptor, len(entries))

	for _, entry := range entries {
		descriptor := Descriptor{
			Number: entry.Num,
			Name:   entry.Name,
		}

		if entry.Args == nil {
			descriptor.Arity = NumArgSlots
			for idx := 0; idx < NumArgSlots; idx++ {
				descriptor.Args[idx] = Integer
			}
		} else {
			if len(*entry.Args) > NumArgSlots {
				panic(fmt.Sprintf(
					"malformed embedded syscall table: %s declares %d arguments",
					entry.Name,
					len(*entry.Args)))
			}

			descriptor.Arity = len(*entry.Args)
			for idx := 0; idx < NumArgSlots; idx++ {
				if idx < len(*entry.Args) {
					kind := (*entry.Args)[idx]
					if !kind.isValid() {
						panic(fmt.Sprintf(
							"malformed embedded syscall table: %s argument %d has "+
								"invalid kind %q",
							entry.Name,
							idx,
							kind))
					}
					descriptor.Args[idx] = kind
				} else {
					descriptor.Args[idx] = Unused
				}
			}
		}

		if _, ok := byNumber[entry.Num]; ok {
			panic(fmt.Sprintf(
				"malformed embedded syscall table: duplicate number %d",
				entry.Num))
		}

		byNumber[entry.Num] = descriptor
		byName[entry.Name] = descriptor
	}
}

// Total over the full syscall number range.  Numbers outside the known
// table yield an "unknown" descriptor whose six slots are all plain
// integers; the safe default never dereferences tracee memory.
func Describe(number int) Descriptor {
	descriptor, ok := byNumber[number]
	if ok {
		return descriptor
	}

	descriptor = Descriptor{
		Number: number,
		Name:   UnknownName,
		Arity:  NumArgSlots,
	}
	for idx := 0; idx < NumArgSlots; idx++ {
		descriptor.Args[idx] = Integer
	}
	return descriptor
}

func ByName(name string) (Descriptor, bool) {
	descriptor, ok := byName[name]
	return descriptor, ok
}
