package main

import (
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/straytrace/stray/tracer"
)

// Renders the event stream in the classic name(arg, ...) = retval layout.
// Entry and exit arrive as separate events; the entry line is held open
// until its exit (or a terminal event) completes it.
type printer struct {
	out io.Writer

	lineOpen bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out: out,
	}
}

func (p *printer) HandleEvent(event tracer.Event) error {
	switch ev := event.(type) {
	case tracer.SyscallEntry:
		p.flush()

		rendered := make([]string, 0, len(ev.Args))
		for _, arg := range ev.Args {
			rendered = append(rendered, arg.String())
		}

		fmt.Fprintf(p.out, "%s(%s)", ev.Name, strings.Join(rendered, ", "))
		p.lineOpen = true
	case tracer.SyscallExit:
		if !p.lineOpen {
			fmt.Fprintf(p.out, "%s(...)", ev.Name)
		}

		fmt.Fprintf(p.out, " = %s\n", formatReturnValue(ev.ReturnValue))
		p.lineOpen = false
	case tracer.ProcessExited:
		p.flush()
		fmt.Fprintf(p.out, "+++ exited with %d +++\n", ev.Status)
	case tracer.Signaled:
		p.flush()
		fmt.Fprintf(p.out, "+++ killed by %v +++\n", ev.Signal)
		if ev.Instruction != nil {
			fmt.Fprintf(p.out, "    %s\n", ev.Instruction)
		}
	}

	return nil
}

// Completes a dangling entry line (tracee died between entry and exit).
func (p *printer) flush() {
	if p.lineOpen {
		fmt.Fprintf(p.out, " = ?\n")
		p.lineOpen = false
	}
}

// Kernel syscalls report errors as small negative return values.
func formatReturnValue(value uint64) string {
	signed := int64(value)
	if signed < 0 && signed >= -4095 {
		errno := syscall.Errno(-signed)
		return fmt.Sprintf("-1 (%v)", errno)
	}

	if value > 0xffffffff {
		return fmt.Sprintf("0x%x", value)
	}
	return fmt.Sprintf("%d", signed)
}
