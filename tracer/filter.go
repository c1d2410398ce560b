package tracer

import (
	"github.com/straytrace/stray/tracer/syscalls"
)

type filterMode int

const (
	reportAll  = filterMode(0)
	reportList = filterMode(1)
)

// Restricts which completed syscalls produce entry/exit events.  The
// session still observes every syscall stop (parity tracking requires it);
// a non-matching syscall is simply never surfaced.  The zero filter reports
// everything.
type Filter struct {
	mode    filterMode
	numbers map[int]struct{}
}

func NewFilter() *Filter {
	return &Filter{
		mode: reportAll,
	}
}

// Limits reporting to the listed syscall numbers.
func (filter *Filter) ReportOnly(numbers []int) {
	filter.mode = reportList
	filter.numbers = make(map[int]struct{}, len(numbers))
	for _, number := range numbers {
		filter.numbers[number] = struct{}{}
	}
}

func (filter *Filter) Matches(number int) bool {
	if filter == nil || filter.mode == reportAll {
		return true
	}

	_, ok := filter.numbers[number]
	return ok
}

func (filter *Filter) String() string {
	if filter == nil || filter.mode == reportAll {
		return "report all syscalls"
	}

	result := "report listed syscalls:"
	for number := range filter.numbers {
		result += " " + syscalls.Describe(number).Name
	}
	return result
}
