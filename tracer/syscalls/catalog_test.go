package syscalls

import (
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"
)

type CatalogSuite struct{}

func TestCatalog(t *testing.T) {
	suite.RunTests(t, &CatalogSuite{})
}

func (CatalogSuite) TestDescribeAnnotated(t *testing.T) {
	descriptor := Describe(0)
	expect.Equal(t, 0, descriptor.Number)
	expect.Equal(t, "read", descriptor.Name)
	expect.Equal(t, 3, descriptor.Arity)
	expect.Equal(t, FileDescriptor, descriptor.Args[0])
	expect.Equal(t, Address, descriptor.Args[1])
	expect.Equal(t, Integer, descriptor.Args[2])
	expect.Equal(t, Unused, descriptor.Args[3])
	expect.Equal(t, Unused, descriptor.Args[4])
	expect.Equal(t, Unused, descriptor.Args[5])

	descriptor = Describe(59)
	expect.Equal(t, "execve", descriptor.Name)
	expect.Equal(t, 3, descriptor.Arity)
	expect.Equal(t, String, descriptor.Args[0])
	expect.Equal(t, Address, descriptor.Args[1])
	expect.Equal(t, Address, descriptor.Args[2])
}

func (CatalogSuite) TestDescribeZeroArity(t *testing.T) {
	descriptor := Describe(39)
	expect.Equal(t, "getpid", descriptor.Name)
	expect.Equal(t, 0, descriptor.Arity)
	for _, kind := range descriptor.Args {
		expect.Equal(t, Unused, kind)
	}
}

func (CatalogSuite) TestDescribeUnannotated(t *testing.T) {
	// semget carries no annotation and defaults to six integer slots.
	descriptor := Describe(64)
	expect.Equal(t, "semget", descriptor.Name)
	expect.Equal(t, NumArgSlots, descriptor.Arity)
	for _, kind := range descriptor.Args {
		expect.Equal(t, Integer, kind)
	}
}

func (CatalogSuite) TestDescribeIsTotal(t *testing.T) {
	// Reserved / out-of-table / absurd numbers all resolve to the safe
	// unknown descriptor instead of failing.
	for _, number := range []int{-1, 335, 423, 100000, 1 << 30} {
		descriptor := Describe(number)
		expect.Equal(t, UnknownName, descriptor.Name)
		expect.Equal(t, number, descriptor.Number)
		expect.Equal(t, NumArgSlots, descriptor.Arity)
		for _, kind := range descriptor.Args {
			expect.Equal(t, Integer, kind)
		}
	}
}

func (CatalogSuite) TestDescribeIsIdempotent(t *testing.T) {
	for _, number := range []int{0, 59, 64, -1, 100000} {
		first := Describe(number)
		second := Describe(number)
		expect.Equal(t, first, second)
	}
}

func (CatalogSuite) TestByName(t *testing.T) {
	descriptor, ok := ByName("openat")
	expect.True(t, ok)
	expect.Equal(t, 257, descriptor.Number)
	expect.Equal(t, String, descriptor.Args[1])

	_, ok = ByName("no_such_syscall")
	expect.False(t, ok)

	// The unknown fallback is not a named table entry.
	_, ok = ByName(UnknownName)
	expect.False(t, ok)
}

func (CatalogSuite) TestTableEntriesAreSane(t *testing.T) {
	for number, descriptor := range byNumber {
		expect.Equal(t, number, descriptor.Number)
		expect.True(t, descriptor.Name != "")
		expect.True(t, descriptor.Arity >= 0)
		expect.True(t, descriptor.Arity <= NumArgSlots)

		for idx, kind := range descriptor.Args {
			expect.True(t, kind.isValid())
			if idx >= descriptor.Arity {
				expect.Equal(t, Unused, kind)
			}
		}
	}
}
