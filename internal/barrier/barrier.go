// Package barrier provides the two memory-ordering disciplines compared by
// the reorder experiment: a compiler-only barrier and a full hardware fence.
package barrier

import (
	"fmt"
	"strings"
)

// Kind selects a barrier discipline.
type Kind int

const (
	// Compiler stops the Go compiler from moving memory operations across
	// the barrier but emits no fence instruction, so the CPU may still let
	// a later load pass an earlier store sitting in its store buffer.
	Compiler Kind = iota

	// Hardware issues a full fence instruction. No later load can be
	// satisfied until every earlier store is globally visible.
	Hardware
)

func (k Kind) String() string {
	switch k {
	case Compiler:
		return "compiler"
	case Hardware:
		return "hardware"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Valid reports whether k names a known discipline.
func (k Kind) Valid() bool {
	return k == Compiler || k == Hardware
}

// ParseKind maps a flag value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "compiler":
		return Compiler, nil
	case "hardware", "cpu", "mfence", "full":
		return Hardware, nil
	default:
		return 0, fmt.Errorf("unknown barrier kind %q (want compiler or hardware)", s)
	}
}

// Barrier applies an ordering barrier at the point it is called.
type Barrier interface {
	Apply()
}

// Func adapts an ordinary function to the Barrier interface.
type Func func()

// Apply calls f.
func (f Func) Apply() { f() }

type compilerBarrier struct{}

func (compilerBarrier) Apply() { CompilerFence() }

type hardwareBarrier struct{}

func (hardwareBarrier) Apply() { FullFence() }

// New returns the Barrier for k. Unknown kinds fall back to the full fence.
func New(k Kind) Barrier {
	if k == Compiler {
		return compilerBarrier{}
	}
	return hardwareBarrier{}
}

// CompilerFence is an opaque call the compiler cannot see through, so loads
// and stores are not moved across it. It emits no fence instruction.
//
//go:noinline
func CompilerFence() {}
