package validator

import (
	"errors"
	"fmt"

	"github.com/chazu/jumpsub/pkg/opcode"
)

// Kind is the category of a validation fault.
type Kind int

const (
	KindInvalidInstruction   Kind = iota + 1 // undefined, truncated, or deprecated opcode
	KindInvalidDestination                   // static jump or subroutine target not a marker
	KindStackUnderflow                       // instruction needs more items than the depth provides
	KindStackOverflow                        // depth exceeds the stack limit
	KindInconsistentDepth                    // same PC reached with two depths or two stack bases
	KindReturnStackUnderflow                 // RETURNSUB reachable outside every subroutine
)

var (
	ErrInvalidInstruction   = errors.New("invalid instruction")
	ErrInvalidDestination   = errors.New("invalid jump destination")
	ErrStackUnderflow       = errors.New("stack underflow")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrInconsistentDepth    = errors.New("inconsistent stack depth")
	ErrReturnStackUnderflow = errors.New("return stack underflow")
)

var kindErrors = map[Kind]error{
	KindInvalidInstruction:   ErrInvalidInstruction,
	KindInvalidDestination:   ErrInvalidDestination,
	KindStackUnderflow:       ErrStackUnderflow,
	KindStackOverflow:        ErrStackOverflow,
	KindInconsistentDepth:    ErrInconsistentDepth,
	KindReturnStackUnderflow: ErrReturnStackUnderflow,
}

func (k Kind) String() string {
	if err, ok := kindErrors[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Fault describes the first rule violation found in a program.
type Fault struct {
	PC     int
	Op     opcode.Opcode
	Name   string // mnemonic of Op under the table used
	Kind   Kind
	Detail string
}

func (f *Fault) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("validator: %s at pc %d (%s)", f.Kind, f.PC, f.Name)
	}
	return fmt.Sprintf("validator: %s at pc %d (%s): %s", f.Kind, f.PC, f.Name, f.Detail)
}

// Unwrap exposes the category sentinel so callers can use errors.Is.
func (f *Fault) Unwrap() error {
	return kindErrors[f.Kind]
}

// AsFault extracts a *Fault from err.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
