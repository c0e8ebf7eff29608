package interp

import (
	"errors"
	"fmt"

	"github.com/chazu/jumpsub/pkg/opcode"
)

// ErrRejected is returned by RunValidated for code the validator rejects.
var ErrRejected = errors.New("interp: rejected by validator")

// AbortKind is the reason a machine stopped exceptionally.
type AbortKind int

const (
	AbortStackUnderflow AbortKind = iota + 1
	AbortStackOverflow
	AbortReturnStackUnderflow
	AbortReturnStackOverflow
	AbortInvalidDestination
	AbortInvalidInstruction
	AbortStepLimit
)

var abortNames = map[AbortKind]string{
	AbortStackUnderflow:       "stack underflow",
	AbortStackOverflow:        "stack overflow",
	AbortReturnStackUnderflow: "return stack underflow",
	AbortReturnStackOverflow:  "return stack overflow",
	AbortInvalidDestination:   "invalid jump destination",
	AbortInvalidInstruction:   "invalid instruction",
	AbortStepLimit:            "step limit reached",
}

func (k AbortKind) String() string {
	if s, ok := abortNames[k]; ok {
		return s
	}
	return fmt.Sprintf("AbortKind(%d)", int(k))
}

// ParseAbortKind is the inverse of AbortKind.String.
func ParseAbortKind(s string) (AbortKind, bool) {
	for k, name := range abortNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Abort describes an exceptional halt.
type Abort struct {
	PC     int
	Op     opcode.Opcode
	Name   string
	Kind   AbortKind
	Detail string
}

func (a *Abort) Error() string {
	msg := fmt.Sprintf("interp: %s at pc %d (%s)", a.Kind, a.PC, a.Name)
	if a.Detail != "" {
		msg += ": " + a.Detail
	}
	return msg
}

// Is matches another *Abort with the same Kind, so callers can test with
// errors.Is(err, &Abort{Kind: AbortReturnStackOverflow}).
func (a *Abort) Is(target error) bool {
	t, ok := target.(*Abort)
	return ok && t.Kind == a.Kind
}

// AsAbort extracts an *Abort from err.
func AsAbort(err error) (*Abort, bool) {
	var a *Abort
	ok := errors.As(err, &a)
	return a, ok
}
