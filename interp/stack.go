package interp

import (
	"errors"

	"github.com/holiman/uint256"
)

// DefaultStackLimit bounds both the data stack and the return stack.
const DefaultStackLimit = 1024

var (
	ErrStackUnderflow = errors.New("interp: stack underflow")
	ErrStackOverflow  = errors.New("interp: stack overflow")
)

// ---------------------------------------------------------------------------
// Stack: data stack of 256-bit words
// ---------------------------------------------------------------------------

// Stack is the data stack. Index 0 of Data is the bottom.
type Stack struct {
	data  []uint256.Int
	limit int
}

func newStack(limit int) *Stack {
	return &Stack{data: make([]uint256.Int, 0, min(limit, 64)), limit: limit}
}

// Len returns the number of items on the stack.
func (s *Stack) Len() int { return len(s.data) }

// Limit returns the maximum number of items.
func (s *Stack) Limit() int { return s.limit }

// Push adds v to the top of the stack.
func (s *Stack) Push(v *uint256.Int) error {
	if len(s.data) >= s.limit {
		return ErrStackOverflow
	}
	s.push(v)
	return nil
}

// Pop removes and returns the top item.
func (s *Stack) Pop() (uint256.Int, error) {
	if len(s.data) == 0 {
		return uint256.Int{}, ErrStackUnderflow
	}
	return s.pop(), nil
}

// Back returns the n-th item from the top (0 is the top) or nil when the
// stack is not that deep. The result aliases the stack slot.
func (s *Stack) Back(n int) *uint256.Int {
	if n < 0 || n >= len(s.data) {
		return nil
	}
	return &s.data[len(s.data)-1-n]
}

// Data returns a copy of the stack contents, bottom first.
func (s *Stack) Data() []uint256.Int {
	out := make([]uint256.Int, len(s.data))
	copy(out, s.data)
	return out
}

// The unchecked forms below are used once the machine has checked the
// instruction's stack requirements.

func (s *Stack) push(v *uint256.Int) {
	s.data = append(s.data, *v)
}

func (s *Stack) pop() uint256.Int {
	v := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return v
}

func (s *Stack) peek() *uint256.Int {
	return &s.data[len(s.data)-1]
}

func (s *Stack) dup(n int) {
	s.data = append(s.data, s.data[len(s.data)-n])
}

func (s *Stack) swap(n int) {
	top := len(s.data) - 1
	s.data[top], s.data[top-n] = s.data[top-n], s.data[top]
}

// ---------------------------------------------------------------------------
// ReturnStack: code locations saved by JUMPSUB
// ---------------------------------------------------------------------------

// ReturnStack holds return addresses. It is separate from the data stack so
// subroutines cannot read or overwrite them.
type ReturnStack struct {
	data  []int
	limit int
}

func newReturnStack(limit int) *ReturnStack {
	return &ReturnStack{data: make([]int, 0, min(limit, 16)), limit: limit}
}

// Len returns the number of saved return addresses.
func (r *ReturnStack) Len() int { return len(r.data) }

// Limit returns the maximum nesting depth.
func (r *ReturnStack) Limit() int { return r.limit }

// Data returns a copy of the saved addresses, outermost first.
func (r *ReturnStack) Data() []int {
	out := make([]int, len(r.data))
	copy(out, r.data)
	return out
}

func (r *ReturnStack) push(pc int) bool {
	if len(r.data) >= r.limit {
		return false
	}
	r.data = append(r.data, pc)
	return true
}

func (r *ReturnStack) pop() (int, bool) {
	if len(r.data) == 0 {
		return 0, false
	}
	pc := r.data[len(r.data)-1]
	r.data = r.data[:len(r.data)-1]
	return pc, true
}
