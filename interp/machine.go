package interp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/tliron/commonlog"

	"github.com/chazu/jumpsub/pkg/opcode"
	"github.com/chazu/jumpsub/validator"
)

var log = commonlog.GetLogger("jumpsub.interp")

// cancelInterval is how many steps RunContext executes between checks of
// its context.
const cancelInterval = 1024

// Status is the lifecycle state of a Machine.
type Status int

const (
	StatusRunning Status = iota
	StatusHalted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusHalted:
		return "halted"
	case StatusAborted:
		return "aborted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Event is the machine state observed just before an instruction executes.
type Event struct {
	Step        int
	PC          int
	Op          opcode.Opcode
	Name        string
	Depth       int // data stack items
	ReturnDepth int // return stack items
}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine is the state of one execution: program counter, data stack, and
// return stack. A Machine is not safe for concurrent use.
type Machine struct {
	code   []byte
	cfg    *config
	bitmap *opcode.Bitmap

	pc     int
	steps  int
	stack  *Stack
	rstack *ReturnStack
	status Status
	abort  *Abort
}

// New prepares a machine at pc 0 with empty stacks.
func New(code []byte, opts ...Option) *Machine {
	cfg := newConfig(opts)
	return &Machine{
		code:   code,
		cfg:    cfg,
		bitmap: opcode.Analyze(code, cfg.table),
		stack:  newStack(cfg.stackLimit),
		rstack: newReturnStack(cfg.returnLimit),
	}
}

func (m *Machine) PC() int                   { return m.pc }
func (m *Machine) Status() Status            { return m.status }
func (m *Machine) Stack() *Stack             { return m.stack }
func (m *Machine) ReturnStack() *ReturnStack { return m.rstack }
func (m *Machine) Steps() int                { return m.steps }
func (m *Machine) Code() []byte              { return m.code }
func (m *Machine) Table() *opcode.Table      { return m.cfg.table }

// Err returns the abort that stopped the machine, or nil.
func (m *Machine) Err() error {
	if m.abort == nil {
		return nil
	}
	return m.abort
}

// Run executes until the machine halts or aborts.
func (m *Machine) Run() error {
	return m.RunContext(context.Background())
}

// RunContext is Run with cancellation. A cancelled run leaves the machine in
// StatusRunning, so it can be resumed.
func (m *Machine) RunContext(ctx context.Context) error {
	for m.status == StatusRunning {
		if m.steps%cancelInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step executes one instruction. Stepping a halted machine does nothing;
// stepping an aborted one returns the abort again.
func (m *Machine) Step() error {
	switch m.status {
	case StatusHalted:
		return nil
	case StatusAborted:
		return m.abort
	}
	if m.pc >= len(m.code) {
		m.halt("end of code")
		return nil
	}

	in, err := opcode.Decode(m.code, m.cfg.table, m.pc)
	if m.cfg.stepLimit > 0 && m.steps >= m.cfg.stepLimit {
		return m.fail(in, AbortStepLimit, fmt.Sprintf("limit is %d", m.cfg.stepLimit))
	}
	switch {
	case errors.Is(err, opcode.ErrUndefined):
		return m.fail(in, AbortInvalidInstruction, "undefined opcode")
	case errors.Is(err, opcode.ErrTruncated) && !in.Info.Push:
		// A truncated PUSH reads zeros past the end; anything else is malformed.
		return m.fail(in, AbortInvalidInstruction, "truncated immediate")
	}

	info := in.Info
	if n := m.stack.Len(); n < info.StackPop {
		return m.fail(in, AbortStackUnderflow, fmt.Sprintf("needs %d items, have %d", info.StackPop, n))
	} else if n-info.StackPop+info.StackPush > m.stack.limit {
		return m.fail(in, AbortStackOverflow, fmt.Sprintf("limit is %d", m.stack.limit))
	}

	m.emit(in)
	m.steps++
	return m.execute(in)
}

func (m *Machine) execute(in opcode.Instruction) error {
	info := in.Info
	if fn, ok := m.cfg.handlers[in.Op]; ok && info.Flow == opcode.FlowNone {
		if err := fn(m, in); err != nil {
			return m.handlerError(in, err)
		}
		m.pc = in.Next()
		return nil
	}

	switch info.Flow {
	case opcode.FlowTerminal:
		if in.Op == opcode.INVALID {
			return m.fail(in, AbortInvalidInstruction, "designated invalid instruction")
		}
		m.halt(info.Name)
		return nil

	case opcode.FlowJumpDest, opcode.FlowBeginSub:
		m.pc = in.Next()
		return nil

	case opcode.FlowJumpSub:
		return m.jumpSub(in)

	case opcode.FlowReturnSub:
		ret, ok := m.rstack.pop()
		if !ok {
			return m.fail(in, AbortReturnStackUnderflow, "RETURNSUB outside a subroutine")
		}
		m.pc = ret
		return nil

	case opcode.FlowRJump:
		target, _ := in.Target()
		return m.jumpTo(in, target)

	case opcode.FlowRJumpI:
		cond := m.stack.pop()
		if cond.IsZero() {
			m.pc = in.Next()
			return nil
		}
		target, _ := in.Target()
		return m.jumpTo(in, target)

	case opcode.FlowJump, opcode.FlowJumpI:
		return m.legacyJump(in)
	}

	switch fn, ok := builtins[info.Name]; {
	case info.Push:
		opPush(m, in)
	case ok:
		if err := fn(m, in); err != nil {
			return m.handlerError(in, err)
		}
	default:
		// Opcodes the table defines but nothing implements keep their
		// declared stack effect.
		for range info.StackPop {
			m.stack.pop()
		}
		for range info.StackPush {
			m.stack.push(new(uint256.Int))
		}
	}
	m.pc = in.Next()
	return nil
}

func (m *Machine) jumpSub(in opcode.Instruction) error {
	target, ok := in.Target()
	if !ok {
		loc := m.stack.pop()
		if !loc.IsUint64() || loc.Uint64() > math.MaxInt32 {
			return m.fail(in, AbortInvalidDestination, fmt.Sprintf("location %s out of range", loc.Hex()))
		}
		target = int(loc.Uint64())
	}
	if !m.isMarker(target, opcode.FlowBeginSub) {
		return m.fail(in, AbortInvalidDestination, fmt.Sprintf("%d is not a BEGINSUB", target))
	}
	if !m.rstack.push(in.Next()) {
		return m.fail(in, AbortReturnStackOverflow, fmt.Sprintf("limit is %d", m.rstack.limit))
	}
	// Continue after the marker.
	m.pc = target + 1
	return nil
}

func (m *Machine) jumpTo(in opcode.Instruction, target int) error {
	if !m.isMarker(target, opcode.FlowJumpDest) {
		return m.fail(in, AbortInvalidDestination, fmt.Sprintf("%d is not a JUMPDEST", target))
	}
	m.pc = target
	return nil
}

func (m *Machine) legacyJump(in opcode.Instruction) error {
	if !m.cfg.legacyJumps {
		return m.fail(in, AbortInvalidInstruction, "dynamic jumps are disabled")
	}
	dest := m.stack.pop()
	if in.Info.Flow == opcode.FlowJumpI {
		if cond := m.stack.pop(); cond.IsZero() {
			m.pc = in.Next()
			return nil
		}
	}
	if !dest.IsUint64() || dest.Uint64() > math.MaxInt32 {
		return m.fail(in, AbortInvalidDestination, fmt.Sprintf("location %s out of range", dest.Hex()))
	}
	return m.jumpTo(in, int(dest.Uint64()))
}

func (m *Machine) isMarker(pc int, flow opcode.Flow) bool {
	if !m.bitmap.IsCode(pc) {
		return false
	}
	info, ok := m.cfg.table.Lookup(opcode.Opcode(m.code[pc]))
	return ok && info.Flow == flow
}

// handlerError turns an error from an ExecFunc into an abort.
func (m *Machine) handlerError(in opcode.Instruction, err error) error {
	if a, ok := AsAbort(err); ok {
		m.abort, m.status = a, StatusAborted
		return a
	}
	switch {
	case errors.Is(err, ErrStackUnderflow):
		return m.fail(in, AbortStackUnderflow, err.Error())
	case errors.Is(err, ErrStackOverflow):
		return m.fail(in, AbortStackOverflow, err.Error())
	}
	return m.fail(in, AbortInvalidInstruction, err.Error())
}

func (m *Machine) halt(reason string) {
	m.status = StatusHalted
	log.Debugf("halted at pc %d after %d steps (%s)", m.pc, m.steps, reason)
}

func (m *Machine) fail(in opcode.Instruction, kind AbortKind, detail string) error {
	m.abort = &Abort{
		PC:     in.PC,
		Op:     in.Op,
		Name:   m.cfg.table.Mnemonic(in.Op),
		Kind:   kind,
		Detail: detail,
	}
	m.status = StatusAborted
	log.Debugf("%s", m.abort)
	return m.abort
}

func (m *Machine) emit(in opcode.Instruction) {
	debug := log.AllowLevel(commonlog.Debug)
	if len(m.cfg.tracers) == 0 && !debug {
		return
	}
	e := Event{
		Step:        m.steps,
		PC:          in.PC,
		Op:          in.Op,
		Name:        in.Info.Name,
		Depth:       m.stack.Len(),
		ReturnDepth: m.rstack.Len(),
	}
	if debug {
		log.Debugf("%04X  %-10s depth=%d returns=%d", e.PC, e.Name, e.Depth, e.ReturnDepth)
	}
	for _, fn := range m.cfg.tracers {
		fn(e)
	}
}

// ---------------------------------------------------------------------------
// Validated execution
// ---------------------------------------------------------------------------

// RunValidated validates code with the machine's opcode table and data stack
// limit, then runs it. Rejected code never starts; the error wraps both
// ErrRejected and the validator's *Fault.
func RunValidated(code []byte, opts ...Option) (*Machine, error) {
	cfg := newConfig(opts)
	err := validator.Validate(code,
		validator.WithTable(cfg.table),
		validator.WithStackLimit(cfg.stackLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	m := New(code, opts...)
	return m, m.Run()
}
