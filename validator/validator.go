package validator

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/jumpsub/pkg/opcode"
)

var log = commonlog.GetLogger("jumpsub.validator")

// topLevel is the owner recorded for code reached outside any subroutine.
const topLevel = -1

// Validate reports whether code can reach an exceptional halt through an
// invalid jump, stack underflow, or stack overflow. It returns nil when the
// program is accepted and a *Fault describing the first violation otherwise.
func Validate(code []byte, opts ...Option) error {
	_, err := Analyze(code, opts...)
	return err
}

// Analyze validates code and returns the stack-depth table computed along
// the way. The Analysis is returned even when validation fails; it then
// covers only the program points visited before the fault.
func Analyze(code []byte, opts ...Option) (*Analysis, error) {
	cfg := newConfig(opts)
	v := newValidation(code, cfg)
	err := v.run()
	if err != nil {
		log.Debugf("rejected %d-byte program: %s", len(code), err)
	}
	return v.analysis(), err
}

// item is one pending path: resume the walk at pc with the given depth,
// inside the subroutine entered at sub.
type item struct {
	pc    int
	depth int
	sub   int
}

// continuation is the caller-side path after a JUMPSUB. It cannot be walked
// until the callee's return depth is known.
type continuation struct {
	item
	call int // pc of the JUMPSUB
}

type validation struct {
	code   []byte
	table  *opcode.Table
	bitmap *opcode.Bitmap
	limit  int

	depth []int32 // depth relative to the stack base; -1 when unvisited
	owner []int32 // subroutine entry that owns each visited pc

	entered map[int]bool
	alias   map[int]int // subroutine entry -> entry it shares code with
	returns map[int]int // keyed by the root of the alias chain
	waiting map[int][]continuation
	calls   map[int]int // JUMPSUB pc -> subroutine entry

	work     []item
	visited  int
	maxDepth int
}

func newValidation(code []byte, cfg *config) *validation {
	v := &validation{
		code:    code,
		table:   cfg.table,
		bitmap:  opcode.Analyze(code, cfg.table),
		limit:   cfg.limit,
		depth:   make([]int32, len(code)),
		owner:   make([]int32, len(code)),
		entered: make(map[int]bool),
		alias:   make(map[int]int),
		returns: make(map[int]int),
		waiting: make(map[int][]continuation),
		calls:   make(map[int]int),
	}
	for i := range v.depth {
		v.depth[i] = -1
	}
	return v
}

func (v *validation) run() error {
	v.work = append(v.work, item{pc: 0, depth: 0, sub: topLevel})
	for len(v.work) > 0 {
		it := v.work[len(v.work)-1]
		v.work = v.work[:len(v.work)-1]
		if err := v.walk(it); err != nil {
			return err
		}
	}
	return v.checkNested()
}

// walk follows a single path until it terminates, closes a cycle, or hands
// off to a subroutine. Branches are pushed onto the worklist.
func (v *validation) walk(it item) error {
	pc, depth, sub := it.pc, it.depth, it.sub

	// Immediate of the previous instruction when it was a PUSH. Only the
	// stack-argument JUMPSUB consults it.
	var pushed []byte
	havePush := false

	for {
		if pc >= len(v.code) {
			// Running past the last instruction is an implicit STOP.
			return nil
		}

		in, err := opcode.Decode(v.code, v.table, pc)
		switch {
		case errors.Is(err, opcode.ErrUndefined):
			return v.fault(in, KindInvalidInstruction, "undefined opcode")
		case errors.Is(err, opcode.ErrTruncated):
			return v.fault(in, KindInvalidInstruction,
				fmt.Sprintf("needs %d immediate bytes, %d left", in.Info.OperandLen, len(in.Immediate)))
		}
		info := in.Info
		if info.Flow == opcode.FlowJump || info.Flow == opcode.FlowJumpI {
			return v.fault(in, KindInvalidInstruction, "dynamic jumps are deprecated")
		}

		if seen := v.depth[pc]; seen >= 0 {
			owner, cur := v.find(int(v.owner[pc])), v.find(sub)
			if owner != cur && (owner == topLevel || cur == topLevel) {
				return v.fault(in, KindInconsistentDepth,
					fmt.Sprintf("reached from %s and %s", ownerName(owner), ownerName(cur)))
			}
			if int(seen) != depth {
				return v.fault(in, KindInconsistentDepth,
					fmt.Sprintf("depth %d, previously %d", depth, seen))
			}
			if owner != cur {
				// Two subroutines share a tail at the same depth, so they
				// return with the same depth too.
				return v.merge(in, cur, owner)
			}
			return nil
		}
		v.depth[pc] = int32(depth)
		v.owner[pc] = int32(sub)
		v.visited++

		if depth < info.StackPop {
			return v.fault(in, KindStackUnderflow,
				fmt.Sprintf("needs %d items, depth is %d", info.StackPop, depth))
		}
		depth += info.Delta()
		if depth > v.limit {
			return v.fault(in, KindStackOverflow,
				fmt.Sprintf("depth %d exceeds limit %d", depth, v.limit))
		}
		if depth > v.maxDepth {
			v.maxDepth = depth
		}

		switch info.Flow {
		case opcode.FlowTerminal:
			return nil

		case opcode.FlowRJump:
			target, _ := in.Target()
			if !v.isMarker(target, opcode.FlowJumpDest) {
				return v.fault(in, KindInvalidDestination, fmt.Sprintf("%d is not a JUMPDEST", target))
			}
			pc = target
			havePush = false
			continue

		case opcode.FlowRJumpI:
			target, _ := in.Target()
			if !v.isMarker(target, opcode.FlowJumpDest) {
				return v.fault(in, KindInvalidDestination, fmt.Sprintf("%d is not a JUMPDEST", target))
			}
			v.work = append(v.work, item{pc: target, depth: depth, sub: sub})
			pc = in.Next()
			havePush = false
			continue

		case opcode.FlowJumpSub:
			target, ok := in.Target()
			if !ok {
				if !havePush {
					return v.fault(in, KindInvalidDestination, "location is not a constant pushed by the preceding instruction")
				}
				if target, ok = constLocation(pushed); !ok {
					return v.fault(in, KindInvalidDestination, fmt.Sprintf("location 0x%x out of range", pushed))
				}
			}
			if !v.isMarker(target, opcode.FlowBeginSub) {
				return v.fault(in, KindInvalidDestination, fmt.Sprintf("%d is not a BEGINSUB", target))
			}
			v.calls[pc] = target
			return v.call(target, continuation{item: item{pc: in.Next(), depth: depth, sub: sub}, call: pc})

		case opcode.FlowReturnSub:
			if sub == topLevel {
				return v.fault(in, KindReturnStackUnderflow, "RETURNSUB outside a subroutine")
			}
			return v.ret(in, sub, depth)
		}

		pushed, havePush = in.Immediate, info.Push
		pc = in.Next()
	}
}

// call schedules the subroutine body (once) and the caller's continuation
// (once the subroutine's return depth is known).
func (v *validation) call(entry int, cont continuation) error {
	if !v.entered[entry] {
		v.entered[entry] = true
		v.work = append(v.work, item{pc: entry, depth: 0, sub: entry})
	}
	root := v.find(entry)
	if ret, ok := v.returns[root]; ok {
		return v.resume(cont, ret)
	}
	v.waiting[root] = append(v.waiting[root], cont)
	return nil
}

// ret records the depth a subroutine returns with. Every RETURNSUB of the
// same subroutine must agree.
func (v *validation) ret(in opcode.Instruction, sub, depth int) error {
	sub = v.find(sub)
	if prev, ok := v.returns[sub]; ok {
		if prev != depth {
			return v.fault(in, KindInconsistentDepth,
				fmt.Sprintf("subroutine at %d returns with depth %d, previously %d", sub, depth, prev))
		}
		return nil
	}
	v.returns[sub] = depth
	return v.release(sub, depth)
}

// release resumes every caller waiting on the subroutine rooted at root.
func (v *validation) release(root, ret int) error {
	waiting := v.waiting[root]
	delete(v.waiting, root)
	for _, cont := range waiting {
		if err := v.resume(cont, ret); err != nil {
			return err
		}
	}
	return nil
}

// find returns the subroutine whose return summary sub shares.
func (v *validation) find(sub int) int {
	for {
		next, ok := v.alias[sub]
		if !ok {
			return sub
		}
		sub = next
	}
}

// merge makes the subroutine rooted at from share the summary of the one
// rooted at into. Neither root is the top level.
func (v *validation) merge(in opcode.Instruction, from, into int) error {
	v.alias[from] = into
	fromRet, fromOK := v.returns[from]
	intoRet, intoOK := v.returns[into]
	delete(v.returns, from)

	switch {
	case fromOK && intoOK:
		if fromRet != intoRet {
			return v.fault(in, KindInconsistentDepth,
				fmt.Sprintf("subroutines at %d and %d share code but return with depths %d and %d",
					from, into, fromRet, intoRet))
		}
		return v.release(from, intoRet)
	case intoOK:
		return v.release(from, intoRet)
	case fromOK:
		v.returns[into] = fromRet
		if err := v.release(into, fromRet); err != nil {
			return err
		}
		return v.release(from, fromRet)
	}
	v.waiting[into] = append(v.waiting[into], v.waiting[from]...)
	delete(v.waiting, from)
	return nil
}

func (v *validation) resume(cont continuation, ret int) error {
	depth := cont.depth + ret
	if depth > v.limit {
		in, _ := opcode.Decode(v.code, v.table, cont.call)
		return v.fault(in, KindStackOverflow,
			fmt.Sprintf("depth %d after return exceeds limit %d", depth, v.limit))
	}
	if depth > v.maxDepth {
		v.maxDepth = depth
	}
	v.work = append(v.work, item{pc: cont.pc, depth: depth, sub: cont.sub})
	return nil
}

func (v *validation) isMarker(pc int, flow opcode.Flow) bool {
	if !v.bitmap.IsCode(pc) {
		return false
	}
	info, ok := v.table.Lookup(opcode.Opcode(v.code[pc]))
	return ok && info.Flow == flow
}

func (v *validation) fault(in opcode.Instruction, kind Kind, detail string) *Fault {
	return &Fault{
		PC:     in.PC,
		Op:     in.Op,
		Name:   v.table.Mnemonic(in.Op),
		Kind:   kind,
		Detail: detail,
	}
}

func (v *validation) analysis() *Analysis {
	returns := make(map[int]int, len(v.entered))
	for entry := range v.entered {
		if ret, ok := v.returns[v.find(entry)]; ok {
			returns[entry] = ret
		}
	}
	return &Analysis{
		depth:    v.depth,
		owner:    v.owner,
		returns:  returns,
		visited:  v.visited,
		maxDepth: v.maxDepth,
	}
}

// constLocation decodes a big-endian PUSH immediate as a code location.
func constLocation(imm []byte) (int, bool) {
	var n uint64
	for i, b := range imm {
		if len(imm)-i > 8 && b != 0 {
			return 0, false
		}
		n = n<<8 | uint64(b)
	}
	if n > uint64(^uint32(0)) {
		return 0, false
	}
	return int(n), true
}

func ownerName(sub int) string {
	if sub == topLevel {
		return "top level"
	}
	return fmt.Sprintf("subroutine at %d", sub)
}
