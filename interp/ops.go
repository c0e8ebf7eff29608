package interp

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/chazu/jumpsub/pkg/opcode"
)

// builtins maps mnemonics to implementations. Lookup is by name so a custom
// table that moves an opcode to another byte keeps its behaviour.
var builtins = map[string]ExecFunc{
	"ADD":    opAdd,
	"MUL":    opMul,
	"SUB":    opSub,
	"DIV":    opDiv,
	"MOD":    opMod,
	"LT":     opLt,
	"GT":     opGt,
	"EQ":     opEq,
	"ISZERO": opIsZero,
	"AND":    opAnd,
	"OR":     opOr,
	"XOR":    opXor,
	"NOT":    opNot,
	"POP":    opPop,
	"PC":     opPC,
}

func init() {
	for n := 1; n <= 16; n++ {
		builtins[fmt.Sprintf("DUP%d", n)] = opDup
		builtins[fmt.Sprintf("SWAP%d", n)] = opSwap
	}
}

// Binary operators take the top item as the left operand and leave the result
// in the second slot.

func opAdd(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Add(&x, y)
	return nil
}

func opMul(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Mul(&x, y)
	return nil
}

func opSub(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Sub(&x, y)
	return nil
}

// opDiv yields zero for a zero divisor.
func opDiv(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Div(&x, y)
	return nil
}

func opMod(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Mod(&x, y)
	return nil
}

func opLt(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	setBool(y, x.Lt(y))
	return nil
}

func opGt(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	setBool(y, x.Gt(y))
	return nil
}

func opEq(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	setBool(y, x.Eq(y))
	return nil
}

func opIsZero(m *Machine, _ opcode.Instruction) error {
	x := m.stack.peek()
	setBool(x, x.IsZero())
	return nil
}

func opAnd(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.And(&x, y)
	return nil
}

func opOr(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Or(&x, y)
	return nil
}

func opXor(m *Machine, _ opcode.Instruction) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Xor(&x, y)
	return nil
}

func opNot(m *Machine, _ opcode.Instruction) error {
	x := m.stack.peek()
	x.Not(x)
	return nil
}

func opPop(m *Machine, _ opcode.Instruction) error {
	m.stack.pop()
	return nil
}

func opPC(m *Machine, in opcode.Instruction) error {
	m.stack.push(uint256.NewInt(uint64(in.PC)))
	return nil
}

// opPush pads a truncated immediate with zeros on the right.
func opPush(m *Machine, in opcode.Instruction) {
	buf := make([]byte, in.Info.OperandLen)
	copy(buf, in.Immediate)
	var v uint256.Int
	v.SetBytes(buf)
	m.stack.push(&v)
}

// DUPn and SWAPn read n from their declared stack effect.

func opDup(m *Machine, in opcode.Instruction) error {
	m.stack.dup(in.Info.StackPop)
	return nil
}

func opSwap(m *Machine, in opcode.Instruction) error {
	m.stack.swap(in.Info.StackPop - 1)
	return nil
}

func setBool(v *uint256.Int, b bool) {
	if b {
		v.SetOne()
	} else {
		v.Clear()
	}
}
