package opcode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrOutOfRange = errors.New("opcode: pc out of range")
	ErrUndefined  = errors.New("opcode: undefined instruction")
	ErrTruncated  = errors.New("opcode: truncated immediate")
)

// Instruction is the decoded instruction at a program counter.
type Instruction struct {
	PC        int
	Op        Opcode
	Info      Info
	Immediate []byte // may be shorter than Info.OperandLen at the end of code
}

// Decode reads the instruction at pc. On ErrTruncated the returned
// Instruction is still populated with whatever immediate bytes exist.
func Decode(code []byte, t *Table, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{PC: pc}, ErrOutOfRange
	}
	op := Opcode(code[pc])
	info, ok := t.Lookup(op)
	if !ok {
		return Instruction{PC: pc, Op: op, Info: Info{Name: t.Mnemonic(op)}}, ErrUndefined
	}
	in := Instruction{PC: pc, Op: op, Info: info}
	if info.OperandLen == 0 {
		return in, nil
	}
	end := pc + 1 + info.OperandLen
	if end > len(code) {
		in.Immediate = code[pc+1:]
		return in, ErrTruncated
	}
	in.Immediate = code[pc+1 : end]
	return in, nil
}

// Next returns the PC of the following instruction.
func (in Instruction) Next() int {
	return in.PC + in.Info.Len()
}

// Uint16 interprets the immediate as a big-endian uint16.
func (in Instruction) Uint16() uint16 {
	return Uint16At(in.Immediate, 0)
}

// Target returns the absolute destination encoded in the immediate of a
// RJUMP, RJUMPI, or immediate-form JUMPSUB. The second result is false for
// other instructions.
func (in Instruction) Target() (int, bool) {
	switch in.Info.Flow {
	case FlowRJump, FlowRJumpI:
		return RelativeTarget(in.PC, Int16At(in.Immediate, 0)), true
	case FlowJumpSub:
		if in.Info.OperandLen == 2 {
			return int(in.Uint16()), true
		}
	}
	return 0, false
}

func (in Instruction) String() string {
	if len(in.Immediate) == 0 {
		return in.Info.Name
	}
	return fmt.Sprintf("%s 0x%x", in.Info.Name, in.Immediate)
}

// Uint16At reads a big-endian uint16 at offset, zero-padding past the end.
func Uint16At(b []byte, offset int) uint16 {
	var buf [2]byte
	if offset < len(b) {
		copy(buf[:], b[offset:])
	}
	return binary.BigEndian.Uint16(buf[:])
}

// Int16At reads a big-endian int16 at offset.
func Int16At(b []byte, offset int) int16 {
	return int16(Uint16At(b, offset))
}

// RelativeTarget returns the destination of a 3-byte static jump at pc.
func RelativeTarget(pc int, offset int16) int {
	return pc + 3 + int(offset)
}

// Bitmap records which code positions hold immediate data.
type Bitmap struct {
	bits []uint64
	size int
}

// Analyze marks the immediate bytes of every instruction reachable by a
// linear sweep from pc 0. Undefined bytes count as one-byte instructions.
func Analyze(code []byte, t *Table) *Bitmap {
	b := &Bitmap{bits: make([]uint64, len(code)/64+1), size: len(code)}
	for pc := 0; pc < len(code); {
		info, ok := t.Lookup(Opcode(code[pc]))
		if !ok || info.OperandLen == 0 {
			pc++
			continue
		}
		for i := pc + 1; i <= pc+info.OperandLen && i < len(code); i++ {
			b.bits[i/64] |= 1 << (uint(i) % 64)
		}
		pc += 1 + info.OperandLen
	}
	return b
}

// IsCode reports whether pc is inside the code and starts an instruction.
func (b *Bitmap) IsCode(pc int) bool {
	if pc < 0 || pc >= b.size {
		return false
	}
	return b.bits[pc/64]&(1<<(uint(pc)%64)) == 0
}

// IsData reports whether pc falls inside an immediate operand.
func (b *Bitmap) IsData(pc int) bool {
	return pc >= 0 && pc < b.size && !b.IsCode(pc)
}
