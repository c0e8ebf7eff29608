package opcode

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Table maps every byte value to its opcode metadata. A byte with no entry is
// an invalid instruction.
type Table struct {
	name    string
	ops     [256]Info
	defined [256]bool
}

// NewTable returns an empty table. Every byte is invalid until defined.
func NewTable(name string) *Table {
	return &Table{name: name}
}

// Name returns the table's label (the dialect for built-in tables).
func (t *Table) Name() string {
	return t.name
}

// Define sets the metadata for op, replacing any previous entry.
func (t *Table) Define(op Opcode, info Info) {
	t.ops[op] = info
	t.defined[op] = true
}

// Undefine removes op from the table.
func (t *Table) Undefine(op Opcode) {
	t.ops[op] = Info{}
	t.defined[op] = false
}

// Lookup returns the metadata for op.
func (t *Table) Lookup(op Opcode) (Info, bool) {
	return t.ops[op], t.defined[op]
}

// LookupName finds the opcode with the given mnemonic.
func (t *Table) LookupName(name string) (Opcode, Info, bool) {
	for i := 0; i < 256; i++ {
		if t.defined[i] && t.ops[i].Name == name {
			return Opcode(i), t.ops[i], true
		}
	}
	return 0, Info{}, false
}

// Opcodes returns all defined opcodes in ascending order.
func (t *Table) Opcodes() []Opcode {
	ops := make([]Opcode, 0, 256)
	for i := 0; i < 256; i++ {
		if t.defined[i] {
			ops = append(ops, Opcode(i))
		}
	}
	return ops
}

// Count returns the number of defined opcodes.
func (t *Table) Count() int {
	n := 0
	for _, d := range t.defined {
		if d {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (t *Table) Clone() *Table {
	c := *t
	return &c
}

// Mnemonic returns the mnemonic for op, or UNKNOWN(0x..) if undefined.
func (t *Table) Mnemonic(op Opcode) string {
	if info, ok := t.Lookup(op); ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// JumpSubTakesStackArg reports whether the table's JUMPSUB reads its target
// from the data stack rather than from an immediate.
func (t *Table) JumpSubTakesStackArg() bool {
	for i := 0; i < 256; i++ {
		if t.defined[i] && t.ops[i].Flow == FlowJumpSub {
			return t.ops[i].OperandLen == 0
		}
	}
	return false
}

// Fingerprint hashes the table's observable content. Two tables with the same
// fingerprint validate and execute every program identically.
func (t *Table) Fingerprint() [32]byte {
	buf := make([]byte, 0, 256*16)
	for _, op := range t.Opcodes() {
		info := t.ops[op]
		buf = append(buf, byte(op), byte(info.Flow))
		if info.Push {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(info.StackPop))
		buf = binary.BigEndian.AppendUint16(buf, uint16(info.StackPush))
		buf = binary.BigEndian.AppendUint16(buf, uint16(info.OperandLen))
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(info.Name)))
		buf = append(buf, info.Name...)
	}
	return blake2b.Sum256(buf)
}

// Check reports inconsistencies that would make the table unusable, such as
// duplicate mnemonics or a conditional jump without a condition operand.
func (t *Table) Check() error {
	seen := make(map[string]Opcode)
	for _, op := range t.Opcodes() {
		info := t.ops[op]
		if info.Name == "" {
			return fmt.Errorf("opcode: 0x%02X has no name", byte(op))
		}
		if prev, dup := seen[info.Name]; dup {
			return fmt.Errorf("opcode: %s defined at 0x%02X and 0x%02X", info.Name, byte(prev), byte(op))
		}
		seen[info.Name] = op
		if info.StackPop < 0 || info.StackPush < 0 || info.OperandLen < 0 {
			return fmt.Errorf("opcode: %s has negative stack effect or operand", info.Name)
		}
		switch info.Flow {
		case FlowRJump, FlowRJumpI:
			if info.OperandLen != 2 {
				return fmt.Errorf("opcode: %s needs a 2-byte offset, has %d", info.Name, info.OperandLen)
			}
		case FlowJumpSub:
			if info.OperandLen != 2 && !(info.OperandLen == 0 && info.StackPop >= 1) {
				return fmt.Errorf("opcode: %s needs a 2-byte location or a stack operand", info.Name)
			}
		}
		if info.Flow == FlowRJumpI && info.StackPop < 1 {
			return fmt.Errorf("opcode: %s must pop its condition", info.Name)
		}
		if info.Push && info.OperandLen > 32 {
			return fmt.Errorf("opcode: %s pushes more than 32 bytes", info.Name)
		}
	}
	return nil
}
