package opcode

import "fmt"

// Opcode is a single instruction byte.
type Opcode byte

const (
	// ========================================================================
	// Halting and arithmetic (0x00-0x1F)
	// ========================================================================

	STOP Opcode = 0x00
	ADD  Opcode = 0x01
	MUL  Opcode = 0x02
	SUB  Opcode = 0x03
	DIV  Opcode = 0x04
	MOD  Opcode = 0x06

	LT     Opcode = 0x10
	GT     Opcode = 0x11
	EQ     Opcode = 0x14
	ISZERO Opcode = 0x15
	AND    Opcode = 0x16
	OR     Opcode = 0x17
	XOR    Opcode = 0x18
	NOT    Opcode = 0x19

	// ========================================================================
	// Stack and flow (0x50-0x5F)
	// ========================================================================

	POP       Opcode = 0x50
	JUMP      Opcode = 0x56 // deprecated
	JUMPI     Opcode = 0x57 // deprecated
	PC        Opcode = 0x58
	JUMPDEST  Opcode = 0x5b
	BEGINSUB  Opcode = 0x5c
	RETURNSUB Opcode = 0x5d
	JUMPSUB   Opcode = 0x5e
	PUSH0     Opcode = 0x5f

	// ========================================================================
	// Push, dup, swap (0x60-0x9F)
	// ========================================================================

	PUSH1  Opcode = 0x60
	PUSH32 Opcode = 0x7f
	DUP1   Opcode = 0x80
	DUP16  Opcode = 0x8f
	SWAP1  Opcode = 0x90
	SWAP16 Opcode = 0x9f

	// ========================================================================
	// Static jumps (0xE0-0xE1)
	// ========================================================================

	RJUMP  Opcode = 0xe0 // RJUMP <offset:i16>
	RJUMPI Opcode = 0xe1 // RJUMPI <offset:i16>

	INVALID Opcode = 0xfe
)

// Flow classifies how an instruction transfers control.
type Flow uint8

const (
	FlowNone      Flow = iota // falls through to the next instruction
	FlowTerminal              // ends execution (STOP, INVALID)
	FlowJumpDest              // valid RJUMP/RJUMPI/JUMP target marker
	FlowBeginSub              // subroutine entry marker
	FlowJumpSub               // subroutine call
	FlowReturnSub             // subroutine return
	FlowRJump                 // static unconditional jump
	FlowRJumpI                // static conditional jump
	FlowJump                  // deprecated dynamic jump
	FlowJumpI                 // deprecated dynamic conditional jump
)

var flowNames = map[Flow]string{
	FlowNone:      "none",
	FlowTerminal:  "terminal",
	FlowJumpDest:  "jumpdest",
	FlowBeginSub:  "beginsub",
	FlowJumpSub:   "jumpsub",
	FlowReturnSub: "returnsub",
	FlowRJump:     "rjump",
	FlowRJumpI:    "rjumpi",
	FlowJump:      "jump",
	FlowJumpI:     "jumpi",
}

func (f Flow) String() string {
	if s, ok := flowNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Flow(%d)", uint8(f))
}

// ParseFlow is the inverse of Flow.String. An empty name is FlowNone.
func ParseFlow(name string) (Flow, error) {
	if name == "" {
		return FlowNone, nil
	}
	for f, s := range flowNames {
		if s == name {
			return f, nil
		}
	}
	return FlowNone, fmt.Errorf("opcode: unknown flow %q", name)
}

// Info provides metadata about one opcode.
type Info struct {
	Name       string // Mnemonic
	StackPop   int    // Items removed from the data stack
	StackPush  int    // Items added to the data stack
	OperandLen int    // Immediate bytes following the opcode
	Flow       Flow   // Control-flow class
	Push       bool   // Pushes its immediate operand as a constant
}

// Delta returns the net stack effect.
func (i Info) Delta() int {
	return i.StackPush - i.StackPop
}

// Len returns the total instruction length (opcode plus operand).
func (i Info) Len() int {
	return 1 + i.OperandLen
}

// IsPush reports whether op is in the PUSH0..PUSH32 range.
func (op Opcode) IsPush() bool {
	return op == PUSH0 || (op >= PUSH1 && op <= PUSH32)
}

// IsDup reports whether op is in the DUP1..DUP16 range.
func (op Opcode) IsDup() bool {
	return op >= DUP1 && op <= DUP16
}

// IsSwap reports whether op is in the SWAP1..SWAP16 range.
func (op Opcode) IsSwap() bool {
	return op >= SWAP1 && op <= SWAP16
}

// String returns the mnemonic from the default table.
func (op Opcode) String() string {
	if info, ok := defaultTable.Lookup(op); ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// base registers everything shared by both dialects.
func base(t *Table) {
	t.Define(STOP, Info{Name: "STOP", Flow: FlowTerminal})

	// Arithmetic
	t.Define(ADD, Info{Name: "ADD", StackPop: 2, StackPush: 1})
	t.Define(MUL, Info{Name: "MUL", StackPop: 2, StackPush: 1})
	t.Define(SUB, Info{Name: "SUB", StackPop: 2, StackPush: 1})
	t.Define(DIV, Info{Name: "DIV", StackPop: 2, StackPush: 1})
	t.Define(MOD, Info{Name: "MOD", StackPop: 2, StackPush: 1})

	// Comparison and bitwise
	t.Define(LT, Info{Name: "LT", StackPop: 2, StackPush: 1})
	t.Define(GT, Info{Name: "GT", StackPop: 2, StackPush: 1})
	t.Define(EQ, Info{Name: "EQ", StackPop: 2, StackPush: 1})
	t.Define(ISZERO, Info{Name: "ISZERO", StackPop: 1, StackPush: 1})
	t.Define(AND, Info{Name: "AND", StackPop: 2, StackPush: 1})
	t.Define(OR, Info{Name: "OR", StackPop: 2, StackPush: 1})
	t.Define(XOR, Info{Name: "XOR", StackPop: 2, StackPush: 1})
	t.Define(NOT, Info{Name: "NOT", StackPop: 1, StackPush: 1})

	// Stack and flow
	t.Define(POP, Info{Name: "POP", StackPop: 1})
	t.Define(JUMP, Info{Name: "JUMP", StackPop: 1, Flow: FlowJump})
	t.Define(JUMPI, Info{Name: "JUMPI", StackPop: 2, Flow: FlowJumpI})
	t.Define(PC, Info{Name: "PC", StackPush: 1})
	t.Define(JUMPDEST, Info{Name: "JUMPDEST", Flow: FlowJumpDest})
	t.Define(BEGINSUB, Info{Name: "BEGINSUB", Flow: FlowBeginSub})
	t.Define(RETURNSUB, Info{Name: "RETURNSUB", Flow: FlowReturnSub})
	t.Define(PUSH0, Info{Name: "PUSH0", StackPush: 1, Push: true})

	for n := 1; n <= 32; n++ {
		t.Define(PUSH1+Opcode(n-1), Info{
			Name:       fmt.Sprintf("PUSH%d", n),
			StackPush:  1,
			OperandLen: n,
			Push:       true,
		})
	}
	// DUPn needs n items and leaves n+1; SWAPn needs n+1 and leaves n+1.
	for n := 1; n <= 16; n++ {
		t.Define(DUP1+Opcode(n-1), Info{Name: fmt.Sprintf("DUP%d", n), StackPop: n, StackPush: n + 1})
		t.Define(SWAP1+Opcode(n-1), Info{Name: fmt.Sprintf("SWAP%d", n), StackPop: n + 1, StackPush: n + 1})
	}

	t.Define(RJUMP, Info{Name: "RJUMP", OperandLen: 2, Flow: FlowRJump})
	t.Define(RJUMPI, Info{Name: "RJUMPI", StackPop: 1, OperandLen: 2, Flow: FlowRJumpI})
	t.Define(INVALID, Info{Name: "INVALID", Flow: FlowTerminal})
}

func newDefaultTable() *Table {
	t := &Table{name: "immediate"}
	base(t)
	t.Define(JUMPSUB, Info{Name: "JUMPSUB", OperandLen: 2, Flow: FlowJumpSub})
	return t
}

func newStackArgsTable() *Table {
	t := &Table{name: "stack"}
	base(t)
	t.Define(JUMPSUB, Info{Name: "JUMPSUB", StackPop: 1, Flow: FlowJumpSub})
	return t
}

var (
	defaultTable   = newDefaultTable()
	stackArgsTable = newStackArgsTable()
)

// Default returns a copy of the immediate-dialect table.
func Default() *Table {
	return defaultTable.Clone()
}

// StackArgs returns a copy of the stack-argument dialect table.
func StackArgs() *Table {
	return stackArgsTable.Clone()
}

// ForDialect returns the built-in table named by dialect ("immediate" or
// "stack"). The empty string selects the immediate dialect.
func ForDialect(dialect string) (*Table, error) {
	switch dialect {
	case "", "immediate":
		return Default(), nil
	case "stack":
		return StackArgs(), nil
	}
	return nil, fmt.Errorf("opcode: unknown dialect %q", dialect)
}
