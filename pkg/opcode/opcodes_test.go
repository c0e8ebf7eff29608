package opcode

import (
	"errors"
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, tbl := range []*Table{Default(), StackArgs()} {
		for _, op := range tbl.Opcodes() {
			info, _ := tbl.Lookup(op)
			if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
				t.Errorf("%s: opcode 0x%02X has no metadata", tbl.Name(), byte(op))
			}
		}
		if err := tbl.Check(); err != nil {
			t.Errorf("%s: Check: %v", tbl.Name(), err)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{STOP, "STOP"},
		{BEGINSUB, "BEGINSUB"},
		{RETURNSUB, "RETURNSUB"},
		{JUMPSUB, "JUMPSUB"},
		{PUSH1, "PUSH1"},
		{PUSH32, "PUSH32"},
		{DUP16, "DUP16"},
		{SWAP1, "SWAP1"},
		{RJUMP, "RJUMP"},
		{RJUMPI, "RJUMPI"},
		{Opcode(0xee), "UNKNOWN(0xEE)"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestSubroutineEncodings(t *testing.T) {
	if BEGINSUB != 0x5c || RETURNSUB != 0x5d || JUMPSUB != 0x5e {
		t.Fatalf("subroutine opcodes = %#x %#x %#x, want 0x5c 0x5d 0x5e", byte(BEGINSUB), byte(RETURNSUB), byte(JUMPSUB))
	}

	imm, _ := Default().Lookup(JUMPSUB)
	if imm.OperandLen != 2 || imm.StackPop != 0 {
		t.Errorf("immediate JUMPSUB = %+v, want 2-byte operand and no pops", imm)
	}
	stk, _ := StackArgs().Lookup(JUMPSUB)
	if stk.OperandLen != 0 || stk.StackPop != 1 {
		t.Errorf("stack JUMPSUB = %+v, want no operand and one pop", stk)
	}
	if Default().JumpSubTakesStackArg() {
		t.Error("Default().JumpSubTakesStackArg() = true")
	}
	if !StackArgs().JumpSubTakesStackArg() {
		t.Error("StackArgs().JumpSubTakesStackArg() = false")
	}
}

func TestStackEffects(t *testing.T) {
	tbl := Default()
	tests := []struct {
		op         Opcode
		pop, push  int
		operandLen int
	}{
		{ADD, 2, 1, 0},
		{POP, 1, 0, 0},
		{PUSH0, 0, 1, 0},
		{PUSH1, 0, 1, 1},
		{PUSH1 + 8, 0, 1, 9},
		{DUP1, 1, 2, 0},
		{DUP1 + 3, 4, 5, 0},
		{SWAP1, 2, 2, 0},
		{RJUMPI, 1, 0, 2},
		{PC, 0, 1, 0},
	}
	for _, tt := range tests {
		info, ok := tbl.Lookup(tt.op)
		if !ok {
			t.Fatalf("%s not defined", tt.op)
		}
		if info.StackPop != tt.pop || info.StackPush != tt.push || info.OperandLen != tt.operandLen {
			t.Errorf("%s = pop %d push %d operand %d, want %d %d %d",
				tt.op, info.StackPop, info.StackPush, info.OperandLen, tt.pop, tt.push, tt.operandLen)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := Default()
	b := a.Clone()
	b.Undefine(ADD)

	if _, ok := a.Lookup(ADD); !ok {
		t.Error("Undefine on clone affected original")
	}
	if _, ok := Default().Lookup(ADD); !ok {
		t.Error("Undefine on clone affected built-in table")
	}
}

func TestFingerprint(t *testing.T) {
	if Default().Fingerprint() != Default().Fingerprint() {
		t.Error("fingerprint is not deterministic")
	}
	if Default().Fingerprint() == StackArgs().Fingerprint() {
		t.Error("dialects share a fingerprint")
	}
	custom := Default()
	custom.Define(0xb0, Info{Name: "NOOP"})
	if custom.Fingerprint() == Default().Fingerprint() {
		t.Error("defining an opcode did not change the fingerprint")
	}
}

func TestCheckRejectsBadTables(t *testing.T) {
	dup := Default()
	dup.Define(0xb0, Info{Name: "ADD", StackPop: 2, StackPush: 1})

	badJump := Default()
	badJump.Define(RJUMP, Info{Name: "RJUMP", OperandLen: 1, Flow: FlowRJump})

	badCall := Default()
	badCall.Define(JUMPSUB, Info{Name: "JUMPSUB", Flow: FlowJumpSub})

	for name, tbl := range map[string]*Table{"duplicate": dup, "rjump": badJump, "jumpsub": badCall} {
		if err := tbl.Check(); err == nil {
			t.Errorf("%s: Check accepted an inconsistent table", name)
		}
	}
}

func TestParseFlow(t *testing.T) {
	for f := FlowNone; f <= FlowJumpI; f++ {
		got, err := ParseFlow(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFlow(%q) = %v, %v", f.String(), got, err)
		}
	}
	if _, err := ParseFlow("sideways"); err == nil {
		t.Error("ParseFlow accepted an unknown name")
	}
}

func TestForDialect(t *testing.T) {
	if tbl, err := ForDialect(""); err != nil || tbl.Name() != "immediate" {
		t.Errorf("ForDialect(\"\") = %v, %v", tbl, err)
	}
	if tbl, err := ForDialect("stack"); err != nil || !tbl.JumpSubTakesStackArg() {
		t.Errorf("ForDialect(stack) = %v, %v", tbl, err)
	}
	if _, err := ForDialect("vax"); err == nil {
		t.Error("ForDialect accepted an unknown dialect")
	}
}

func TestDecode(t *testing.T) {
	tbl := Default()
	code := []byte{byte(PUSH1 + 1), 0x12, 0x34, byte(RJUMP), 0xff, 0xfd, byte(JUMPSUB), 0x00}

	in, err := Decode(code, tbl, 0)
	if err != nil {
		t.Fatalf("Decode(0): %v", err)
	}
	if in.Op != PUSH1+1 || len(in.Immediate) != 2 || in.Next() != 3 {
		t.Errorf("Decode(0) = %+v", in)
	}

	in, err = Decode(code, tbl, 3)
	if err != nil {
		t.Fatalf("Decode(3): %v", err)
	}
	if target, ok := in.Target(); !ok || target != 3 {
		t.Errorf("RJUMP -3 target = %d, %v, want 3", target, ok)
	}

	if _, err := Decode(code, tbl, 6); !errors.Is(err, ErrTruncated) {
		t.Errorf("Decode(6) error = %v, want ErrTruncated", err)
	}
	if _, err := Decode([]byte{0xee}, tbl, 0); !errors.Is(err, ErrUndefined) {
		t.Errorf("Decode(undefined) error = %v, want ErrUndefined", err)
	}
	if _, err := Decode(code, tbl, len(code)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Decode(end) error = %v, want ErrOutOfRange", err)
	}
}

func TestBitmap(t *testing.T) {
	tbl := Default()
	// PUSH2 0x5c5b BEGINSUB JUMPDEST
	code := []byte{byte(PUSH1 + 1), byte(BEGINSUB), byte(JUMPDEST), byte(BEGINSUB), byte(JUMPDEST)}
	b := Analyze(code, tbl)

	want := []bool{true, false, false, true, true}
	for pc, isCode := range want {
		if got := b.IsCode(pc); got != isCode {
			t.Errorf("IsCode(%d) = %v, want %v", pc, got, isCode)
		}
	}
	if b.IsCode(-1) || b.IsCode(len(code)) {
		t.Error("IsCode true outside the code")
	}
	if !b.IsData(1) || b.IsData(0) || b.IsData(99) {
		t.Error("IsData disagrees with IsCode")
	}
}

func TestBitmapTruncatedPush(t *testing.T) {
	code := []byte{byte(PUSH32), 0x01}
	b := Analyze(code, Default())
	if !b.IsData(1) {
		t.Error("trailing push byte should be data")
	}
}
