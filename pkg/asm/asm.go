// Package asm converts between subroutine bytecode and a line-oriented
// assembly text.
//
// One instruction per line:
//
//	start:  PUSH1 @sub     ; labels end with a colon
//	        JUMPSUB        ; stack dialect: no operand
//	        STOP
//	sub:    BEGINSUB
//	        RJUMP @done    ; relative jumps take a label or a signed offset
//	done:   JUMPDEST
//	        RETURNSUB
//	        .byte 0xee     ; raw bytes
//
// Numeric operands are decimal or 0x-prefixed hex. A bare PUSH picks the
// narrowest PUSHn that holds its operand.
package asm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/chazu/jumpsub/pkg/opcode"
)

var (
	ErrSyntax         = errors.New("asm: syntax error")
	ErrUnknownOpcode  = errors.New("asm: unknown mnemonic")
	ErrOperand        = errors.New("asm: bad operand")
	ErrUndefinedLabel = errors.New("asm: undefined label")
	ErrDuplicateLabel = errors.New("asm: duplicate label")
)

// LineError attaches a source line number to an assembly error.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// labelReference is an operand to patch once every label is known.
type labelReference struct {
	line     int
	pc       int // start of the referring instruction
	at       int // offset of the operand bytes
	width    int
	label    string
	relative bool
}

type assembler struct {
	table  *opcode.Table
	out    []byte
	line   int
	labels map[string]int
	refs   []labelReference
}

// Assemble translates src into bytecode for table. A nil table means
// opcode.Default().
func Assemble(src string, table *opcode.Table) ([]byte, error) {
	if table == nil {
		table = opcode.Default()
	}
	a := &assembler{table: table, labels: make(map[string]int)}
	for i, raw := range strings.Split(src, "\n") {
		a.line = i + 1
		if err := a.assembleLine(raw); err != nil {
			return nil, &LineError{Line: a.line, Err: err}
		}
	}
	if err := a.resolveLabels(); err != nil {
		return nil, err
	}
	return a.out, nil
}

func (a *assembler) assembleLine(raw string) error {
	text, _, _ := strings.Cut(raw, ";")
	text = strings.TrimSpace(text)

	// Leading labels.
	for {
		head, rest, found := strings.Cut(text, ":")
		if !found || strings.ContainsAny(head, " \t") {
			break
		}
		if !validLabel(head) {
			return fmt.Errorf("%w: label %q", ErrSyntax, head)
		}
		if _, dup := a.labels[head]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateLabel, head)
		}
		a.labels[head] = len(a.out)
		text = strings.TrimSpace(rest)
	}
	if text == "" {
		return nil
	}

	fields := strings.Fields(text)
	mnemonic := strings.ToUpper(fields[0])
	args := fields[1:]

	if mnemonic == ".BYTE" {
		return a.emitBytes(strings.Join(args, " "))
	}
	if mnemonic == "PUSH" {
		return a.emitPush(args)
	}

	op, info, ok := a.table.LookupName(mnemonic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOpcode, fields[0])
	}
	if info.OperandLen == 0 {
		if len(args) != 0 {
			return fmt.Errorf("%w: %s takes no operand", ErrOperand, info.Name)
		}
		a.out = append(a.out, byte(op))
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: %s needs one operand", ErrOperand, info.Name)
	}

	pc := len(a.out)
	a.out = append(a.out, byte(op))
	relative := info.Flow == opcode.FlowRJump || info.Flow == opcode.FlowRJumpI
	if label, ok := strings.CutPrefix(args[0], "@"); ok {
		a.refs = append(a.refs, labelReference{
			line: a.line, pc: pc, at: len(a.out), width: info.OperandLen,
			label: label, relative: relative,
		})
		a.out = append(a.out, make([]byte, info.OperandLen)...)
		return nil
	}

	n, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	var imm []byte
	if relative {
		imm, err = encodeOffset(n)
	} else {
		imm, err = encodeUnsigned(n, info.OperandLen)
	}
	if err != nil {
		return err
	}
	a.out = append(a.out, imm...)
	return nil
}

// emitPush handles the width-less PUSH form.
func (a *assembler) emitPush(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: PUSH needs one operand", ErrOperand)
	}
	if label, ok := strings.CutPrefix(args[0], "@"); ok {
		return a.emitNamed("PUSH2", label)
	}
	n, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	if n.Sign() < 0 {
		return fmt.Errorf("%w: negative PUSH operand %s", ErrOperand, args[0])
	}
	width := max(1, (n.BitLen()+7)/8)
	name := fmt.Sprintf("PUSH%d", width)
	op, _, ok := a.table.LookupName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOpcode, name)
	}
	imm, err := encodeUnsigned(n, width)
	if err != nil {
		return err
	}
	a.out = append(a.out, byte(op))
	a.out = append(a.out, imm...)
	return nil
}

func (a *assembler) emitNamed(name, label string) error {
	op, info, ok := a.table.LookupName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOpcode, name)
	}
	pc := len(a.out)
	a.out = append(a.out, byte(op))
	a.refs = append(a.refs, labelReference{line: a.line, pc: pc, at: len(a.out), width: info.OperandLen, label: label})
	a.out = append(a.out, make([]byte, info.OperandLen)...)
	return nil
}

func (a *assembler) emitBytes(args string) error {
	for _, f := range strings.FieldsFunc(args, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		n, err := parseNumber(f)
		if err != nil {
			return err
		}
		if n.Sign() < 0 || n.BitLen() > 8 {
			return fmt.Errorf("%w: byte %s out of range", ErrOperand, f)
		}
		a.out = append(a.out, byte(n.Uint64()))
	}
	return nil
}

func (a *assembler) resolveLabels() error {
	for _, ref := range a.refs {
		dest, ok := a.labels[ref.label]
		if !ok {
			return &LineError{Line: ref.line, Err: fmt.Errorf("%w: %s", ErrUndefinedLabel, ref.label)}
		}
		var imm []byte
		var err error
		if ref.relative {
			imm, err = encodeOffset(big.NewInt(int64(dest - (ref.pc + 3))))
		} else {
			imm, err = encodeUnsigned(big.NewInt(int64(dest)), ref.width)
		}
		if err != nil {
			return &LineError{Line: ref.line, Err: fmt.Errorf("label %s: %w", ref.label, err)}
		}
		copy(a.out[ref.at:], imm)
	}
	return nil
}

func parseNumber(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a number", ErrOperand, s)
	}
	return n, nil
}

// encodeUnsigned returns n as a big-endian value of exactly width bytes.
func encodeUnsigned(n *big.Int, width int) ([]byte, error) {
	if n.Sign() < 0 || n.BitLen() > width*8 {
		return nil, fmt.Errorf("%w: %s does not fit in %d bytes", ErrOperand, n, width)
	}
	return n.FillBytes(make([]byte, width)), nil
}

// encodeOffset returns n as a big-endian int16.
func encodeOffset(n *big.Int) ([]byte, error) {
	if !n.IsInt64() || n.Int64() < -32768 || n.Int64() > 32767 {
		return nil, fmt.Errorf("%w: offset %s out of int16 range", ErrOperand, n)
	}
	v := uint16(int16(n.Int64()))
	return []byte{byte(v >> 8), byte(v)}, nil
}

func validLabel(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
