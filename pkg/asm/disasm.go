package asm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/jumpsub/pkg/opcode"
)

// Line is one disassembled instruction.
type Line struct {
	PC   int
	Len  int
	Text string // assembler syntax, without the address
}

// Lines disassembles code with a linear sweep. Undefined bytes and truncated
// trailing instructions come out as .byte directives, so the joined Text
// fields assemble back to the same bytes.
func Lines(code []byte, table *opcode.Table) []Line {
	if table == nil {
		table = opcode.Default()
	}
	var out []Line
	for pc := 0; pc < len(code); {
		in, err := opcode.Decode(code, table, pc)
		var text string
		n := in.Info.Len()
		switch {
		case errors.Is(err, opcode.ErrUndefined):
			text, n = fmt.Sprintf(".byte 0x%02x ; %s", code[pc], in.Info.Name), 1
		case errors.Is(err, opcode.ErrTruncated):
			text, n = byteDirective(code[pc:])+" ; truncated "+in.Info.Name, len(code)-pc
		default:
			text = formatInstruction(in)
		}
		out = append(out, Line{PC: pc, Len: n, Text: text})
		pc += n
	}
	return out
}

// Disassemble returns a listing with one "ADDR  INSTRUCTION" row per line.
func Disassemble(code []byte, table *opcode.Table) string {
	var sb strings.Builder
	for _, l := range Lines(code, table) {
		sb.WriteString(fmt.Sprintf("%04X  %s\n", l.PC, l.Text))
	}
	return sb.String()
}

// Source returns the disassembly as assembler input.
func Source(code []byte, table *opcode.Table) string {
	var sb strings.Builder
	for _, l := range Lines(code, table) {
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatInstruction(in opcode.Instruction) string {
	switch {
	case len(in.Immediate) == 0:
		return in.Info.Name
	case in.Info.Flow == opcode.FlowRJump || in.Info.Flow == opcode.FlowRJumpI:
		off := opcode.Int16At(in.Immediate, 0)
		target, _ := in.Target()
		return fmt.Sprintf("%s %+d ; -> %04X", in.Info.Name, off, target)
	case in.Info.Flow == opcode.FlowJumpSub:
		return fmt.Sprintf("%s 0x%04x", in.Info.Name, in.Uint16())
	}
	return fmt.Sprintf("%s 0x%x", in.Info.Name, in.Immediate)
}

func byteDirective(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("0x%02x", c)
	}
	return ".byte " + strings.Join(parts, ", ")
}
