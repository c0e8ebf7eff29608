// Package opcode describes the instruction set consumed by the validator and
// the interpreter.
//
// The rest of the system never hard-codes stack effects or operand widths.
// Everything it needs to know about a byte of code comes from a Table:
//
//   - Name: the mnemonic, used by the assembler and disassembler
//   - StackPop / StackPush: data-stack items removed and added
//   - OperandLen: width of the immediate operand following the opcode
//   - Flow: how the instruction transfers control (terminal, jump
//     destination marker, subroutine entry, call, return, static jumps)
//
// # Dialects
//
// Two built-in tables are provided. Default is the immediate dialect, where
// JUMPSUB carries a 2-byte big-endian absolute location and leaves the data
// stack untouched. StackArgs is the earlier draft dialect, where JUMPSUB has
// no immediate and pops its location from the data stack instead. The
// control-flow opcodes share the same byte values in both:
//
//	BEGINSUB  0x5c
//	RETURNSUB 0x5d
//	JUMPSUB   0x5e
//	RJUMP     0xe0 <int16 offset>
//	RJUMPI    0xe1 <int16 offset>
//
// RJUMP and RJUMPI targets are relative to the end of the instruction
// (pc + 3 + offset) and must land on a JUMPDEST.
//
// # Code analysis
//
// Bytes inside an immediate operand are data, not instructions. Analyze
// builds a Bitmap of those positions once per code sequence so that jump
// destination checks are O(1).
package opcode
