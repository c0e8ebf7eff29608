// Package interp executes subroutine bytecode on a two-stack machine.
//
// A Machine holds the program counter, a data stack of 256-bit words, and a
// separate return stack of code locations. JUMPSUB pushes the address after
// itself onto the return stack and continues just past the BEGINSUB marker at
// its destination; RETURNSUB pops that address back into the program counter.
// Return addresses are never visible on the data stack.
//
// Running past the last instruction halts normally, as does STOP. Every other
// way out is an *Abort naming the instruction and the reason.
//
// The interpreter checks everything at run time and does not depend on the
// validator. RunValidated refuses to start code the validator rejects, which
// rules out every abort except return stack overflow and the step limit.
package interp
