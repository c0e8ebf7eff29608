// Package validator proves, before execution, that a program cannot halt
// exceptionally through an invalid jump, a stack underflow, or a stack
// overflow.
//
// The walk starts at pc 0 and follows every control-flow edge once. At each
// instruction it records the data-stack depth relative to the current stack
// base (0 at program entry, the depth at the call for a subroutine). A second
// visit to the same pc must see the same depth, which is also what closes
// loops. Two subroutines meeting at the same depth share their return depth
// from then on; top-level code meeting a subroutine is rejected. Each program point is therefore processed once,
// and validation is linear in the size of the code.
//
// Rules enforced:
//
//  1. RJUMP and RJUMPI targets are JUMPDEST instructions.
//  2. JUMPSUB targets are BEGINSUB instructions.
//  3. Every program point has a single stack depth.
//  4. No instruction underflows or overflows the data stack.
//
// Subroutines are summarized by the depth they return with. A caller resumes
// after its JUMPSUB at its own depth plus that return depth. Each call is
// also checked against the limit with the callee's peak height, nested calls
// included; recursive calls are left to the return stack at run time. JUMP
// and JUMPI are rejected outright.
//
// Pending paths live on an explicit worklist, so adversarial nesting cannot
// exhaust the goroutine stack.
package validator
