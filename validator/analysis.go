package validator

// Analysis is the stack-depth table produced by a validation.
type Analysis struct {
	depth    []int32
	owner    []int32
	returns  map[int]int
	visited  int
	maxDepth int
}

// Depth returns the stack depth, relative to the enclosing subroutine's stack
// base, recorded when pc was first reached. ok is false for unreached code.
func (a *Analysis) Depth(pc int) (depth int, ok bool) {
	if pc < 0 || pc >= len(a.depth) || a.depth[pc] < 0 {
		return 0, false
	}
	return int(a.depth[pc]), true
}

// Subroutine returns the entry PC of the subroutine pc belongs to. ok is
// false for top-level or unreached code.
func (a *Analysis) Subroutine(pc int) (entry int, ok bool) {
	if _, reached := a.Depth(pc); !reached || a.owner[pc] == topLevel {
		return 0, false
	}
	return int(a.owner[pc]), true
}

// Returns reports the depth the subroutine entered at entry returns with.
// ok is false if no RETURNSUB of that subroutine was reached.
func (a *Analysis) Returns(entry int) (depth int, ok bool) {
	depth, ok = a.returns[entry]
	return depth, ok
}

// Reached reports whether pc was reached by the walk.
func (a *Analysis) Reached(pc int) bool {
	_, ok := a.Depth(pc)
	return ok
}

// Visited is the number of distinct instructions reached.
func (a *Analysis) Visited() int {
	return a.visited
}

// MaxDepth is the largest relative depth observed.
func (a *Analysis) MaxDepth() int {
	return a.maxDepth
}

// Subroutines is the number of subroutines that return.
func (a *Analysis) Subroutines() int {
	return len(a.returns)
}
