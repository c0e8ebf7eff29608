package validator

import (
	"fmt"

	"github.com/chazu/jumpsub/pkg/opcode"
)

// checkNested bounds the absolute stack height across calls. Each
// subroutine's peak height above its base includes the peaks of the
// subroutines it calls, so a JUMPSUB overflows when the caller's depth plus
// the callee's peak exceeds the limit. Calls that close a cycle are not
// followed; recursion depth is left to the return stack at run time.
func (v *validation) checkNested() error {
	if len(v.calls) == 0 {
		return nil
	}

	local := make(map[int]int)   // highest depth inside each subroutine's own code
	sites := make(map[int][]int) // JUMPSUB pcs in each subroutine, in pc order
	var calls []int              // every JUMPSUB pc, in pc order
	for pc, d := range v.depth {
		if d < 0 {
			continue
		}
		info, _ := v.table.Lookup(opcode.Opcode(v.code[pc]))
		owner := v.find(int(v.owner[pc]))
		local[owner] = max(local[owner], int(d), int(d)+info.Delta())
		if _, ok := v.calls[pc]; ok {
			sites[owner] = append(sites[owner], pc)
			calls = append(calls, pc)
		}
	}

	p := &peaks{v: v, local: local, sites: sites, state: make(map[int]int), peak: make(map[int]int)}
	for _, pc := range calls {
		callee := v.find(v.calls[pc])
		after := v.afterCall(pc)
		if h := after + p.of(callee); h > v.limit {
			in, _ := opcode.Decode(v.code, v.table, pc)
			return v.fault(in, KindStackOverflow,
				fmt.Sprintf("depth %d inside the call exceeds limit %d", h, v.limit))
		}
	}
	return nil
}

// afterCall is the caller's depth once the JUMPSUB at pc has taken its
// operands, which is the callee's stack base.
func (v *validation) afterCall(pc int) int {
	info, _ := v.table.Lookup(opcode.Opcode(v.code[pc]))
	return int(v.depth[pc]) + info.Delta()
}

const (
	peakOpen = 1
	peakDone = 2
)

// peaks computes subroutine peak heights over the call graph with an
// explicit stack.
type peaks struct {
	v     *validation
	local map[int]int
	sites map[int][]int
	state map[int]int
	peak  map[int]int
}

type peakFrame struct {
	sub  int
	next int // index into sites[sub]
}

func (p *peaks) of(root int) int {
	if p.state[root] == peakDone {
		return p.peak[root]
	}
	p.open(root)
	stack := []peakFrame{{sub: root}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		sites := p.sites[f.sub]
		if f.next == len(sites) {
			p.state[f.sub] = peakDone
			stack = stack[:len(stack)-1]
			continue
		}
		pc := sites[f.next]
		callee := p.v.find(p.v.calls[pc])
		switch p.state[callee] {
		case 0:
			p.open(callee)
			stack = append(stack, peakFrame{sub: callee})
			continue
		case peakDone:
			p.peak[f.sub] = max(p.peak[f.sub], p.v.afterCall(pc)+p.peak[callee])
		}
		f.next++
	}
	return p.peak[root]
}

func (p *peaks) open(sub int) {
	p.state[sub] = peakOpen
	p.peak[sub] = p.local[sub]
}
