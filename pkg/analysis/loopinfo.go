package analysis

import "sysycc/pkg/ir"

// Loop is one natural loop. Blocks includes the header; subloop
// blocks are included in the parent as well.
type Loop struct {
	Header   *ir.BasicBlock
	Blocks   map[*ir.BasicBlock]bool
	Latches  []*ir.BasicBlock
	Parent   *Loop
	Subloops []*Loop
	depth    int
}

// Depth returns the nesting depth, 1 for a top-level loop
func (l *Loop) Depth() int { return l.depth }

// Contains reports whether b belongs to the loop
func (l *Loop) Contains(b *ir.BasicBlock) bool { return l.Blocks[b] }

// Latch returns the unique latch, nil when there are several
func (l *Loop) Latch() *ir.BasicBlock {
	if len(l.Latches) == 1 {
		return l.Latches[0]
	}
	return nil
}

// Preheader returns the unique out-of-loop predecessor of the header
// whose only successor is the header, nil otherwise
func (l *Loop) Preheader() *ir.BasicBlock {
	var out *ir.BasicBlock
	for _, p := range l.Header.Preds() {
		if l.Contains(p) {
			continue
		}
		if out != nil && out != p {
			return nil
		}
		out = p
	}
	if out == nil || len(out.Succs()) != 1 {
		return nil
	}
	return out
}

// ExitBlocks returns the blocks outside the loop reached by an edge
// from inside, in deterministic block order
func (l *Loop) ExitBlocks() []*ir.BasicBlock {
	var exits []*ir.BasicBlock
	seen := make(map[*ir.BasicBlock]bool)
	for _, b := range l.Header.Parent().Blocks() {
		if !l.Contains(b) {
			continue
		}
		for _, s := range b.Succs() {
			if !l.Contains(s) && !seen[s] {
				seen[s] = true
				exits = append(exits, s)
			}
		}
	}
	return exits
}

// ExitingBlocks returns the in-loop blocks with an edge leaving the
// loop
func (l *Loop) ExitingBlocks() []*ir.BasicBlock {
	var exiting []*ir.BasicBlock
	for _, b := range l.Header.Parent().Blocks() {
		if !l.Contains(b) {
			continue
		}
		for _, s := range b.Succs() {
			if !l.Contains(s) {
				exiting = append(exiting, b)
				break
			}
		}
	}
	return exiting
}

// IsSimplified reports whether the loop has a preheader, a unique
// latch and dedicated exits
func (l *Loop) IsSimplified() bool {
	if l.Preheader() == nil || l.Latch() == nil {
		return false
	}
	for _, e := range l.ExitBlocks() {
		for _, p := range e.Preds() {
			if !l.Contains(p) {
				return false
			}
		}
	}
	return true
}

// LoopInfo holds every natural loop of a function
type LoopInfo struct {
	fn      *ir.Function
	Top     []*Loop                  // outermost loops in header order
	byBlock map[*ir.BasicBlock]*Loop // innermost loop per block
}

// LoopOf returns the innermost loop containing b, nil if none
func (li *LoopInfo) LoopOf(b *ir.BasicBlock) *Loop { return li.byBlock[b] }

// All returns every loop, outer before inner
func (li *LoopInfo) All() []*Loop {
	var out []*Loop
	var walk func(*Loop)
	walk = func(l *Loop) {
		out = append(out, l)
		for _, s := range l.Subloops {
			walk(s)
		}
	}
	for _, l := range li.Top {
		walk(l)
	}
	return out
}

// ComputeLoopInfo finds back edges with the dominator tree and grows
// each natural loop by walking predecessors from its latches
func ComputeLoopInfo(f *ir.Function, dom *DomTree) *LoopInfo {
	li := &LoopInfo{fn: f, byBlock: make(map[*ir.BasicBlock]*Loop)}

	headers := make(map[*ir.BasicBlock]*Loop)
	var loops []*Loop
	for _, b := range dom.RPO() {
		for _, s := range b.Succs() {
			if dom.Dominates(s, b) {
				l := headers[s]
				if l == nil {
					l = &Loop{Header: s, Blocks: map[*ir.BasicBlock]bool{s: true}}
					headers[s] = l
					loops = append(loops, l)
				}
				l.Latches = append(l.Latches, b)
			}
		}
	}

	for _, l := range loops {
		var stack []*ir.BasicBlock
		for _, latch := range l.Latches {
			if !l.Blocks[latch] {
				l.Blocks[latch] = true
				stack = append(stack, latch)
			}
		}
		for len(stack) > 0 {
			b := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, p := range b.Preds() {
				if !l.Blocks[p] && dom.Reachable(p) {
					l.Blocks[p] = true
					stack = append(stack, p)
				}
			}
		}
	}

	// nest by containment: a loop's parent is the smallest strictly
	// containing loop
	for _, l := range loops {
		var parent *Loop
		for _, c := range loops {
			if c == l || !c.Blocks[l.Header] {
				continue
			}
			if parent == nil || len(c.Blocks) < len(parent.Blocks) {
				parent = c
			}
		}
		l.Parent = parent
		if parent != nil {
			parent.Subloops = append(parent.Subloops, l)
		} else {
			li.Top = append(li.Top, l)
		}
	}
	var setDepth func(*Loop, int)
	setDepth = func(l *Loop, d int) {
		l.depth = d
		for _, s := range l.Subloops {
			setDepth(s, d+1)
		}
	}
	for _, l := range li.Top {
		setDepth(l, 1)
	}

	for _, l := range loops {
		for b := range l.Blocks {
			cur := li.byBlock[b]
			if cur == nil || l.depth > cur.depth {
				li.byBlock[b] = l
			}
		}
	}
	return li
}
