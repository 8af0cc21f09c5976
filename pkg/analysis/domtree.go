// Package analysis computes and caches the structural facts the
// optimizer consumes: dominance, loops, induction variables, memory
// dependences, the call graph and side-effect summaries.
package analysis

import "sysycc/pkg/ir"

// DomTree is the dominator tree of one function. Unreachable blocks
// are absent; Dominates is false for them.
type DomTree struct {
	fn       *ir.Function
	idom     map[*ir.BasicBlock]*ir.BasicBlock
	children map[*ir.BasicBlock][]*ir.BasicBlock
	level    map[*ir.BasicBlock]int
	rpo      []*ir.BasicBlock
	frontier map[*ir.BasicBlock][]*ir.BasicBlock
}

// ComputeDomTree runs the iterative Cooper-Harvey-Kennedy algorithm
// over a reverse postorder of the CFG
func ComputeDomTree(f *ir.Function) *DomTree {
	d := &DomTree{
		fn:       f,
		idom:     make(map[*ir.BasicBlock]*ir.BasicBlock),
		children: make(map[*ir.BasicBlock][]*ir.BasicBlock),
		level:    make(map[*ir.BasicBlock]int),
	}
	d.rpo = reversePostorder(f.Entry(), func(b *ir.BasicBlock) []*ir.BasicBlock { return b.Succs() })

	num := make(map[*ir.BasicBlock]int, len(d.rpo))
	for i, b := range d.rpo {
		num[b] = i
	}
	entry := f.Entry()
	d.idom[entry] = entry
	intersect := func(a, b *ir.BasicBlock) *ir.BasicBlock {
		for a != b {
			for num[a] > num[b] {
				a = d.idom[a]
			}
			for num[b] > num[a] {
				b = d.idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for _, b := range d.rpo[1:] {
			var nd *ir.BasicBlock
			for _, p := range b.Preds() {
				if d.idom[p] == nil {
					continue
				}
				if nd == nil {
					nd = p
				} else {
					nd = intersect(nd, p)
				}
			}
			if nd != nil && d.idom[b] != nd {
				d.idom[b] = nd
				changed = true
			}
		}
	}
	delete(d.idom, entry)
	for _, b := range d.rpo {
		if p := d.idom[b]; p != nil {
			d.children[p] = append(d.children[p], b)
		}
	}
	d.level[entry] = 0
	for _, b := range d.rpo[1:] {
		d.level[b] = d.level[d.idom[b]] + 1
	}
	return d
}

func reversePostorder(root *ir.BasicBlock, succs func(*ir.BasicBlock) []*ir.BasicBlock) []*ir.BasicBlock {
	var post []*ir.BasicBlock
	seen := make(map[*ir.BasicBlock]bool)
	var walk func(*ir.BasicBlock)
	walk = func(b *ir.BasicBlock) {
		seen[b] = true
		for _, s := range succs(b) {
			if !seen[s] {
				walk(s)
			}
		}
		post = append(post, b)
	}
	walk(root)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// Func returns the analyzed function
func (d *DomTree) Func() *ir.Function { return d.fn }

// RPO returns the reachable blocks in reverse postorder
func (d *DomTree) RPO() []*ir.BasicBlock { return d.rpo }

// Reachable reports whether b is reachable from the entry
func (d *DomTree) Reachable(b *ir.BasicBlock) bool {
	_, ok := d.level[b]
	return ok
}

// IDom returns the immediate dominator, nil for the entry
func (d *DomTree) IDom(b *ir.BasicBlock) *ir.BasicBlock { return d.idom[b] }

// Children returns the blocks immediately dominated by b
func (d *DomTree) Children(b *ir.BasicBlock) []*ir.BasicBlock { return d.children[b] }

// Level returns b's depth in the tree, 0 for the entry
func (d *DomTree) Level(b *ir.BasicBlock) int { return d.level[b] }

// Dominates reports whether a dominates b (reflexively)
func (d *DomTree) Dominates(a, b *ir.BasicBlock) bool {
	if !d.Reachable(a) || !d.Reachable(b) {
		return false
	}
	for d.level[b] > d.level[a] {
		b = d.idom[b]
	}
	return a == b
}

// StrictlyDominates reports whether a dominates b and a != b
func (d *DomTree) StrictlyDominates(a, b *ir.BasicBlock) bool {
	return a != b && d.Dominates(a, b)
}

// DominatesValue reports whether the definition of v is available at
// instruction at. Non-instruction values are available everywhere.
func (d *DomTree) DominatesValue(v ir.Value, at *ir.Instr) bool {
	def, ok := v.(*ir.Instr)
	if !ok {
		return true
	}
	db, ub := def.Parent(), at.Parent()
	if db == ub {
		for _, in := range db.Instrs() {
			if in == def {
				return true
			}
			if in == at {
				return false
			}
		}
		return false
	}
	return d.Dominates(db, ub)
}

// Frontier returns b's dominance frontier, computed lazily
func (d *DomTree) Frontier(b *ir.BasicBlock) []*ir.BasicBlock {
	if d.frontier == nil {
		d.computeFrontiers()
	}
	return d.frontier[b]
}

func (d *DomTree) computeFrontiers() {
	d.frontier = make(map[*ir.BasicBlock][]*ir.BasicBlock)
	for _, b := range d.rpo {
		if len(b.Preds()) < 2 {
			continue
		}
		for _, p := range b.Preds() {
			if !d.Reachable(p) {
				continue
			}
			for runner := p; runner != d.idom[b]; runner = d.idom[runner] {
				if !contains(d.frontier[runner], b) {
					d.frontier[runner] = append(d.frontier[runner], b)
				}
			}
		}
	}
}

func contains(bs []*ir.BasicBlock, b *ir.BasicBlock) bool {
	for _, x := range bs {
		if x == b {
			return true
		}
	}
	return false
}
