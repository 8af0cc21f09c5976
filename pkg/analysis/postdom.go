package analysis

import "sysycc/pkg/ir"

// PostDomTree is the postdominator tree, computed by running the
// dominator algorithm on the reverse CFG rooted at a virtual exit
// that joins every ret block.
type PostDomTree struct {
	fn     *ir.Function
	blocks []*ir.BasicBlock
	idx    map[*ir.BasicBlock]int
	idom   []int // indexed by node, virtual exit last
	level  []int
	virt   int
}

// ComputePostDomTree builds the postdominator tree of f
func ComputePostDomTree(f *ir.Function) *PostDomTree {
	blocks := append([]*ir.BasicBlock(nil), f.Blocks()...)
	n := len(blocks)
	p := &PostDomTree{
		fn:     f,
		blocks: blocks,
		idx:    make(map[*ir.BasicBlock]int, n),
		virt:   n,
	}
	for i, b := range blocks {
		p.idx[b] = i
	}

	isExit := make([]bool, n)
	var exits []int
	for i, b := range blocks {
		if t := b.Terminator(); t != nil && t.Op == ir.OpRet {
			isExit[i] = true
			exits = append(exits, i)
		}
	}

	// reverse-graph successors: preds of the block; virtual -> exits
	rsucc := func(u int) []int {
		if u == p.virt {
			return exits
		}
		var out []int
		for _, pb := range blocks[u].Preds() {
			out = append(out, p.idx[pb])
		}
		return out
	}
	// reverse-graph predecessors: succs of the block, plus the
	// virtual exit for ret blocks
	rpred := func(u int) []int {
		if u == p.virt {
			return nil
		}
		var out []int
		for _, sb := range blocks[u].Succs() {
			out = append(out, p.idx[sb])
		}
		if isExit[u] {
			out = append(out, p.virt)
		}
		return out
	}

	var post []int
	seen := make([]bool, n+1)
	var walk func(int)
	walk = func(u int) {
		seen[u] = true
		for _, s := range rsucc(u) {
			if !seen[s] {
				walk(s)
			}
		}
		post = append(post, u)
	}
	walk(p.virt)

	num := make([]int, n+1)
	for i := range num {
		num[i] = -1
	}
	rpo := make([]int, len(post))
	for i := range post {
		u := post[len(post)-1-i]
		rpo[i] = u
		num[u] = i
	}

	idom := make([]int, n+1)
	for i := range idom {
		idom[i] = -1
	}
	idom[p.virt] = p.virt
	intersect := func(a, b int) int {
		for a != b {
			for num[a] > num[b] {
				a = idom[a]
			}
			for num[b] > num[a] {
				b = idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for _, u := range rpo[1:] {
			nd := -1
			for _, q := range rpred(u) {
				if num[q] < 0 || idom[q] < 0 {
					continue
				}
				if nd < 0 {
					nd = q
				} else {
					nd = intersect(nd, q)
				}
			}
			if nd >= 0 && idom[u] != nd {
				idom[u] = nd
				changed = true
			}
		}
	}

	p.idom = idom
	p.level = make([]int, n+1)
	for i := range p.level {
		p.level[i] = -1
	}
	p.level[p.virt] = 0
	for _, u := range rpo[1:] {
		if idom[u] >= 0 {
			p.level[u] = p.level[idom[u]] + 1
		}
	}
	return p
}

// IPDom returns the immediate postdominator, nil when it is the
// virtual exit or b cannot reach a return
func (p *PostDomTree) IPDom(b *ir.BasicBlock) *ir.BasicBlock {
	u, ok := p.idx[b]
	if !ok || p.level[u] < 0 {
		return nil
	}
	d := p.idom[u]
	if d == p.virt {
		return nil
	}
	return p.blocks[d]
}

// Reaches reports whether b can reach a return
func (p *PostDomTree) Reaches(b *ir.BasicBlock) bool {
	u, ok := p.idx[b]
	return ok && p.level[u] >= 0
}

// PostDominates reports whether a postdominates b (reflexively)
func (p *PostDomTree) PostDominates(a, b *ir.BasicBlock) bool {
	ua, ok := p.idx[a]
	if !ok || p.level[ua] < 0 {
		return false
	}
	ub, ok := p.idx[b]
	if !ok || p.level[ub] < 0 {
		return false
	}
	for p.level[ub] > p.level[ua] {
		ub = p.idom[ub]
	}
	return ua == ub
}
