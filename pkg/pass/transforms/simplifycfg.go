package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("simplifycfg", runSimplifyCFG)
}

// runSimplifyCFG cleans the control flow graph to a fixpoint:
// unreachable blocks go away, branches on constants and branches with
// equal targets fold, straight-line block pairs merge, and empty
// forwarding blocks are skipped
func runSimplifyCFG(f *ir.Function, am *analysis.Manager) (bool, error) {
	changed := false
	for {
		n := 0
		if removeUnreachable(f) {
			n++
		}
		for _, b := range append([]*ir.BasicBlock(nil), f.Blocks()...) {
			if b.Parent() == nil {
				continue
			}
			if foldBranch(b) {
				n++
			}
			if b.Parent() != nil && mergeWithSinglePred(b) {
				n++
			}
			if b.Parent() != nil && skipForwardingBlock(b) {
				n++
			}
		}
		if n == 0 {
			break
		}
		changed = true
	}
	if changed {
		am.CFGChanged(f)
	}
	return changed, nil
}

func removeUnreachable(f *ir.Function) bool {
	reached := make(map[*ir.BasicBlock]bool)
	var walk func(*ir.BasicBlock)
	walk = func(b *ir.BasicBlock) {
		if reached[b] {
			return
		}
		reached[b] = true
		for _, s := range b.Succs() {
			walk(s)
		}
	}
	walk(f.Entry())
	doomed := make(map[*ir.BasicBlock]bool)
	for _, b := range f.Blocks() {
		if !reached[b] {
			doomed[b] = true
		}
	}
	if len(doomed) == 0 {
		return false
	}
	deleteBlocks(f, doomed)
	return true
}

// foldBranch rewrites a condbr with a constant condition or with both
// targets equal into an unconditional branch
func foldBranch(b *ir.BasicBlock) bool {
	t := b.Terminator()
	if t == nil || t.Op != ir.OpCondBr {
		return false
	}
	tt := t.Operand(1).(*ir.BasicBlock)
	ft := t.Operand(2).(*ir.BasicBlock)
	if tt == ft {
		// the doubled edge carried two phi entries; one goes away
		dropOnePhiEdge(tt, b)
		b.Erase(t)
		b.Append(ir.NewBr(tt))
		return true
	}
	c, ok := t.Operand(0).(*ir.ConstantBool)
	if !ok {
		return false
	}
	taken, other := tt, ft
	if !c.Value {
		taken, other = ft, tt
	}
	b.Erase(t)
	removePhiEdges(other, b)
	b.Append(ir.NewBr(taken))
	return true
}

// dropOnePhiEdge removes a single incoming entry for pred from every
// phi in b, leaving further entries for other edges from pred alone
func dropOnePhiEdge(b, pred *ir.BasicBlock) {
	for _, phi := range b.Phis() {
		for i := 0; i < phi.NumIncoming(); i++ {
			if _, p := phi.Incoming(i); p == pred {
				phi.RemoveIncoming(i)
				break
			}
		}
	}
}

// mergeWithSinglePred splices b into its unique predecessor when that
// predecessor branches only to b
func mergeWithSinglePred(b *ir.BasicBlock) bool {
	f := b.Parent()
	if b == f.Entry() {
		return false
	}
	preds := b.Preds()
	if len(preds) != 1 || preds[0] == b {
		return false
	}
	p := preds[0]
	t := p.Terminator()
	if t == nil || t.Op != ir.OpBr {
		return false
	}
	for _, phi := range append([]*ir.Instr(nil), b.Phis()...) {
		v, _ := phi.Incoming(0)
		replaceAndErase(phi, v)
	}
	p.Erase(t)
	for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
		b.Remove(in)
		p.Append(in)
	}
	for _, s := range p.Succs() {
		retargetPhis(s, b, p)
	}
	f.RemoveBlock(b)
	return true
}

// skipForwardingBlock removes a block holding nothing but a branch by
// pointing its predecessors straight at the target. Each forwarded
// edge gets its own phi entry carrying the skipped block's value.
func skipForwardingBlock(b *ir.BasicBlock) bool {
	f := b.Parent()
	if b == f.Entry() || len(b.Instrs()) != 1 {
		return false
	}
	t := b.Terminator()
	if t == nil || t.Op != ir.OpBr {
		return false
	}
	target := t.Operand(0).(*ir.BasicBlock)
	if target == b {
		return false
	}
	preds := append([]*ir.BasicBlock(nil), b.Preds()...)
	if len(preds) == 0 {
		return false
	}
	isPred := make(map[*ir.BasicBlock]bool, len(preds))
	for _, p := range preds {
		isPred[p] = true
	}
	// a predecessor already reaching target directly must carry the same
	// phi value as the edge through b, or the block stays
	for _, phi := range target.Phis() {
		v := phi.IncomingFor(b)
		for i := 0; i < phi.NumIncoming(); i++ {
			if w, p := phi.Incoming(i); isPred[p] && w != v {
				return false
			}
		}
	}
	for _, phi := range target.Phis() {
		v := phi.IncomingFor(b)
		for _, p := range preds {
			phi.AddIncoming(v, p)
		}
		for i := 0; i < phi.NumIncoming(); i++ {
			if _, p := phi.Incoming(i); p == b {
				phi.RemoveIncoming(i)
				break
			}
		}
	}
	seen := make(map[*ir.BasicBlock]bool)
	for _, p := range preds {
		if !seen[p] {
			seen[p] = true
			p.ReplaceSuccessor(b, target)
		}
	}
	b.Erase(t)
	f.RemoveBlock(b)
	return true
}
