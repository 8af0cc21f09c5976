package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("loopsplit", runLoopSplit)
}

// runLoopSplit peels a counted loop in two at an invariant pivot. A
// body condition of the form iv < p (or iv >= p) partitions the
// iteration space at p, so the loop becomes one copy running to
// min(p, end) and a second copy finishing the range, each with the
// condition folded to a constant.
func runLoopSplit(f *ir.Function, am *analysis.Manager) (bool, error) {
	changed := false
	for {
		li := am.LoopInfo(f)
		iv := am.IndVars(f)
		dom := am.DomTree(f)
		split := false
		for _, l := range li.All() {
			if len(l.Subloops) > 0 {
				continue
			}
			if splitLoop(f, l, iv, dom) {
				am.CFGChanged(f)
				split = true
				break
			}
		}
		if !split {
			break
		}
		changed = true
	}
	return changed, nil
}

func splitLoop(f *ir.Function, l *analysis.Loop, iv *analysis.IndVarInfo, dom *analysis.DomTree) bool {
	h := l.Header
	if !l.IsSimplified() {
		return false
	}
	if ex := l.ExitingBlocks(); len(ex) != 1 || ex[0] != h {
		return false
	}
	bound := iv.Bound(l)
	if bound == nil || bound.OnLatch || bound.Pred != ir.PredLT {
		return false
	}
	if step, ok := bound.IV.StepConst(); !ok || step <= 0 {
		return false
	}
	if !invariantValue(bound.End, l) {
		return false
	}
	t := h.Terminator()
	if t == nil || t.Op != ir.OpCondBr {
		return false
	}
	var exit *ir.BasicBlock
	switch {
	case !l.Contains(t.Operand(1).(*ir.BasicBlock)):
		exit = t.Operand(1).(*ir.BasicBlock)
	case !l.Contains(t.Operand(2).(*ir.BasicBlock)):
		exit = t.Operand(2).(*ir.BasicBlock)
	default:
		return false
	}

	pivotCmp := findPivotCmp(l, bound)
	if pivotCmp == nil {
		return false
	}
	pivot := pivotCmp.Operand(1)
	ph := l.Preheader()

	// min(pivot, end) becomes the first loop's bound
	minh := f.NewBlockAfter(ph, f.NextName(h.Name()+".mid"))
	mf := f.NewBlockAfter(minh, f.NextName(h.Name()+".mid.f"))
	mj := f.NewBlockAfter(mf, f.NextName(h.Name()+".mid.j"))
	ph.ReplaceSuccessor(h, minh)
	lt := ir.NewICmp(ir.PredLT, pivot, bound.End)
	lt.SetName(f.NextName("min."))
	minh.Append(lt)
	minh.Append(ir.NewCondBr(lt, mj, mf))
	mf.Append(ir.NewBr(mj))
	mid := ir.NewPhi(pivot.Type())
	mid.SetName(f.NextName("mid."))
	mj.Append(mid)
	mid.AddIncoming(pivot, minh)
	mid.AddIncoming(bound.End, mf)
	mj.Append(ir.NewBr(h))
	retargetPhis(h, ph, mj)

	// clone the whole loop as the tail copy, entered from the first
	// copy's exit with the header phis carrying the iteration state
	blocks := domOrder(dom, h, l.Blocks)
	last := blocks[0]
	for _, b := range f.Blocks() {
		if l.Contains(b) {
			last = b
		}
	}
	ph2 := f.NewBlockAfter(last, f.NextName(h.Name()+".tail.ph"))
	sub := cloneRegion(f, blocks, ph2)
	h2 := sub[h].(*ir.BasicBlock)
	ph2.Append(ir.NewBr(h2))
	for _, p := range h.Phis() {
		sub[p].(*ir.Instr).AddIncoming(p, ph2)
	}

	inClone := make(map[*ir.BasicBlock]bool, len(blocks))
	for _, b := range blocks {
		inClone[sub[b].(*ir.BasicBlock)] = true
	}
	for _, b := range blocks {
		for _, in := range b.Instrs() {
			for _, u := range append([]*ir.Use(nil), in.Uses()...) {
				p := u.User.Parent()
				if p == nil || l.Contains(p) || inClone[p] || p == ph2 {
					continue
				}
				u.User.SetOperand(u.Index, mappedValue(sub, in))
			}
		}
	}
	h.ReplaceSuccessor(exit, ph2)
	retargetPhis(exit, h, h2)

	// the first copy stops at mid, the tail copy keeps the old bound
	for i, op := range bound.Cmp.Operands() {
		if op == bound.End {
			bound.Cmp.SetOperand(i, mid)
			break
		}
	}

	onTrue := pivotCmp.Pred == ir.PredLT
	replaceAndErase(pivotCmp, ir.NewConstBool(onTrue))
	tail := sub[pivotCmp].(*ir.Instr)
	replaceAndErase(tail, ir.NewConstBool(!onTrue))
	return true
}

// findPivotCmp looks for a comparison of the counting phi against an
// invariant value that partitions the range at that value. Header
// instructions also run on the exit visit, where the phi already
// passed the bound, so only body blocks qualify.
func findPivotCmp(l *analysis.Loop, bound *analysis.LoopBound) *ir.Instr {
	for _, b := range loopBlocksInLayout(l) {
		if b == l.Header {
			continue
		}
		for _, in := range b.Instrs() {
			if in.Op != ir.OpICmp || in == bound.Cmp {
				continue
			}
			if in.Pred != ir.PredLT && in.Pred != ir.PredGE {
				continue
			}
			if in.Operand(0) != bound.IV.Phi {
				continue
			}
			if !invariantValue(in.Operand(1), l) {
				continue
			}
			return in
		}
	}
	return nil
}
