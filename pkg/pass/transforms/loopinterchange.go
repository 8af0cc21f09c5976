package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("loopinterchange", runLoopInterchange)
}

// runLoopInterchange swaps the two counters of a perfect counted
// 2-nest when the innermost subscript of the memory accesses walks
// with the outer counter. The swap moves that stride to the inner
// loop so consecutive iterations touch adjacent elements.
func runLoopInterchange(f *ir.Function, am *analysis.Manager) (bool, error) {
	changed := false
	for {
		li := am.LoopInfo(f)
		ii := am.IndVars(f)
		di := am.Dependence(f)
		swapped := false
		for _, l := range li.All() {
			if interchangeNest(l, ii, di) {
				am.IndVarChanged(f)
				swapped = true
				break
			}
		}
		if !swapped {
			break
		}
		changed = true
	}
	return changed, nil
}

func interchangeNest(outer *analysis.Loop, ii *analysis.IndVarInfo, di *analysis.DependenceInfo) bool {
	if len(outer.Subloops) != 1 {
		return false
	}
	inner := outer.Subloops[0]
	if len(inner.Subloops) > 0 {
		return false
	}
	if !outer.IsSimplified() || !inner.IsSimplified() {
		return false
	}
	bo, bi := ii.Bound(outer), ii.Bound(inner)
	if bo == nil || bi == nil || bo.OnLatch || bi.OnLatch {
		return false
	}
	if bo.Pred != ir.PredLT || bi.Pred != ir.PredLT {
		return false
	}
	op, ip := bo.IV.Phi, bi.IV.Phi
	if _, ok := bo.IV.StepConst(); !ok || bo.IV.Update.Op != ir.OpAdd {
		return false
	}
	if _, ok := bi.IV.StepConst(); !ok || bi.IV.Update.Op != ir.OpAdd {
		return false
	}
	oh, ih := outer.Header, inner.Header
	if ex := outer.ExitingBlocks(); len(ex) != 1 || ex[0] != oh {
		return false
	}
	if ex := inner.ExitingBlocks(); len(ex) != 1 || ex[0] != ih {
		return false
	}
	if len(oh.Phis()) != 1 || oh.Phis()[0] != op {
		return false
	}
	if len(ih.Phis()) != 1 || ih.Phis()[0] != ip {
		return false
	}

	// the tail copy of the range must be rectangular: the inner bounds
	// cannot move with the outer counter
	if !invariantValue(bi.IV.Start, outer) || !invariantValue(bi.End, outer) || !invariantValue(bi.IV.Step, outer) {
		return false
	}

	if !perfectNest(outer, inner) {
		return false
	}
	if !nestAccessesExchangeable(outer, inner, di) {
		return false
	}

	// profitability: strides on the last subscript. Strict comparison
	// keeps a swapped nest from swapping back.
	outerStride, innerStride := lastSubscriptStrides(inner, op, ip)
	if outerStride <= innerStride {
		return false
	}

	oUses := swappableUses(op, bo.IV.Update, bo.Cmp)
	iUses := swappableUses(ip, bi.IV.Update, bi.Cmp)
	for _, u := range append(append([]*ir.Use(nil), oUses...), iUses...) {
		p := u.User.Parent()
		if p == nil || !inner.Contains(p) {
			return false
		}
	}

	oph, iph := outer.Preheader(), inner.Preheader()
	setIncoming(op, oph, bi.IV.Start)
	setIncoming(ip, iph, bo.IV.Start)
	swapOperand(bo.Cmp, bo.End, bi.End)
	swapOperand(bi.Cmp, bi.End, bo.End)
	swapOperand(bo.IV.Update, bo.IV.Step, bi.IV.Step)
	swapOperand(bi.IV.Update, bi.IV.Step, bo.IV.Step)
	for _, u := range oUses {
		u.User.SetOperand(u.Index, ip)
	}
	for _, u := range iUses {
		u.User.SetOperand(u.Index, op)
	}
	return true
}

// perfectNest checks that the outer loop is pure scaffolding around
// the inner one: header, inner preheader and latch only, with nothing
// but pure bookkeeping outside the inner blocks
func perfectNest(outer, inner *analysis.Loop) bool {
	iph, olatch := inner.Preheader(), outer.Latch()
	if iph == nil || olatch == nil || !outer.Contains(iph) || !outer.Contains(olatch) {
		return false
	}
	if len(outer.Blocks) != len(inner.Blocks)+3 {
		return false
	}
	if lt := olatch.Terminator(); lt == nil || lt.Op != ir.OpBr {
		return false
	}
	ex := inner.ExitBlocks()
	if len(ex) != 1 || ex[0] != olatch {
		return false
	}
	for _, b := range []*ir.BasicBlock{outer.Header, iph, olatch} {
		for _, in := range b.Instrs() {
			if in.Op == ir.OpPhi || in.IsTerminator() {
				continue
			}
			if !isPureOp(in.Op) {
				return false
			}
		}
	}
	return true
}

// nestAccessesExchangeable proves every dependent pair keeps its order
// under the swap: either no dependence across outer iterations, or the
// accesses meet only within one (i, j) point
func nestAccessesExchangeable(outer, inner *analysis.Loop, di *analysis.DependenceInfo) bool {
	var mems []*ir.Instr
	for _, b := range loopBlocksInLayout(inner) {
		for _, in := range b.Instrs() {
			switch in.Op {
			case ir.OpLoad, ir.OpStore:
				mems = append(mems, in)
			case ir.OpCall, ir.OpMemset:
				return false
			}
		}
	}
	for i, a := range mems {
		for _, b := range mems[i:] {
			if a.Op != ir.OpStore && b.Op != ir.OpStore {
				continue
			}
			if di.Classify(a, b, outer) == analysis.DepIndependent {
				continue
			}
			dOut, okOut := di.CarriedDistance(a, b, outer)
			dIn, okIn := di.CarriedDistance(a, b, inner)
			if okOut && okIn && dOut == 0 && dIn == 0 {
				continue
			}
			return false
		}
	}
	return true
}

// lastSubscriptStrides counts the accesses whose rightmost index moves
// with each counter
func lastSubscriptStrides(inner *analysis.Loop, op, ip *ir.Instr) (outer, in int) {
	for _, b := range loopBlocksInLayout(inner) {
		for _, instr := range b.Instrs() {
			var ptr ir.Value
			switch instr.Op {
			case ir.OpLoad:
				ptr = instr.Operand(0)
			case ir.OpStore:
				ptr = instr.Operand(1)
			default:
				continue
			}
			g, ok := ptr.(*ir.Instr)
			if !ok || g.Op != ir.OpGetElementPtr || g.NumOperands() < 2 {
				continue
			}
			last := g.Operand(g.NumOperands() - 1)
			if exprUsesPhi(last, op, 4) {
				outer++
			}
			if exprUsesPhi(last, ip, 4) {
				in++
			}
		}
	}
	return outer, in
}

func exprUsesPhi(v ir.Value, phi *ir.Instr, depth int) bool {
	if v == phi {
		return true
	}
	in, ok := v.(*ir.Instr)
	if !ok || depth == 0 {
		return false
	}
	switch in.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpSExt, ir.OpZExt:
		for _, o := range in.Operands() {
			if exprUsesPhi(o, phi, depth-1) {
				return true
			}
		}
	}
	return false
}

// swappableUses lists the uses of phi outside its own update and bound
// test, the sites where the counter acts as a plain value
func swappableUses(phi *ir.Instr, update, cmp *ir.Instr) []*ir.Use {
	var out []*ir.Use
	for _, u := range phi.Uses() {
		if u.User == update || u.User == cmp {
			continue
		}
		out = append(out, u)
	}
	return out
}

func setIncoming(phi *ir.Instr, pred *ir.BasicBlock, v ir.Value) {
	for i := 0; i < phi.NumIncoming(); i++ {
		if _, blk := phi.Incoming(i); blk == pred {
			phi.SetOperand(2*i, v)
			return
		}
	}
}

func swapOperand(in *ir.Instr, old, new ir.Value) {
	if old == new {
		return
	}
	for i, op := range in.Operands() {
		if op == old {
			in.SetOperand(i, new)
			return
		}
	}
}
