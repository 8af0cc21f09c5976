package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("loopunroll", runLoopUnroll)
}

const (
	unrollFullBudget = 256 // trip * body instrs
	unrollMaxTrip    = 64
)

var unrollFactors = [...]int64{8, 4, 2}

// runLoopUnroll flattens counted two-block loops. A small constant
// trip count unrolls fully into straight-line code; a larger one that
// a factor divides evenly gets its body replicated in place, shrinking
// the iteration count by that factor.
func runLoopUnroll(f *ir.Function, am *analysis.Manager) (bool, error) {
	changed := false
	for {
		li := am.LoopInfo(f)
		iv := am.IndVars(f)
		done := true
		for _, l := range li.All() {
			if len(l.Subloops) > 0 {
				continue
			}
			if unrollLoop(f, l, iv) {
				am.CFGChanged(f)
				done = false
				break
			}
		}
		if done {
			break
		}
		changed = true
	}
	return changed, nil
}

func unrollLoop(f *ir.Function, l *analysis.Loop, iv *analysis.IndVarInfo) bool {
	h := l.Header
	if !l.IsSimplified() || len(l.Blocks) != 2 {
		return false
	}
	b := l.Latch()
	if b == nil || b == h {
		return false
	}
	t := h.Terminator()
	if t == nil || t.Op != ir.OpCondBr {
		return false
	}
	var exit *ir.BasicBlock
	switch {
	case t.Operand(1).(*ir.BasicBlock) == b:
		exit = t.Operand(2).(*ir.BasicBlock)
	case t.Operand(2).(*ir.BasicBlock) == b:
		exit = t.Operand(1).(*ir.BasicBlock)
	default:
		return false
	}
	if l.Contains(exit) {
		return false
	}
	if lt := b.Terminator(); lt == nil || lt.Op != ir.OpBr {
		return false
	}
	if ex := l.ExitingBlocks(); len(ex) != 1 || ex[0] != h {
		return false
	}
	n, ok := iv.TripCount(l)
	if !ok || n < 0 {
		return false
	}

	phis := append([]*ir.Instr(nil), h.Phis()...)
	var hTail []*ir.Instr
	for _, in := range h.Instrs()[len(phis):] {
		if in == t {
			continue
		}
		if !isPureOp(in.Op) {
			return false
		}
		hTail = append(hTail, in)
	}
	bodyLen := int64(len(b.Instrs()))

	if n <= unrollMaxTrip && n*bodyLen <= unrollFullBudget {
		unrollFully(f, l, h, b, exit, phis, hTail, n)
		return true
	}
	for _, fac := range unrollFactors {
		if n%fac == 0 && fac*bodyLen <= unrollFullBudget {
			unrollPartially(f, h, b, phis, hTail, fac)
			return true
		}
	}
	return false
}

func unrollFully(f *ir.Function, l *analysis.Loop, h, b, exit *ir.BasicBlock, phis, hTail []*ir.Instr, n int64) {
	ph := l.Preheader()
	cur := make(map[*ir.Instr]ir.Value, len(phis))
	for _, p := range phis {
		cur[p] = p.IncomingFor(ph)
	}

	phBr := ph.Terminator()
	ph.Erase(phBr)
	pred := ph
	for k := int64(0); k < n; k++ {
		nb := f.NewBlockAfter(pred, f.NextName(b.Name()+".u"))
		pred.Append(ir.NewBr(nb))
		sub := make(map[ir.Value]ir.Value)
		for _, p := range phis {
			sub[p] = cur[p]
		}
		for _, in := range hTail {
			c := cloneInstr(f, in, sub)
			nb.Append(c)
			sub[in] = c
		}
		for _, in := range b.Instrs() {
			if in.IsTerminator() {
				continue
			}
			c := cloneInstr(f, in, sub)
			nb.Append(c)
			sub[in] = c
		}
		for _, p := range phis {
			cur[p] = mappedValue(sub, p.IncomingFor(b))
		}
		pred = nb
	}

	// the state after the last iteration feeds everything downstream
	finalSub := make(map[ir.Value]ir.Value, len(phis))
	for _, p := range phis {
		finalSub[p] = cur[p]
	}
	for _, in := range hTail {
		c := cloneInstr(f, in, finalSub)
		pred.Append(c)
		finalSub[in] = c
	}
	pred.Append(ir.NewBr(exit))

	for _, phi := range exit.Phis() {
		for i := 0; i < phi.NumIncoming(); i++ {
			if v, blk := phi.Incoming(i); blk == h {
				phi.RemoveIncoming(i)
				phi.AddIncoming(mappedValue(finalSub, v), pred)
				break
			}
		}
	}
	outs := make([]*ir.Instr, 0, len(phis)+len(hTail))
	outs = append(outs, phis...)
	outs = append(outs, hTail...)
	for _, v := range outs {
		for _, u := range append([]*ir.Use(nil), v.Uses()...) {
			if p := u.User.Parent(); p == nil || p == h || p == b {
				continue
			}
			u.User.SetOperand(u.Index, mappedValue(finalSub, v))
		}
	}
	deleteBlocks(f, map[*ir.BasicBlock]bool{h: true, b: true})
}

// unrollPartially replicates the body in place so each pass of the
// loop covers factor iterations. Sound because the trip count divides
// evenly: the header test still hits its bound exactly.
func unrollPartially(f *ir.Function, h, b *ir.BasicBlock, phis, hTail []*ir.Instr, factor int64) {
	orig := append([]*ir.Instr(nil), b.Instrs()...)
	term := b.Terminator()

	cur := make(map[*ir.Instr]ir.Value, len(phis))
	for _, p := range phis {
		cur[p] = p.IncomingFor(b)
	}
	for r := int64(1); r < factor; r++ {
		sub := make(map[ir.Value]ir.Value)
		for _, p := range phis {
			sub[p] = cur[p]
		}
		// header helpers the body leans on advance with the replica
		for _, in := range hTail {
			c := cloneInstr(f, in, sub)
			b.InsertBefore(c, term)
			sub[in] = c
		}
		for _, in := range orig {
			if in == term {
				continue
			}
			c := cloneInstr(f, in, sub)
			b.InsertBefore(c, term)
			sub[in] = c
		}
		for _, p := range phis {
			cur[p] = mappedValue(sub, p.IncomingFor(b))
		}
	}
	for _, p := range phis {
		for i := 0; i < p.NumIncoming(); i++ {
			if _, blk := p.Incoming(i); blk == b {
				p.SetOperand(2*i, cur[p])
				break
			}
		}
	}
}
