package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("loopdivest", runLoopDivest)
}

// runLoopDivest rotates while-form loops into guarded do-while form:
// the exit test moves to the latch and a copy in the preheader guards
// the first entry. Each iteration then runs the body straight through
// with a single conditional branch at the bottom.
func runLoopDivest(f *ir.Function, am *analysis.Manager) (bool, error) {
	changed := false
	for {
		li := am.LoopInfo(f)
		rotated := false
		for _, l := range li.All() {
			if rotateLoop(f, l) {
				am.CFGChanged(f)
				rotated = true
				break
			}
		}
		if !rotated {
			break
		}
		changed = true
	}
	return changed, nil
}

func rotateLoop(f *ir.Function, l *analysis.Loop) bool {
	h := l.Header
	if !l.IsSimplified() {
		return false
	}
	ph, latch := l.Preheader(), l.Latch()
	if latch == h {
		return false
	}
	t := h.Terminator()
	if t == nil || t.Op != ir.OpCondBr {
		return false
	}
	tt := t.Operand(1).(*ir.BasicBlock)
	ft := t.Operand(2).(*ir.BasicBlock)
	var body, exit *ir.BasicBlock
	switch {
	case l.Contains(tt) && !l.Contains(ft):
		body, exit = tt, ft
	case l.Contains(ft) && !l.Contains(tt):
		body, exit = ft, tt
	default:
		return false
	}
	if body == h {
		return false
	}
	// exits other than the header would leave values without a merge
	// point dominating their uses
	if ex := l.ExitingBlocks(); len(ex) != 1 || ex[0] != h {
		return false
	}
	if lt := latch.Terminator(); lt == nil || lt.Op != ir.OpBr {
		return false
	}

	phis := append([]*ir.Instr(nil), h.Phis()...)
	var tail []*ir.Instr
	for _, in := range h.Instrs()[len(phis):] {
		if in == t {
			continue
		}
		if !isPureOp(in.Op) {
			return false
		}
		tail = append(tail, in)
	}

	phSub := make(map[ir.Value]ir.Value)
	ltSub := make(map[ir.Value]ir.Value)
	for _, p := range phis {
		phSub[p] = p.IncomingFor(ph)
		ltSub[p] = p.IncomingFor(latch)
	}
	for _, in := range tail {
		cp := cloneInstr(f, in, phSub)
		ph.InsertBefore(cp, ph.Terminator())
		phSub[in] = cp
		cl := cloneInstr(f, in, ltSub)
		latch.InsertBefore(cl, latch.Terminator())
		ltSub[in] = cl
	}

	// the guard and the rotated test keep the branch orientation
	cond := t.Operand(0)
	pt := ph.Terminator()
	ph.Erase(pt)
	ph.Append(ir.NewCondBr(mappedValue(phSub, cond), tt, ft))
	lbr := latch.Terminator()
	latch.Erase(lbr)
	latch.Append(ir.NewCondBr(mappedValue(ltSub, cond), tt, ft))

	// phi entries from h in the two successors become one entry per
	// new edge
	for _, s := range []*ir.BasicBlock{body, exit} {
		for _, phi := range s.Phis() {
			for i := 0; i < phi.NumIncoming(); i++ {
				if v, blk := phi.Incoming(i); blk == h {
					phi.RemoveIncoming(i)
					phi.AddIncoming(mappedValue(phSub, v), ph)
					phi.AddIncoming(mappedValue(ltSub, v), latch)
					break
				}
			}
		}
	}

	// remaining users of h-defined values merge the two versions at
	// the dominance frontier they sit behind
	hValues := make([]*ir.Instr, 0, len(phis)+len(tail))
	hValues = append(hValues, phis...)
	hValues = append(hValues, tail...)
	for _, v := range hValues {
		var bodyPhi, exitPhi *ir.Instr
		for _, u := range append([]*ir.Use(nil), v.Uses()...) {
			user := u.User
			if user.Parent() == nil || user.Parent() == h {
				continue
			}
			site := user.Parent()
			if user.Op == ir.OpPhi {
				site = user.Operand(u.Index + 1).(*ir.BasicBlock)
			}
			var np *ir.Instr
			if l.Contains(site) {
				if bodyPhi == nil {
					bodyPhi = mergePhi(f, body, v, phSub[v], ltSub[v], ph, latch)
				}
				np = bodyPhi
			} else {
				if exitPhi == nil {
					exitPhi = mergePhi(f, exit, v, phSub[v], ltSub[v], ph, latch)
				}
				np = exitPhi
			}
			user.SetOperand(u.Index, np)
		}
	}

	deleteBlocks(f, map[*ir.BasicBlock]bool{h: true})
	return true
}

func mergePhi(f *ir.Function, at *ir.BasicBlock, orig *ir.Instr, vPh, vLt ir.Value, ph, latch *ir.BasicBlock) *ir.Instr {
	np := ir.NewPhi(orig.Type())
	np.SetName(f.NextName(orig.Name() + "."))
	at.InsertAt(0, np)
	np.AddIncoming(vPh, ph)
	np.AddIncoming(vLt, latch)
	return np
}
