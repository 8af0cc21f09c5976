package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
	"sysycc/pkg/typing"
)

func init() {
	registerFunc("loopparallel", runLoopParallel)
}

// runLoopParallel hands counted loops whose iterations touch disjoint
// memory to the runtime: the body moves into an outlined function and
// one __parallel_for call carves [beg, end) into worker subranges.
// Outer loops come first in the scan, so a parallelizable nest runs
// its whole inner part inside each worker.
func runLoopParallel(f *ir.Function, am *analysis.Manager) (bool, error) {
	if f.HasAttr(ir.AttrLoopBody) || f.HasAttr(ir.AttrParallelBody) {
		return false, nil
	}
	changed := false
	for {
		li := am.LoopInfo(f)
		ii := am.IndVars(f)
		di := am.Dependence(f)
		dom := am.DomTree(f)
		done := true
		for _, l := range li.All() {
			if parallelizeLoop(f, l, ii, di, dom) {
				am.CFGChanged(f)
				am.CallChanged()
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

func parallelizeLoop(f *ir.Function, l *analysis.Loop, ii *analysis.IndVarInfo, di *analysis.DependenceInfo, dom *analysis.DomTree) bool {
	bound, exit, ok := outlineShape(l, ii)
	if !ok {
		return false
	}
	h := l.Header
	// a second header phi is a value carried from one iteration to the
	// next, which no partitioning of the range can honor
	if phis := h.Phis(); len(phis) != 1 || phis[0] != bound.IV.Phi {
		return false
	}
	for _, phi := range exit.Phis() {
		if phi.NumIncoming() != 1 {
			return false
		}
	}
	// nothing computed inside may be read after the loop: workers run
	// out of order and only their memory effects remain
	for _, b := range loopBlocksInLayout(l) {
		for _, in := range b.Instrs() {
			for _, u := range in.Uses() {
				p := u.User.Parent()
				if p == nil || l.Contains(p) {
					continue
				}
				if p == exit && u.User.Op == ir.OpPhi && !ir.HasUses(u.User) {
					continue
				}
				return false
			}
		}
	}
	if !di.IterationsIndependent(l) {
		return false
	}

	pruneExitPhis(exit)
	name := f.NextName(f.Name() + ".par.")
	nf := outlineLoop(f, l, bound, exit, dom, name, ir.AttrParallelBody)

	pf := f.Module().Func(ir.ParallelForName)
	ph := l.Preheader()
	fp := ir.NewCast(ir.OpBitCast, nf, typing.Pointer(nf.Sig()))
	fp.SetName(f.NextName("par.fp."))
	ph.InsertBefore(fp, ph.Terminator())
	call := ir.NewCall(pf, bound.IV.Start, bound.End, fp)
	ph.InsertBefore(call, ph.Terminator())
	replaceLoopWithCall(f, l, h, exit, ph)
	return true
}
