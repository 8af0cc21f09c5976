package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerModule("inline", runInline)
}

// inlineBudget caps the instruction count of an inlinable callee
const inlineBudget = 64

// runInline substitutes small non-recursive callees at their call
// sites. Callees go first in the traversal, so a chain of small
// functions collapses bottom-up and the size check always sees the
// callee's final form.
func runInline(m *ir.Module, am *analysis.Manager) (bool, error) {
	cg := am.CallGraph()
	changed := false
	for _, f := range cg.PostOrder() {
		if f.IsDecl() {
			continue
		}
		for {
			call := findInlinableCall(f, cg)
			if call == nil {
				break
			}
			inlineCall(f, call, am)
			am.CFGChanged(f)
			am.CallChanged()
			changed = true
		}
	}
	return changed, nil
}

func findInlinableCall(f *ir.Function, cg *analysis.CallGraph) *ir.Instr {
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			if in.Op == ir.OpCall && inlinable(f, in.Callee(), cg) {
				return in
			}
		}
	}
	return nil
}

func inlinable(caller, callee *ir.Function, cg *analysis.CallGraph) bool {
	if callee.IsDecl() || callee == caller {
		return false
	}
	if callee.HasAttr(ir.AttrBuiltin) || callee.HasAttr(ir.AttrLoopBody) || callee.HasAttr(ir.AttrParallelBody) {
		return false
	}
	if cg.IsRecursive(callee) || cg.SameSCC(caller, callee) {
		return false
	}
	return funcSize(callee) <= inlineBudget
}

func funcSize(f *ir.Function) int {
	n := 0
	for _, b := range f.Blocks() {
		n += len(b.Instrs())
	}
	return n
}

// inlineCall splices a clone of the callee between the two halves of
// the call block. Arguments substitute directly for parameters, each
// cloned ret becomes a branch to the tail, and a phi over the returned
// values stands in for the call.
func inlineCall(f *ir.Function, call *ir.Instr, am *analysis.Manager) {
	callee := call.Callee()
	b := call.Parent()
	idx := 0
	for i, in := range b.Instrs() {
		if in == call {
			idx = i
			break
		}
	}
	tail := b.SplitAt(idx, f.NextName(b.Name()+".split."))

	sub := make(map[ir.Value]ir.Value)
	for i, a := range callee.Args() {
		sub[a] = call.Args()[i]
	}
	dom := am.DomTree(callee)
	blocks := domOrder(dom, callee.Entry(), allBlocks(callee))
	cloneBlocksInto(f, blocks, sub)
	entry := sub[callee.Entry()].(*ir.BasicBlock)

	hoistAllocas(f, entry)
	b.ReplaceSuccessor(tail, entry)

	var retVals []ir.Value
	var retBlocks []*ir.BasicBlock
	for _, cb := range blocks {
		nb := sub[cb].(*ir.BasicBlock)
		t := nb.Terminator()
		if t == nil || t.Op != ir.OpRet {
			continue
		}
		if t.NumOperands() > 0 {
			retVals = append(retVals, t.Operand(0))
		}
		retBlocks = append(retBlocks, nb)
		nb.Erase(t)
		nb.Append(ir.NewBr(tail))
	}

	if ir.HasUses(call) {
		switch {
		case len(retVals) == 0:
			ir.ReplaceAllUsesWith(call, ir.NewUndef(call.Type()))
		case len(retVals) == 1:
			ir.ReplaceAllUsesWith(call, retVals[0])
		default:
			phi := ir.NewPhi(call.Type())
			phi.SetName(f.NextName(callee.Name() + ".ret."))
			for i, v := range retVals {
				phi.AddIncoming(v, retBlocks[i])
			}
			tail.InsertAt(0, phi)
			ir.ReplaceAllUsesWith(call, phi)
		}
	}
	tail.Erase(call)
}

func allBlocks(f *ir.Function) map[*ir.BasicBlock]bool {
	m := make(map[*ir.BasicBlock]bool, len(f.Blocks()))
	for _, b := range f.Blocks() {
		m[b] = true
	}
	return m
}

// hoistAllocas relocates slot allocations from the cloned entry into
// the caller's entry, so a call inside a loop does not grow the frame
// on every pass
func hoistAllocas(f *ir.Function, from *ir.BasicBlock) {
	if from == f.Entry() {
		return
	}
	for _, in := range append([]*ir.Instr(nil), from.Instrs()...) {
		if in.Op != ir.OpAlloca {
			continue
		}
		from.Remove(in)
		f.Entry().InsertAt(0, in)
	}
}
