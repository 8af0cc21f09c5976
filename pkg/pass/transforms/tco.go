package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("tco", runTCO)
}

// runTCO turns self calls in tail position into jumps. The old entry
// becomes a loop header with one phi per parameter and each call site
// branches back with its arguments on the edge; a fresh entry block
// keeps the header reachable only through the loop.
func runTCO(f *ir.Function, am *analysis.Manager) (bool, error) {
	sites := tailCallSites(f)
	if len(sites) == 0 {
		return false, nil
	}

	header := f.Entry()
	entry := f.NewBlock(f.NextName("entry."))
	order := append([]*ir.BasicBlock{entry}, f.Blocks()[:len(f.Blocks())-1]...)
	f.SetBlockOrder(order)
	hoistAllocas(f, header)
	entry.Append(ir.NewBr(header))

	phis := make([]*ir.Instr, len(f.Args()))
	for i, a := range f.Args() {
		phi := ir.NewPhi(a.Type())
		phi.SetName(f.NextName(a.Name() + "."))
		header.InsertAt(i, phi)
		phis[i] = phi
		ir.ReplaceAllUsesWith(a, phi)
		phi.AddIncoming(a, entry)
	}
	for _, s := range sites {
		for i, v := range s.call.Args() {
			phis[i].AddIncoming(v, s.block)
		}
	}
	for _, s := range sites {
		t := s.block.Terminator()
		if t.Op == ir.OpBr {
			removePhiEdges(t.Operand(0).(*ir.BasicBlock), s.block)
		}
		s.block.Erase(t)
		s.block.Erase(s.call)
		s.block.Append(ir.NewBr(header))
	}

	am.CFGChanged(f)
	return true, nil
}

type tailSite struct {
	block *ir.BasicBlock
	call  *ir.Instr
}

// tailCallSites finds blocks whose last real action is a self call
// that the function immediately returns. The common shape branches to
// the shared return block with the call feeding its phi; a direct
// call-then-ret pair counts too.
func tailCallSites(f *ir.Function) []tailSite {
	var out []tailSite
	for _, b := range f.Blocks() {
		instrs := b.Instrs()
		if len(instrs) < 2 {
			continue
		}
		t := instrs[len(instrs)-1]
		call := instrs[len(instrs)-2]
		if call.Op != ir.OpCall || call.Callee() != f {
			continue
		}
		switch t.Op {
		case ir.OpRet:
			if t.NumOperands() == 1 {
				if t.Operand(0) != ir.Value(call) || len(call.Uses()) != 1 {
					continue
				}
			} else if ir.HasUses(call) {
				continue
			}
		case ir.OpBr:
			if !tailReturns(b, call, t.Operand(0).(*ir.BasicBlock)) {
				continue
			}
		default:
			continue
		}
		out = append(out, tailSite{block: b, call: call})
	}
	return out
}

// tailReturns reports whether exit does nothing but return, with the
// call's value arriving through the returned phi on b's edge
func tailReturns(b *ir.BasicBlock, call *ir.Instr, exit *ir.BasicBlock) bool {
	ret := exit.Terminator()
	if ret == nil || ret.Op != ir.OpRet || exit.FirstNonPhi() != len(exit.Instrs())-1 {
		return false
	}
	if ret.NumOperands() == 0 {
		return !ir.HasUses(call)
	}
	phi, ok := ret.Operand(0).(*ir.Instr)
	if !ok || phi.Op != ir.OpPhi || phi.Parent() != exit {
		return false
	}
	return phi.IncomingFor(b) == ir.Value(call) && len(call.Uses()) == 1
}
