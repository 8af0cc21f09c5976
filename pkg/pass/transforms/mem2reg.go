package transforms

import (
	"strings"

	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
	"sysycc/pkg/typing"
)

func init() {
	registerFunc("mem2reg", runMem2Reg)
}

// runMem2Reg promotes scalar stack slots to SSA values, placing phis
// on the iterated dominance frontier of the stores and renaming along
// the dominator tree
func runMem2Reg(f *ir.Function, am *analysis.Manager) (bool, error) {
	dom := am.DomTree(f)

	var slots []*ir.Instr
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			if in.Op == ir.OpAlloca && promotable(in) {
				slots = append(slots, in)
			}
		}
	}
	if len(slots) == 0 {
		return false, nil
	}

	// accesses in unreachable blocks never execute
	for _, a := range slots {
		for _, u := range append([]*ir.Use(nil), a.Uses()...) {
			if dom.Reachable(u.User.Parent()) {
				continue
			}
			switch u.User.Op {
			case ir.OpLoad:
				replaceAndErase(u.User, ir.NewUndef(u.User.Type()))
			case ir.OpStore:
				u.User.Parent().Erase(u.User)
			}
		}
	}

	phiSlot := make(map[*ir.Instr]*ir.Instr) // phi -> promoted alloca
	for _, a := range slots {
		placePhis(f, dom, a, phiSlot)
	}

	cur := make(map[*ir.Instr]ir.Value, len(slots))
	for _, a := range slots {
		cur[a] = ir.NewUndef(a.Allocated)
	}
	rename(f.Entry(), dom, cur, phiSlot)

	// paths from unreachable code still appear as predecessor edges
	for phi, a := range phiSlot {
		have := make(map[*ir.BasicBlock]int)
		for i := 0; i < phi.NumIncoming(); i++ {
			_, p := phi.Incoming(i)
			have[p]++
		}
		for _, p := range phi.Parent().Preds() {
			if have[p] > 0 {
				have[p]--
				continue
			}
			phi.AddIncoming(ir.NewUndef(a.Allocated), p)
		}
	}

	for _, a := range slots {
		a.Parent().Erase(a)
	}
	am.IndVarChanged(f)
	return true, nil
}

// promotable: scalar slot used only by loads and by stores that write
// through it, never as a stored value or a gep base
func promotable(a *ir.Instr) bool {
	if typing.IsArray(a.Allocated) {
		return false
	}
	for _, u := range a.Uses() {
		switch u.User.Op {
		case ir.OpLoad:
		case ir.OpStore:
			if u.Index != 1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func placePhis(f *ir.Function, dom *analysis.DomTree, a *ir.Instr, phiSlot map[*ir.Instr]*ir.Instr) {
	var work []*ir.BasicBlock
	defs := make(map[*ir.BasicBlock]bool)
	for _, u := range a.Uses() {
		if u.User.Op == ir.OpStore && !defs[u.User.Parent()] {
			defs[u.User.Parent()] = true
			work = append(work, u.User.Parent())
		}
	}
	placed := make(map[*ir.BasicBlock]bool)
	base := strings.TrimSuffix(a.Name(), ".addr")
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, df := range dom.Frontier(b) {
			if placed[df] {
				continue
			}
			placed[df] = true
			phi := ir.NewPhi(a.Allocated)
			phi.SetName(f.NextName(base + "."))
			df.InsertAt(0, phi)
			phiSlot[phi] = a
			if !defs[df] {
				defs[df] = true
				work = append(work, df)
			}
		}
	}
}

func rename(b *ir.BasicBlock, dom *analysis.DomTree, cur map[*ir.Instr]ir.Value, phiSlot map[*ir.Instr]*ir.Instr) {
	saved := make(map[*ir.Instr]ir.Value)
	record := func(a *ir.Instr) {
		if _, ok := saved[a]; !ok {
			saved[a] = cur[a]
		}
	}

	for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
		switch in.Op {
		case ir.OpPhi:
			if a, ok := phiSlot[in]; ok {
				record(a)
				cur[a] = in
			}
		case ir.OpLoad:
			if a, ok := asSlot(in.Operand(0), cur); ok {
				replaceAndErase(in, cur[a])
			}
		case ir.OpStore:
			if a, ok := asSlot(in.Operand(1), cur); ok {
				record(a)
				cur[a] = in.Operand(0)
				b.Erase(in)
			}
		}
	}
	// one incoming per edge: a two-way branch to the same block
	// contributes two entries
	for _, s := range b.Succs() {
		for _, phi := range s.Phis() {
			if a, ok := phiSlot[phi]; ok {
				phi.AddIncoming(cur[a], b)
			}
		}
	}
	for _, c := range dom.Children(b) {
		rename(c, dom, cur, phiSlot)
	}
	for a, v := range saved {
		cur[a] = v
	}
}

func asSlot(v ir.Value, cur map[*ir.Instr]ir.Value) (*ir.Instr, bool) {
	a, ok := v.(*ir.Instr)
	if !ok {
		return nil, false
	}
	_, promoted := cur[a]
	return a, promoted
}
