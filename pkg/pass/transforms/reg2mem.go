package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("reg2mem", runReg2Mem)
}

// runReg2Mem demotes every value that crosses a block boundary to a
// stack slot, undoing promotion: the def stores, each distant use
// loads, and phis become stores on their incoming edges. Loop body
// extraction does not run this pass; it demotes only the values that
// escape the loop (demoteEscape).
func runReg2Mem(f *ir.Function, am *analysis.Manager) (bool, error) {
	var regs, phis []*ir.Instr
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			switch {
			case in.Op == ir.OpPhi:
				phis = append(phis, in)
			case in.Op == ir.OpAlloca:
			case crossesBlock(in):
				regs = append(regs, in)
			}
		}
	}
	for _, phi := range phis {
		demotePhi(f, phi)
	}
	for _, in := range regs {
		demoteReg(f, in)
	}
	if len(regs) > 0 || len(phis) > 0 {
		am.IndVarChanged(f)
		return true, nil
	}
	return false, nil
}

func crossesBlock(in *ir.Instr) bool {
	for _, u := range in.Uses() {
		if u.User.Op == ir.OpPhi || u.User.Parent() != in.Parent() {
			return true
		}
	}
	return false
}

func newSlot(f *ir.Function, of *ir.Instr) *ir.Instr {
	base := of.Name()
	if base == "" {
		base = "t"
	}
	slot := ir.NewAlloca(of.Type())
	slot.SetName(f.NextName(base + ".addr"))
	f.Entry().InsertAt(0, slot)
	return slot
}

func slotLoad(f *ir.Function, slot *ir.Instr, base string) *ir.Instr {
	ld := ir.NewLoad(slot)
	if base != "" {
		ld.SetName(f.NextName(base + "."))
	}
	return ld
}

// rerouteUse replaces one distant use with a fresh load from the slot.
// A phi use reads on its incoming edge, so the load sits at the bottom
// of that predecessor.
func rerouteUse(f *ir.Function, u *ir.Use, slot *ir.Instr, base string) {
	user := u.User
	ld := slotLoad(f, slot, base)
	if user.Op == ir.OpPhi {
		pred := user.Operand(u.Index + 1).(*ir.BasicBlock)
		pred.InsertBefore(ld, pred.Terminator())
	} else {
		user.Parent().InsertBefore(ld, user)
	}
	user.SetOperand(u.Index, ld)
}

func demotePhi(f *ir.Function, phi *ir.Instr) {
	slot := newSlot(f, phi)
	for i := 0; i < phi.NumIncoming(); i++ {
		v, pred := phi.Incoming(i)
		pred.InsertBefore(ir.NewStore(v, slot), pred.Terminator())
	}
	for _, u := range append([]*ir.Use(nil), phi.Uses()...) {
		rerouteUse(f, u, slot, phi.Name())
	}
	phi.Parent().Erase(phi)
}

func demoteReg(f *ir.Function, in *ir.Instr) {
	slot := newSlot(f, in)
	b := in.Parent()
	instrs := b.Instrs()
	st := ir.NewStore(in, slot)
	placed := false
	for i, x := range instrs {
		if x == in && i+1 < len(instrs) {
			b.InsertBefore(st, instrs[i+1])
			placed = true
			break
		}
	}
	if !placed {
		b.Append(st)
	}
	for _, u := range append([]*ir.Use(nil), in.Uses()...) {
		if u.User == st {
			continue
		}
		if u.User.Op != ir.OpPhi && u.User.Parent() == b {
			continue
		}
		rerouteUse(f, u, slot, in.Name())
	}
}
