package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("adce", runADCE)
}

// runADCE marks live instructions outward from the observable roots
// and erases everything left over. Unlike the plain sweep it removes
// cycles that only feed themselves, phi update chains in particular.
func runADCE(f *ir.Function, am *analysis.Manager) (bool, error) {
	se := am.SideEffects()
	live := make(map[*ir.Instr]bool)
	var work []*ir.Instr
	mark := func(in *ir.Instr) {
		if in != nil && !live[in] {
			live[in] = true
			work = append(work, in)
		}
	}

	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			switch in.Op {
			case ir.OpStore, ir.OpMemset, ir.OpRet, ir.OpBr, ir.OpCondBr:
				mark(in)
			case ir.OpCall:
				if !se.CallIsRemovable(in) {
					mark(in)
				}
			}
		}
	}

	for len(work) > 0 {
		in := work[len(work)-1]
		work = work[:len(work)-1]
		for _, op := range in.Operands() {
			if u, ok := op.(*ir.Instr); ok {
				mark(u)
			}
		}
		if in.Op == ir.OpPhi {
			for i := 0; i < in.NumIncoming(); i++ {
				_, p := in.Incoming(i)
				mark(p.Terminator())
			}
		}
	}

	var dead []*ir.Instr
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			if !live[in] {
				dead = append(dead, in)
			}
		}
	}
	if len(dead) == 0 {
		return false, nil
	}
	// dead cycles keep each other alive through their operand edges
	for _, in := range dead {
		in.DropAllOperands()
	}
	for _, in := range dead {
		in.Parent().Remove(in)
	}
	am.IndVarChanged(f)
	return true, nil
}
