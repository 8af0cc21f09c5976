package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("dse", runDSE)
}

// runDSE erases a store overwritten by a later store through the same
// pointer with no possible read in between. Block-local: the window
// closes at loads, memsets and calls that may touch memory.
func runDSE(f *ir.Function, am *analysis.Manager) (bool, error) {
	se := am.SideEffects()
	changed := false
	for _, b := range f.Blocks() {
		pending := make(map[ir.Value]*ir.Instr)
		for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
			switch in.Op {
			case ir.OpStore:
				ptr := in.Operand(1)
				if prev := pending[ptr]; prev != nil {
					prev.Parent().Erase(prev)
					changed = true
				}
				pending[ptr] = in
			case ir.OpLoad, ir.OpMemset:
				pending = make(map[ir.Value]*ir.Instr)
			case ir.OpCall:
				eff := se.Of(in.Callee())
				if eff.Reads || eff.Writes {
					pending = make(map[ir.Value]*ir.Instr)
				}
			}
		}
	}
	return changed, nil
}
