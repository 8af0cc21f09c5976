package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("dle", runDLE)
}

// runDLE forwards stored values to later loads and merges repeated
// loads through the same pointer. Block-local: any write that might
// alias clears the window.
func runDLE(f *ir.Function, am *analysis.Manager) (bool, error) {
	se := am.SideEffects()
	changed := false
	for _, b := range f.Blocks() {
		avail := make(map[ir.Value]ir.Value)
		for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
			switch in.Op {
			case ir.OpLoad:
				ptr := in.Operand(0)
				if v := avail[ptr]; v != nil {
					replaceAndErase(in, v)
					changed = true
					continue
				}
				avail[ptr] = in
			case ir.OpStore:
				avail = map[ir.Value]ir.Value{in.Operand(1): in.Operand(0)}
			case ir.OpMemset:
				avail = make(map[ir.Value]ir.Value)
			case ir.OpCall:
				if se.WritesMemory(in.Callee()) {
					avail = make(map[ir.Value]ir.Value)
				}
			}
		}
	}
	if changed {
		am.IndVarChanged(f)
	}
	return changed, nil
}
