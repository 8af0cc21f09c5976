package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("dce", runDCE)
}

// runDCE erases instructions whose results are unused, iterating until
// no erase exposes another dead instruction
func runDCE(f *ir.Function, am *analysis.Manager) (bool, error) {
	se := am.SideEffects()
	changed := false
	for {
		n := 0
		for _, b := range f.Blocks() {
			for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
				if ir.HasUses(in) || !erasable(in, se) {
					continue
				}
				b.Erase(in)
				n++
			}
		}
		if n == 0 {
			break
		}
		changed = true
	}
	if changed {
		am.IndVarChanged(f)
	}
	return changed, nil
}

func erasable(in *ir.Instr, se *analysis.SideEffects) bool {
	switch in.Op {
	case ir.OpStore, ir.OpMemset, ir.OpRet, ir.OpBr, ir.OpCondBr:
		return false
	case ir.OpCall:
		return se.CallIsRemovable(in)
	}
	return true
}
