package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("licm", runLICM)
}

// runLICM hoists loop-invariant computation into the preheader, inner
// loops before outer so hoisted code keeps moving outward
func runLICM(f *ir.Function, am *analysis.Manager) (bool, error) {
	dom := am.DomTree(f)
	li := am.LoopInfo(f)
	se := am.SideEffects()
	changed := false
	loops := li.All()
	for i := len(loops) - 1; i >= 0; i-- {
		if hoistLoop(loops[i], dom, se) {
			changed = true
		}
	}
	if changed {
		am.IndVarChanged(f)
	}
	return changed, nil
}

func hoistLoop(l *analysis.Loop, dom *analysis.DomTree, se *analysis.SideEffects) bool {
	ph := l.Preheader()
	if ph == nil {
		return false
	}
	memStable := loopMemStable(l, se)
	exiting := l.ExitingBlocks()
	changed := false
	for {
		n := 0
		for _, b := range loopBlocksInLayout(l) {
			for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
				if !hoistable(in, l, memStable) {
					continue
				}
				// a divide must not run on iterations the source skips
				if (in.Op == ir.OpSDiv || in.Op == ir.OpSRem) && !dominatesAll(dom, b, exiting) {
					continue
				}
				b.Remove(in)
				ph.InsertBefore(in, ph.Terminator())
				n++
			}
		}
		if n == 0 {
			break
		}
		changed = true
	}
	return changed
}

func hoistable(in *ir.Instr, l *analysis.Loop, memStable bool) bool {
	switch {
	case in.Op.IsBinary(), in.Op.IsCast():
	case in.Op == ir.OpFNeg, in.Op == ir.OpGetElementPtr:
	case in.Op == ir.OpICmp, in.Op == ir.OpFCmp:
	case in.Op == ir.OpLoad:
		if !memStable {
			return false
		}
	default:
		return false
	}
	for _, op := range in.Operands() {
		if !invariantValue(op, l) {
			return false
		}
	}
	return true
}

func invariantValue(v ir.Value, l *analysis.Loop) bool {
	in, ok := v.(*ir.Instr)
	if !ok {
		return true
	}
	return in.Parent() == nil || !l.Contains(in.Parent())
}

// loopMemStable reports whether nothing in the loop can write memory,
// making any load with an invariant address invariant itself
func loopMemStable(l *analysis.Loop, se *analysis.SideEffects) bool {
	for _, b := range loopBlocksInLayout(l) {
		for _, in := range b.Instrs() {
			switch in.Op {
			case ir.OpStore, ir.OpMemset:
				return false
			case ir.OpCall:
				if se.WritesMemory(in.Callee()) {
					return false
				}
			}
		}
	}
	return true
}

func loopBlocksInLayout(l *analysis.Loop) []*ir.BasicBlock {
	var out []*ir.BasicBlock
	for _, b := range l.Header.Parent().Blocks() {
		if l.Contains(b) {
			out = append(out, b)
		}
	}
	return out
}

func dominatesAll(dom *analysis.DomTree, b *ir.BasicBlock, over []*ir.BasicBlock) bool {
	for _, x := range over {
		if !dom.Dominates(b, x) {
			return false
		}
	}
	return true
}
