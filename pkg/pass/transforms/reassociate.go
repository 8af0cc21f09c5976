package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("reassociate", runReassociate)
}

// runReassociate canonicalizes integer arithmetic so later numbering
// and folding see through it: constants move to the right, subtraction
// of a constant becomes addition, and constant chains collapse
func runReassociate(f *ir.Function, am *analysis.Manager) (bool, error) {
	changed := false
	for _, b := range f.Blocks() {
		for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
			if in.Parent() == nil || !in.Op.IsBinary() {
				continue
			}
			if canonicalize(in) {
				changed = true
			}
			if combineConstChain(in) {
				changed = true
			}
		}
	}
	if changed {
		am.IndVarChanged(f)
	}
	return changed, nil
}

func canonicalize(in *ir.Instr) bool {
	if in.Op == ir.OpSub {
		c, ok := in.Operand(1).(*ir.ConstantInt)
		if !ok {
			return false
		}
		in.Op = ir.OpAdd
		in.SetOperand(1, ir.NewConstInt(c.Type(), -c.Value))
		return true
	}
	if !in.Op.IsCommutative() {
		return false
	}
	x, y := in.Operand(0), in.Operand(1)
	if !isConstVal(x) || isConstVal(y) {
		return false
	}
	in.SetOperand(0, y)
	in.SetOperand(1, x)
	return true
}

// combineConstChain folds (x op c1) op c2 into x op (c1 op c2) for
// integer add and mul. Float chains keep their order: regrouping
// changes rounding.
func combineConstChain(in *ir.Instr) bool {
	if in.Op != ir.OpAdd && in.Op != ir.OpMul {
		return false
	}
	c2, ok := in.Operand(1).(*ir.ConstantInt)
	if !ok {
		return false
	}
	inner, ok := in.Operand(0).(*ir.Instr)
	if !ok || inner.Op != in.Op {
		return false
	}
	c1, ok := inner.Operand(1).(*ir.ConstantInt)
	if !ok {
		return false
	}
	folded := ir.FoldBinary(in.Op, c1, c2)
	if folded == nil {
		return false
	}
	in.SetOperand(0, inner.Operand(0))
	in.SetOperand(1, folded)
	if !ir.HasUses(inner) {
		inner.Parent().Erase(inner)
	}
	return true
}

func isConstVal(v ir.Value) bool {
	_, ok := v.(ir.Constant)
	return ok
}
