package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("constfold", runConstFold)
}

// runConstFold folds instructions over constant operands and applies
// the algebraic identities, sweeping until a fixpoint
func runConstFold(f *ir.Function, am *analysis.Manager) (bool, error) {
	changed := false
	for {
		n := 0
		for _, b := range f.Blocks() {
			for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
				if in.Parent() == nil {
					continue
				}
				v := constOf(in)
				if v == nil {
					v = simplified(in)
				}
				if v == nil || v == ir.Value(in) {
					continue
				}
				replaceAndErase(in, v)
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

// simplified reduces an instruction by operand identities, nil when no
// identity applies
func simplified(in *ir.Instr) ir.Value {
	if !in.Op.IsBinary() {
		return nil
	}
	x, y := in.Operand(0), in.Operand(1)
	switch in.Op {
	case ir.OpAdd:
		if ir.IsConstInt(x, 0) {
			return y
		}
		if ir.IsConstInt(y, 0) {
			return x
		}
	case ir.OpSub:
		if ir.IsConstInt(y, 0) {
			return x
		}
		if x == y {
			return ir.Zero(in.Type())
		}
	case ir.OpMul:
		if ir.IsConstInt(x, 1) {
			return y
		}
		if ir.IsConstInt(y, 1) {
			return x
		}
		if ir.IsConstInt(x, 0) || ir.IsConstInt(y, 0) {
			return ir.Zero(in.Type())
		}
	case ir.OpSDiv:
		if ir.IsConstInt(y, 1) {
			return x
		}
		if x == y {
			// x/x only safe when x is a nonzero constant
			if c, ok := x.(*ir.ConstantInt); ok && c.Value != 0 {
				return ir.NewConstInt(in.Type(), 1)
			}
		}
	case ir.OpSRem:
		if ir.IsConstInt(y, 1) {
			return ir.Zero(in.Type())
		}
	case ir.OpFAdd:
		if ir.IsConstFloat(x, 0) {
			return y
		}
		if ir.IsConstFloat(y, 0) {
			return x
		}
	case ir.OpFSub:
		if ir.IsConstFloat(y, 0) {
			return x
		}
	case ir.OpFMul:
		if ir.IsConstFloat(x, 1) {
			return y
		}
		if ir.IsConstFloat(y, 1) {
			return x
		}
	case ir.OpFDiv:
		if ir.IsConstFloat(y, 1) {
			return x
		}
	}
	return nil
}
