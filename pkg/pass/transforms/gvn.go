package transforms

import (
	"fmt"
	"strings"

	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("gvn", runGVN)
}

// runGVN numbers pure expressions along the dominator tree: an
// instruction keyed the same as a dominating one is replaced by it.
// Commutative operands and comparison orientation are canonicalized so
// a+b meets b+a.
func runGVN(f *ir.Function, am *analysis.Manager) (bool, error) {
	if f.Entry() == nil {
		return false, nil
	}
	g := &gvnState{table: make(map[string]ir.Value)}
	changed := g.walk(f.Entry(), am.DomTree(f))
	if changed {
		am.IndVarChanged(f)
	}
	return changed, nil
}

type gvnState struct {
	table map[string]ir.Value
}

func (g *gvnState) walk(b *ir.BasicBlock, dom *analysis.DomTree) bool {
	var added []string
	changed := false
	for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
		if in.Op == ir.OpAdd && in.Operand(0) == in.Operand(1) {
			in.Op = ir.OpMul
			in.SetOperand(1, ir.NewConstInt(in.Type(), 2))
			changed = true
		}
		if c := constOf(in); c != nil {
			replaceAndErase(in, c)
			changed = true
			continue
		}
		if v := simplified(in); v != nil {
			replaceAndErase(in, v)
			changed = true
			continue
		}
		k, ok := gvnKey(in)
		if !ok {
			continue
		}
		if prev, hit := g.table[k]; hit {
			replaceAndErase(in, prev)
			changed = true
			continue
		}
		g.table[k] = in
		added = append(added, k)
	}
	for _, c := range dom.Children(b) {
		if g.walk(c, dom) {
			changed = true
		}
	}
	for _, k := range added {
		delete(g.table, k)
	}
	return changed
}

// gvnKey builds the value number for numerable instructions. Memory
// operations, calls and phis never number: their value depends on more
// than the operands.
func gvnKey(in *ir.Instr) (string, bool) {
	switch {
	case in.Op.IsBinary(), in.Op.IsCast():
	case in.Op == ir.OpICmp, in.Op == ir.OpFCmp:
	case in.Op == ir.OpFNeg, in.Op == ir.OpGetElementPtr:
	default:
		return "", false
	}
	ks := make([]string, in.NumOperands())
	for i := range ks {
		ks[i] = valueKey(in.Operand(i))
	}
	pred := in.Pred
	if in.Op.IsCommutative() && ks[1] < ks[0] {
		ks[0], ks[1] = ks[1], ks[0]
	}
	if (in.Op == ir.OpICmp || in.Op == ir.OpFCmp) && ks[1] < ks[0] {
		ks[0], ks[1] = ks[1], ks[0]
		pred = pred.Swapped()
	}
	return fmt.Sprintf("%d|%d|%s|%s", in.Op, pred, strings.Join(ks, "|"), in.Type()), true
}

// valueKey identifies a value: constants by contents so distinct nodes
// of the same constant collide, everything else by node identity
func valueKey(v ir.Value) string {
	switch c := v.(type) {
	case *ir.ConstantInt:
		return fmt.Sprintf("i%s:%d", c.Type(), c.Value)
	case *ir.ConstantFloat:
		return fmt.Sprintf("f%s:%x", c.Type(), c.Value)
	case *ir.ConstantBool:
		return fmt.Sprintf("b:%t", c.Value)
	}
	return fmt.Sprintf("v:%p", v)
}
