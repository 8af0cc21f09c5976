package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

// mappedValue looks v up in the substitution, falling back to v itself
func mappedValue(sub map[ir.Value]ir.Value, v ir.Value) ir.Value {
	if m := sub[v]; m != nil {
		return m
	}
	return v
}

// cloneInstr rebuilds in with every operand passed through sub. Phi
// clones come back empty; the caller adds incomings once the block
// mapping is settled. Block operands of terminators map through sub
// like any other value.
func cloneInstr(f *ir.Function, in *ir.Instr, sub map[ir.Value]ir.Value) *ir.Instr {
	get := func(v ir.Value) ir.Value { return mappedValue(sub, v) }
	var c *ir.Instr
	switch {
	case in.Op.IsBinary():
		c = ir.NewBinary(in.Op, get(in.Operand(0)), get(in.Operand(1)))
	case in.Op.IsCast():
		c = ir.NewCast(in.Op, get(in.Operand(0)), in.Type())
	case in.Op == ir.OpICmp:
		c = ir.NewICmp(in.Pred, get(in.Operand(0)), get(in.Operand(1)))
	case in.Op == ir.OpFCmp:
		c = ir.NewFCmp(in.Pred, get(in.Operand(0)), get(in.Operand(1)))
	case in.Op == ir.OpFNeg:
		c = ir.NewFNeg(get(in.Operand(0)))
	case in.Op == ir.OpGetElementPtr:
		ops := in.Operands()
		idx := make([]ir.Value, len(ops)-1)
		for i, v := range ops[1:] {
			idx[i] = get(v)
		}
		c = ir.NewGEP(get(ops[0]), idx...)
	case in.Op == ir.OpLoad:
		c = ir.NewLoad(get(in.Operand(0)))
	case in.Op == ir.OpStore:
		c = ir.NewStore(get(in.Operand(0)), get(in.Operand(1)))
	case in.Op == ir.OpMemset:
		c = ir.NewMemset(get(in.Operand(0)), in.Bytes)
	case in.Op == ir.OpAlloca:
		c = ir.NewAlloca(in.Allocated)
	case in.Op == ir.OpCall:
		args := make([]ir.Value, 0, in.NumOperands()-1)
		for _, a := range in.Args() {
			args = append(args, get(a))
		}
		c = ir.NewCall(in.Callee(), args...)
	case in.Op == ir.OpRet:
		if in.NumOperands() == 0 {
			c = ir.NewRet(nil)
		} else {
			c = ir.NewRet(get(in.Operand(0)))
		}
	case in.Op == ir.OpBr:
		c = ir.NewBr(get(in.Operand(0)).(*ir.BasicBlock))
	case in.Op == ir.OpCondBr:
		c = ir.NewCondBr(get(in.Operand(0)),
			get(in.Operand(1)).(*ir.BasicBlock),
			get(in.Operand(2)).(*ir.BasicBlock))
	case in.Op == ir.OpPhi:
		c = ir.NewPhi(in.Type())
	default:
		panic("cloning unhandled opcode " + in.Op.String())
	}
	if in.Name() != "" {
		c.SetName(f.NextName(in.Name() + "."))
	}
	return c
}

// cloneRegion copies blocks, remapping internal values and block
// references. blocks must come in dominance order so operand defs are
// cloned before their uses. Phi entries from predecessors outside the
// region are dropped; the caller wires those. The clones land after
// pos in layout order.
func cloneRegion(f *ir.Function, blocks []*ir.BasicBlock, pos *ir.BasicBlock) map[ir.Value]ir.Value {
	sub := make(map[ir.Value]ir.Value, len(blocks)*4)
	for _, b := range blocks {
		nb := f.NewBlockAfter(pos, f.NextName(b.Name()+"."))
		pos = nb
		sub[b] = nb
	}
	cloneBlockBodies(f, blocks, sub)
	return sub
}

// cloneBlocksInto replicates blocks at the end of dst, which may be a
// different function. Values already mapped in sub substitute for
// operands the region does not define.
func cloneBlocksInto(dst *ir.Function, blocks []*ir.BasicBlock, sub map[ir.Value]ir.Value) {
	for _, b := range blocks {
		sub[b] = dst.NewBlock(dst.NextName(b.Name() + "."))
	}
	cloneBlockBodies(dst, blocks, sub)
}

func cloneBlockBodies(f *ir.Function, blocks []*ir.BasicBlock, sub map[ir.Value]ir.Value) {
	inRegion := make(map[*ir.BasicBlock]bool, len(blocks))
	for _, b := range blocks {
		inRegion[b] = true
	}
	var phis [][2]*ir.Instr
	for _, b := range blocks {
		nb := sub[b].(*ir.BasicBlock)
		for _, in := range b.Instrs() {
			c := cloneInstr(f, in, sub)
			nb.Append(c)
			sub[in] = c
			if in.Op == ir.OpPhi {
				phis = append(phis, [2]*ir.Instr{in, c})
			}
		}
	}
	for _, pr := range phis {
		orig, c := pr[0], pr[1]
		for i := 0; i < orig.NumIncoming(); i++ {
			v, p := orig.Incoming(i)
			if inRegion[p] {
				c.AddIncoming(mappedValue(sub, v), sub[p].(*ir.BasicBlock))
			}
		}
	}
}

// domOrder lists the region blocks in dominator tree preorder
func domOrder(dom *analysis.DomTree, root *ir.BasicBlock, region map[*ir.BasicBlock]bool) []*ir.BasicBlock {
	var out []*ir.BasicBlock
	var walk func(*ir.BasicBlock)
	walk = func(b *ir.BasicBlock) {
		if !region[b] {
			return
		}
		out = append(out, b)
		for _, c := range dom.Children(b) {
			walk(c)
		}
	}
	walk(root)
	return out
}

func isPureOp(op ir.Opcode) bool {
	switch {
	case op.IsBinary(), op.IsCast():
		return true
	case op == ir.OpICmp, op == ir.OpFCmp, op == ir.OpFNeg, op == ir.OpGetElementPtr:
		return true
	}
	return false
}
