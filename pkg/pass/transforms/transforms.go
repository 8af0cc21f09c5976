// Package transforms holds the optimization passes. Each pass
// registers itself under its pipeline name; importing the package is
// enough to populate the registry.
package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
	"sysycc/pkg/pass"
)

type funcPass struct {
	name string
	run  func(*ir.Function, *analysis.Manager) (bool, error)
}

func (p *funcPass) Name() string { return p.name }

func (p *funcPass) RunFunc(f *ir.Function, am *analysis.Manager) (bool, error) {
	return p.run(f, am)
}

func registerFunc(name string, run func(*ir.Function, *analysis.Manager) (bool, error)) {
	pass.Register(name, func() pass.Pass { return &funcPass{name: name, run: run} })
}

type modulePass struct {
	name string
	run  func(*ir.Module, *analysis.Manager) (bool, error)
}

func (p *modulePass) Name() string { return p.name }

func (p *modulePass) RunModule(m *ir.Module, am *analysis.Manager) (bool, error) {
	return p.run(m, am)
}

func registerModule(name string, run func(*ir.Module, *analysis.Manager) (bool, error)) {
	pass.Register(name, func() pass.Pass { return &modulePass{name: name, run: run} })
}

// replaceAndErase rewires every use of in to v and removes in
func replaceAndErase(in *ir.Instr, v ir.Value) {
	ir.ReplaceAllUsesWith(in, v)
	in.Parent().Erase(in)
}

// deleteBlocks destroys a set of blocks wholesale: successor phis lose
// the incoming edges first, then every operand edge is dropped so uses
// between doomed blocks do not keep each other alive
func deleteBlocks(f *ir.Function, doomed map[*ir.BasicBlock]bool) {
	for b := range doomed {
		t := b.Terminator()
		if t == nil {
			continue
		}
		for _, s := range t.Succs() {
			if !doomed[s] {
				removePhiEdges(s, b)
			}
		}
	}
	for b := range doomed {
		// unlink the terminator while its block operands still name the
		// successors whose predecessor lists it feeds
		if t := b.Terminator(); t != nil {
			b.Remove(t)
			t.DropAllOperands()
		}
		for _, in := range b.Instrs() {
			in.DropAllOperands()
		}
	}
	for b := range doomed {
		for _, in := range b.Instrs() {
			if ir.HasUses(in) {
				ir.ReplaceAllUsesWith(in, ir.NewUndef(in.Type()))
			}
		}
		for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
			b.Remove(in)
		}
		f.RemoveBlock(b)
	}
}

// removePhiEdges drops pred's incoming entries from every phi in b
func removePhiEdges(b, pred *ir.BasicBlock) {
	for _, phi := range b.Phis() {
		for i := 0; i < phi.NumIncoming(); {
			if _, in := phi.Incoming(i); in == pred {
				phi.RemoveIncoming(i)
			} else {
				i++
			}
		}
	}
}

// retargetPhis renames the incoming block old to new in every phi of b
func retargetPhis(b, old, new *ir.BasicBlock) {
	for _, phi := range b.Phis() {
		for i := 0; i < phi.NumIncoming(); i++ {
			if _, in := phi.Incoming(i); in == old {
				phi.SetOperand(2*i+1, new)
			}
		}
	}
}

// constOf returns the instruction's folded constant value, nil when
// the operands do not fold
func constOf(in *ir.Instr) ir.Value {
	switch {
	case in.Op.IsBinary():
		return ir.FoldBinary(in.Op, in.Operand(0), in.Operand(1))
	case in.Op == ir.OpICmp:
		return ir.FoldICmp(in.Pred, in.Operand(0), in.Operand(1))
	case in.Op == ir.OpFCmp:
		return ir.FoldFCmp(in.Pred, in.Operand(0), in.Operand(1))
	case in.Op == ir.OpFNeg:
		if c, ok := in.Operand(0).(*ir.ConstantFloat); ok {
			return ir.NewConstFloat(in.Type(), -c.Value)
		}
	case in.Op.IsCast():
		return ir.FoldCast(in.Op, in.Operand(0), in.Type())
	case in.Op == ir.OpPhi:
		return foldPhi(in)
	}
	return nil
}

// foldPhi returns the single distinct incoming value, nil when the phi
// really merges. Self references do not count.
func foldPhi(phi *ir.Instr) ir.Value {
	var only ir.Value
	for i := 0; i < phi.NumIncoming(); i++ {
		v, _ := phi.Incoming(i)
		if v == ir.Value(phi) {
			continue
		}
		if only != nil && only != v {
			return nil
		}
		only = v
	}
	return only
}
