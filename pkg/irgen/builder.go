// Package irgen lowers the SysY AST to SSA IR.
package irgen

import (
	"sysycc/pkg/ir"
	"sysycc/pkg/typing"
)

// Builder holds an insertion point and the control-flow context needed
// while lowering: loop header/exit stacks for break and continue, and
// true/false target stacks for short-circuit conditions. Instruction
// factories fold constant operands instead of emitting code.
type Builder struct {
	fn    *ir.Function
	block *ir.BasicBlock

	loopHeaders []*ir.BasicBlock
	loopExits   []*ir.BasicBlock

	trueTargets  []*ir.BasicBlock
	falseTargets []*ir.BasicBlock
}

// NewBuilder returns a builder with no insertion point
func NewBuilder() *Builder { return &Builder{} }

// SetFunc points the builder at a function
func (b *Builder) SetFunc(f *ir.Function) {
	b.fn = f
	b.block = nil
}

// Func returns the current function
func (b *Builder) Func() *ir.Function { return b.fn }

// SetInsertPoint makes subsequent instructions append to blk
func (b *Builder) SetInsertPoint(blk *ir.BasicBlock) { b.block = blk }

// Block returns the current insertion block
func (b *Builder) Block() *ir.BasicBlock { return b.block }

// Terminated reports whether the insertion block already ends in a
// terminator
func (b *Builder) Terminated() bool {
	return b.block != nil && b.block.Terminator() != nil
}

// PushLoop enters a loop: continue targets header, break targets exit
func (b *Builder) PushLoop(header, exit *ir.BasicBlock) {
	b.loopHeaders = append(b.loopHeaders, header)
	b.loopExits = append(b.loopExits, exit)
}

// PopLoop leaves the innermost loop
func (b *Builder) PopLoop() {
	b.loopHeaders = b.loopHeaders[:len(b.loopHeaders)-1]
	b.loopExits = b.loopExits[:len(b.loopExits)-1]
}

// LoopHeader returns the innermost continue target, nil outside loops
func (b *Builder) LoopHeader() *ir.BasicBlock {
	if len(b.loopHeaders) == 0 {
		return nil
	}
	return b.loopHeaders[len(b.loopHeaders)-1]
}

// LoopExit returns the innermost break target, nil outside loops
func (b *Builder) LoopExit() *ir.BasicBlock {
	if len(b.loopExits) == 0 {
		return nil
	}
	return b.loopExits[len(b.loopExits)-1]
}

// PushTargets enters a condition context with the given branch targets
func (b *Builder) PushTargets(ifTrue, ifFalse *ir.BasicBlock) {
	b.trueTargets = append(b.trueTargets, ifTrue)
	b.falseTargets = append(b.falseTargets, ifFalse)
}

// PopTargets leaves the innermost condition context
func (b *Builder) PopTargets() {
	b.trueTargets = b.trueTargets[:len(b.trueTargets)-1]
	b.falseTargets = b.falseTargets[:len(b.falseTargets)-1]
}

// TrueTarget returns the innermost branch-on-true block
func (b *Builder) TrueTarget() *ir.BasicBlock {
	return b.trueTargets[len(b.trueTargets)-1]
}

// FalseTarget returns the innermost branch-on-false block
func (b *Builder) FalseTarget() *ir.BasicBlock {
	return b.falseTargets[len(b.falseTargets)-1]
}

// Insert appends in at the insertion point
func (b *Builder) Insert(in *ir.Instr) *ir.Instr {
	b.block.Append(in)
	return in
}

func (b *Builder) Alloca(t typing.Type, name string) *ir.Instr {
	in := ir.NewAlloca(t)
	in.SetName(name)
	// allocas live in the entry block so promotion sees them
	entry := b.fn.Entry()
	if term := entry.Terminator(); term != nil {
		entry.InsertBefore(in, term)
	} else {
		entry.Append(in)
	}
	return in
}

func (b *Builder) Load(ptr ir.Value) ir.Value {
	return b.Insert(ir.NewLoad(ptr))
}

func (b *Builder) Store(v, ptr ir.Value) *ir.Instr {
	return b.Insert(ir.NewStore(v, ptr))
}

func (b *Builder) GEP(base ir.Value, indices ...ir.Value) ir.Value {
	return b.Insert(ir.NewGEP(base, indices...))
}

func (b *Builder) Memset(ptr ir.Value, n int) *ir.Instr {
	return b.Insert(ir.NewMemset(ptr, n))
}

func (b *Builder) Ret(v ir.Value) *ir.Instr {
	return b.Insert(ir.NewRet(v))
}

func (b *Builder) Br(target *ir.BasicBlock) *ir.Instr {
	return b.Insert(ir.NewBr(target))
}

func (b *Builder) CondBr(cond ir.Value, ifTrue, ifFalse *ir.BasicBlock) *ir.Instr {
	if c, ok := cond.(*ir.ConstantBool); ok {
		if c.Value {
			return b.Br(ifTrue)
		}
		return b.Br(ifFalse)
	}
	return b.Insert(ir.NewCondBr(cond, ifTrue, ifFalse))
}

func (b *Builder) Call(callee *ir.Function, args ...ir.Value) ir.Value {
	return b.Insert(ir.NewCall(callee, args...))
}

func (b *Builder) Phi(t typing.Type, name string) *ir.Instr {
	phi := ir.NewPhi(t)
	phi.SetName(name)
	b.block.InsertAt(b.block.FirstNonPhi(), phi)
	return phi
}

// Binary emits an arithmetic instruction, folding constant operands
func (b *Builder) Binary(op ir.Opcode, x, y ir.Value) ir.Value {
	if folded := ir.FoldBinary(op, x, y); folded != nil {
		return folded
	}
	return b.Insert(ir.NewBinary(op, x, y))
}

func (b *Builder) ICmp(p ir.CmpPred, x, y ir.Value) ir.Value {
	if folded := ir.FoldICmp(p, x, y); folded != nil {
		return folded
	}
	return b.Insert(ir.NewICmp(p, x, y))
}

func (b *Builder) FCmp(p ir.CmpPred, x, y ir.Value) ir.Value {
	if folded := ir.FoldFCmp(p, x, y); folded != nil {
		return folded
	}
	return b.Insert(ir.NewFCmp(p, x, y))
}

func (b *Builder) FNeg(x ir.Value) ir.Value {
	if c, ok := x.(*ir.ConstantFloat); ok {
		return ir.NewConstFloat(c.Type(), -c.Value)
	}
	return b.Insert(ir.NewFNeg(x))
}

func (b *Builder) Cast(op ir.Opcode, x ir.Value, to typing.Type) ir.Value {
	if folded := ir.FoldCast(op, x, to); folded != nil {
		return folded
	}
	return b.Insert(ir.NewCast(op, x, to))
}

// Promote converts v to target, emitting casts only when needed
func (b *Builder) Promote(v ir.Value, target typing.Type) ir.Value {
	t := v.Type()
	if typing.Same(t, target) {
		return v
	}
	switch {
	case typing.IsBool(t) && typing.IsInt(target):
		return b.Cast(ir.OpZExt, v, target)
	case typing.IsBool(t) && typing.IsFloat(target):
		return b.Cast(ir.OpSIToFP, b.Cast(ir.OpZExt, v, typing.I32()), target)
	case typing.IsInt(t) && typing.IsFloat(target):
		return b.Cast(ir.OpSIToFP, v, target)
	case typing.IsFloat(t) && typing.IsInt(target):
		return b.Cast(ir.OpFPToSI, v, target)
	case typing.IsI32(t) && typing.IsI64(target):
		return b.Cast(ir.OpSExt, v, target)
	case typing.IsI64(t) && typing.IsI32(target):
		return b.Cast(ir.OpTrunc, v, target)
	}
	panic(&TypeError{Msg: "cannot convert " + t.String() + " to " + target.String()})
}

// CastToBool reduces v to an i1 by comparing against zero
func (b *Builder) CastToBool(v ir.Value) ir.Value {
	t := v.Type()
	switch {
	case typing.IsBool(t):
		return v
	case typing.IsFloat(t):
		return b.FCmp(ir.PredNE, v, ir.NewConstFloat(t, 0))
	case typing.IsInt(t):
		return b.ICmp(ir.PredNE, v, ir.NewConstInt(t, 0))
	}
	panic(&TypeError{Msg: "cannot use " + t.String() + " as a condition"})
}
