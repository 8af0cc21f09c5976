// Package lldump renders the compiler's IR as LLVM assembly. The
// conversion targets the llir/llvm object model, so the output parses
// with standard LLVM tooling.
package lldump

import (
	"fmt"

	lir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
	"sysycc/pkg/typing"
)

// Dump converts m and prints it in LLVM textual syntax
func Dump(m *ir.Module) string {
	return Convert(m).String()
}

// Convert rebuilds m as an llir module
func Convert(m *ir.Module) *lir.Module {
	c := &converter{
		out:     lir.NewModule(),
		funcs:   make(map[*ir.Function]*lir.Func),
		globals: make(map[*ir.Global]*lir.Global),
	}
	for _, g := range m.Globals() {
		c.globals[g] = c.out.NewGlobalDef(g.Name(), globalInit(g))
	}
	for _, f := range m.Funcs() {
		c.declareFunc(f)
	}
	for _, f := range m.Funcs() {
		if !f.IsDecl() {
			c.emitFunc(f)
		}
	}
	return c.out
}

type converter struct {
	out     *lir.Module
	funcs   map[*ir.Function]*lir.Func
	globals map[*ir.Global]*lir.Global
	memset  *lir.Func

	// per function
	vals   map[ir.Value]value.Value
	blocks map[*ir.BasicBlock]*lir.Block
}

func (c *converter) declareFunc(f *ir.Function) {
	sig := f.Sig()
	params := make([]*lir.Param, len(sig.Params))
	for i, pt := range sig.Params {
		params[i] = lir.NewParam(f.Args()[i].Name(), convType(pt))
	}
	c.funcs[f] = c.out.NewFunc(f.Name(), convType(sig.Ret), params...)
}

// emitFunc fills in one function body. Blocks keep their layout order;
// instructions are created along the dominator tree so operands exist
// before their uses, with phis stubbed up front and wired last.
func (c *converter) emitFunc(f *ir.Function) {
	lf := c.funcs[f]
	c.vals = make(map[ir.Value]value.Value)
	c.blocks = make(map[*ir.BasicBlock]*lir.Block)
	for i, a := range f.Args() {
		c.vals[a] = lf.Params[i]
	}
	for _, b := range f.Blocks() {
		c.blocks[b] = lf.NewBlock(b.Name())
	}

	dom := analysis.ComputeDomTree(f)
	for _, b := range f.Blocks() {
		if !dom.Reachable(b) {
			continue
		}
		lb := c.blocks[b]
		for _, phi := range b.Phis() {
			// built directly: llir's NewPhi infers the type from the
			// first incoming, and there is none yet
			lp := &lir.InstPhi{Typ: convType(phi.Type())}
			lb.Insts = append(lb.Insts, lp)
			if phi.Name() != "" {
				lp.SetName(phi.Name())
			}
			c.vals[phi] = lp
		}
	}

	var walk func(b *ir.BasicBlock)
	walk = func(b *ir.BasicBlock) {
		c.emitBlock(b)
		for _, child := range dom.Children(b) {
			walk(child)
		}
	}
	walk(f.Entry())
	for _, b := range f.Blocks() {
		if !dom.Reachable(b) {
			c.blocks[b].NewUnreachable()
		}
	}

	for _, b := range f.Blocks() {
		if !dom.Reachable(b) {
			continue
		}
		for _, phi := range b.Phis() {
			lp := c.vals[phi].(*lir.InstPhi)
			for i := 0; i < phi.NumIncoming(); i++ {
				v, pred := phi.Incoming(i)
				if !dom.Reachable(pred) {
					continue
				}
				lp.Incs = append(lp.Incs, lir.NewIncoming(c.val(v), c.blocks[pred]))
			}
		}
	}
}

func (c *converter) emitBlock(b *ir.BasicBlock) {
	lb := c.blocks[b]
	for _, in := range b.Instrs() {
		if in.Op == ir.OpPhi {
			continue
		}
		v := c.emitInstr(lb, in)
		if v != nil {
			c.vals[in] = v
			if in.Name() != "" {
				if n, ok := v.(interface{ SetName(string) }); ok {
					n.SetName(in.Name())
				}
			}
		}
	}
}

func (c *converter) emitInstr(lb *lir.Block, in *ir.Instr) value.Value {
	switch in.Op {
	case ir.OpAlloca:
		return lb.NewAlloca(convType(in.Allocated))
	case ir.OpLoad:
		return lb.NewLoad(convType(in.Type()), c.val(in.Operand(0)))
	case ir.OpStore:
		lb.NewStore(c.val(in.Operand(0)), c.val(in.Operand(1)))
		return nil
	case ir.OpGetElementPtr:
		src := in.Operand(0)
		elem := convType(src.Type().(*typing.PointerType).Elem)
		idx := make([]value.Value, in.NumOperands()-1)
		for i, op := range in.Operands()[1:] {
			idx[i] = c.val(op)
		}
		return lb.NewGetElementPtr(elem, c.val(src), idx...)
	case ir.OpMemset:
		ptr := lb.NewBitCast(c.val(in.Operand(0)), types.I8Ptr)
		lb.NewCall(c.memsetDecl(), ptr,
			constant.NewInt(types.I8, 0),
			constant.NewInt(types.I32, int64(in.Bytes)),
			constant.NewInt(types.I1, 0))
		return nil
	case ir.OpRet:
		if in.NumOperands() == 0 {
			lb.NewRet(nil)
		} else {
			lb.NewRet(c.val(in.Operand(0)))
		}
		return nil
	case ir.OpBr:
		lb.NewBr(c.block(in.Operand(0)))
		return nil
	case ir.OpCondBr:
		lb.NewCondBr(c.val(in.Operand(0)), c.block(in.Operand(1)), c.block(in.Operand(2)))
		return nil
	case ir.OpCall:
		args := make([]value.Value, 0, in.NumOperands()-1)
		for _, a := range in.Args() {
			args = append(args, c.val(a))
		}
		return lb.NewCall(c.funcs[in.Callee()], args...)
	case ir.OpICmp:
		return lb.NewICmp(icmpPred(in.Pred), c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpFCmp:
		return lb.NewFCmp(fcmpPred(in.Pred), c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpFNeg:
		return lb.NewFNeg(c.val(in.Operand(0)))
	case ir.OpTrunc:
		return lb.NewTrunc(c.val(in.Operand(0)), convType(in.Type()))
	case ir.OpZExt:
		return lb.NewZExt(c.val(in.Operand(0)), convType(in.Type()))
	case ir.OpSExt:
		return lb.NewSExt(c.val(in.Operand(0)), convType(in.Type()))
	case ir.OpFPTrunc:
		return lb.NewFPTrunc(c.val(in.Operand(0)), convType(in.Type()))
	case ir.OpFPToSI:
		return lb.NewFPToSI(c.val(in.Operand(0)), convType(in.Type()))
	case ir.OpSIToFP:
		return lb.NewSIToFP(c.val(in.Operand(0)), convType(in.Type()))
	case ir.OpBitCast:
		return lb.NewBitCast(c.val(in.Operand(0)), convType(in.Type()))
	case ir.OpPtrToInt:
		return lb.NewPtrToInt(c.val(in.Operand(0)), convType(in.Type()))
	case ir.OpIntToPtr:
		return lb.NewIntToPtr(c.val(in.Operand(0)), convType(in.Type()))
	case ir.OpAdd:
		return lb.NewAdd(c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpFAdd:
		return lb.NewFAdd(c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpSub:
		return lb.NewSub(c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpFSub:
		return lb.NewFSub(c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpMul:
		return lb.NewMul(c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpFMul:
		return lb.NewFMul(c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpSDiv:
		return lb.NewSDiv(c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpFDiv:
		return lb.NewFDiv(c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpSRem:
		return lb.NewSRem(c.val(in.Operand(0)), c.val(in.Operand(1)))
	case ir.OpFRem:
		return lb.NewFRem(c.val(in.Operand(0)), c.val(in.Operand(1)))
	}
	panic("lldump: unhandled opcode " + in.Op.String())
}

func (c *converter) val(v ir.Value) value.Value {
	switch x := v.(type) {
	case *ir.ConstantInt:
		return constant.NewInt(intType(x.Type()), x.Value)
	case *ir.ConstantFloat:
		return constant.NewFloat(floatType(x.Type()), x.Value)
	case *ir.ConstantBool:
		if x.Value {
			return constant.NewInt(types.I1, 1)
		}
		return constant.NewInt(types.I1, 0)
	case *ir.Undef:
		return constant.NewUndef(convType(x.Type()))
	case *ir.Global:
		return c.globals[x]
	case *ir.Function:
		return c.funcs[x]
	}
	if m := c.vals[v]; m != nil {
		return m
	}
	panic(fmt.Sprintf("lldump: value %s has no conversion", v.Name()))
}

func (c *converter) block(v ir.Value) *lir.Block {
	return c.blocks[v.(*ir.BasicBlock)]
}

func (c *converter) memsetDecl() *lir.Func {
	if c.memset == nil {
		c.memset = c.out.NewFunc("llvm.memset.p0i8.i32", types.Void,
			lir.NewParam("dst", types.I8Ptr),
			lir.NewParam("val", types.I8),
			lir.NewParam("len", types.I32),
			lir.NewParam("isvolatile", types.I1))
	}
	return c.memset
}

func icmpPred(p ir.CmpPred) enum.IPred {
	switch p {
	case ir.PredEQ:
		return enum.IPredEQ
	case ir.PredNE:
		return enum.IPredNE
	case ir.PredLT:
		return enum.IPredSLT
	case ir.PredLE:
		return enum.IPredSLE
	case ir.PredGT:
		return enum.IPredSGT
	case ir.PredGE:
		return enum.IPredSGE
	}
	panic("lldump: bad icmp predicate")
}

func fcmpPred(p ir.CmpPred) enum.FPred {
	switch p {
	case ir.PredEQ:
		return enum.FPredOEQ
	case ir.PredNE:
		return enum.FPredONE
	case ir.PredLT:
		return enum.FPredOLT
	case ir.PredLE:
		return enum.FPredOLE
	case ir.PredGT:
		return enum.FPredOGT
	case ir.PredGE:
		return enum.FPredOGE
	}
	panic("lldump: bad fcmp predicate")
}

func convType(t typing.Type) types.Type {
	switch t.Kind() {
	case typing.KVoid:
		return types.Void
	case typing.KBool:
		return types.I1
	case typing.KI8:
		return types.I8
	case typing.KI32:
		return types.I32
	case typing.KI64:
		return types.I64
	case typing.KF32:
		return types.Float
	case typing.KF64:
		return types.Double
	case typing.KPointer:
		return types.NewPointer(convType(t.(*typing.PointerType).Elem))
	case typing.KArray:
		a := t.(*typing.ArrayType)
		out := convType(a.Elem)
		for i := len(a.Dims) - 1; i >= 0; i-- {
			out = types.NewArray(uint64(a.Dims[i]), out)
		}
		return out
	case typing.KFunc:
		ft := t.(*typing.FuncType)
		params := make([]types.Type, len(ft.Params))
		for i, p := range ft.Params {
			params[i] = convType(p)
		}
		return types.NewFunc(convType(ft.Ret), params...)
	}
	panic("lldump: unconvertible type " + t.String())
}

func intType(t typing.Type) *types.IntType {
	if t.Kind() == typing.KI64 {
		return types.I64
	}
	return types.I32
}

func floatType(t typing.Type) *types.FloatType {
	if t.Kind() == typing.KF64 {
		return types.Double
	}
	return types.Float
}

// globalInit folds a global's flattened initializer back into nested
// constant aggregates. A missing or all-zero list prints as
// zeroinitializer.
func globalInit(g *ir.Global) constant.Constant {
	t := g.Elem()
	a, isArr := t.(*typing.ArrayType)
	if g.IsZeroInit() {
		if isArr {
			return constant.NewZeroInitializer(convType(t))
		}
		return scalarZero(t)
	}
	if !isArr {
		return scalarConst(g.Init[0])
	}
	flat := make([]constant.Constant, len(g.Init))
	for i, c := range g.Init {
		flat[i] = scalarConst(c)
	}
	init, _ := buildArray(a, flat)
	return init
}

func buildArray(a *typing.ArrayType, flat []constant.Constant) (constant.Constant, []constant.Constant) {
	elems := make([]constant.Constant, a.Dims[0])
	for i := range elems {
		if len(a.Dims) == 1 {
			elems[i], flat = flat[0], flat[1:]
		} else {
			elems[i], flat = buildArray(a.Peel().(*typing.ArrayType), flat)
		}
	}
	return constant.NewArray(convType(a).(*types.ArrayType), elems...), flat
}

func scalarZero(t typing.Type) constant.Constant {
	if typing.IsFloat(t) {
		return constant.NewFloat(floatType(t), 0)
	}
	return constant.NewInt(intType(t), 0)
}

func scalarConst(c ir.Constant) constant.Constant {
	switch x := c.(type) {
	case *ir.ConstantInt:
		return constant.NewInt(intType(x.Type()), x.Value)
	case *ir.ConstantFloat:
		return constant.NewFloat(floatType(x.Type()), x.Value)
	}
	panic("lldump: aggregate initializer element is not scalar")
}
