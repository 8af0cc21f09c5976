package irgen

import (
	"fmt"

	"sysycc/pkg/ir"
	"sysycc/pkg/sysy"
	"sysycc/pkg/typing"
)

// symbol is one visible name: a stack slot, a global, or a folded
// constant. dims counts the indexable dimensions.
type symbol struct {
	name         string
	typ          typing.Type
	ptr          ir.Value
	dims         int
	isConst      bool
	isArrayParam bool
	constScalar  ir.Constant
	constElems   []ir.Constant
}

// Generator lowers a parsed translation unit to an IR module
type Generator struct {
	module *ir.Module
	b      *Builder
	scopes []map[string]*symbol

	retSlot *ir.Instr
	exit    *ir.BasicBlock
	retType typing.Type

	constArrSeq int
}

// NewGenerator returns a generator emitting into a fresh module
func NewGenerator() *Generator {
	return &Generator{
		module: ir.NewModule(),
		b:      NewBuilder(),
	}
}

// Generate lowers cu, returning the module or the first semantic error
func (g *Generator) Generate(cu *sysy.CompUnit) (m *ir.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *TypeError:
				err = e
			case *UnsupportedConstruct:
				err = e
			default:
				panic(r)
			}
		}
	}()
	g.pushScope()
	for _, d := range cu.Decls {
		switch d := d.(type) {
		case *sysy.VarDecl:
			g.genGlobalDecl(d)
		case *sysy.FuncDef:
			g.genFuncDef(d)
		}
	}
	g.popScope()
	return g.module, nil
}

func (g *Generator) pushScope() {
	g.scopes = append(g.scopes, make(map[string]*symbol))
}

func (g *Generator) popScope() {
	g.scopes = g.scopes[:len(g.scopes)-1]
}

func (g *Generator) declare(sym *symbol, line, col int) {
	top := g.scopes[len(g.scopes)-1]
	if _, ok := top[sym.name]; ok {
		panic(errf(line, col, "redeclaration of %s", sym.name))
	}
	top[sym.name] = sym
}

func (g *Generator) lookup(name string) *symbol {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if s, ok := g.scopes[i][name]; ok {
			return s
		}
	}
	return nil
}

func scalarType(bt sysy.BType) typing.Type {
	switch bt {
	case sysy.BInt:
		return typing.I32()
	case sysy.BFloat:
		return typing.F32()
	}
	return typing.Void()
}

func (g *Generator) defType(bt sysy.BType, def *sysy.VarDef) typing.Type {
	elem := scalarType(bt)
	if len(def.Dims) == 0 {
		return elem
	}
	dims := make([]int, len(def.Dims))
	for i, e := range def.Dims {
		dims[i] = g.mustEvalConstInt(e, def.Line, def.Col)
	}
	return typing.Array(elem, dims...)
}

// Globals

func (g *Generator) genGlobalDecl(d *sysy.VarDecl) {
	for _, def := range d.Items {
		g.genGlobalDef(d, def)
	}
}

func (g *Generator) genGlobalDef(d *sysy.VarDecl, def *sysy.VarDef) {
	t := g.defType(d.Type, def)
	elem := scalarType(d.Type)

	if arr, ok := t.(*typing.ArrayType); ok {
		var elems []ir.Constant
		if def.Init != nil {
			exprs := flattenInit(arr.Dims, def.Init, def.Line, def.Col)
			elems = make([]ir.Constant, len(exprs))
			for i, e := range exprs {
				if e == nil {
					elems[i] = ir.Zero(elem)
					continue
				}
				v, ok := g.evalConst(e)
				if !ok {
					panic(errf(def.Line, def.Col, "global initializer is not constant"))
				}
				elems[i] = v.toConstant(elem)
			}
		}
		glob := g.module.NewGlobal(def.Name, arr, elems, d.Const)
		g.declare(&symbol{
			name: def.Name, typ: arr, ptr: glob, dims: len(arr.Dims),
			isConst: d.Const, constElems: elems,
		}, def.Line, def.Col)
		return
	}

	var init constValue
	if def.Init != nil {
		e, ok := def.Init.(*sysy.ExprInit)
		if !ok {
			panic(errf(def.Line, def.Col, "scalar initialized with a brace list"))
		}
		init, ok = g.evalConst(e.E)
		if !ok {
			panic(errf(def.Line, def.Col, "global initializer is not constant"))
		}
	}
	c := init.toConstant(t)
	if d.Const {
		// const scalars fold away entirely
		g.declare(&symbol{name: def.Name, typ: t, isConst: true, constScalar: c}, def.Line, def.Col)
		return
	}
	var ic []ir.Constant
	if def.Init != nil {
		ic = []ir.Constant{c}
	}
	glob := g.module.NewGlobal(def.Name, t, ic, false)
	g.declare(&symbol{name: def.Name, typ: t, ptr: glob}, def.Line, def.Col)
}

// Functions

func (g *Generator) genFuncDef(fd *sysy.FuncDef) {
	if g.module.Func(fd.Name) != nil {
		panic(errf(fd.Line, fd.Col, "redefinition of function %s", fd.Name))
	}

	params := make([]typing.Type, len(fd.Params))
	for i, p := range fd.Params {
		params[i] = g.paramType(p)
	}
	ret := scalarType(fd.Ret)
	f := g.module.NewFunction(fd.Name, typing.Func(ret, params...))

	g.b.SetFunc(f)
	g.retType = ret
	entry := f.NewBlock("entry")
	g.exit = f.NewBlock("exit")
	g.b.SetInsertPoint(entry)

	if !typing.IsVoid(ret) {
		g.retSlot = g.b.Alloca(ret, "ret.addr")
		g.b.Store(ir.Zero(ret), g.retSlot)
	} else {
		g.retSlot = nil
	}

	g.pushScope()
	for i, p := range fd.Params {
		arg := f.Args()[i]
		arg.SetName(p.Name)
		slot := g.b.Alloca(arg.Type(), p.Name+".addr")
		g.b.Store(arg, slot)
		sym := &symbol{name: p.Name, typ: arg.Type(), ptr: slot}
		if p.IsArray {
			sym.isArrayParam = true
			sym.dims = 1 + len(p.Dims)
		}
		g.declare(sym, p.Line, p.Col)
	}

	g.genBlock(fd.Body)
	if !g.b.Terminated() {
		g.b.Br(g.exit)
	}
	g.popScope()

	g.b.SetInsertPoint(g.exit)
	if g.retSlot != nil {
		g.b.Ret(g.b.Load(g.retSlot))
	} else {
		g.b.Ret(nil)
	}
	f.MoveBlockAfter(g.exit, f.Blocks()[len(f.Blocks())-1])
}

func (g *Generator) paramType(p *sysy.Param) typing.Type {
	elem := scalarType(p.Type)
	if !p.IsArray {
		return elem
	}
	if len(p.Dims) == 0 {
		return typing.Pointer(elem)
	}
	dims := make([]int, len(p.Dims))
	for i, e := range p.Dims {
		dims[i] = g.mustEvalConstInt(e, p.Line, p.Col)
	}
	return typing.Pointer(typing.Array(elem, dims...))
}

// Statements

func (g *Generator) genBlock(b *sysy.Block) {
	g.pushScope()
	for _, s := range b.Items {
		if g.b.Terminated() {
			break
		}
		g.genStmt(s)
	}
	g.popScope()
}

func (g *Generator) genStmt(s sysy.Stmt) {
	switch s := s.(type) {
	case *sysy.Block:
		g.genBlock(s)
	case *sysy.DeclStmt:
		g.genLocalDecl(s.Decl)
	case *sysy.If:
		g.genIf(s)
	case *sysy.While:
		g.genWhile(s)
	case *sysy.Break:
		if g.b.LoopExit() == nil {
			panic(errf(s.Line, s.Col, "break outside of a loop"))
		}
		g.b.Br(g.b.LoopExit())
	case *sysy.Continue:
		if g.b.LoopHeader() == nil {
			panic(errf(s.Line, s.Col, "continue outside of a loop"))
		}
		g.b.Br(g.b.LoopHeader())
	case *sysy.Return:
		g.genReturn(s)
	case *sysy.Assign:
		g.genAssign(s)
	case *sysy.ExprStmt:
		g.genExpr(s.E)
	case *sysy.Empty:
	default:
		panic(&UnsupportedConstruct{Msg: fmt.Sprintf("statement %T", s)})
	}
}

func (g *Generator) genIf(s *sysy.If) {
	f := g.b.Func()
	id := f.NextName("if")
	then := f.NewBlock(id + "_then")
	end := f.NewBlock(id + "_end")
	els := end
	if s.Else != nil {
		els = f.NewBlock(id + "_else")
		f.MoveBlockAfter(els, then)
	}

	g.genCond(s.Cond, then, els)

	g.b.SetInsertPoint(then)
	g.genStmt(s.Then)
	if !g.b.Terminated() {
		g.b.Br(end)
	}
	if s.Else != nil {
		g.b.SetInsertPoint(els)
		g.genStmt(s.Else)
		if !g.b.Terminated() {
			g.b.Br(end)
		}
	}
	g.b.SetInsertPoint(end)
}

func (g *Generator) genWhile(s *sysy.While) {
	f := g.b.Func()
	id := f.NextName("while")
	judge := f.NewBlock(id + "_judge")
	body := f.NewBlock(id + "_body")
	end := f.NewBlock(id + "_end")

	g.b.Br(judge)
	g.b.SetInsertPoint(judge)
	g.genCond(s.Cond, body, end)

	g.b.SetInsertPoint(body)
	g.b.PushLoop(judge, end)
	g.genStmt(s.Body)
	g.b.PopLoop()
	if !g.b.Terminated() {
		g.b.Br(judge)
	}
	g.b.SetInsertPoint(end)
}

// genCond lowers a condition, branching to ifTrue or ifFalse.
// Short-circuit operators recurse with retargeted blocks.
func (g *Generator) genCond(e sysy.Expr, ifTrue, ifFalse *ir.BasicBlock) {
	g.b.PushTargets(ifTrue, ifFalse)
	defer g.b.PopTargets()

	switch e := e.(type) {
	case *sysy.Binary:
		switch e.Op {
		case sysy.OpLAnd:
			rhs := g.b.Func().NewBlock(g.b.Func().NextName("rhs"))
			g.genCond(e.X, rhs, ifFalse)
			g.b.SetInsertPoint(rhs)
			g.genCond(e.Y, ifTrue, ifFalse)
			return
		case sysy.OpLOr:
			rhs := g.b.Func().NewBlock(g.b.Func().NextName("rhs"))
			g.genCond(e.X, ifTrue, rhs)
			g.b.SetInsertPoint(rhs)
			g.genCond(e.Y, ifTrue, ifFalse)
			return
		}
	case *sysy.Unary:
		if e.Op == sysy.OpLNot {
			g.genCond(e.X, ifFalse, ifTrue)
			return
		}
	}
	c := g.b.CastToBool(g.genExpr(e))
	g.b.CondBr(c, g.b.TrueTarget(), g.b.FalseTarget())
}

func (g *Generator) genReturn(s *sysy.Return) {
	if g.retSlot == nil {
		if s.Value != nil {
			panic(errf(s.Line, s.Col, "return with a value in a void function"))
		}
		g.b.Br(g.exit)
		return
	}
	if s.Value == nil {
		panic(errf(s.Line, s.Col, "return without a value in a %s function", g.retType))
	}
	v := g.b.Promote(g.genExpr(s.Value), g.retType)
	g.b.Store(v, g.retSlot)
	g.b.Br(g.exit)
}

func (g *Generator) genAssign(s *sysy.Assign) {
	sym := g.lookup(s.LHS.Name)
	if sym == nil {
		panic(errf(s.LHS.Line, s.LHS.Col, "undefined variable %s", s.LHS.Name))
	}
	if sym.isConst {
		panic(errf(s.LHS.Line, s.LHS.Col, "assignment to const %s", s.LHS.Name))
	}
	addr, cur := g.addrOf(sym, s.LHS)
	if typing.IsArray(cur) || len(s.LHS.Indices) < sym.dims {
		panic(errf(s.LHS.Line, s.LHS.Col, "assignment to an array value"))
	}
	v := g.b.Promote(g.genExpr(s.RHS), cur)
	g.b.Store(v, addr)
}

// Local declarations

func (g *Generator) genLocalDecl(d *sysy.VarDecl) {
	for _, def := range d.Items {
		g.genLocalDef(d, def)
	}
}

func (g *Generator) genLocalDef(d *sysy.VarDecl, def *sysy.VarDef) {
	t := g.defType(d.Type, def)
	elem := scalarType(d.Type)

	if arr, ok := t.(*typing.ArrayType); ok {
		if d.Const {
			g.genLocalConstArray(def, arr, elem)
			return
		}
		slot := g.b.Alloca(arr, def.Name)
		sym := &symbol{name: def.Name, typ: arr, ptr: slot, dims: len(arr.Dims)}
		g.declare(sym, def.Line, def.Col)
		if def.Init == nil {
			return
		}
		exprs := flattenInit(arr.Dims, def.Init, def.Line, def.Col)
		g.b.Memset(slot, arr.Size())
		for i, e := range exprs {
			if e == nil {
				continue
			}
			v := g.b.Promote(g.genExpr(e), elem)
			if ir.IsZero(v) {
				continue
			}
			g.b.Store(v, g.elemAddr(slot, arr, i))
		}
		return
	}

	if d.Const {
		e, ok := def.Init.(*sysy.ExprInit)
		if !ok {
			panic(errf(def.Line, def.Col, "const %s has no initializer", def.Name))
		}
		v, ok := g.evalConst(e.E)
		if !ok {
			panic(errf(def.Line, def.Col, "const initializer is not constant"))
		}
		g.declare(&symbol{name: def.Name, typ: t, isConst: true, constScalar: v.toConstant(t)}, def.Line, def.Col)
		return
	}

	slot := g.b.Alloca(t, def.Name)
	g.declare(&symbol{name: def.Name, typ: t, ptr: slot}, def.Line, def.Col)
	if def.Init != nil {
		e, ok := def.Init.(*sysy.ExprInit)
		if !ok {
			panic(errf(def.Line, def.Col, "scalar initialized with a brace list"))
		}
		g.b.Store(g.b.Promote(g.genExpr(e.E), t), slot)
	}
}

// genLocalConstArray folds the elements and hoists the storage to a
// module-level constant so runtime indexing still works
func (g *Generator) genLocalConstArray(def *sysy.VarDef, arr *typing.ArrayType, elem typing.Type) {
	if def.Init == nil {
		panic(errf(def.Line, def.Col, "const %s has no initializer", def.Name))
	}
	exprs := flattenInit(arr.Dims, def.Init, def.Line, def.Col)
	elems := make([]ir.Constant, len(exprs))
	for i, e := range exprs {
		if e == nil {
			elems[i] = ir.Zero(elem)
			continue
		}
		v, ok := g.evalConst(e)
		if !ok {
			panic(errf(def.Line, def.Col, "const initializer is not constant"))
		}
		elems[i] = v.toConstant(elem)
	}
	name := fmt.Sprintf("%s.%s.%d", g.b.Func().Name(), def.Name, g.constArrSeq)
	g.constArrSeq++
	glob := g.module.NewGlobal(name, arr, elems, true)
	g.declare(&symbol{
		name: def.Name, typ: arr, ptr: glob, dims: len(arr.Dims),
		isConst: true, constElems: elems,
	}, def.Line, def.Col)
}

// elemAddr addresses flattened element i of an array slot
func (g *Generator) elemAddr(base ir.Value, arr *typing.ArrayType, flat int) ir.Value {
	idxs := make([]ir.Value, 0, len(arr.Dims)+1)
	idxs = append(idxs, ir.NewConstInt(typing.I32(), 0))
	rem := flat
	strides := make([]int, len(arr.Dims))
	s := 1
	for k := len(arr.Dims) - 1; k >= 0; k-- {
		strides[k] = s
		s *= arr.Dims[k]
	}
	for k := range arr.Dims {
		idxs = append(idxs, ir.NewConstInt(typing.I32(), int64(rem/strides[k])))
		rem %= strides[k]
	}
	return g.b.GEP(base, idxs...)
}

// Expressions

func (g *Generator) genExpr(e sysy.Expr) ir.Value {
	switch e := e.(type) {
	case *sysy.IntLit:
		return ir.NewConstInt(typing.I32(), int64(int32(e.Value)))
	case *sysy.FloatLit:
		return ir.NewConstFloat(typing.F32(), float64(float32(e.Value)))
	case *sysy.LVal:
		return g.genLVal(e)
	case *sysy.Unary:
		return g.genUnary(e)
	case *sysy.Binary:
		return g.genBinary(e)
	case *sysy.Call:
		return g.genCall(e)
	}
	panic(&UnsupportedConstruct{Msg: fmt.Sprintf("expression %T", e)})
}

func (g *Generator) genLVal(lv *sysy.LVal) ir.Value {
	sym := g.lookup(lv.Name)
	if sym == nil {
		panic(errf(lv.Line, lv.Col, "undefined variable %s", lv.Name))
	}
	if sym.isConst {
		if v, ok := g.evalConstLVal(lv); ok {
			return v.toConstant(constElemType(sym))
		}
	}
	if sym.ptr == nil {
		panic(errf(lv.Line, lv.Col, "%s cannot be used here", lv.Name))
	}
	if sym.isArrayParam && len(lv.Indices) == 0 {
		return g.b.Load(sym.ptr)
	}
	addr, cur := g.addrOf(sym, lv)
	if typing.IsArray(cur) {
		zero := ir.NewConstInt(typing.I32(), 0)
		return g.b.GEP(addr, zero, zero)
	}
	if len(lv.Indices) < sym.dims {
		// partial indexing of a pointer param bottomed out at a scalar
		return addr
	}
	return g.b.Load(addr)
}

func constElemType(sym *symbol) typing.Type {
	if arr, ok := sym.typ.(*typing.ArrayType); ok {
		return arr.Elem
	}
	return sym.typ
}

// addrOf computes the address named by lv. The returned pointer points
// at the returned type.
func (g *Generator) addrOf(sym *symbol, lv *sysy.LVal) (ir.Value, typing.Type) {
	if len(lv.Indices) > sym.dims {
		panic(errf(lv.Line, lv.Col, "too many indices for %s", lv.Name))
	}
	zero := ir.NewConstInt(typing.I32(), 0)
	if sym.isArrayParam {
		base := g.b.Load(sym.ptr)
		cur := typing.Pointee(base.Type())
		if len(lv.Indices) == 0 {
			return base, cur
		}
		base = g.b.GEP(base, g.genIndex(lv.Indices[0]))
		for _, idx := range lv.Indices[1:] {
			arr := cur.(*typing.ArrayType)
			base = g.b.GEP(base, zero, g.genIndex(idx))
			cur = arr.Peel()
		}
		return base, cur
	}
	base := sym.ptr
	cur := typing.Pointee(base.Type())
	for _, idx := range lv.Indices {
		arr, ok := cur.(*typing.ArrayType)
		if !ok {
			panic(errf(lv.Line, lv.Col, "too many indices for %s", lv.Name))
		}
		base = g.b.GEP(base, zero, g.genIndex(idx))
		cur = arr.Peel()
	}
	return base, cur
}

func (g *Generator) genIndex(e sysy.Expr) ir.Value {
	return g.b.Promote(g.genExpr(e), typing.I32())
}

func (g *Generator) genUnary(e *sysy.Unary) ir.Value {
	switch e.Op {
	case sysy.OpPos:
		v := g.genExpr(e.X)
		if typing.IsBool(v.Type()) {
			return g.b.Promote(v, typing.I32())
		}
		return v
	case sysy.OpNeg:
		v := g.genExpr(e.X)
		if typing.IsFloat(v.Type()) {
			return g.b.FNeg(v)
		}
		v = g.b.Promote(v, typing.I32())
		return g.b.Binary(ir.OpSub, ir.NewConstInt(typing.I32(), 0), v)
	case sysy.OpLNot:
		v := g.genExpr(e.X)
		var c ir.Value
		switch {
		case typing.IsFloat(v.Type()):
			c = g.b.FCmp(ir.PredEQ, v, ir.NewConstFloat(v.Type(), 0))
		case typing.IsBool(v.Type()):
			c = g.b.ICmp(ir.PredEQ, v, ir.NewConstBool(false))
		default:
			c = g.b.ICmp(ir.PredEQ, v, ir.NewConstInt(v.Type(), 0))
		}
		return g.b.Promote(c, typing.I32())
	}
	panic(&UnsupportedConstruct{Msg: "unary operator"})
}

var relPreds = map[sysy.BinOp]ir.CmpPred{
	sysy.OpLt: ir.PredLT,
	sysy.OpGt: ir.PredGT,
	sysy.OpLe: ir.PredLE,
	sysy.OpGe: ir.PredGE,
	sysy.OpEq: ir.PredEQ,
	sysy.OpNe: ir.PredNE,
}

var intOps = map[sysy.BinOp]ir.Opcode{
	sysy.OpAdd: ir.OpAdd,
	sysy.OpSub: ir.OpSub,
	sysy.OpMul: ir.OpMul,
	sysy.OpDiv: ir.OpSDiv,
	sysy.OpRem: ir.OpSRem,
}

var floatOps = map[sysy.BinOp]ir.Opcode{
	sysy.OpAdd: ir.OpFAdd,
	sysy.OpSub: ir.OpFSub,
	sysy.OpMul: ir.OpFMul,
	sysy.OpDiv: ir.OpFDiv,
	sysy.OpRem: ir.OpFRem,
}

func (g *Generator) genBinary(e *sysy.Binary) ir.Value {
	if e.Op == sysy.OpLAnd || e.Op == sysy.OpLOr {
		return g.genShortCircuitValue(e)
	}
	x := g.genExpr(e.X)
	y := g.genExpr(e.Y)
	common := typing.I32()
	if typing.IsFloat(x.Type()) || typing.IsFloat(y.Type()) {
		common = typing.F32()
	}
	x = g.b.Promote(x, common)
	y = g.b.Promote(y, common)

	if p, ok := relPreds[e.Op]; ok {
		if typing.IsFloat(common) {
			return g.b.FCmp(p, x, y)
		}
		return g.b.ICmp(p, x, y)
	}
	ops := intOps
	if typing.IsFloat(common) {
		ops = floatOps
	}
	return g.b.Binary(ops[e.Op], x, y)
}

// genShortCircuitValue materializes a && or || used as an arithmetic
// value: branch through the condition and merge 1/0 with a phi
func (g *Generator) genShortCircuitValue(e *sysy.Binary) ir.Value {
	f := g.b.Func()
	id := f.NextName("if")
	then := f.NewBlock(id + "_then")
	els := f.NewBlock(id + "_else")
	end := f.NewBlock(id + "_end")

	g.genCond(e, then, els)
	g.b.SetInsertPoint(then)
	g.b.Br(end)
	g.b.SetInsertPoint(els)
	g.b.Br(end)

	g.b.SetInsertPoint(end)
	phi := g.b.Phi(typing.I32(), f.NextName("var"))
	phi.AddIncoming(ir.NewConstInt(typing.I32(), 1), then)
	phi.AddIncoming(ir.NewConstInt(typing.I32(), 0), els)
	return phi
}

func (g *Generator) genCall(e *sysy.Call) ir.Value {
	callee := g.module.Func(e.Name)
	if callee == nil {
		panic(errf(e.Line, e.Col, "call to undefined function %s", e.Name))
	}
	sig := callee.Sig()
	if len(e.Args) != len(sig.Params) {
		panic(errf(e.Line, e.Col, "%s expects %d arguments, got %d", e.Name, len(sig.Params), len(e.Args)))
	}
	args := make([]ir.Value, len(e.Args))
	for i, a := range e.Args {
		v := g.genExpr(a)
		want := sig.Params[i]
		if typing.IsPointer(want) {
			if !typing.Same(v.Type(), want) {
				panic(errf(e.Line, e.Col, "argument %d of %s has type %s, want %s", i+1, e.Name, v.Type(), want))
			}
			args[i] = v
			continue
		}
		args[i] = g.b.Promote(v, want)
	}
	return g.b.Call(callee, args...)
}
