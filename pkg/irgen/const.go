package irgen

import (
	"sysycc/pkg/ir"
	"sysycc/pkg/sysy"
	"sysycc/pkg/typing"
)

// constValue is a scalar compile-time value during folding
type constValue struct {
	isFloat bool
	i       int64
	f       float64
}

func constInt(v int64) constValue { return constValue{i: int64(int32(v))} }
func constFloat(v float64) constValue {
	return constValue{isFloat: true, f: float64(float32(v))}
}

func (c constValue) toFloat() float64 {
	if c.isFloat {
		return c.f
	}
	return float64(c.i)
}

func (c constValue) toInt() int64 {
	if c.isFloat {
		return int64(int32(int64(c.f)))
	}
	return c.i
}

func (c constValue) truthy() bool {
	if c.isFloat {
		return c.f != 0
	}
	return c.i != 0
}

// toConstant converts to an IR constant of type t
func (c constValue) toConstant(t typing.Type) ir.Constant {
	if typing.IsFloat(t) {
		return ir.NewConstFloat(t, c.toFloat())
	}
	return ir.NewConstInt(t, c.toInt())
}

// evalConst folds e to a scalar compile-time value. ok is false when e
// is not a constant expression.
func (g *Generator) evalConst(e sysy.Expr) (constValue, bool) {
	switch e := e.(type) {
	case *sysy.IntLit:
		return constInt(e.Value), true
	case *sysy.FloatLit:
		return constFloat(e.Value), true
	case *sysy.Unary:
		x, ok := g.evalConst(e.X)
		if !ok {
			return constValue{}, false
		}
		switch e.Op {
		case sysy.OpPos:
			return x, true
		case sysy.OpNeg:
			if x.isFloat {
				return constFloat(-x.f), true
			}
			return constInt(-x.i), true
		case sysy.OpLNot:
			if x.truthy() {
				return constInt(0), true
			}
			return constInt(1), true
		}
	case *sysy.Binary:
		return g.evalConstBinary(e)
	case *sysy.LVal:
		return g.evalConstLVal(e)
	}
	return constValue{}, false
}

func (g *Generator) evalConstBinary(e *sysy.Binary) (constValue, bool) {
	x, ok := g.evalConst(e.X)
	if !ok {
		return constValue{}, false
	}
	y, ok := g.evalConst(e.Y)
	if !ok {
		return constValue{}, false
	}
	if x.isFloat || y.isFloat {
		a, b := x.toFloat(), y.toFloat()
		switch e.Op {
		case sysy.OpAdd:
			return constFloat(a + b), true
		case sysy.OpSub:
			return constFloat(a - b), true
		case sysy.OpMul:
			return constFloat(a * b), true
		case sysy.OpDiv:
			if b == 0 {
				return constValue{}, false
			}
			return constFloat(a / b), true
		case sysy.OpLt:
			return boolConst(a < b), true
		case sysy.OpGt:
			return boolConst(a > b), true
		case sysy.OpLe:
			return boolConst(a <= b), true
		case sysy.OpGe:
			return boolConst(a >= b), true
		case sysy.OpEq:
			return boolConst(a == b), true
		case sysy.OpNe:
			return boolConst(a != b), true
		case sysy.OpLAnd:
			return boolConst(a != 0 && b != 0), true
		case sysy.OpLOr:
			return boolConst(a != 0 || b != 0), true
		}
		return constValue{}, false
	}
	a, b := x.i, y.i
	switch e.Op {
	case sysy.OpAdd:
		return constInt(a + b), true
	case sysy.OpSub:
		return constInt(a - b), true
	case sysy.OpMul:
		return constInt(a * b), true
	case sysy.OpDiv:
		if b == 0 {
			return constValue{}, false
		}
		return constInt(a / b), true
	case sysy.OpRem:
		if b == 0 {
			return constValue{}, false
		}
		return constInt(a % b), true
	case sysy.OpLt:
		return boolConst(a < b), true
	case sysy.OpGt:
		return boolConst(a > b), true
	case sysy.OpLe:
		return boolConst(a <= b), true
	case sysy.OpGe:
		return boolConst(a >= b), true
	case sysy.OpEq:
		return boolConst(a == b), true
	case sysy.OpNe:
		return boolConst(a != b), true
	case sysy.OpLAnd:
		return boolConst(a != 0 && b != 0), true
	case sysy.OpLOr:
		return boolConst(a != 0 || b != 0), true
	}
	return constValue{}, false
}

func boolConst(b bool) constValue {
	if b {
		return constInt(1)
	}
	return constInt(0)
}

// evalConstLVal resolves a const symbol, indexing into folded const
// arrays when every index is itself constant
func (g *Generator) evalConstLVal(lv *sysy.LVal) (constValue, bool) {
	sym := g.lookup(lv.Name)
	if sym == nil || !sym.isConst {
		return constValue{}, false
	}
	if len(lv.Indices) == 0 {
		if sym.constScalar == nil {
			return constValue{}, false
		}
		return fromConstant(sym.constScalar), true
	}
	arr, ok := sym.typ.(*typing.ArrayType)
	if !ok || len(lv.Indices) != len(arr.Dims) || sym.constElems == nil {
		return constValue{}, false
	}
	flat := 0
	for k, idx := range lv.Indices {
		iv, ok := g.evalConst(idx)
		if !ok || iv.isFloat {
			return constValue{}, false
		}
		i := int(iv.i)
		if i < 0 || i >= arr.Dims[k] {
			return constValue{}, false
		}
		flat = flat*arr.Dims[k] + i
	}
	return fromConstant(sym.constElems[flat]), true
}

func fromConstant(c ir.Constant) constValue {
	switch c := c.(type) {
	case *ir.ConstantInt:
		return constInt(c.Value)
	case *ir.ConstantFloat:
		return constFloat(c.Value)
	}
	return constValue{}
}

// mustEvalConstInt folds e to a non-negative int, as required for
// array dimensions
func (g *Generator) mustEvalConstInt(e sysy.Expr, line, col int) int {
	v, ok := g.evalConst(e)
	if !ok || v.isFloat {
		panic(errf(line, col, "array dimension is not a constant integer"))
	}
	if v.i < 0 {
		panic(errf(line, col, "array dimension is negative"))
	}
	return int(v.i)
}

// flattenInit spreads a braced initializer over the flattened element
// slots of an array with the given dimensions. Nested braces fill the
// next sub-array; missing trailing elements stay nil (zero).
func flattenInit(dims []int, iv sysy.InitVal, line, col int) []sysy.Expr {
	total := 1
	for _, d := range dims {
		total *= d
	}
	out := make([]sysy.Expr, total)
	list, ok := iv.(*sysy.ListInit)
	if !ok {
		panic(errf(line, col, "array initializer must be a brace list"))
	}
	fillInit(dims, list, out, line, col)
	return out
}

func fillInit(dims []int, list *sysy.ListInit, out []sysy.Expr, line, col int) {
	stride := 1
	for _, d := range dims[1:] {
		stride *= d
	}
	pos := 0
	for _, item := range list.Items {
		switch item := item.(type) {
		case *sysy.ExprInit:
			if pos >= len(out) {
				panic(errf(line, col, "too many initializer elements"))
			}
			out[pos] = item.E
			pos++
		case *sysy.ListInit:
			if len(dims) == 1 {
				panic(errf(line, col, "initializer braces nested too deep"))
			}
			if r := pos % stride; r != 0 {
				pos += stride - r
			}
			if pos+stride > len(out) {
				panic(errf(line, col, "too many initializer elements"))
			}
			fillInit(dims[1:], item, out[pos:pos+stride], line, col)
			pos += stride
		}
	}
}
