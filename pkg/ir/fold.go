package ir

import "sysycc/pkg/typing"

// FoldBinary evaluates op over constant operands, returning nil when
// the operands are not both constant or the result is undefined
// (division by zero).
func FoldBinary(op Opcode, x, y Value) Constant {
	if cx, ok := x.(*ConstantInt); ok {
		cy, ok := y.(*ConstantInt)
		if !ok {
			return nil
		}
		return foldIntBinary(op, cx, cy)
	}
	if cx, ok := x.(*ConstantFloat); ok {
		cy, ok := y.(*ConstantFloat)
		if !ok {
			return nil
		}
		return foldFloatBinary(op, cx, cy)
	}
	return nil
}

func foldIntBinary(op Opcode, x, y *ConstantInt) Constant {
	a, b := x.Value, y.Value
	if typing.IsI32(x.Type()) {
		a, b = int64(int32(a)), int64(int32(b))
	}
	var r int64
	switch op {
	case OpAdd:
		r = a + b
	case OpSub:
		r = a - b
	case OpMul:
		r = a * b
	case OpSDiv:
		if b == 0 {
			return nil
		}
		r = a / b
	case OpSRem:
		if b == 0 {
			return nil
		}
		r = a % b
	default:
		return nil
	}
	if typing.IsI32(x.Type()) {
		r = int64(int32(r))
	}
	return NewConstInt(x.Type(), r)
}

func foldFloatBinary(op Opcode, x, y *ConstantFloat) Constant {
	a, b := x.Value, y.Value
	var r float64
	switch op {
	case OpFAdd:
		r = a + b
	case OpFSub:
		r = a - b
	case OpFMul:
		r = a * b
	case OpFDiv:
		if b == 0 {
			return nil
		}
		r = a / b
	case OpFRem:
		return nil
	default:
		return nil
	}
	if typing.IsF32(x.Type()) {
		r = float64(float32(r))
	}
	return NewConstFloat(x.Type(), r)
}

// FoldICmp evaluates an integer comparison over constants
func FoldICmp(p CmpPred, x, y Value) Constant {
	if cx, ok := x.(*ConstantBool); ok {
		cy, ok := y.(*ConstantBool)
		if !ok {
			return nil
		}
		a, b := int64(0), int64(0)
		if cx.Value {
			a = 1
		}
		if cy.Value {
			b = 1
		}
		return NewConstBool(cmpHolds(p, a, b))
	}
	cx, ok := x.(*ConstantInt)
	if !ok {
		return nil
	}
	cy, ok := y.(*ConstantInt)
	if !ok {
		return nil
	}
	return NewConstBool(cmpHolds(p, cx.Value, cy.Value))
}

func cmpHolds(p CmpPred, a, b int64) bool {
	switch p {
	case PredEQ:
		return a == b
	case PredNE:
		return a != b
	case PredLT:
		return a < b
	case PredLE:
		return a <= b
	case PredGT:
		return a > b
	case PredGE:
		return a >= b
	}
	return false
}

// FoldFCmp evaluates a floating comparison over constants
func FoldFCmp(p CmpPred, x, y Value) Constant {
	cx, ok := x.(*ConstantFloat)
	if !ok {
		return nil
	}
	cy, ok := y.(*ConstantFloat)
	if !ok {
		return nil
	}
	a, b := cx.Value, cy.Value
	var r bool
	switch p {
	case PredEQ:
		r = a == b
	case PredNE:
		r = a != b
	case PredLT:
		r = a < b
	case PredLE:
		r = a <= b
	case PredGT:
		r = a > b
	case PredGE:
		r = a >= b
	}
	return NewConstBool(r)
}

// FoldCast evaluates a conversion of a constant
func FoldCast(op Opcode, x Value, to typing.Type) Constant {
	switch c := x.(type) {
	case *ConstantInt:
		switch op {
		case OpTrunc:
			return NewConstInt(to, int64(int32(c.Value)))
		case OpSExt, OpZExt:
			return NewConstInt(to, c.Value)
		case OpSIToFP:
			v := float64(c.Value)
			if typing.IsF32(to) {
				v = float64(float32(v))
			}
			return NewConstFloat(to, v)
		}
	case *ConstantFloat:
		switch op {
		case OpFPToSI:
			r := int64(c.Value)
			if typing.IsI32(to) {
				r = int64(int32(r))
			}
			return NewConstInt(to, r)
		case OpFPTrunc:
			return NewConstFloat(to, float64(float32(c.Value)))
		}
	case *ConstantBool:
		if op == OpZExt {
			v := int64(0)
			if c.Value {
				v = 1
			}
			return NewConstInt(to, v)
		}
	}
	return nil
}
