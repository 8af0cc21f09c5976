package ir

import (
	"fmt"

	"sysycc/pkg/typing"
)

// Constant is a compile-time value
type Constant interface {
	Value
	implConstant()
}

// ConstantInt is an integer constant of type i32 or i64
type ConstantInt struct {
	valueBase
	Value int64
}

// ConstantFloat is a floating constant of type float or double
type ConstantFloat struct {
	valueBase
	Value float64
}

// ConstantBool is an i1 constant
type ConstantBool struct {
	valueBase
	Value bool
}

// Undef is an undefined value of a given type
type Undef struct {
	valueBase
}

func (*ConstantInt) Kind() Kind   { return KindConstInt }
func (*ConstantFloat) Kind() Kind { return KindConstFloat }
func (*ConstantBool) Kind() Kind  { return KindConstBool }
func (*Undef) Kind() Kind         { return KindUndef }

func (*ConstantInt) implConstant()   {}
func (*ConstantFloat) implConstant() {}
func (*ConstantBool) implConstant()  {}
func (*Undef) implConstant()         {}

// NewConstInt builds an integer constant of type t
func NewConstInt(t typing.Type, v int64) *ConstantInt {
	if !typing.IsInt(t) {
		panic(fmt.Sprintf("ir: const int of type %s", t))
	}
	return &ConstantInt{valueBase: valueBase{typ: t}, Value: v}
}

// NewConstFloat builds a floating constant of type t
func NewConstFloat(t typing.Type, v float64) *ConstantFloat {
	if !typing.IsFloat(t) {
		panic(fmt.Sprintf("ir: const float of type %s", t))
	}
	return &ConstantFloat{valueBase: valueBase{typ: t}, Value: v}
}

// NewConstBool builds an i1 constant
func NewConstBool(v bool) *ConstantBool {
	return &ConstantBool{valueBase: valueBase{typ: typing.Bool()}, Value: v}
}

// NewUndef builds an undefined value of type t
func NewUndef(t typing.Type) *Undef {
	return &Undef{valueBase: valueBase{typ: t}}
}

// Zero builds the zero constant of a scalar type t
func Zero(t typing.Type) Constant {
	if typing.IsFloat(t) {
		return NewConstFloat(t, 0)
	}
	if typing.IsBool(t) {
		return NewConstBool(false)
	}
	return NewConstInt(t, 0)
}

// IsConstInt reports whether v is an integer constant equal to want
func IsConstInt(v Value, want int64) bool {
	c, ok := v.(*ConstantInt)
	return ok && c.Value == want
}

// IsConstFloat reports whether v is a floating constant equal to want
func IsConstFloat(v Value, want float64) bool {
	c, ok := v.(*ConstantFloat)
	return ok && c.Value == want
}

// IsZero reports whether v is a zero constant of any scalar type
func IsZero(v Value) bool {
	switch c := v.(type) {
	case *ConstantInt:
		return c.Value == 0
	case *ConstantFloat:
		return c.Value == 0
	case *ConstantBool:
		return !c.Value
	}
	return false
}
