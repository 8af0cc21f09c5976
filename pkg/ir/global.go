package ir

import "sysycc/pkg/typing"

// Global is a module-level variable. Its value type is a pointer to
// the stored type; Init holds the flattened row-major initializer,
// nil meaning zero initialization.
type Global struct {
	valueBase
	elem    typing.Type
	Init    []Constant
	IsConst bool
}

func (*Global) Kind() Kind { return KindGlobal }

// Elem returns the stored type
func (g *Global) Elem() typing.Type { return g.elem }

// IsZeroInit reports whether the global starts out all zero
func (g *Global) IsZeroInit() bool {
	if g.Init == nil {
		return true
	}
	for _, c := range g.Init {
		if !IsZero(c) {
			return false
		}
	}
	return true
}

// ElemAt returns the initializer element at flattened index i,
// synthesizing zero for zero-initialized globals
func (g *Global) ElemAt(i int) Constant {
	if g.Init == nil {
		return Zero(scalarOf(g.elem))
	}
	return g.Init[i]
}

func scalarOf(t typing.Type) typing.Type {
	if a, ok := t.(*typing.ArrayType); ok {
		return a.Elem
	}
	return t
}
