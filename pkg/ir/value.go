// Package ir defines the SSA intermediate representation: values,
// instructions, basic blocks, functions, globals and modules, with a
// def-use graph kept consistent by construction.
package ir

import "sysycc/pkg/typing"

// Kind discriminates the concrete variants behind the Value interface
type Kind int

const (
	KindConstInt Kind = iota
	KindConstFloat
	KindConstBool
	KindUndef
	KindArgument
	KindBlock
	KindGlobal
	KindFunction
	KindInstr
)

func (k Kind) String() string {
	switch k {
	case KindConstInt:
		return "constint"
	case KindConstFloat:
		return "constfloat"
	case KindConstBool:
		return "constbool"
	case KindUndef:
		return "undef"
	case KindArgument:
		return "argument"
	case KindBlock:
		return "block"
	case KindGlobal:
		return "global"
	case KindFunction:
		return "function"
	case KindInstr:
		return "instr"
	}
	return "?"
}

// Value is anything an instruction can take as an operand
type Value interface {
	Kind() Kind
	Type() typing.Type
	Name() string
	SetName(string)
	Uses() []*Use
	addUse(*Use)
	removeUse(*Use)
}

// Use is one edge of the def-use graph. The instruction's operand slot
// User.Operand(Index) and the value's use list carry the same *Use.
type Use struct {
	User  *Instr
	Index int
	val   Value
}

// Value returns the used value
func (u *Use) Value() Value { return u.val }

// valueBase is the shared header embedded by every concrete value
type valueBase struct {
	typ  typing.Type
	name string
	uses []*Use
}

func (b *valueBase) Type() typing.Type { return b.typ }
func (b *valueBase) Name() string      { return b.name }
func (b *valueBase) SetName(n string)  { b.name = n }

// Uses returns the live use list. Callers that mutate the graph while
// iterating should copy it first.
func (b *valueBase) Uses() []*Use { return b.uses }

func (b *valueBase) addUse(u *Use) { b.uses = append(b.uses, u) }

func (b *valueBase) removeUse(u *Use) {
	for i, x := range b.uses {
		if x == u {
			b.uses = append(b.uses[:i], b.uses[i+1:]...)
			return
		}
	}
}

// HasUses reports whether v has at least one user
func HasUses(v Value) bool { return len(v.Uses()) > 0 }

// ReplaceAllUsesWith rewrites every use of old to refer to new
func ReplaceAllUsesWith(old, new Value) {
	if old == new {
		return
	}
	uses := append([]*Use(nil), old.Uses()...)
	for _, u := range uses {
		u.User.SetOperand(u.Index, new)
	}
}
