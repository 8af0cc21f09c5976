package ir

import (
	"fmt"

	"sysycc/pkg/typing"
)

// Attr is a function attribute bitset
type Attr uint16

const (
	AttrNoMemoryRead Attr = 1 << iota
	AttrNoMemoryWrite
	AttrNoSideEffect
	AttrStateless
	AttrNoReturn
	AttrNoRecurse
	AttrBuiltin
	AttrLoopBody
	AttrParallelBody
)

// Argument is a formal parameter of a function
type Argument struct {
	valueBase
	parent *Function
	index  int
}

func (*Argument) Kind() Kind { return KindArgument }

// Parent returns the owning function
func (a *Argument) Parent() *Function { return a.parent }

// Index returns the parameter position
func (a *Argument) Index() int { return a.index }

// Function owns its arguments and blocks. A function with no blocks is
// a declaration. Its value type is the signature, so call sites appear
// on its use list.
type Function struct {
	valueBase
	module   *Module
	args     []*Argument
	blocks   []*BasicBlock
	attrs    Attr
	counters map[string]int
}

func (*Function) Kind() Kind { return KindFunction }

func newFunction(m *Module, name string, sig *typing.FuncType) *Function {
	f := &Function{
		valueBase: valueBase{typ: sig, name: name},
		module:    m,
		counters:  make(map[string]int),
	}
	for i, pt := range sig.Params {
		f.args = append(f.args, &Argument{
			valueBase: valueBase{typ: pt, name: fmt.Sprintf("arg%d", i)},
			parent:    f,
			index:     i,
		})
	}
	return f
}

// Module returns the owning module
func (f *Function) Module() *Module { return f.module }

// Sig returns the function signature
func (f *Function) Sig() *typing.FuncType { return f.typ.(*typing.FuncType) }

// Args returns the formal parameters
func (f *Function) Args() []*Argument { return f.args }

// Blocks returns the blocks in layout order, entry first
func (f *Function) Blocks() []*BasicBlock { return f.blocks }

// Entry returns the entry block, nil for declarations
func (f *Function) Entry() *BasicBlock {
	if len(f.blocks) == 0 {
		return nil
	}
	return f.blocks[0]
}

// IsDecl reports whether the function has no body
func (f *Function) IsDecl() bool { return len(f.blocks) == 0 }

// HasAttr reports whether all bits of a are set
func (f *Function) HasAttr(a Attr) bool { return f.attrs&a == a }

// SetAttr sets the bits of a
func (f *Function) SetAttr(a Attr) { f.attrs |= a }

// ClearAttr clears the bits of a
func (f *Function) ClearAttr(a Attr) { f.attrs &^= a }

// Attrs returns the whole bitset
func (f *Function) Attrs() Attr { return f.attrs }

// NextName returns prefix with a per-function monotonic counter
// appended, giving deterministic generated names.
func (f *Function) NextName(prefix string) string {
	n := f.counters[prefix]
	f.counters[prefix] = n + 1
	return fmt.Sprintf("%s%d", prefix, n)
}

// NewBlock appends a fresh block named name
func (f *Function) NewBlock(name string) *BasicBlock {
	b := newBlock(f, name)
	f.blocks = append(f.blocks, b)
	return b
}

// NewBlockAfter inserts a fresh block right after pos in layout order
func (f *Function) NewBlockAfter(pos *BasicBlock, name string) *BasicBlock {
	b := newBlock(f, name)
	for i, x := range f.blocks {
		if x == pos {
			f.blocks = append(f.blocks, nil)
			copy(f.blocks[i+2:], f.blocks[i+1:])
			f.blocks[i+1] = b
			return b
		}
	}
	f.blocks = append(f.blocks, b)
	return b
}

// RemoveBlock unlinks b from the function. Instructions in b keep
// their operand edges; callers drop them first when destroying code.
func (f *Function) RemoveBlock(b *BasicBlock) {
	for i, x := range f.blocks {
		if x == b {
			f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
			b.parent = nil
			return
		}
	}
}

// MoveBlockAfter reorders b to sit right after pos
func (f *Function) MoveBlockAfter(b, pos *BasicBlock) {
	if b == pos {
		return
	}
	for i, x := range f.blocks {
		if x == b {
			f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
			break
		}
	}
	for i, x := range f.blocks {
		if x == pos {
			f.blocks = append(f.blocks, nil)
			copy(f.blocks[i+2:], f.blocks[i+1:])
			f.blocks[i+1] = b
			return
		}
	}
	f.blocks = append(f.blocks, b)
}

// SetBlockOrder replaces the layout order. The new order must be a
// permutation of the current blocks.
func (f *Function) SetBlockOrder(order []*BasicBlock) {
	if len(order) != len(f.blocks) {
		panic("ir: block order is not a permutation")
	}
	f.blocks = append(f.blocks[:0], order...)
}

// DropArg removes the i'th parameter from the signature. The argument
// must have no remaining uses; call sites are the caller's problem.
func (f *Function) DropArg(i int) {
	if HasUses(f.args[i]) {
		panic("ir: dropping a live argument")
	}
	sig := f.Sig()
	params := append([]typing.Type(nil), sig.Params...)
	params = append(params[:i], params[i+1:]...)
	f.typ = typing.Func(sig.Ret, params...)
	f.args = append(f.args[:i], f.args[i+1:]...)
	for j := i; j < len(f.args); j++ {
		f.args[j].index = j
	}
}

// CallSites returns the call instructions invoking f
func (f *Function) CallSites() []*Instr {
	var calls []*Instr
	for _, u := range f.Uses() {
		if u.User.Op == OpCall && u.Index == 0 {
			calls = append(calls, u.User)
		}
	}
	return calls
}
