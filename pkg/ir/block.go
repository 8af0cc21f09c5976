package ir

import "sysycc/pkg/typing"

// BasicBlock is an ordered instruction list ending in a terminator.
// Phi nodes come first. Predecessor lists are maintained eagerly by
// terminator attachment and mutation; successors are read off the
// terminator.
type BasicBlock struct {
	valueBase
	parent *Function
	instrs []*Instr
	preds  []*BasicBlock
}

func (*BasicBlock) Kind() Kind { return KindBlock }

func newBlock(f *Function, name string) *BasicBlock {
	return &BasicBlock{
		valueBase: valueBase{typ: typing.Label(), name: name},
		parent:    f,
	}
}

// Parent returns the containing function
func (b *BasicBlock) Parent() *Function { return b.parent }

// Instrs returns the live instruction slice
func (b *BasicBlock) Instrs() []*Instr { return b.instrs }

// Empty reports whether the block holds no instructions
func (b *BasicBlock) Empty() bool { return len(b.instrs) == 0 }

// Terminator returns the block's final instruction if it is one
func (b *BasicBlock) Terminator() *Instr {
	if n := len(b.instrs); n > 0 && b.instrs[n-1].IsTerminator() {
		return b.instrs[n-1]
	}
	return nil
}

// Phis returns the leading phi instructions
func (b *BasicBlock) Phis() []*Instr {
	n := b.FirstNonPhi()
	return b.instrs[:n]
}

// FirstNonPhi returns the index of the first non-phi instruction
func (b *BasicBlock) FirstNonPhi() int {
	for i, in := range b.instrs {
		if in.Op != OpPhi {
			return i
		}
	}
	return len(b.instrs)
}

// Preds returns the predecessor blocks
func (b *BasicBlock) Preds() []*BasicBlock { return b.preds }

// Succs returns the successor blocks
func (b *BasicBlock) Succs() []*BasicBlock {
	if t := b.Terminator(); t != nil {
		return t.Succs()
	}
	return nil
}

func (b *BasicBlock) addPred(p *BasicBlock) {
	b.preds = append(b.preds, p)
}

// dropPredEdge removes the predecessor edge contributed by term. A
// condbr with both targets equal contributes two edges; exactly one is
// dropped per call.
func (b *BasicBlock) dropPredEdge(term *Instr) {
	for i, p := range b.preds {
		if p == term.parent {
			b.preds = append(b.preds[:i], b.preds[i+1:]...)
			return
		}
	}
}

func (b *BasicBlock) attach(in *Instr) {
	in.parent = b
	if in.IsTerminator() {
		for _, s := range in.Succs() {
			s.addPred(b)
		}
	}
}

func (b *BasicBlock) detach(in *Instr) {
	if in.IsTerminator() {
		for _, s := range in.Succs() {
			s.dropPredEdge(in)
		}
	}
	in.parent = nil
}

// Append adds in at the end of the block
func (b *BasicBlock) Append(in *Instr) {
	b.attach(in)
	b.instrs = append(b.instrs, in)
}

// InsertAt places in before position i
func (b *BasicBlock) InsertAt(i int, in *Instr) {
	b.attach(in)
	b.instrs = append(b.instrs, nil)
	copy(b.instrs[i+1:], b.instrs[i:])
	b.instrs[i] = in
}

// InsertBefore places in immediately before pos, which must be in b
func (b *BasicBlock) InsertBefore(in, pos *Instr) {
	b.InsertAt(b.indexOf(pos), in)
}

func (b *BasicBlock) indexOf(in *Instr) int {
	for i, x := range b.instrs {
		if x == in {
			return i
		}
	}
	panic("ir: instruction not in block " + b.Name())
}

// Remove unlinks in from the block without touching its operands
func (b *BasicBlock) Remove(in *Instr) {
	i := b.indexOf(in)
	b.detach(in)
	b.instrs = append(b.instrs[:i], b.instrs[i+1:]...)
}

// Erase removes in and disconnects its operands. The instruction must
// have no remaining users.
func (b *BasicBlock) Erase(in *Instr) {
	if HasUses(in) {
		panic("ir: erasing instruction with users: " + in.Name())
	}
	b.Remove(in)
	in.DropAllOperands()
}

// SplitAt moves instructions from index i onward into a fresh block
// and branches to it. Phi and predecessor references into the moved
// tail are retargeted.
func (b *BasicBlock) SplitAt(i int, name string) *BasicBlock {
	nb := b.parent.NewBlockAfter(b, name)
	tail := append([]*Instr(nil), b.instrs[i:]...)
	for _, in := range tail {
		b.Remove(in)
		nb.Append(in)
	}
	for _, s := range nb.Succs() {
		for _, phi := range s.Phis() {
			for k := 0; k < phi.NumIncoming(); k++ {
				if _, blk := phi.Incoming(k); blk == b {
					phi.SetOperand(2*k+1, nb)
				}
			}
		}
	}
	b.Append(NewBr(nb))
	return nb
}

// ReplaceSuccessor retargets every terminator edge from old to new,
// leaving phis in old untouched
func (b *BasicBlock) ReplaceSuccessor(old, new *BasicBlock) {
	t := b.Terminator()
	if t == nil {
		return
	}
	for i, op := range t.Operands() {
		if op == Value(old) {
			t.SetOperand(i, new)
		}
	}
}
