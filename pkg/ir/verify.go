package ir

import (
	"fmt"

	"sysycc/pkg/typing"
)

// VerifyError describes one broken IR invariant with enough context to
// dump the offending code
type VerifyError struct {
	Func  *Function
	Block *BasicBlock
	Instr *Instr
	Msg   string
}

func (e *VerifyError) Error() string {
	where := ""
	if e.Func != nil {
		where = "@" + e.Func.Name()
	}
	if e.Block != nil {
		where += ":" + e.Block.Name()
	}
	if e.Instr != nil {
		where += ": " + e.Instr.Op.String()
	}
	return fmt.Sprintf("ir verify: %s: %s", where, e.Msg)
}

// Verify checks the structural invariants of the whole module and
// returns the first violation found
func Verify(m *Module) error {
	for _, f := range m.funcs {
		if err := VerifyFunc(f); err != nil {
			return err
		}
	}
	return nil
}

// VerifyFunc checks one function: use/operand bijection, terminator
// placement, phi/predecessor consistency, operand types and SSA
// dominance.
func VerifyFunc(f *Function) error {
	if f.IsDecl() {
		return nil
	}
	v := &verifier{f: f}
	if err := v.structure(); err != nil {
		return err
	}
	if err := v.dominance(); err != nil {
		return err
	}
	return nil
}

type verifier struct {
	f *Function
}

func (v *verifier) fail(b *BasicBlock, in *Instr, format string, args ...any) error {
	return &VerifyError{Func: v.f, Block: b, Instr: in, Msg: fmt.Sprintf(format, args...)}
}

func (v *verifier) structure() error {
	if len(v.f.Entry().Preds()) != 0 {
		return v.fail(v.f.Entry(), nil, "entry block has predecessors")
	}
	for _, b := range v.f.Blocks() {
		if b.Parent() != v.f {
			return v.fail(b, nil, "block parent is wrong")
		}
		term := b.Terminator()
		if term == nil {
			return v.fail(b, nil, "block has no terminator")
		}
		seenNonPhi := false
		for i, in := range b.Instrs() {
			if in.Parent() != b {
				return v.fail(b, in, "instruction parent is wrong")
			}
			if in.IsTerminator() && in != term {
				return v.fail(b, in, "terminator in the middle of a block")
			}
			if in.Op == OpPhi {
				if seenNonPhi {
					return v.fail(b, in, "phi after non-phi instruction")
				}
			} else {
				seenNonPhi = true
			}
			if err := v.uses(b, in, i); err != nil {
				return err
			}
			if err := v.typed(b, in); err != nil {
				return err
			}
		}
		if err := v.predsMatch(b); err != nil {
			return err
		}
	}
	return nil
}

// uses checks the operand/use bijection for one instruction
func (v *verifier) uses(b *BasicBlock, in *Instr, _ int) error {
	for i := range in.operands {
		u := in.operands[i]
		if u.User != in || u.Index != i {
			return v.fail(b, in, "operand %d carries a mismatched use edge", i)
		}
		found := false
		for _, x := range u.val.Uses() {
			if x == u {
				found = true
				break
			}
		}
		if !found {
			return v.fail(b, in, "operand %d missing from the use list of %s", i, u.val.Name())
		}
	}
	for _, u := range in.Uses() {
		if u.User.Operand(u.Index) != Value(in) {
			return v.fail(b, in, "use list entry does not point back")
		}
	}
	return nil
}

// predsMatch checks that the eager predecessor list equals the edges
// read off the terminators, and that phis agree with it
func (v *verifier) predsMatch(b *BasicBlock) error {
	derived := make(map[*BasicBlock]int)
	for _, p := range v.f.Blocks() {
		if t := p.Terminator(); t != nil {
			for _, s := range t.Succs() {
				if s == b {
					derived[p]++
				}
			}
		}
	}
	have := make(map[*BasicBlock]int)
	for _, p := range b.Preds() {
		have[p]++
	}
	if len(have) != len(derived) {
		return v.fail(b, nil, "predecessor list disagrees with terminators")
	}
	for p, n := range derived {
		if have[p] != n {
			return v.fail(b, nil, "predecessor edge count for %s is %d, want %d", p.Name(), have[p], n)
		}
	}
	for _, phi := range b.Phis() {
		if phi.NumIncoming() != len(b.Preds()) {
			return v.fail(b, phi, "phi has %d incomings for %d predecessors", phi.NumIncoming(), len(b.Preds()))
		}
		for _, p := range b.Preds() {
			if phi.IncomingFor(p) == nil {
				return v.fail(b, phi, "phi has no incoming for predecessor %s", p.Name())
			}
		}
	}
	return nil
}

func (v *verifier) typed(b *BasicBlock, in *Instr) error {
	bad := func(format string, args ...any) error { return v.fail(b, in, format, args...) }
	switch {
	case in.Op.IsBinary():
		if !typing.Same(in.Operand(0).Type(), in.Operand(1).Type()) {
			return bad("binary operand types differ: %s vs %s", in.Operand(0).Type(), in.Operand(1).Type())
		}
	case in.Op == OpStore:
		pt := typing.Pointee(in.Operand(1).Type())
		if pt == nil || !typing.Same(in.Operand(0).Type(), pt) {
			return bad("store of %s through %s", in.Operand(0).Type(), in.Operand(1).Type())
		}
	case in.Op == OpLoad:
		pt := typing.Pointee(in.Operand(0).Type())
		if pt == nil || !typing.Same(in.Type(), pt) {
			return bad("load of %s through %s", in.Type(), in.Operand(0).Type())
		}
	case in.Op == OpCondBr:
		if !typing.IsBool(in.Operand(0).Type()) {
			return bad("condbr condition is %s, want i1", in.Operand(0).Type())
		}
	case in.Op == OpRet:
		ret := v.f.Sig().Ret
		if in.NumOperands() == 0 {
			if !typing.IsVoid(ret) {
				return bad("bare ret in a %s function", ret)
			}
		} else if !typing.Same(in.Operand(0).Type(), ret) {
			return bad("ret of %s in a %s function", in.Operand(0).Type(), ret)
		}
	case in.Op == OpCall:
		sig := in.Callee().Sig()
		if len(in.Args()) != len(sig.Params) {
			return bad("call to @%s with %d args, want %d", in.Callee().Name(), len(in.Args()), len(sig.Params))
		}
		for i, a := range in.Args() {
			if !typing.Same(a.Type(), sig.Params[i]) {
				return bad("call arg %d is %s, want %s", i, a.Type(), sig.Params[i])
			}
		}
	case in.Op == OpICmp:
		if !typing.IsInt(in.Operand(0).Type()) && !typing.IsBool(in.Operand(0).Type()) {
			return bad("icmp on %s", in.Operand(0).Type())
		}
	case in.Op == OpFCmp:
		if !typing.IsFloat(in.Operand(0).Type()) {
			return bad("fcmp on %s", in.Operand(0).Type())
		}
	case in.Op == OpPhi:
		for i := 0; i < in.NumIncoming(); i++ {
			iv, _ := in.Incoming(i)
			if !typing.Same(iv.Type(), in.Type()) {
				return bad("phi incoming %d is %s, want %s", i, iv.Type(), in.Type())
			}
		}
	}
	return nil
}

// dominance checks that every definition dominates its uses, using a
// self-contained dominator computation over reachable blocks
func (v *verifier) dominance() error {
	idom, order := simpleDomTree(v.f)
	index := make(map[*Instr]int)
	for _, b := range v.f.Blocks() {
		for i, in := range b.Instrs() {
			index[in] = i
		}
	}
	dominates := func(a, b *BasicBlock) bool {
		for b != nil {
			if a == b {
				return true
			}
			b = idom[b]
		}
		return false
	}
	reach := make(map[*BasicBlock]bool, len(order))
	for _, b := range order {
		reach[b] = true
	}
	for _, b := range v.f.Blocks() {
		if !reach[b] {
			continue
		}
		for _, in := range b.Instrs() {
			for i, op := range in.Operands() {
				def, ok := op.(*Instr)
				if !ok {
					continue
				}
				db := def.Parent()
				if db == nil {
					return v.fail(b, in, "operand %d is a detached instruction", i)
				}
				if in.Op == OpPhi {
					if i%2 == 1 {
						continue
					}
					_, pred := in.Incoming(i / 2)
					if reach[pred] && !dominates(db, pred) {
						return v.fail(b, in, "phi incoming %d does not dominate predecessor %s", i/2, pred.Name())
					}
					continue
				}
				if db == b {
					if index[def] >= index[in] {
						return v.fail(b, in, "use of %s before its definition", def.Name())
					}
				} else if !dominates(db, b) {
					return v.fail(b, in, "definition of %s does not dominate this use", def.Name())
				}
			}
		}
	}
	return nil
}

// simpleDomTree computes immediate dominators over the reachable CFG
// with the iterative two-finger algorithm. It stays local so the IR
// package does not depend on the analysis layer.
func simpleDomTree(f *Function) (map[*BasicBlock]*BasicBlock, []*BasicBlock) {
	var post []*BasicBlock
	seen := make(map[*BasicBlock]bool)
	var walk func(*BasicBlock)
	walk = func(b *BasicBlock) {
		seen[b] = true
		for _, s := range b.Succs() {
			if !seen[s] {
				walk(s)
			}
		}
		post = append(post, b)
	}
	walk(f.Entry())

	rpo := make([]*BasicBlock, len(post))
	num := make(map[*BasicBlock]int, len(post))
	for i := range post {
		b := post[len(post)-1-i]
		rpo[i] = b
		num[b] = i
	}

	idom := make(map[*BasicBlock]*BasicBlock, len(rpo))
	idom[f.Entry()] = f.Entry()
	intersect := func(a, b *BasicBlock) *BasicBlock {
		for a != b {
			for num[a] > num[b] {
				a = idom[a]
			}
			for num[b] > num[a] {
				b = idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for _, b := range rpo[1:] {
			var nd *BasicBlock
			for _, p := range b.Preds() {
				if idom[p] == nil {
					continue
				}
				if nd == nil {
					nd = p
				} else {
					nd = intersect(nd, p)
				}
			}
			if nd != nil && idom[b] != nd {
				idom[b] = nd
				changed = true
			}
		}
	}
	idom[f.Entry()] = nil
	return idom, rpo
}
