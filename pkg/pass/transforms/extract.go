package transforms

import (
	"fmt"

	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
	"sysycc/pkg/typing"
)

func init() {
	registerFunc("loopbodyextract", runLoopBodyExtract)
}

// runLoopBodyExtract outlines each innermost counted loop into its own
// void(beg, end) function and replaces the loop with a single call
// covering the full range. Values the loop reads from the enclosing
// function travel through capture globals written in the preheader;
// values it defines for code after the loop are demoted to stack slots
// first, so the region touches its surroundings through memory only.
func runLoopBodyExtract(f *ir.Function, am *analysis.Manager) (bool, error) {
	if f.HasAttr(ir.AttrLoopBody) || f.HasAttr(ir.AttrParallelBody) {
		return false, nil
	}
	changed := false
	for {
		li := am.LoopInfo(f)
		ii := am.IndVars(f)
		dom := am.DomTree(f)
		done := true
		for _, l := range li.All() {
			if len(l.Subloops) > 0 {
				continue
			}
			if extractLoop(f, l, ii, dom) {
				am.CFGChanged(f)
				am.CallChanged()
				done = false
				break
			}
		}
		if done {
			break
		}
		changed = true
	}
	return changed, nil
}

func extractLoop(f *ir.Function, l *analysis.Loop, ii *analysis.IndVarInfo, dom *analysis.DomTree) bool {
	bound, exit, ok := outlineShape(l, ii)
	if !ok {
		return false
	}
	if !escapesExtractable(l, exit) {
		return false
	}
	h := l.Header

	pruneExitPhis(exit)
	for _, v := range escapingValues(l) {
		demoteEscape(f, l, v)
	}

	name := f.NextName(f.Name() + ".body.")
	nf := outlineLoop(f, l, bound, exit, dom, name, ir.AttrLoopBody)

	ph := l.Preheader()
	call := ir.NewCall(nf, bound.IV.Start, bound.End)
	ph.InsertBefore(call, ph.Terminator())
	replaceLoopWithCall(f, l, h, exit, ph)
	return true
}

// outlineShape accepts simplified counted loops exiting at the header
// with a unit step, the form a [beg, end) range call can stand in for
func outlineShape(l *analysis.Loop, ii *analysis.IndVarInfo) (*analysis.LoopBound, *ir.BasicBlock, bool) {
	h := l.Header
	if !l.IsSimplified() {
		return nil, nil, false
	}
	if ex := l.ExitingBlocks(); len(ex) != 1 || ex[0] != h {
		return nil, nil, false
	}
	bound := ii.Bound(l)
	if bound == nil || bound.OnLatch || bound.Pred != ir.PredLT {
		return nil, nil, false
	}
	if step, ok := bound.IV.StepConst(); !ok || step != 1 {
		return nil, nil, false
	}
	if !typing.IsI32(bound.IV.Phi.Type()) {
		return nil, nil, false
	}
	t := h.Terminator()
	if t == nil || t.Op != ir.OpCondBr {
		return nil, nil, false
	}
	var exit *ir.BasicBlock
	switch {
	case !l.Contains(t.Operand(1).(*ir.BasicBlock)):
		exit = t.Operand(1).(*ir.BasicBlock)
	case !l.Contains(t.Operand(2).(*ir.BasicBlock)):
		exit = t.Operand(2).(*ir.BasicBlock)
	default:
		return nil, nil, false
	}
	return bound, exit, true
}

// escapesExtractable vets every value leaving the loop. Ordinary
// instructions can be demoted to a slot; a header phi carries
// per-iteration state whose final value only a dead exit phi may
// observe.
func escapesExtractable(l *analysis.Loop, exit *ir.BasicBlock) bool {
	for _, phi := range exit.Phis() {
		if phi.NumIncoming() != 1 {
			return false
		}
	}
	h := l.Header
	for _, b := range loopBlocksInLayout(l) {
		for _, in := range b.Instrs() {
			headerPhi := in.Op == ir.OpPhi && b == h
			for _, u := range in.Uses() {
				p := u.User.Parent()
				if p == nil || l.Contains(p) {
					continue
				}
				if headerPhi && !(p == exit && u.User.Op == ir.OpPhi && !ir.HasUses(u.User)) {
					return false
				}
			}
		}
	}
	return true
}

// pruneExitPhis removes the single-entry phis of the dedicated exit:
// dead ones vanish, live ones collapse to their incoming value
func pruneExitPhis(exit *ir.BasicBlock) {
	for _, phi := range exit.Phis() {
		if !ir.HasUses(phi) {
			exit.Erase(phi)
			continue
		}
		v, _ := phi.Incoming(0)
		replaceAndErase(phi, v)
	}
}

func escapingValues(l *analysis.Loop) []*ir.Instr {
	var out []*ir.Instr
	for _, b := range loopBlocksInLayout(l) {
		for _, in := range b.Instrs() {
			for _, u := range in.Uses() {
				if p := u.User.Parent(); p != nil && !l.Contains(p) {
					out = append(out, in)
					break
				}
			}
		}
	}
	return out
}

// demoteEscape gives v a stack slot and turns its uses after the loop
// into loads, the per-value form of reg2mem demotion
func demoteEscape(f *ir.Function, l *analysis.Loop, v *ir.Instr) {
	slot := newSlot(f, v)
	b := v.Parent()
	st := ir.NewStore(v, slot)
	if v.Op == ir.OpPhi {
		b.InsertAt(b.FirstNonPhi(), st)
	} else {
		instrs := b.Instrs()
		placed := false
		for i, x := range instrs {
			if x == v && i+1 < len(instrs) {
				b.InsertBefore(st, instrs[i+1])
				placed = true
				break
			}
		}
		if !placed {
			b.Append(st)
		}
	}
	for _, u := range append([]*ir.Use(nil), v.Uses()...) {
		if p := u.User.Parent(); p == nil || l.Contains(p) {
			continue
		}
		rerouteUse(f, u, slot, v.Name())
	}
}

// outlineLoop clones the loop into a fresh void(beg, end) function.
// External scalars travel through capture globals stored in the
// preheader; beg seeds the counter phi and end replaces the bound.
func outlineLoop(f *ir.Function, l *analysis.Loop, bound *analysis.LoopBound, exit *ir.BasicBlock, dom *analysis.DomTree, name string, attr ir.Attr) *ir.Function {
	m := f.Module()
	i32 := typing.I32()
	nf := m.NewFunction(name, typing.Func(typing.Void(), i32, i32))
	nf.SetAttr(attr)
	entry := nf.NewBlock("entry")
	ph := l.Preheader()
	blocks := domOrder(dom, l.Header, l.Blocks)

	sub := make(map[ir.Value]ir.Value)
	for i, v := range captureSet(l, bound, blocks) {
		g := m.NewGlobal(fmt.Sprintf("%s.cap%d", name, i), v.Type(), nil, false)
		ph.InsertBefore(ir.NewStore(v, g), ph.Terminator())
		ld := ir.NewLoad(g)
		ld.SetName(nf.NextName("cap."))
		entry.Append(ld)
		sub[v] = ld
	}

	ret := nf.NewBlock("done")
	ret.Append(ir.NewRet(nil))
	sub[exit] = ret
	cloneBlocksInto(nf, blocks, sub)
	entry.Append(ir.NewBr(sub[l.Header].(*ir.BasicBlock)))

	args := nf.Args()
	for _, p := range l.Header.Phis() {
		c := sub[p].(*ir.Instr)
		if p == bound.IV.Phi {
			c.AddIncoming(args[0], entry)
		} else {
			c.AddIncoming(mappedValue(sub, p.IncomingFor(ph)), entry)
		}
	}
	cmp := sub[bound.Cmp].(*ir.Instr)
	swapOperand(cmp, mappedValue(sub, bound.End), args[1])

	last := nf.Blocks()[len(nf.Blocks())-1]
	nf.MoveBlockAfter(ret, last)
	return nf
}

// captureSet lists the outside values the region reads, in a stable
// first-use order. The counter seed and the bound skip capture when
// the arguments cover their only uses.
func captureSet(l *analysis.Loop, bound *analysis.LoopBound, blocks []*ir.BasicBlock) []ir.Value {
	seen := make(map[ir.Value]bool)
	var out []ir.Value
	for _, b := range blocks {
		for _, in := range b.Instrs() {
			for _, op := range in.Operands() {
				if seen[op] || !capturedInput(op, l) {
					continue
				}
				if op == bound.IV.Start && soleRegionUser(op, l, bound.IV.Phi) {
					continue
				}
				if op == bound.End && soleRegionUser(op, l, bound.Cmp) {
					continue
				}
				seen[op] = true
				out = append(out, op)
			}
		}
	}
	return out
}

func capturedInput(v ir.Value, l *analysis.Loop) bool {
	switch x := v.(type) {
	case *ir.Instr:
		return x.Parent() != nil && !l.Contains(x.Parent())
	case *ir.Argument:
		return true
	}
	return false
}

func soleRegionUser(v ir.Value, l *analysis.Loop, only *ir.Instr) bool {
	for _, u := range v.Uses() {
		if p := u.User.Parent(); p != nil && l.Contains(p) && u.User != only {
			return false
		}
	}
	return true
}

// replaceLoopWithCall bypasses the loop in the caller: the preheader
// falls through to the exit and the loop blocks go away
func replaceLoopWithCall(f *ir.Function, l *analysis.Loop, h, exit, ph *ir.BasicBlock) {
	retargetPhis(exit, h, ph)
	ph.ReplaceSuccessor(h, exit)
	doomed := make(map[*ir.BasicBlock]bool, len(l.Blocks))
	for b := range l.Blocks {
		doomed[b] = true
	}
	deleteBlocks(f, doomed)
}
