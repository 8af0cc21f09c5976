package analysis

import "sysycc/pkg/ir"

// Effect summarizes what a function may do beyond computing its result
type Effect struct {
	Reads  bool // may load from memory visible to the caller
	Writes bool // may store to memory visible to the caller
	IO     bool // talks to the outside world through the runtime
}

// NoSideEffect reports whether calls to the function can be removed
// when the result is unused
func (e Effect) NoSideEffect() bool { return !e.Writes && !e.IO }

// Stateless reports whether the result depends only on the arguments,
// so equal calls can be merged
func (e Effect) Stateless() bool { return !e.Reads && !e.Writes && !e.IO }

// SideEffects holds the effect summary of every function, computed
// bottom-up over the call graph with fixpoint iteration for cycles
type SideEffects struct {
	effects map[*ir.Function]Effect
}

// Of returns the summary of f. Unknown functions read, write and
// perform IO.
func (se *SideEffects) Of(f *ir.Function) Effect {
	if e, ok := se.effects[f]; ok {
		return e
	}
	return Effect{Reads: true, Writes: true, IO: true}
}

// ReadsMemory reports whether f may read memory
func (se *SideEffects) ReadsMemory(f *ir.Function) bool { return se.Of(f).Reads }

// WritesMemory reports whether f may write memory
func (se *SideEffects) WritesMemory(f *ir.Function) bool { return se.Of(f).Writes }

// NoSideEffect reports whether a call to f with an unused result is dead
func (se *SideEffects) NoSideEffect(f *ir.Function) bool { return se.Of(f).NoSideEffect() }

// Stateless reports whether f is a pure function of its arguments
func (se *SideEffects) Stateless(f *ir.Function) bool { return se.Of(f).Stateless() }

// CallIsRemovable reports whether the call instruction can be deleted
// once its value has no uses
func (se *SideEffects) CallIsRemovable(call *ir.Instr) bool {
	return call.Op == ir.OpCall && se.NoSideEffect(call.Callee())
}

// Apply mirrors the summaries into the function attribute bits so
// later phases can read them without the analysis
func (se *SideEffects) Apply() {
	for f, e := range se.effects {
		if f.IsDecl() {
			continue
		}
		if !e.Reads {
			f.SetAttr(ir.AttrNoMemoryRead)
		}
		if !e.Writes {
			f.SetAttr(ir.AttrNoMemoryWrite)
		}
		if e.NoSideEffect() {
			f.SetAttr(ir.AttrNoSideEffect)
		}
		if e.Stateless() {
			f.SetAttr(ir.AttrStateless)
		}
	}
}

// ComputeSideEffects scans each function body and propagates callee
// effects bottom-up until nothing changes
func ComputeSideEffects(m *ir.Module, cg *CallGraph) *SideEffects {
	se := &SideEffects{effects: make(map[*ir.Function]Effect)}
	for _, f := range m.Funcs() {
		if f.IsDecl() {
			se.effects[f] = declEffect(f)
		}
	}
	order := cg.PostOrder()
	for _, f := range order {
		se.effects[f] = se.localEffect(f)
	}
	for changed := true; changed; {
		changed = false
		for _, f := range order {
			e := se.localEffect(f)
			if e != se.effects[f] {
				se.effects[f] = e
				changed = true
			}
		}
	}
	return se
}

// declEffect derives the summary of an external declaration from its
// attribute bits. The runtime always counts as IO.
func declEffect(f *ir.Function) Effect {
	return Effect{
		Reads:  !f.HasAttr(ir.AttrNoMemoryRead),
		Writes: !f.HasAttr(ir.AttrNoMemoryWrite),
		IO:     true,
	}
}

func (se *SideEffects) localEffect(f *ir.Function) Effect {
	var e Effect
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			switch in.Op {
			case ir.OpLoad:
				if !localOnly(in.Operand(0)) {
					e.Reads = true
				}
			case ir.OpStore:
				if !localOnly(in.Operand(1)) {
					e.Writes = true
				}
			case ir.OpMemset:
				if !localOnly(in.Operand(0)) {
					e.Writes = true
				}
			case ir.OpCall:
				ce := se.Of(in.Callee())
				e.Reads = e.Reads || ce.Reads
				e.Writes = e.Writes || ce.Writes
				e.IO = e.IO || ce.IO
			}
		}
	}
	return e
}

// localOnly reports whether the address is rooted in a non-escaping
// alloca of this function, so accesses through it are invisible to
// callers
func localOnly(ptr ir.Value) bool {
	base := Base(ptr)
	in, ok := base.(*ir.Instr)
	if !ok || in.Op != ir.OpAlloca {
		return false
	}
	return !addressEscapes(in)
}
