package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerModule("deadargelim", runDeadArgElim)
}

// runDeadArgElim drops parameters no instruction reads, shrinking the
// signature and every call site. main keeps its signature: it is the
// program entry.
func runDeadArgElim(m *ir.Module, am *analysis.Manager) (bool, error) {
	changed := false
	for _, f := range m.Funcs() {
		if f.IsDecl() || f.Name() == "main" {
			continue
		}
		var dead []int
		for i, a := range f.Args() {
			if !ir.HasUses(a) {
				dead = append(dead, i)
			}
		}
		if len(dead) == 0 {
			continue
		}
		sites := f.CallSites()
		for i := len(dead) - 1; i >= 0; i-- {
			f.DropArg(dead[i])
		}
		for _, call := range sites {
			rebuildCall(call, f, dead)
		}
		changed = true
	}
	if changed {
		am.CallChanged()
	}
	return changed, nil
}

// rebuildCall replaces call with one passing only the surviving
// arguments, in order
func rebuildCall(call *ir.Instr, f *ir.Function, dead []int) {
	drop := make(map[int]bool, len(dead))
	for _, i := range dead {
		drop[i] = true
	}
	var args []ir.Value
	for i, v := range call.Args() {
		if !drop[i] {
			args = append(args, v)
		}
	}
	nc := ir.NewCall(f, args...)
	nc.SetName(call.Name())
	call.Parent().InsertBefore(nc, call)
	ir.ReplaceAllUsesWith(call, nc)
	call.Parent().Erase(call)
}
