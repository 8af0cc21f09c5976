package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("scp", runSCP)
}

// runSCP is worklist constant propagation: when an instruction folds,
// its users are requeued, so chains collapse in one pass
func runSCP(f *ir.Function, am *analysis.Manager) (bool, error) {
	var work []*ir.Instr
	queued := make(map[*ir.Instr]bool)
	push := func(in *ir.Instr) {
		if !queued[in] {
			queued[in] = true
			work = append(work, in)
		}
	}
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			push(in)
		}
	}

	changed := false
	for len(work) > 0 {
		in := work[len(work)-1]
		work = work[:len(work)-1]
		queued[in] = false
		if in.Parent() == nil {
			continue
		}
		c := constOf(in)
		if c == nil {
			continue
		}
		for _, u := range in.Uses() {
			push(u.User)
		}
		replaceAndErase(in, c)
		changed = true
	}
	if changed {
		am.IndVarChanged(f)
	}
	return changed, nil
}
