package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("blockorder", runBlockOrder)
}

// runBlockOrder lays the blocks out in reverse postorder so dumps and
// later consumers see forward edges before their targets. Unreachable
// blocks, if any survive, sink to the end.
func runBlockOrder(f *ir.Function, am *analysis.Manager) (bool, error) {
	var post []*ir.BasicBlock
	seen := make(map[*ir.BasicBlock]bool)
	var walk func(*ir.BasicBlock)
	walk = func(b *ir.BasicBlock) {
		seen[b] = true
		for _, s := range b.Succs() {
			if !seen[s] {
				walk(s)
			}
		}
		post = append(post, b)
	}
	walk(f.Entry())

	order := make([]*ir.BasicBlock, 0, len(f.Blocks()))
	for i := len(post) - 1; i >= 0; i-- {
		order = append(order, post[i])
	}
	for _, b := range f.Blocks() {
		if !seen[b] {
			order = append(order, b)
		}
	}
	changed := false
	for i, b := range f.Blocks() {
		if order[i] != b {
			changed = true
			break
		}
	}
	if !changed {
		return false, nil
	}
	f.SetBlockOrder(order)
	return true, nil
}
