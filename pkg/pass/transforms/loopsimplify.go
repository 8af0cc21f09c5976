package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

func init() {
	registerFunc("loopsimplify", runLoopSimplify)
}

// runLoopSimplify shapes every loop into canonical form: a preheader,
// a unique latch and dedicated exits. The loop passes downstream
// assume this shape and skip loops that resist it.
func runLoopSimplify(f *ir.Function, am *analysis.Manager) (bool, error) {
	changed := false
	for {
		li := am.LoopInfo(f)
		var todo *analysis.Loop
		for _, l := range li.All() {
			if !l.IsSimplified() {
				todo = l
				break
			}
		}
		if todo == nil {
			break
		}
		simplifyLoop(f, todo)
		am.CFGChanged(f)
		changed = true
	}
	return changed, nil
}

func simplifyLoop(f *ir.Function, l *analysis.Loop) {
	h := l.Header
	if l.Preheader() == nil {
		funnelEdges(f, h, f.NextName(h.Name()+".ph"), func(p *ir.BasicBlock) bool {
			return !l.Contains(p)
		})
	}
	if l.Latch() == nil {
		latches := make(map[*ir.BasicBlock]bool, len(l.Latches))
		for _, b := range l.Latches {
			latches[b] = true
		}
		lt := funnelEdges(f, h, f.NextName(h.Name()+".latch"), func(p *ir.BasicBlock) bool {
			return latches[p]
		})
		l.Blocks[lt] = true
	}
	for _, e := range l.ExitBlocks() {
		dedicated := true
		for _, p := range e.Preds() {
			if !l.Contains(p) {
				dedicated = false
				break
			}
		}
		if !dedicated {
			funnelEdges(f, e, f.NextName(e.Name()+".dx"), func(p *ir.BasicBlock) bool {
				return l.Contains(p)
			})
		}
	}
}

// funnelEdges reroutes the edges into b from the predecessors sel
// picks through a fresh block, moving the matching phi entries along
func funnelEdges(f *ir.Function, b *ir.BasicBlock, name string, sel func(*ir.BasicBlock) bool) *ir.BasicBlock {
	nb := newBlockBefore(f, b, name)
	for _, phi := range b.Phis() {
		var vals []ir.Value
		var preds []*ir.BasicBlock
		for i := 0; i < phi.NumIncoming(); {
			v, p := phi.Incoming(i)
			if sel(p) {
				vals = append(vals, v)
				preds = append(preds, p)
				phi.RemoveIncoming(i)
			} else {
				i++
			}
		}
		if len(vals) == 0 {
			continue
		}
		merged := vals[0]
		for _, v := range vals[1:] {
			if v != merged {
				merged = nil
				break
			}
		}
		if merged == nil {
			np := ir.NewPhi(phi.Type())
			np.SetName(f.NextName(phi.Name() + "."))
			nb.InsertAt(0, np)
			for j := range vals {
				np.AddIncoming(vals[j], preds[j])
			}
			merged = np
		}
		phi.AddIncoming(merged, nb)
	}
	seen := make(map[*ir.BasicBlock]bool)
	for _, p := range append([]*ir.BasicBlock(nil), b.Preds()...) {
		if sel(p) && !seen[p] {
			seen[p] = true
			p.ReplaceSuccessor(b, nb)
		}
	}
	nb.Append(ir.NewBr(b))
	return nb
}

func newBlockBefore(f *ir.Function, b *ir.BasicBlock, name string) *ir.BasicBlock {
	blocks := f.Blocks()
	for i, x := range blocks {
		if x == b && i > 0 {
			return f.NewBlockAfter(blocks[i-1], name)
		}
	}
	return f.NewBlockAfter(b, name)
}
