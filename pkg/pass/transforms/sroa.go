package transforms

import (
	"sort"
	"strings"

	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
	"sysycc/pkg/typing"
)

func init() {
	registerFunc("sroa", runSROA)
}

// Arrays larger than this stay in memory; splitting them would trade
// one slot for a flood of scalars.
const sroaMaxElems = 64

// runSROA splits an array slot accessed only at constant indices into
// one scalar slot per touched element, which mem2reg then promotes. A
// whole-array zero fill becomes per-element zero stores.
func runSROA(f *ir.Function, am *analysis.Manager) (bool, error) {
	changed := false
	for _, b := range f.Blocks() {
		for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
			if in.Parent() == nil || in.Op != ir.OpAlloca {
				continue
			}
			arr, ok := in.Allocated.(*typing.ArrayType)
			if !ok || arr.NumElems() > sroaMaxElems {
				continue
			}
			if splitAlloca(f, in, arr) {
				changed = true
			}
		}
	}
	if changed {
		am.IndVarChanged(f)
	}
	return changed, nil
}

func splitAlloca(f *ir.Function, a *ir.Instr, arr *typing.ArrayType) bool {
	type ref struct {
		gep *ir.Instr
		idx int
	}
	var refs []ref
	var fills []*ir.Instr
	for _, u := range a.Uses() {
		switch u.User.Op {
		case ir.OpMemset:
			if u.User.Bytes != arr.Size() {
				return false
			}
			fills = append(fills, u.User)
			continue
		case ir.OpGetElementPtr:
			if u.Index != 0 {
				return false
			}
		default:
			return false
		}
		g := u.User
		idx, ok := flatIndex(g, arr)
		if !ok {
			return false
		}
		for _, gu := range g.Uses() {
			switch gu.User.Op {
			case ir.OpLoad:
			case ir.OpStore:
				if gu.Index != 1 {
					return false
				}
			default:
				return false
			}
		}
		refs = append(refs, ref{g, idx})
	}
	if len(refs) == 0 {
		return false
	}

	elems := make(map[int]*ir.Instr)
	base := strings.TrimSuffix(a.Name(), ".addr")
	for _, r := range refs {
		if elems[r.idx] == nil {
			e := ir.NewAlloca(arr.Elem)
			e.SetName(f.NextName(base + "."))
			a.Parent().InsertBefore(e, a)
			elems[r.idx] = e
		}
	}
	// untouched elements need no slot and no fill: nothing reads them
	idxs := make([]int, 0, len(elems))
	for i := range elems {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, ms := range fills {
		for _, i := range idxs {
			ms.Parent().InsertBefore(ir.NewStore(ir.Zero(arr.Elem), elems[i]), ms)
		}
		ms.Parent().Erase(ms)
	}
	for _, r := range refs {
		replaceAndErase(r.gep, elems[r.idx])
	}
	a.Parent().Erase(a)
	return true
}

// flatIndex linearizes a full constant index chain, failing on partial
// or variable indexing
func flatIndex(g *ir.Instr, arr *typing.ArrayType) (int, bool) {
	if g.NumOperands() != 2+len(arr.Dims) {
		return 0, false
	}
	c, ok := g.Operand(1).(*ir.ConstantInt)
	if !ok || c.Value != 0 {
		return 0, false
	}
	idx := 0
	for k, d := range arr.Dims {
		ci, ok := g.Operand(2 + k).(*ir.ConstantInt)
		if !ok {
			return 0, false
		}
		v := int(ci.Value)
		if v < 0 || v >= d {
			return 0, false
		}
		idx = idx*d + v
	}
	return idx, true
}
