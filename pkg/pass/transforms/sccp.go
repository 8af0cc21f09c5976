package transforms

import (
	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
	"sysycc/pkg/typing"
)

func init() {
	registerFunc("sccp", runSCCP)
}

// Lattice states. Cells only ever move downward.
const (
	latTop = iota
	latConst
	latBottom
)

type latCell struct {
	state int
	c     ir.Constant
}

type sccpState struct {
	f      *ir.Function
	cells  map[*ir.Instr]latCell
	edges  map[[2]*ir.BasicBlock]bool
	blocks map[*ir.BasicBlock]bool

	cfgWork [][2]*ir.BasicBlock
	ssaWork []*ir.Instr
}

// runSCCP runs sparse conditional constant propagation: constants flow
// only along branch edges proven executable, so values defined under
// dead conditions fold even when a plain sweep cannot see it
func runSCCP(f *ir.Function, am *analysis.Manager) (bool, error) {
	s := &sccpState{
		f:      f,
		cells:  make(map[*ir.Instr]latCell),
		edges:  make(map[[2]*ir.BasicBlock]bool),
		blocks: make(map[*ir.BasicBlock]bool),
	}
	s.cfgWork = append(s.cfgWork, [2]*ir.BasicBlock{nil, f.Entry()})
	s.solve()

	changed := false
	for _, b := range f.Blocks() {
		if !s.blocks[b] {
			continue
		}
		for _, in := range append([]*ir.Instr(nil), b.Instrs()...) {
			cell := s.cells[in]
			if cell.state != latConst {
				continue
			}
			replaceAndErase(in, cell.c)
			changed = true
		}
	}

	folded := false
	for _, b := range f.Blocks() {
		if !s.blocks[b] {
			continue
		}
		t := b.Terminator()
		if t == nil || t.Op != ir.OpCondBr {
			continue
		}
		c, ok := t.Operand(0).(*ir.ConstantBool)
		if !ok {
			continue
		}
		taken := t.Operand(1).(*ir.BasicBlock)
		other := t.Operand(2).(*ir.BasicBlock)
		if !c.Value {
			taken, other = other, taken
		}
		b.Erase(t)
		if other == taken {
			dropOnePhiEdge(taken, b)
		} else {
			removePhiEdges(other, b)
		}
		b.Append(ir.NewBr(taken))
		folded = true
	}

	if folded {
		am.CFGChanged(f)
	} else if changed {
		am.IndVarChanged(f)
	}
	return changed || folded, nil
}

func (s *sccpState) solve() {
	for len(s.cfgWork) > 0 || len(s.ssaWork) > 0 {
		for len(s.cfgWork) > 0 {
			e := s.cfgWork[len(s.cfgWork)-1]
			s.cfgWork = s.cfgWork[:len(s.cfgWork)-1]
			s.flowEdge(e[0], e[1])
		}
		for len(s.ssaWork) > 0 {
			in := s.ssaWork[len(s.ssaWork)-1]
			s.ssaWork = s.ssaWork[:len(s.ssaWork)-1]
			if s.blocks[in.Parent()] {
				s.visit(in)
			}
		}
	}
}

func (s *sccpState) flowEdge(from, to *ir.BasicBlock) {
	key := [2]*ir.BasicBlock{from, to}
	if s.edges[key] {
		// phis still see the edge's value on revisits through other paths
		for _, phi := range to.Phis() {
			s.visit(phi)
		}
		return
	}
	s.edges[key] = true
	first := !s.blocks[to]
	s.blocks[to] = true
	if first {
		for _, in := range to.Instrs() {
			s.visit(in)
		}
	} else {
		for _, phi := range to.Phis() {
			s.visit(phi)
		}
	}
}

// lower moves in's cell down to next, pushing users when it moved
func (s *sccpState) lower(in *ir.Instr, next latCell) {
	cur := s.cells[in]
	if cur.state == latBottom || next.state == latTop {
		return
	}
	if cur.state == latConst && next.state == latConst && sameConst(cur.c, next.c) {
		return
	}
	if cur.state == latConst {
		next = latCell{state: latBottom}
	}
	s.cells[in] = next
	for _, u := range in.Uses() {
		s.ssaWork = append(s.ssaWork, u.User)
	}
}

func (s *sccpState) visit(in *ir.Instr) {
	switch in.Op {
	case ir.OpPhi:
		s.visitPhi(in)
	case ir.OpBr:
		s.addEdge(in.Parent(), in.Operand(0).(*ir.BasicBlock))
	case ir.OpCondBr:
		s.visitCondBr(in)
	case ir.OpRet, ir.OpStore, ir.OpMemset, ir.OpAlloca:
	case ir.OpLoad, ir.OpCall, ir.OpGetElementPtr:
		s.lower(in, latCell{state: latBottom})
	default:
		s.visitFoldable(in)
	}
}

func (s *sccpState) visitPhi(phi *ir.Instr) {
	cell := latCell{state: latTop}
	for i := 0; i < phi.NumIncoming(); i++ {
		v, pred := phi.Incoming(i)
		if !s.edges[[2]*ir.BasicBlock{pred, phi.Parent()}] {
			continue
		}
		vc := s.cellOf(v)
		switch {
		case vc.state == latTop:
		case vc.state == latBottom:
			cell = latCell{state: latBottom}
		case cell.state == latTop:
			cell = vc
		case cell.state == latConst && !sameConst(cell.c, vc.c):
			cell = latCell{state: latBottom}
		}
		if cell.state == latBottom {
			break
		}
	}
	s.lower(phi, cell)
}

func (s *sccpState) visitCondBr(in *ir.Instr) {
	b := in.Parent()
	tt := in.Operand(1).(*ir.BasicBlock)
	ft := in.Operand(2).(*ir.BasicBlock)
	switch cond := s.cellOf(in.Operand(0)); cond.state {
	case latTop:
	case latConst:
		if cond.c.(*ir.ConstantBool).Value {
			s.addEdge(b, tt)
		} else {
			s.addEdge(b, ft)
		}
	case latBottom:
		s.addEdge(b, tt)
		s.addEdge(b, ft)
	}
}

func (s *sccpState) visitFoldable(in *ir.Instr) {
	ops := make([]ir.Value, in.NumOperands())
	for i := range ops {
		c := s.cellOf(in.Operand(i))
		switch c.state {
		case latTop:
			return
		case latBottom:
			s.lower(in, latCell{state: latBottom})
			return
		}
		ops[i] = c.c
	}
	var folded ir.Constant
	switch {
	case in.Op.IsBinary():
		folded = ir.FoldBinary(in.Op, ops[0], ops[1])
	case in.Op == ir.OpICmp:
		folded = ir.FoldICmp(in.Pred, ops[0], ops[1])
	case in.Op == ir.OpFCmp:
		folded = ir.FoldFCmp(in.Pred, ops[0], ops[1])
	case in.Op == ir.OpFNeg:
		if c, ok := ops[0].(*ir.ConstantFloat); ok {
			folded = ir.NewConstFloat(in.Type(), -c.Value)
		}
	case in.Op.IsCast():
		folded = ir.FoldCast(in.Op, ops[0], in.Type())
	}
	if folded == nil {
		s.lower(in, latCell{state: latBottom})
		return
	}
	s.lower(in, latCell{state: latConst, c: folded})
}

func (s *sccpState) cellOf(v ir.Value) latCell {
	switch c := v.(type) {
	case ir.Constant:
		if _, undef := c.(*ir.Undef); undef {
			return latCell{state: latBottom}
		}
		return latCell{state: latConst, c: c}
	case *ir.Instr:
		return s.cells[c]
	}
	return latCell{state: latBottom}
}

func (s *sccpState) addEdge(from, to *ir.BasicBlock) {
	if !s.edges[[2]*ir.BasicBlock{from, to}] {
		s.cfgWork = append(s.cfgWork, [2]*ir.BasicBlock{from, to})
	}
}

func sameConst(a, b ir.Constant) bool {
	switch x := a.(type) {
	case *ir.ConstantInt:
		y, ok := b.(*ir.ConstantInt)
		return ok && typing.Same(x.Type(), y.Type()) && x.Value == y.Value
	case *ir.ConstantFloat:
		y, ok := b.(*ir.ConstantFloat)
		return ok && typing.Same(x.Type(), y.Type()) && x.Value == y.Value
	case *ir.ConstantBool:
		y, ok := b.(*ir.ConstantBool)
		return ok && x.Value == y.Value
	}
	return false
}
