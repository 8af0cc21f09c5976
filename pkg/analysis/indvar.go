package analysis

import (
	"sysycc/pkg/ir"
	"sysycc/pkg/typing"
)

// IndVar is a basic induction variable: a header phi whose value on
// the preheader edge is Start and whose value on the latch edge is
// the phi plus or minus a loop-invariant Step.
type IndVar struct {
	Loop   *Loop
	Phi    *ir.Instr
	Start  ir.Value
	Step   ir.Value
	Update *ir.Instr // the add or sub on the latch edge
	Neg    bool      // true when Update subtracts Step
}

// StepConst returns the signed step, false when it is not constant
func (iv *IndVar) StepConst() (int64, bool) {
	c, ok := iv.Step.(*ir.ConstantInt)
	if !ok {
		return 0, false
	}
	if iv.Neg {
		return -c.Value, true
	}
	return c.Value, true
}

// LoopBound describes the exit guard of a loop whose single exiting
// block tests an induction variable against a loop-invariant bound.
type LoopBound struct {
	IV      *IndVar
	Cmp     *ir.Instr
	Pred    ir.CmpPred // normalized so the IV is the left operand
	End     ir.Value
	OnLatch bool // the compared value is the updated IV, not the phi
}

// IndVarInfo holds the induction variables of every loop in a function
type IndVarInfo struct {
	fn     *ir.Function
	byLoop map[*Loop][]*IndVar
	byPhi  map[*ir.Instr]*IndVar
	bounds map[*Loop]*LoopBound
}

// Vars returns the induction variables of l, header phi order
func (ii *IndVarInfo) Vars(l *Loop) []*IndVar { return ii.byLoop[l] }

// VarFor returns the induction variable rooted at phi, nil if none
func (ii *IndVarInfo) VarFor(phi *ir.Instr) *IndVar { return ii.byPhi[phi] }

// Bound returns the exit guard of l, nil when the loop has several
// exiting blocks or the guard is not an IV comparison
func (ii *IndVarInfo) Bound(l *Loop) *LoopBound { return ii.bounds[l] }

// TripCount returns the constant iteration count of l, false when the
// start, step or bound is not constant or the guard shape is unknown
func (ii *IndVarInfo) TripCount(l *Loop) (int64, bool) {
	b := ii.bounds[l]
	if b == nil || b.OnLatch {
		return 0, false
	}
	start, ok := b.IV.Start.(*ir.ConstantInt)
	if !ok {
		return 0, false
	}
	end, ok := b.End.(*ir.ConstantInt)
	if !ok {
		return 0, false
	}
	step, ok := b.IV.StepConst()
	if !ok || step == 0 {
		return 0, false
	}
	return tripCount(start.Value, end.Value, step, b.Pred)
}

func tripCount(start, end, step int64, pred ir.CmpPred) (int64, bool) {
	dist := end - start
	switch pred {
	case ir.PredLT:
		if step <= 0 {
			return 0, false
		}
	case ir.PredLE:
		if step <= 0 {
			return 0, false
		}
		dist++
	case ir.PredGT:
		if step >= 0 {
			return 0, false
		}
		dist = -dist
		step = -step
	case ir.PredGE:
		if step >= 0 {
			return 0, false
		}
		dist = -dist + 1
		step = -step
	case ir.PredNE:
		if step < 0 {
			dist = -dist
			step = -step
		}
		if step == 0 || dist%step != 0 {
			return 0, false
		}
	default:
		return 0, false
	}
	if dist <= 0 {
		return 0, true
	}
	return (dist + step - 1) / step, true
}

// ComputeIndVars scans every loop header for basic induction variables
// and recognizes the exit guard when the loop exits in one place
func ComputeIndVars(f *ir.Function, li *LoopInfo) *IndVarInfo {
	ii := &IndVarInfo{
		fn:     f,
		byLoop: make(map[*Loop][]*IndVar),
		byPhi:  make(map[*ir.Instr]*IndVar),
		bounds: make(map[*Loop]*LoopBound),
	}
	for _, l := range li.All() {
		ii.scanLoop(l)
	}
	return ii
}

func (ii *IndVarInfo) scanLoop(l *Loop) {
	pre := l.Preheader()
	latch := l.Latch()
	if pre == nil || latch == nil {
		return
	}
	for _, phi := range l.Header.Phis() {
		if !typing.IsInt(phi.Type()) {
			continue
		}
		start := phi.IncomingFor(pre)
		next := phi.IncomingFor(latch)
		if start == nil || next == nil {
			continue
		}
		upd, ok := next.(*ir.Instr)
		if !ok || (upd.Op != ir.OpAdd && upd.Op != ir.OpSub) || !l.Contains(upd.Parent()) {
			continue
		}
		var step ir.Value
		neg := upd.Op == ir.OpSub
		switch {
		case upd.Operand(0) == ir.Value(phi):
			step = upd.Operand(1)
		case !neg && upd.Operand(1) == ir.Value(phi):
			step = upd.Operand(0)
		default:
			continue
		}
		if !loopInvariant(step, l) {
			continue
		}
		iv := &IndVar{Loop: l, Phi: phi, Start: start, Step: step, Update: upd, Neg: neg}
		ii.byLoop[l] = append(ii.byLoop[l], iv)
		ii.byPhi[phi] = iv
	}
	ii.scanBound(l)
}

func (ii *IndVarInfo) scanBound(l *Loop) {
	exiting := l.ExitingBlocks()
	if len(exiting) != 1 {
		return
	}
	term := exiting[0].Terminator()
	if term == nil || term.Op != ir.OpCondBr {
		return
	}
	cmp, ok := term.Operand(0).(*ir.Instr)
	if !ok || cmp.Op != ir.OpICmp {
		return
	}
	// normalize to the continue condition: when the true edge leaves
	// the loop the guard holds on exit, not on entry
	pred := cmp.Pred
	if !l.Contains(term.Succs()[0]) {
		pred = pred.Inverted()
	}
	lhs, rhs := cmp.Operand(0), cmp.Operand(1)
	if b := ii.boundFor(l, cmp, lhs, rhs, pred); b != nil {
		ii.bounds[l] = b
		return
	}
	if b := ii.boundFor(l, cmp, rhs, lhs, pred.Swapped()); b != nil {
		ii.bounds[l] = b
	}
}

func (ii *IndVarInfo) boundFor(l *Loop, cmp *ir.Instr, v, end ir.Value, pred ir.CmpPred) *LoopBound {
	if !loopInvariant(end, l) {
		return nil
	}
	in, ok := v.(*ir.Instr)
	if !ok {
		return nil
	}
	if iv := ii.byPhi[in]; iv != nil && iv.Loop == l {
		return &LoopBound{IV: iv, Cmp: cmp, Pred: pred, End: end}
	}
	for _, iv := range ii.byLoop[l] {
		if iv.Update == in {
			return &LoopBound{IV: iv, Cmp: cmp, Pred: pred, End: end, OnLatch: true}
		}
	}
	return nil
}

func loopInvariant(v ir.Value, l *Loop) bool {
	in, ok := v.(*ir.Instr)
	if !ok {
		return true
	}
	return !l.Contains(in.Parent())
}
