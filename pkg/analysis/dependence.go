package analysis

import "sysycc/pkg/ir"

// DepKind classifies the dependence between two memory accesses
type DepKind int

const (
	DepIndependent DepKind = iota
	DepFlow                // write then read
	DepAnti                // read then write
	DepOutput              // write then write
	DepUnknown
)

func (k DepKind) String() string {
	switch k {
	case DepIndependent:
		return "independent"
	case DepFlow:
		return "flow"
	case DepAnti:
		return "anti"
	case DepOutput:
		return "output"
	}
	return "unknown"
}

// affine is a linear form over induction variable phis and symbolic
// loop-invariant values: Const + sum coeff[v]*v
type affine struct {
	off   int64
	coeff map[ir.Value]int64
}

func (a affine) add(b affine, sign int64) affine {
	out := affine{off: a.off + sign*b.off, coeff: map[ir.Value]int64{}}
	for v, c := range a.coeff {
		out.coeff[v] = c
	}
	for v, c := range b.coeff {
		out.coeff[v] += sign * c
	}
	for v, c := range out.coeff {
		if c == 0 {
			delete(out.coeff, v)
		}
	}
	return out
}

func (a affine) scale(k int64) affine {
	out := affine{off: a.off * k, coeff: map[ir.Value]int64{}}
	for v, c := range a.coeff {
		if c*k != 0 {
			out.coeff[v] = c * k
		}
	}
	return out
}

// access is one load or store with its decomposed address
type access struct {
	instr *ir.Instr
	base  ir.Value
	subs  []affine
	exact bool // every subscript decomposed to an affine form
}

// DependenceInfo answers aliasing and loop-dependence queries for one
// function. Queries are relative to a loop so subscripts are split
// into induction terms and invariant symbols.
type DependenceInfo struct {
	fn *ir.Function
	li *LoopInfo
	ii *IndVarInfo
}

// ComputeDependence builds the query context; the work happens per query
func ComputeDependence(f *ir.Function, li *LoopInfo, ii *IndVarInfo) *DependenceInfo {
	return &DependenceInfo{fn: f, li: li, ii: ii}
}

// Base strips address computations down to the underlying object
func Base(ptr ir.Value) ir.Value {
	for {
		in, ok := ptr.(*ir.Instr)
		if !ok {
			return ptr
		}
		switch in.Op {
		case ir.OpGetElementPtr, ir.OpBitCast:
			ptr = in.Operand(0)
		case ir.OpLoad:
			// array parameter slot: the object is the incoming pointer
			return in
		default:
			return in
		}
	}
}

// distinctObjects reports whether two base pointers can never address
// the same storage
func distinctObjects(a, b ir.Value) bool {
	if a == b {
		return false
	}
	ai, aAlloca := allocaOrGlobal(a)
	bi, bAlloca := allocaOrGlobal(b)
	if ai && bi {
		return true
	}
	// a named object cannot be reached through a pointer parameter
	// only when the object is a non-escaping local
	if ai && aAlloca && !addressEscapes(a.(*ir.Instr)) {
		return true
	}
	if bi && bAlloca && !addressEscapes(b.(*ir.Instr)) {
		return true
	}
	return false
}

func allocaOrGlobal(v ir.Value) (named, alloca bool) {
	if in, ok := v.(*ir.Instr); ok && in.Op == ir.OpAlloca {
		return true, true
	}
	if _, ok := v.(*ir.Global); ok {
		return true, false
	}
	return false, false
}

func addressEscapes(alloca *ir.Instr) bool {
	for _, u := range alloca.Uses() {
		switch u.User.Op {
		case ir.OpLoad:
		case ir.OpStore:
			if u.Index == 0 {
				return true // the address itself is stored
			}
		case ir.OpGetElementPtr, ir.OpBitCast:
			if addressEscapes(u.User) {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func (di *DependenceInfo) accessOf(in *ir.Instr, l *Loop) access {
	var ptr ir.Value
	switch in.Op {
	case ir.OpLoad:
		ptr = in.Operand(0)
	case ir.OpStore:
		ptr = in.Operand(1)
	case ir.OpMemset:
		ptr = in.Operand(0)
	default:
		return access{instr: in}
	}
	a := access{instr: in, base: Base(ptr), exact: true}
	for cur := ptr; ; {
		g, ok := cur.(*ir.Instr)
		if !ok || g.Op != ir.OpGetElementPtr {
			break
		}
		var subs []affine
		for i := 1; i < g.NumOperands(); i++ {
			s, ok := di.affineOf(g.Operand(i), l)
			if !ok {
				a.exact = false
				s = affine{coeff: map[ir.Value]int64{g.Operand(i): 1}}
			}
			subs = append(subs, s)
		}
		a.subs = append(subs, a.subs...)
		cur = g.Operand(0)
	}
	return a
}

// affineOf decomposes v into a linear form over l's induction phis and
// loop-invariant symbols
func (di *DependenceInfo) affineOf(v ir.Value, l *Loop) (affine, bool) {
	if c, ok := v.(*ir.ConstantInt); ok {
		return affine{off: c.Value}, true
	}
	in, ok := v.(*ir.Instr)
	if !ok || l == nil || !l.Contains(in.Parent()) {
		return affine{coeff: map[ir.Value]int64{v: 1}}, true
	}
	if iv := di.ii.VarFor(in); iv != nil && iv.Loop == l {
		return affine{coeff: map[ir.Value]int64{v: 1}}, true
	}
	switch in.Op {
	case ir.OpAdd, ir.OpSub:
		a, okA := di.affineOf(in.Operand(0), l)
		b, okB := di.affineOf(in.Operand(1), l)
		if !okA || !okB {
			return affine{}, false
		}
		sign := int64(1)
		if in.Op == ir.OpSub {
			sign = -1
		}
		return a.add(b, sign), true
	case ir.OpMul:
		if c, ok := in.Operand(1).(*ir.ConstantInt); ok {
			a, okA := di.affineOf(in.Operand(0), l)
			if okA {
				return a.scale(c.Value), true
			}
		}
		if c, ok := in.Operand(0).(*ir.ConstantInt); ok {
			a, okA := di.affineOf(in.Operand(1), l)
			if okA {
				return a.scale(c.Value), true
			}
		}
		return affine{}, false
	case ir.OpSExt, ir.OpZExt:
		return di.affineOf(in.Operand(0), l)
	}
	// an update of an induction variable is phi + step
	for _, iv := range di.ii.Vars(l) {
		if iv.Update == in {
			step, ok := iv.StepConst()
			if !ok {
				break
			}
			return affine{off: step, coeff: map[ir.Value]int64{iv.Phi: 1}}, true
		}
	}
	return affine{}, false
}

// Classify determines the dependence between two memory instructions
// with respect to iterations of l. Accesses proven to touch disjoint
// storage are independent; otherwise the kind follows from which of
// the two writes.
func (di *DependenceInfo) Classify(a, b *ir.Instr, l *Loop) DepKind {
	aw := a.Op == ir.OpStore || a.Op == ir.OpMemset
	bw := b.Op == ir.OpStore || b.Op == ir.OpMemset
	if !aw && !bw {
		return DepIndependent
	}
	if a.Op == ir.OpMemset || b.Op == ir.OpMemset {
		am, bm := di.accessOf(a, l), di.accessOf(b, l)
		if distinctObjects(am.base, bm.base) {
			return DepIndependent
		}
		return DepUnknown
	}
	aa, ba := di.accessOf(a, l), di.accessOf(b, l)
	if distinctObjects(aa.base, ba.base) {
		return DepIndependent
	}
	if aa.base == ba.base && aa.exact && ba.exact && len(aa.subs) == len(ba.subs) {
		if di.subscriptsIndependent(aa.subs, ba.subs, l) {
			return DepIndependent
		}
	}
	switch {
	case aw && bw:
		return DepOutput
	case aw:
		return DepFlow
	default:
		return DepAnti
	}
}

// subscriptsIndependent applies the GCD and Banerjee tests dimension
// by dimension; one provably empty dimension kills the dependence
func (di *DependenceInfo) subscriptsIndependent(as, bs []affine, l *Loop) bool {
	for i := range as {
		if di.dimensionIndependent(as[i], bs[i], l) {
			return true
		}
	}
	return false
}

func (di *DependenceInfo) dimensionIndependent(a, b affine, l *Loop) bool {
	// a(i1) = b(i2) must be unsolvable over the iteration space
	ka, iva, restA, okA := splitIV(a, di.ii, l)
	kb, ivb, restB, okB := splitIV(b, di.ii, l)
	if !okA || !okB {
		return false
	}
	if iva != nil && ivb != nil && iva != ivb {
		return false
	}
	delta := restA.add(restB, -1)
	if len(delta.coeff) != 0 {
		return false // unresolved symbolic difference
	}
	// solve ka*i1 - kb*i2 = diff
	diff := -delta.off
	if ka == 0 && kb == 0 {
		// ZIV: both invariant in l, independent iff constants differ
		return diff != 0
	}
	g := gcd(abs64(ka), abs64(kb))
	if g != 0 && diff%g != 0 {
		return true
	}
	// Banerjee bounds when the trip count is known
	if n, known := di.ii.TripCount(l); known && n > 0 {
		lo := minTerm(ka, n) - maxTerm(kb, n)
		hi := maxTerm(ka, n) - minTerm(kb, n)
		if diff < lo || diff > hi {
			return true
		}
	}
	return false
}

// splitIV separates the induction term of a subscript from the rest,
// false when the form mixes several induction variables of l
func splitIV(a affine, ii *IndVarInfo, l *Loop) (k int64, iv *ir.Instr, rest affine, ok bool) {
	rest = affine{off: a.off, coeff: map[ir.Value]int64{}}
	for v, c := range a.coeff {
		if in, isIn := v.(*ir.Instr); isIn {
			if x := ii.VarFor(in); x != nil && x.Loop == l {
				if iv != nil {
					return 0, nil, affine{}, false
				}
				k, iv = c, in
				continue
			}
		}
		rest.coeff[v] = c
	}
	return k, iv, rest, true
}

// CarriedDistance returns the iteration distance between the two
// accesses: the subscripts collide when the second runs d iterations
// behind the first. False when the forms are not parallel in one
// induction variable of l.
func (di *DependenceInfo) CarriedDistance(a, b *ir.Instr, l *Loop) (int64, bool) {
	aa, ba := di.accessOf(a, l), di.accessOf(b, l)
	if aa.base != ba.base || !aa.exact || !ba.exact || len(aa.subs) != len(ba.subs) {
		return 0, false
	}
	dist := int64(0)
	seen := false
	for i := range aa.subs {
		ka, iva, restA, okA := splitIV(aa.subs[i], di.ii, l)
		kb, ivb, restB, okB := splitIV(ba.subs[i], di.ii, l)
		if !okA || !okB || ka != kb || iva != ivb {
			return 0, false
		}
		delta := restA.add(restB, -1)
		if len(delta.coeff) != 0 {
			return 0, false
		}
		if ka == 0 {
			if delta.off != 0 {
				return 0, false
			}
			continue
		}
		if delta.off%ka != 0 {
			return 0, false
		}
		d := delta.off / ka
		if seen && d != dist {
			return 0, false
		}
		dist, seen = d, true
	}
	return dist, true
}

// IterationsIndependent reports whether distinct iterations of l touch
// disjoint memory, the property loop parallelization needs. Calls and
// memsets inside the loop defeat the analysis.
func (di *DependenceInfo) IterationsIndependent(l *Loop) bool {
	var mems []*ir.Instr
	for _, b := range di.fn.Blocks() {
		if !l.Contains(b) {
			continue
		}
		for _, in := range b.Instrs() {
			switch in.Op {
			case ir.OpLoad, ir.OpStore:
				mems = append(mems, in)
			case ir.OpCall, ir.OpMemset:
				return false
			}
		}
	}
	for i, a := range mems {
		for _, b := range mems[i:] {
			if a.Op != ir.OpStore && b.Op != ir.OpStore {
				continue
			}
			if di.Classify(a, b, l) == DepIndependent {
				continue
			}
			// same-element accesses are fine when the element is
			// private to the iteration: distance zero
			if d, ok := di.CarriedDistance(a, b, l); ok && d == 0 {
				aa := di.accessOf(a, l)
				if subscriptVaries(aa, di.ii, l) {
					continue
				}
			}
			return false
		}
	}
	return true
}

// subscriptVaries reports whether the access walks the array with the
// loop, so equal iterations map to distinct elements
func subscriptVaries(a access, ii *IndVarInfo, l *Loop) bool {
	for _, s := range a.subs {
		for v, c := range s.coeff {
			in, ok := v.(*ir.Instr)
			if !ok || c == 0 {
				continue
			}
			if iv := ii.VarFor(in); iv != nil && iv.Loop == l {
				return true
			}
		}
	}
	return false
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func minTerm(c, n int64) int64 {
	if c >= 0 {
		return 0
	}
	return c * (n - 1)
}

func maxTerm(c, n int64) int64 {
	if c >= 0 {
		return c * (n - 1)
	}
	return 0
}
