package analysis

import (
	"testing"

	"sysycc/pkg/ir"
	"sysycc/pkg/irgen"
	"sysycc/pkg/lexer"
	"sysycc/pkg/parser"
	"sysycc/pkg/typing"
)

func build(t *testing.T, src string) *ir.Module {
	t.Helper()
	p := parser.New(lexer.New(src))
	cu := p.ParseCompUnit()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse errors: %v", p.Errors())
	}
	m, err := irgen.NewGenerator().Generate(cu)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	return m
}

func blockByName(t *testing.T, f *ir.Function, name string) *ir.BasicBlock {
	t.Helper()
	for _, b := range f.Blocks() {
		if b.Name() == name {
			return b
		}
	}
	t.Fatalf("no block %s in %s", name, f.Name())
	return nil
}

func TestDomTreeDiamond(t *testing.T) {
	m := build(t, `
int f(int a) {
    int r = 0;
    if (a) { r = 1; } else { r = 2; }
    return r;
}`)
	f := m.Func("f")
	d := ComputeDomTree(f)
	entry := f.Entry()
	then := blockByName(t, f, "if0_then")
	els := blockByName(t, f, "if0_else")
	end := blockByName(t, f, "if0_end")

	if !d.Dominates(entry, end) || !d.Dominates(entry, then) {
		t.Errorf("entry must dominate every block")
	}
	if d.Dominates(then, end) || d.Dominates(els, end) {
		t.Errorf("neither branch dominates the join")
	}
	if d.IDom(end) != entry {
		t.Errorf("idom of the join should be the branch block, got %v", d.IDom(end).Name())
	}
	if d.Level(entry) != 0 || d.Level(then) != 1 {
		t.Errorf("levels wrong: entry=%d then=%d", d.Level(entry), d.Level(then))
	}
	fr := d.Frontier(then)
	if len(fr) != 1 || fr[0] != end {
		t.Errorf("frontier of then should be the join, got %v", fr)
	}
}

func TestDomTreeUnreachable(t *testing.T) {
	m := build(t, `
int f() {
    while (1) { }
    return 0;
}`)
	f := m.Func("f")
	d := ComputeDomTree(f)
	end := blockByName(t, f, "while0_end")
	if d.Reachable(end) {
		t.Errorf("block after an infinite loop should be unreachable")
	}
	if d.Dominates(f.Entry(), end) {
		t.Errorf("Dominates must be false for unreachable blocks")
	}
}

func TestDominatesValue(t *testing.T) {
	m := build(t, `int f(int a) { int b = a + 1; return b + a; }`)
	f := m.Func("f")
	d := ComputeDomTree(f)
	var first, second *ir.Instr
	for _, in := range f.Entry().Instrs() {
		if in.Op == ir.OpAdd {
			if first == nil {
				first = in
			} else {
				second = in
			}
		}
	}
	if first == nil || second == nil {
		t.Fatalf("expected two adds in entry")
	}
	if !d.DominatesValue(first, second) {
		t.Errorf("earlier instruction should dominate the later one")
	}
	if d.DominatesValue(second, first) {
		t.Errorf("later instruction must not dominate the earlier one")
	}
}

func TestPostDomTree(t *testing.T) {
	m := build(t, `
int f(int a) {
    int r = 0;
    if (a) { r = 1; } else { r = 2; }
    return r;
}`)
	f := m.Func("f")
	p := ComputePostDomTree(f)
	then := blockByName(t, f, "if0_then")
	end := blockByName(t, f, "if0_end")
	exit := blockByName(t, f, "exit")

	if !p.PostDominates(exit, f.Entry()) {
		t.Errorf("the return block postdominates the entry")
	}
	if !p.PostDominates(end, then) {
		t.Errorf("the join postdominates each branch")
	}
	if p.PostDominates(then, f.Entry()) {
		t.Errorf("one branch does not postdominate the entry")
	}
	if p.IPDom(exit) != nil {
		t.Errorf("the return block's ipdom is the virtual exit")
	}
	if p.IPDom(then) != end {
		t.Errorf("ipdom of a branch should be the join")
	}
}

func TestLoopInfoWhile(t *testing.T) {
	m := build(t, `
int main() {
    int i = 0;
    int s = 0;
    while (i < 10) {
        s = s + i;
        i = i + 1;
    }
    return s;
}`)
	f := m.Func("main")
	li := ComputeLoopInfo(f, ComputeDomTree(f))
	if len(li.Top) != 1 {
		t.Fatalf("want one loop, got %d", len(li.Top))
	}
	l := li.Top[0]
	judge := blockByName(t, f, "while0_judge")
	body := blockByName(t, f, "while0_body")
	end := blockByName(t, f, "while0_end")

	if l.Header != judge {
		t.Errorf("header should be the judge block")
	}
	if !l.Contains(body) || l.Contains(end) {
		t.Errorf("loop membership wrong")
	}
	if l.Depth() != 1 {
		t.Errorf("depth = %d, want 1", l.Depth())
	}
	if l.Latch() != body {
		t.Errorf("latch should be the body")
	}
	if l.Preheader() != f.Entry() {
		t.Errorf("preheader should be the entry")
	}
	exits := l.ExitBlocks()
	if len(exits) != 1 || exits[0] != end {
		t.Errorf("exit should be the end block, got %v", exits)
	}
	if !l.IsSimplified() {
		t.Errorf("a plain while loop is already simplified")
	}
	if li.LoopOf(body) != l || li.LoopOf(end) != nil {
		t.Errorf("LoopOf wrong")
	}
}

func TestLoopInfoNest(t *testing.T) {
	m := build(t, `
int main() {
    int i = 0;
    int s = 0;
    while (i < 10) {
        int j = 0;
        while (j < 10) {
            s = s + 1;
            j = j + 1;
        }
        i = i + 1;
    }
    return s;
}`)
	f := m.Func("main")
	li := ComputeLoopInfo(f, ComputeDomTree(f))
	if len(li.Top) != 1 || len(li.Top[0].Subloops) != 1 {
		t.Fatalf("want one loop with one subloop")
	}
	outer := li.Top[0]
	inner := outer.Subloops[0]
	if inner.Parent != outer || inner.Depth() != 2 {
		t.Errorf("nesting wrong: depth=%d", inner.Depth())
	}
	if !outer.Contains(inner.Header) {
		t.Errorf("outer loop must contain the inner header")
	}
	innerBody := blockByName(t, f, "while1_body")
	if li.LoopOf(innerBody) != inner {
		t.Errorf("LoopOf should return the innermost loop")
	}
	all := li.All()
	if len(all) != 2 || all[0] != outer || all[1] != inner {
		t.Errorf("All should list outer before inner")
	}
}

// countedLoop builds  for (i = start; i pred bound; i += step) a[i*scale+off] ...
// in SSA form with a header phi, returning the pieces tests poke at.
type countedLoop struct {
	fn     *ir.Function
	header *ir.BasicBlock
	body   *ir.BasicBlock
	phi    *ir.Instr
	update *ir.Instr
}

func makeCountedLoop(m *ir.Module, name string, start, bound, step int64, pred ir.CmpPred) *countedLoop {
	f := m.NewFunction(name, typing.Func(typing.Void()))
	entry := f.NewBlock("entry")
	header := f.NewBlock("header")
	body := f.NewBlock("body")
	exit := f.NewBlock("exit")

	entry.Append(ir.NewBr(header))

	phi := ir.NewPhi(typing.I32())
	header.Append(phi)
	cmp := ir.NewICmp(pred, phi, ir.NewConstInt(typing.I32(), bound))
	header.Append(cmp)
	header.Append(ir.NewCondBr(cmp, body, exit))

	update := ir.NewBinary(ir.OpAdd, phi, ir.NewConstInt(typing.I32(), step))
	body.Append(update)
	body.Append(ir.NewBr(header))

	phi.AddIncoming(ir.NewConstInt(typing.I32(), start), entry)
	phi.AddIncoming(update, body)

	exit.Append(ir.NewRet(nil))
	return &countedLoop{fn: f, header: header, body: body, phi: phi, update: update}
}

func TestIndVars(t *testing.T) {
	m := ir.NewModule()
	cl := makeCountedLoop(m, "f", 0, 10, 1, ir.PredLT)
	li := ComputeLoopInfo(cl.fn, ComputeDomTree(cl.fn))
	ii := ComputeIndVars(cl.fn, li)
	l := li.Top[0]

	ivs := ii.Vars(l)
	if len(ivs) != 1 {
		t.Fatalf("want one induction variable, got %d", len(ivs))
	}
	iv := ivs[0]
	if iv.Phi != cl.phi || iv.Update != cl.update {
		t.Errorf("iv phi/update wrong")
	}
	if !ir.IsConstInt(iv.Start, 0) {
		t.Errorf("start should be 0")
	}
	if s, ok := iv.StepConst(); !ok || s != 1 {
		t.Errorf("step = %d, want 1", s)
	}
	b := ii.Bound(l)
	if b == nil || b.IV != iv || b.Pred != ir.PredLT || !ir.IsConstInt(b.End, 10) {
		t.Fatalf("bound not recognized: %+v", b)
	}
	if n, ok := ii.TripCount(l); !ok || n != 10 {
		t.Errorf("trip count = %d,%v, want 10", n, ok)
	}
}

func TestTripCounts(t *testing.T) {
	cases := []struct {
		name  string
		start int64
		bound int64
		step  int64
		pred  ir.CmpPred
		want  int64
		known bool
	}{
		{"lt", 0, 10, 1, ir.PredLT, 10, true},
		{"le", 0, 10, 1, ir.PredLE, 11, true},
		{"stride", 0, 10, 3, ir.PredLT, 4, true},
		{"down", 10, 0, -1, ir.PredGT, 10, true},
		{"ne", 0, 12, 4, ir.PredNE, 3, true},
		{"ne ragged", 0, 10, 3, ir.PredNE, 0, false},
		{"never", 5, 3, 1, ir.PredLT, 0, true},
		{"wrong way", 0, 10, -1, ir.PredLT, 0, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			m := ir.NewModule()
			cl := makeCountedLoop(m, "f", tt.start, tt.bound, tt.step, tt.pred)
			li := ComputeLoopInfo(cl.fn, ComputeDomTree(cl.fn))
			ii := ComputeIndVars(cl.fn, li)
			n, ok := ii.TripCount(li.Top[0])
			if ok != tt.known || (ok && n != tt.want) {
				t.Errorf("trip = %d,%v, want %d,%v", n, ok, tt.want, tt.known)
			}
		})
	}
}

func TestIndVarSubStep(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunction("f", typing.Func(typing.Void()))
	entry := f.NewBlock("entry")
	header := f.NewBlock("header")
	body := f.NewBlock("body")
	exit := f.NewBlock("exit")
	entry.Append(ir.NewBr(header))
	phi := ir.NewPhi(typing.I32())
	header.Append(phi)
	cmp := ir.NewICmp(ir.PredGT, phi, ir.NewConstInt(typing.I32(), 0))
	header.Append(cmp)
	header.Append(ir.NewCondBr(cmp, body, exit))
	update := ir.NewBinary(ir.OpSub, phi, ir.NewConstInt(typing.I32(), 2))
	body.Append(update)
	body.Append(ir.NewBr(header))
	phi.AddIncoming(ir.NewConstInt(typing.I32(), 8), entry)
	phi.AddIncoming(update, body)
	exit.Append(ir.NewRet(nil))

	li := ComputeLoopInfo(f, ComputeDomTree(f))
	ii := ComputeIndVars(f, li)
	ivs := ii.Vars(li.Top[0])
	if len(ivs) != 1 {
		t.Fatalf("want one iv")
	}
	if s, ok := ivs[0].StepConst(); !ok || s != -2 {
		t.Errorf("sub step should be -2, got %d", s)
	}
	if n, ok := ii.TripCount(li.Top[0]); !ok || n != 4 {
		t.Errorf("trip = %d,%v, want 4", n, ok)
	}
}

// loopWithArray extends the counted loop with one store and one load
// through subscripts built by idx
func loopWithArray(m *ir.Module, name string, mkStoreIdx, mkLoadIdx func(b *ir.BasicBlock, phi *ir.Instr) ir.Value) (*countedLoop, *ir.Instr, *ir.Instr, *ir.Instr) {
	cl := makeCountedLoop(m, name, 0, 10, 1, ir.PredLT)
	arr := ir.NewAlloca(typing.Array(typing.I32(), 64))
	cl.fn.Entry().InsertAt(0, arr)

	term := cl.body.Terminator()
	cl.body.Remove(term)

	li := mkLoadIdx(cl.body, cl.phi)
	lgep := ir.NewGEP(arr, ir.NewConstInt(typing.I32(), 0), li)
	cl.body.Append(lgep)
	load := ir.NewLoad(lgep)
	cl.body.Append(load)

	si := mkStoreIdx(cl.body, cl.phi)
	sgep := ir.NewGEP(arr, ir.NewConstInt(typing.I32(), 0), si)
	cl.body.Append(sgep)
	store := ir.NewStore(load, sgep)
	cl.body.Append(store)

	cl.body.Append(term)
	return cl, store, load, arr
}

func idxPhi(b *ir.BasicBlock, phi *ir.Instr) ir.Value { return phi }

func idxPhiPlus(c int64) func(*ir.BasicBlock, *ir.Instr) ir.Value {
	return func(b *ir.BasicBlock, phi *ir.Instr) ir.Value {
		add := ir.NewBinary(ir.OpAdd, phi, ir.NewConstInt(typing.I32(), c))
		b.Append(add)
		return add
	}
}

func idxPhiScaled(k, c int64) func(*ir.BasicBlock, *ir.Instr) ir.Value {
	return func(b *ir.BasicBlock, phi *ir.Instr) ir.Value {
		mul := ir.NewBinary(ir.OpMul, phi, ir.NewConstInt(typing.I32(), k))
		b.Append(mul)
		if c == 0 {
			return mul
		}
		add := ir.NewBinary(ir.OpAdd, mul, ir.NewConstInt(typing.I32(), c))
		b.Append(add)
		return add
	}
}

func depsFor(f *ir.Function) (*DependenceInfo, *Loop) {
	li := ComputeLoopInfo(f, ComputeDomTree(f))
	ii := ComputeIndVars(f, li)
	return ComputeDependence(f, li, ii), li.Top[0]
}

func TestDependenceSameElement(t *testing.T) {
	m := ir.NewModule()
	cl, store, load, _ := loopWithArray(m, "f", idxPhi, idxPhi)
	di, l := depsFor(cl.fn)
	if k := di.Classify(store, load, l); k != DepFlow {
		t.Errorf("a[i] store vs a[i] load should be flow, got %s", k)
	}
	if d, ok := di.CarriedDistance(store, load, l); !ok || d != 0 {
		t.Errorf("distance = %d,%v, want 0", d, ok)
	}
	if !di.IterationsIndependent(l) {
		t.Errorf("a[i] = a[i] touches a private element per iteration")
	}
}

func TestDependenceCarried(t *testing.T) {
	m := ir.NewModule()
	cl, store, load, _ := loopWithArray(m, "f", idxPhiPlus(1), idxPhi)
	di, l := depsFor(cl.fn)
	if k := di.Classify(store, load, l); k == DepIndependent {
		t.Errorf("a[i+1] store vs a[i] load must not be independent")
	}
	if d, ok := di.CarriedDistance(store, load, l); !ok || d == 0 {
		t.Errorf("distance = %d,%v, want nonzero", d, ok)
	}
	if di.IterationsIndependent(l) {
		t.Errorf("a carried dependence blocks parallel iterations")
	}
}

func TestDependenceGCDIndependent(t *testing.T) {
	m := ir.NewModule()
	cl, store, load, _ := loopWithArray(m, "f", idxPhiScaled(2, 1), idxPhiScaled(2, 0))
	di, l := depsFor(cl.fn)
	if k := di.Classify(store, load, l); k != DepIndependent {
		t.Errorf("a[2i+1] vs a[2i] never meet, got %s", k)
	}
}

func TestDependenceDistinctArrays(t *testing.T) {
	m := ir.NewModule()
	cl, store, _, _ := loopWithArray(m, "f", idxPhi, idxPhi)
	other := ir.NewAlloca(typing.Array(typing.I32(), 64))
	cl.fn.Entry().InsertAt(0, other)
	gep := ir.NewGEP(other, ir.NewConstInt(typing.I32(), 0), cl.phi)
	load2 := ir.NewLoad(gep)
	term := cl.body.Terminator()
	cl.body.InsertBefore(gep, term)
	cl.body.InsertBefore(load2, term)

	di, l := depsFor(cl.fn)
	if k := di.Classify(store, load2, l); k != DepIndependent {
		t.Errorf("accesses to distinct local arrays are independent, got %s", k)
	}
}

func TestCallGraph(t *testing.T) {
	m := build(t, `
int h(int n) { return n + 1; }
int f(int n) { return h(n) + h(n + 1); }
int main() { return f(3) + h(1); }`)
	cg := ComputeCallGraph(m)
	f, h, main := m.Func("f"), m.Func("h"), m.Func("main")

	if cg.IsRecursive(f) || cg.IsRecursive(h) || cg.IsRecursive(main) {
		t.Errorf("no function here is recursive")
	}
	if cg.SameSCC(f, h) {
		t.Errorf("f and h are separate components")
	}
	callers := cg.Callers(h)
	if len(callers) != 2 {
		t.Errorf("h has callers f and main, got %d", len(callers))
	}
	if len(cg.Callees(f)) != 1 {
		t.Errorf("repeated callees are listed once")
	}
	if len(cg.Sites(f)) != 2 {
		t.Errorf("f has two call sites")
	}
	order := cg.PostOrder()
	pos := map[*ir.Function]int{}
	for i, fn := range order {
		pos[fn] = i
	}
	if pos[h] > pos[f] || pos[f] > pos[main] {
		t.Errorf("callees must come before callers in post order")
	}
}

func TestCallGraphMutualRecursion(t *testing.T) {
	m := ir.NewModule()
	sig := typing.Func(typing.Void())
	f := m.NewFunction("even", sig)
	g := m.NewFunction("odd", sig)
	for _, fn := range []*ir.Function{f, g} {
		fn.NewBlock("entry")
	}
	other := map[*ir.Function]*ir.Function{f: g, g: f}
	for _, fn := range []*ir.Function{f, g} {
		fn.Entry().Append(ir.NewCall(other[fn]))
		fn.Entry().Append(ir.NewRet(nil))
	}

	cg := ComputeCallGraph(m)
	if !cg.IsRecursive(f) || !cg.IsRecursive(g) {
		t.Errorf("mutual recursion not detected")
	}
	if !cg.SameSCC(f, g) {
		t.Errorf("the cycle is one component")
	}
}

func TestSelfRecursion(t *testing.T) {
	m := build(t, `
int fact(int n) { if (n <= 1) return 1; return n * fact(n - 1); }
int main() { return fact(5); }`)
	cg := ComputeCallGraph(m)
	fact := m.Func("fact")
	if !cg.IsRecursive(fact) {
		t.Errorf("direct recursion not detected")
	}
	if cg.SameSCC(fact, m.Func("main")) {
		t.Errorf("main is not in fact's cycle")
	}
}

func TestSideEffects(t *testing.T) {
	m := build(t, `
int gflag = 0;
int pure(int a, int b) { return a + b; }
void mark() { gflag = 1; }
int readflag() { return gflag; }
int noisy(int a) { putint(a); return a; }
int viacall(int a) { return pure(a, 1); }
int main() { mark(); noisy(readflag()); return viacall(2); }`)
	se := ComputeSideEffects(m, ComputeCallGraph(m))

	if !se.Stateless(m.Func("pure")) {
		t.Errorf("pure should be stateless")
	}
	if !se.Stateless(m.Func("viacall")) {
		t.Errorf("calling a stateless function stays stateless")
	}
	e := se.Of(m.Func("mark"))
	if !e.Writes || e.NoSideEffect() {
		t.Errorf("writing a global is a side effect: %+v", e)
	}
	e = se.Of(m.Func("readflag"))
	if !e.Reads || e.Writes {
		t.Errorf("readflag reads but does not write: %+v", e)
	}
	if e.Stateless() {
		t.Errorf("a global read is not stateless")
	}
	e = se.Of(m.Func("noisy"))
	if !e.IO || e.NoSideEffect() {
		t.Errorf("runtime output is a side effect: %+v", e)
	}
}

func TestSideEffectsRecursive(t *testing.T) {
	m := build(t, `
int gsum = 0;
void rec(int n) { if (n) { gsum = gsum + n; rec(n - 1); } }
int main() { rec(3); return gsum; }`)
	se := ComputeSideEffects(m, ComputeCallGraph(m))
	e := se.Of(m.Func("rec"))
	if !e.Reads || !e.Writes {
		t.Errorf("effects must propagate through the cycle: %+v", e)
	}
}

func TestSideEffectsApply(t *testing.T) {
	m := build(t, `
int pure(int a) { return a * a; }
int main() { return pure(3); }`)
	se := ComputeSideEffects(m, ComputeCallGraph(m))
	se.Apply()
	f := m.Func("pure")
	if !f.HasAttr(ir.AttrStateless) || !f.HasAttr(ir.AttrNoSideEffect) {
		t.Errorf("attribute bits not applied: %v", f.Attrs())
	}
}

func TestManagerCaching(t *testing.T) {
	m := build(t, `
int main() {
    int i = 0;
    while (i < 4) { i = i + 1; }
    return i;
}`)
	am := NewManager(m)
	f := m.Func("main")

	d1 := am.DomTree(f)
	if am.DomTree(f) != d1 {
		t.Errorf("repeated queries must hit the cache")
	}
	if am.DomTreeWithoutRefresh(f) != d1 {
		t.Errorf("WithoutRefresh should see the cached tree")
	}
	li := am.LoopInfo(f)
	iv := am.IndVars(f)
	if li == nil || iv == nil {
		t.Fatalf("derived analyses missing")
	}

	am.CFGChanged(f)
	if am.DomTreeWithoutRefresh(f) != nil || am.LoopInfoWithoutRefresh(f) != nil {
		t.Errorf("CFGChanged must drop the CFG analyses")
	}
	if am.DomTree(f) == d1 {
		t.Errorf("query after invalidation should recompute")
	}

	iv2 := am.IndVars(f)
	am.IndVarChanged(f)
	if am.IndVarsWithoutRefresh(f) != nil {
		t.Errorf("IndVarChanged must drop the iv summary")
	}
	if am.DomTreeWithoutRefresh(f) == nil {
		t.Errorf("IndVarChanged keeps the dominator tree")
	}
	_ = iv2

	cg := am.CallGraph()
	am.CallChanged()
	if am.CallGraphWithoutRefresh() != nil {
		t.Errorf("CallChanged must drop the call graph")
	}
	if am.CallGraph() == cg {
		t.Errorf("call graph should recompute after CallChanged")
	}
}
