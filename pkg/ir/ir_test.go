package ir

import (
	"strings"
	"testing"

	"sysycc/pkg/typing"
)

func testFunc(t *testing.T, m *Module, name string) *Function {
	t.Helper()
	return m.NewFunction(name, typing.Func(typing.I32()))
}

func TestUseListBijection(t *testing.T) {
	m := NewModule()
	f := testFunc(t, m, "f")
	b := f.NewBlock("entry")

	x := NewConstInt(typing.I32(), 1)
	y := NewConstInt(typing.I32(), 2)
	add := NewBinary(OpAdd, x, y)
	b.Append(add)

	if len(x.Uses()) != 1 || x.Uses()[0].User != add || x.Uses()[0].Index != 0 {
		t.Fatalf("x use list wrong: %+v", x.Uses())
	}
	if add.Operand(1) != Value(y) {
		t.Fatalf("operand 1 should be y")
	}

	z := NewConstInt(typing.I32(), 3)
	add.SetOperand(1, z)
	if len(y.Uses()) != 0 {
		t.Errorf("y should have no uses after SetOperand")
	}
	if len(z.Uses()) != 1 || z.Uses()[0].Index != 1 {
		t.Errorf("z use edge wrong")
	}

	add.DropAllOperands()
	if len(x.Uses()) != 0 || len(z.Uses()) != 0 {
		t.Errorf("operands should be disconnected")
	}
	if add.NumOperands() != 0 {
		t.Errorf("operand slice should be empty")
	}
}

func TestReplaceAllUsesWith(t *testing.T) {
	m := NewModule()
	f := testFunc(t, m, "f")
	b := f.NewBlock("entry")

	x := NewConstInt(typing.I32(), 1)
	a1 := NewBinary(OpAdd, x, x)
	a2 := NewBinary(OpMul, a1, x)
	b.Append(a1)
	b.Append(a2)

	y := NewConstInt(typing.I32(), 7)
	ReplaceAllUsesWith(x, y)

	if len(x.Uses()) != 0 {
		t.Fatalf("x still has %d uses", len(x.Uses()))
	}
	if a1.Operand(0) != Value(y) || a1.Operand(1) != Value(y) || a2.Operand(1) != Value(y) {
		t.Errorf("uses were not rewritten to y")
	}
	if len(y.Uses()) != 3 {
		t.Errorf("y has %d uses, want 3", len(y.Uses()))
	}
}

func TestPredMaintenance(t *testing.T) {
	m := NewModule()
	f := testFunc(t, m, "f")
	entry := f.NewBlock("entry")
	then := f.NewBlock("then")
	els := f.NewBlock("else")
	exit := f.NewBlock("exit")

	cond := NewConstBool(true)
	entry.Append(NewCondBr(cond, then, els))
	then.Append(NewBr(exit))
	els.Append(NewBr(exit))

	if len(then.Preds()) != 1 || then.Preds()[0] != entry {
		t.Fatalf("then preds wrong")
	}
	if len(exit.Preds()) != 2 {
		t.Fatalf("exit preds = %d, want 2", len(exit.Preds()))
	}

	// retarget else -> exit edge to then
	els.ReplaceSuccessor(exit, then)
	if len(exit.Preds()) != 1 {
		t.Errorf("exit preds = %d after retarget, want 1", len(exit.Preds()))
	}
	if len(then.Preds()) != 2 {
		t.Errorf("then preds = %d after retarget, want 2", len(then.Preds()))
	}

	// removing a terminator drops its edges
	term := entry.Terminator()
	entry.Remove(term)
	if len(then.Preds()) != 1 || len(els.Preds()) != 0 {
		t.Errorf("edges survive terminator removal")
	}
}

func TestEraseRejectsLiveUses(t *testing.T) {
	m := NewModule()
	f := testFunc(t, m, "f")
	b := f.NewBlock("entry")
	x := NewBinary(OpAdd, NewConstInt(typing.I32(), 1), NewConstInt(typing.I32(), 2))
	y := NewBinary(OpMul, x, x)
	b.Append(x)
	b.Append(y)

	defer func() {
		if recover() == nil {
			t.Errorf("erasing a used instruction should panic")
		}
	}()
	b.Erase(x)
}

func TestPhiIncoming(t *testing.T) {
	m := NewModule()
	f := testFunc(t, m, "f")
	a := f.NewBlock("a")
	bb := f.NewBlock("b")
	join := f.NewBlock("join")

	phi := NewPhi(typing.I32())
	join.Append(phi)
	phi.AddIncoming(NewConstInt(typing.I32(), 1), a)
	phi.AddIncoming(NewConstInt(typing.I32(), 2), bb)

	if phi.NumIncoming() != 2 {
		t.Fatalf("incoming = %d, want 2", phi.NumIncoming())
	}
	v := phi.IncomingFor(bb)
	if !IsConstInt(v, 2) {
		t.Errorf("incoming for b should be 2")
	}
	phi.RemoveIncoming(0)
	if phi.NumIncoming() != 1 {
		t.Fatalf("incoming = %d after removal, want 1", phi.NumIncoming())
	}
	if v, blk := phi.Incoming(0); !IsConstInt(v, 2) || blk != bb {
		t.Errorf("surviving incoming should be [2, b]")
	}
}

func TestSplitAt(t *testing.T) {
	m := NewModule()
	f := testFunc(t, m, "f")
	b := f.NewBlock("entry")
	exit := f.NewBlock("exit")

	a1 := NewBinary(OpAdd, NewConstInt(typing.I32(), 1), NewConstInt(typing.I32(), 2))
	a2 := NewBinary(OpMul, a1, a1)
	b.Append(a1)
	b.Append(a2)
	b.Append(NewBr(exit))

	nb := b.SplitAt(1, "split")
	if len(b.Instrs()) != 2 {
		t.Fatalf("head should keep add + br, has %d instrs", len(b.Instrs()))
	}
	if b.Terminator().Op != OpBr || b.Succs()[0] != nb {
		t.Errorf("head should branch to the split block")
	}
	if len(nb.Instrs()) != 2 || nb.Instrs()[0] != a2 {
		t.Errorf("tail should hold mul + br")
	}
	if len(exit.Preds()) != 1 || exit.Preds()[0] != nb {
		t.Errorf("exit pred should be the split block")
	}
	if a2.Parent() != nb {
		t.Errorf("moved instruction parent not updated")
	}
}

func TestCallSites(t *testing.T) {
	m := NewModule()
	callee := m.NewFunction("g", typing.Func(typing.I32(), typing.I32()))
	f := testFunc(t, m, "f")
	b := f.NewBlock("entry")

	c1 := NewCall(callee, NewConstInt(typing.I32(), 1))
	c2 := NewCall(callee, c1)
	b.Append(c1)
	b.Append(c2)

	sites := callee.CallSites()
	if len(sites) != 2 {
		t.Fatalf("call sites = %d, want 2", len(sites))
	}
	if c2.Callee() != callee || len(c2.Args()) != 1 {
		t.Errorf("call accessors wrong")
	}
}

func TestGEPResultType(t *testing.T) {
	m := NewModule()
	f := testFunc(t, m, "f")
	b := f.NewBlock("entry")

	arr := NewAlloca(typing.Array(typing.I32(), 2, 3))
	b.Append(arr)

	zero := NewConstInt(typing.I32(), 0)
	g1 := NewGEP(arr, zero, zero)
	b.Append(g1)
	want := typing.Pointer(typing.Array(typing.I32(), 3))
	if !typing.Same(g1.Type(), want) {
		t.Fatalf("gep type = %s, want %s", g1.Type(), want)
	}
	g2 := NewGEP(g1, zero, zero)
	b.Append(g2)
	if !typing.Same(g2.Type(), typing.Pointer(typing.I32())) {
		t.Errorf("inner gep type = %s, want i32*", g2.Type())
	}
}

func TestModuleRuntimeDecls(t *testing.T) {
	m := NewModule()
	for _, name := range []string{"getint", "putint", "getarray", "putfloat", "starttime", ParallelForName} {
		f := m.Func(name)
		if f == nil {
			t.Fatalf("runtime %s not declared", name)
		}
		if !f.IsDecl() || !f.HasAttr(AttrBuiltin) {
			t.Errorf("%s should be a builtin declaration", name)
		}
	}
}

func TestGlobalZeroInit(t *testing.T) {
	m := NewModule()
	g := m.NewGlobal("g", typing.Array(typing.I32(), 4), nil, false)
	if !g.IsZeroInit() {
		t.Errorf("nil init should be zero init")
	}
	if !IsZero(g.ElemAt(2)) {
		t.Errorf("zero init element should be zero")
	}
	h := m.NewGlobal("h", typing.I32(), []Constant{NewConstInt(typing.I32(), 5)}, true)
	if h.IsZeroInit() {
		t.Errorf("h is not zero initialized")
	}
	if m.GlobalByName("h") != h {
		t.Errorf("global lookup failed")
	}
}

func TestFormatContainsStructure(t *testing.T) {
	m := NewModule()
	m.NewGlobal("g", typing.I32(), []Constant{NewConstInt(typing.I32(), 3)}, false)
	f := testFunc(t, m, "main")
	b := f.NewBlock("entry")
	b.Append(NewRet(NewConstInt(typing.I32(), 0)))

	out := m.Format()
	for _, want := range []string{"@g = global i32 [3]", "define i32 @main()", "entry:", "ret i32 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("format output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "declare i32 @getint") {
		t.Errorf("builtin declarations should not be printed")
	}
}

func TestNextNameDeterministic(t *testing.T) {
	m := NewModule()
	f := testFunc(t, m, "f")
	if f.NextName("if") != "if0" || f.NextName("if") != "if1" || f.NextName("while") != "while0" {
		t.Errorf("per-prefix counters should be independent and monotonic")
	}
}
