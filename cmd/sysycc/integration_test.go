package main

import (
	"bytes"
	"testing"

	"sysycc/pkg/ir"
)

// compileAt runs the whole middle end over src with the given flags
func compileAt(t *testing.T, src string, level int, passes string) *ir.Module {
	t.Helper()
	resetFlags()
	optLevel = level
	passNames = passes
	logLevel = 2 // verify after every pass
	var errOut bytes.Buffer
	m, err := compile("test.sy", src, &errOut)
	if err != nil {
		t.Fatalf("compile: %v\nstderr: %s", err, errOut.String())
	}
	return m
}

func countOp(f *ir.Function, op ir.Opcode) int {
	n := 0
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			if in.Op == op {
				n++
			}
		}
	}
	return n
}

func soleReturn(t *testing.T, f *ir.Function) *ir.Instr {
	t.Helper()
	var ret *ir.Instr
	for _, b := range f.Blocks() {
		if tm := b.Terminator(); tm != nil && tm.Op == ir.OpRet {
			if ret != nil {
				t.Fatalf("%s has more than one return", f.Name())
			}
			ret = tm
		}
	}
	if ret == nil {
		t.Fatalf("%s has no return", f.Name())
	}
	return ret
}

func TestReturnConstant(t *testing.T) {
	m := compileAt(t, `int main() { return 1; }`, 2, "")
	main := m.Func("main")
	if len(main.Blocks()) != 1 {
		t.Errorf("main should collapse to one block, has %d", len(main.Blocks()))
	}
	ret := soleReturn(t, main)
	if !ir.IsConstInt(ret.Operand(0), 1) {
		t.Errorf("main should return the constant 1, got %v", ret.Operand(0))
	}
}

func TestDeadStoreRemoval(t *testing.T) {
	m := compileAt(t, `int main() { int x = 1; x = 2; return x; }`, 0, "mem2reg,dce,simplifycfg")
	main := m.Func("main")
	if n := countOp(main, ir.OpStore); n != 0 {
		t.Errorf("expected no stores after mem2reg+dce, found %d", n)
	}
	ret := soleReturn(t, main)
	if !ir.IsConstInt(ret.Operand(0), 2) {
		t.Errorf("main should return 2, got %v", ret.Operand(0))
	}
}

func TestConstantPropagationAcrossConditional(t *testing.T) {
	src := `
int f(int a) {
    if (1) return a + 0;
    else return a * 0;
}
int main() { return f(7); }`
	m := compileAt(t, src, 2, "")
	main := m.Func("main")
	if n := countOp(main, ir.OpCondBr); n != 0 {
		t.Errorf("expected no branches in main, found %d", n)
	}
	if n := countOp(main, ir.OpCall); n != 0 {
		t.Errorf("expected f to be inlined away, found %d calls", n)
	}
	ret := soleReturn(t, main)
	if !ir.IsConstInt(ret.Operand(0), 7) {
		t.Errorf("main should return 7, got %v", ret.Operand(0))
	}
}

func TestLoopSumFoldsToConstant(t *testing.T) {
	src := `
int main() {
    int s = 0;
    int i = 0;
    while (i < 10) {
        s = s + i;
        i = i + 1;
    }
    return s;
}`
	m := compileAt(t, src, 2, "")
	main := m.Func("main")
	ret := soleReturn(t, main)
	if !ir.IsConstInt(ret.Operand(0), 45) {
		t.Errorf("main should return the folded sum 45, got %v", ret.Operand(0))
	}
	if n := countOp(main, ir.OpPhi); n != 0 {
		t.Errorf("no loop should remain, found %d phis", n)
	}
}

func TestGVNCommutativeAdds(t *testing.T) {
	m := compileAt(t, `int f(int a, int b) { return (a + b) + (b + a); }`, 0,
		"mem2reg,gvn,dce")
	f := m.Func("f")
	if n := countOp(f, ir.OpAdd); n != 1 {
		t.Errorf("a+b and b+a should share one add, found %d", n)
	}
	ret := soleReturn(t, f)
	rv, ok := ret.Operand(0).(*ir.Instr)
	if !ok || rv.Op != ir.OpMul {
		t.Fatalf("result should be a doubling, got %v", ret.Operand(0))
	}
	if !ir.IsConstInt(rv.Operand(0), 2) && !ir.IsConstInt(rv.Operand(1), 2) {
		t.Errorf("doubling should multiply by 2, got %v", rv)
	}
}

func TestMatmulParallelizes(t *testing.T) {
	src := `
int a[64][64];
int b[64][64];
int c[64][64];
void matmul() {
    int i = 0;
    while (i < 64) {
        int j = 0;
        while (j < 64) {
            int k = 0;
            while (k < 64) {
                c[i][j] = c[i][j] + a[i][k] * b[k][j];
                k = k + 1;
            }
            j = j + 1;
        }
        i = i + 1;
    }
}`
	m := compileAt(t, src, 0, "mem2reg,loopsimplify,loopparallel")
	var body *ir.Function
	for _, f := range m.Funcs() {
		if f.HasAttr(ir.AttrParallelBody) {
			body = f
		}
	}
	if body == nil {
		t.Fatal("expected an outlined parallel body")
	}
	pf := m.Func(ir.ParallelForName)
	if len(pf.CallSites()) == 0 {
		t.Error("expected the outer loop to go through the parallel-for runtime")
	}
}

func TestPipelineDeterministic(t *testing.T) {
	src := `
int f(int a) {
    int s = 0;
    if (a) { s = a; } else { s = 0 - a; }
    return s + s;
}`
	first := compileAt(t, src, 2, "").Format()
	m2 := compileAt(t, src, 2, "")
	if first != m2.Format() {
		t.Error("the pipeline should be deterministic across runs")
	}
}
