package irgen

import (
	"strings"
	"testing"

	"sysycc/pkg/ir"
	"sysycc/pkg/lexer"
	"sysycc/pkg/parser"
	"sysycc/pkg/typing"
)

func lower(t *testing.T, src string) *ir.Module {
	t.Helper()
	p := parser.New(lexer.New(src))
	cu := p.ParseCompUnit()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse errors: %v", p.Errors())
	}
	m, err := NewGenerator().Generate(cu)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v\n%s", err, m.Format())
	}
	return m
}

func lowerErr(t *testing.T, src string) error {
	t.Helper()
	p := parser.New(lexer.New(src))
	cu := p.ParseCompUnit()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse errors: %v", p.Errors())
	}
	_, err := NewGenerator().Generate(cu)
	if err == nil {
		t.Fatalf("expected a semantic error")
	}
	return err
}

func TestGenerateMain(t *testing.T) {
	m := lower(t, `int main() { return 42; }`)
	f := m.Func("main")
	if f == nil || f.IsDecl() {
		t.Fatalf("main not generated")
	}
	if f.Entry().Name() != "entry" {
		t.Errorf("first block should be entry")
	}
	last := f.Blocks()[len(f.Blocks())-1]
	if last.Name() != "exit" {
		t.Errorf("last block should be exit, got %s", last.Name())
	}
	ret := last.Terminator()
	if ret.Op != ir.OpRet || ret.NumOperands() != 1 {
		t.Errorf("exit should return the loaded slot")
	}
}

func TestGenerateReturnSlot(t *testing.T) {
	m := lower(t, `int f(int a) { if (a) return 1; return 2; }`)
	f := m.Func("f")
	var slot *ir.Instr
	for _, in := range f.Entry().Instrs() {
		if in.Op == ir.OpAlloca && in.Name() == "ret.addr" {
			slot = in
		}
	}
	if slot == nil {
		t.Fatalf("no return slot alloca:\n%s", m.Format())
	}
	stores := 0
	for _, u := range slot.Uses() {
		if u.User.Op == ir.OpStore {
			stores++
		}
	}
	// zero init plus the two returns
	if stores != 3 {
		t.Errorf("return slot stores = %d, want 3", stores)
	}
}

func TestGenerateWhileShape(t *testing.T) {
	m := lower(t, `
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
	names := map[string]bool{}
	for _, b := range f.Blocks() {
		names[b.Name()] = true
	}
	for _, want := range []string{"while0_judge", "while0_body", "while0_end"} {
		if !names[want] {
			t.Errorf("missing block %s, have %v", want, names)
		}
	}
}

func TestGenerateShortCircuit(t *testing.T) {
	m := lower(t, `
int f(int a, int b) {
    if (a < 3 && b > 1) return 1;
    return 0;
}`)
	f := m.Func("f")
	found := false
	for _, b := range f.Blocks() {
		if strings.HasPrefix(b.Name(), "rhs") {
			found = true
		}
	}
	if !found {
		t.Errorf("short-circuit should create an rhs block:\n%s", m.Format())
	}
}

func TestGenerateBreakContinue(t *testing.T) {
	lower(t, `
int main() {
    int i = 0;
    while (i < 100) {
        i = i + 1;
        if (i == 5) continue;
        if (i == 50) break;
    }
    return i;
}`)
}

func TestGenerateConstFolding(t *testing.T) {
	m := lower(t, `
const int N = 4 + 6;
int main() { return N * 2; }`)
	f := m.Func("main")
	// N*2 folds to 20: the return slot receives the constant itself
	found := false
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			if in.Op == ir.OpStore && ir.IsConstInt(in.Operand(0), 20) {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("const expression was not folded:\n%s", m.Format())
	}
	if m.GlobalByName("N") != nil {
		t.Errorf("const scalar should not get storage")
	}
}

func TestGenerateGlobalArrayInit(t *testing.T) {
	m := lower(t, `
int a[2][3] = {{1, 2}, {4}};
int main() { return a[1][0]; }`)
	g := m.GlobalByName("a")
	if g == nil {
		t.Fatalf("global a missing")
	}
	want := []int64{1, 2, 0, 4, 0, 0}
	if len(g.Init) != len(want) {
		t.Fatalf("init len = %d, want %d", len(g.Init), len(want))
	}
	for i, w := range want {
		if !ir.IsConstInt(g.Init[i], w) {
			t.Errorf("init[%d] != %d", i, w)
		}
	}
}

func TestGenerateLocalArrayMemset(t *testing.T) {
	m := lower(t, `
int main() {
    int a[4] = {1};
    return a[0];
}`)
	f := m.Func("main")
	var memset *ir.Instr
	elemStores := 0
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			switch in.Op {
			case ir.OpMemset:
				memset = in
			case ir.OpStore:
				if ir.IsConstInt(in.Operand(0), 1) {
					elemStores++
				}
			}
		}
	}
	if memset == nil || memset.Bytes != 16 {
		t.Fatalf("local array init should memset 16 bytes:\n%s", m.Format())
	}
	if elemStores != 1 {
		t.Errorf("want one element store of 1, got %d", elemStores)
	}
}

func TestGenerateArrayParamAccess(t *testing.T) {
	m := lower(t, `
int sum(int a[], int n) {
    int s = 0;
    int i = 0;
    while (i < n) {
        s = s + a[i];
        i = i + 1;
    }
    return s;
}`)
	f := m.Func("sum")
	if !typing.Same(f.Sig().Params[0], typing.Pointer(typing.I32())) {
		t.Errorf("array param should lower to i32*, got %s", f.Sig().Params[0])
	}
}

func TestGenerateBuiltinCalls(t *testing.T) {
	m := lower(t, `
int main() {
    int x = getint();
    putint(x + 1);
    return 0;
}`)
	f := m.Func("main")
	calls := map[string]bool{}
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			if in.Op == ir.OpCall {
				calls[in.Callee().Name()] = true
			}
		}
	}
	if !calls["getint"] || !calls["putint"] {
		t.Errorf("runtime calls missing: %v", calls)
	}
}

func TestGenerateFloatPromotion(t *testing.T) {
	m := lower(t, `
float f(int a) { return a + 1.5; }`)
	fn := m.Func("f")
	found := false
	for _, b := range fn.Blocks() {
		for _, in := range b.Instrs() {
			if in.Op == ir.OpSIToFP {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("int operand should be converted with sitofp:\n%s", m.Format())
	}
}

func TestGenerateErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"undefined", `int main() { return x; }`, "undefined"},
		{"assign const", `const int N = 1; int main() { N = 2; return 0; }`, "const"},
		{"break outside", `int main() { break; return 0; }`, "break"},
		{"bad dim", `int main() { int a; int b[a]; return 0; }`, "constant"},
		{"arg count", `int f(int a) { return a; } int main() { return f(); }`, "argument"},
		{"void value", `void f() {} int main() { return f(); }`, "void"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := lowerErr(t, tt.src)
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestGenerateDanglingConstIndex(t *testing.T) {
	m := lower(t, `
const int tab[3] = {7, 8, 9};
int main() { return tab[1]; }`)
	f := m.Func("main")
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs() {
			if in.Op == ir.OpGetElementPtr {
				t.Errorf("const element with const index should fold, not address the array:\n%s", m.Format())
			}
		}
	}
}
