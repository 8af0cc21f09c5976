package parser

import (
	"testing"

	"sysycc/pkg/lexer"
	"sysycc/pkg/sysy"
)

func parse(t *testing.T, src string) *sysy.CompUnit {
	t.Helper()
	p := New(lexer.New(src))
	cu := p.ParseCompUnit()
	if len(p.Errors()) > 0 {
		t.Fatalf("unexpected parse errors: %v", p.Errors())
	}
	return cu
}

func TestParseSimpleMain(t *testing.T) {
	cu := parse(t, `int main() { return 1; }`)
	if len(cu.Decls) != 1 {
		t.Fatalf("decl count = %d, want 1", len(cu.Decls))
	}
	fn, ok := cu.Decls[0].(*sysy.FuncDef)
	if !ok {
		t.Fatalf("decl is not a FuncDef")
	}
	if fn.Name != "main" || fn.Ret != sysy.BInt {
		t.Errorf("got %s %s, want int main", fn.Ret, fn.Name)
	}
	if len(fn.Body.Items) != 1 {
		t.Fatalf("body stmt count = %d, want 1", len(fn.Body.Items))
	}
	ret, ok := fn.Body.Items[0].(*sysy.Return)
	if !ok {
		t.Fatalf("stmt is not a Return")
	}
	lit, ok := ret.Value.(*sysy.IntLit)
	if !ok || lit.Value != 1 {
		t.Errorf("return value is not IntLit 1")
	}
}

func TestParseGlobalDecls(t *testing.T) {
	cu := parse(t, `
const int N = 10;
int g;
float arr[4][2];
int main() { return N; }
`)
	if len(cu.Decls) != 4 {
		t.Fatalf("decl count = %d, want 4", len(cu.Decls))
	}

	c, ok := cu.Decls[0].(*sysy.VarDecl)
	if !ok || !c.Const || c.Items[0].Name != "N" {
		t.Errorf("first decl should be const int N")
	}

	arr, ok := cu.Decls[2].(*sysy.VarDecl)
	if !ok || arr.Type != sysy.BFloat {
		t.Fatalf("third decl should be a float VarDecl")
	}
	if len(arr.Items[0].Dims) != 2 {
		t.Errorf("arr dims = %d, want 2", len(arr.Items[0].Dims))
	}
}

func TestParsePrecedence(t *testing.T) {
	cu := parse(t, `int f() { return 1 + 2 * 3; }`)
	fn := cu.Decls[0].(*sysy.FuncDef)
	ret := fn.Body.Items[0].(*sysy.Return)
	add, ok := ret.Value.(*sysy.Binary)
	if !ok || add.Op != sysy.OpAdd {
		t.Fatalf("top operator should be +")
	}
	mul, ok := add.Y.(*sysy.Binary)
	if !ok || mul.Op != sysy.OpMul {
		t.Errorf("right operand of + should be *")
	}
}

func TestParseShortCircuit(t *testing.T) {
	cu := parse(t, `int f(int a, int b) { if (a < 3 && b || !a) return 1; return 0; }`)
	fn := cu.Decls[0].(*sysy.FuncDef)
	ifStmt := fn.Body.Items[0].(*sysy.If)
	or, ok := ifStmt.Cond.(*sysy.Binary)
	if !ok || or.Op != sysy.OpLOr {
		t.Fatalf("top operator should be ||, got %v", ifStmt.Cond)
	}
	and, ok := or.X.(*sysy.Binary)
	if !ok || and.Op != sysy.OpLAnd {
		t.Errorf("left of || should be &&")
	}
	not, ok := or.Y.(*sysy.Unary)
	if !ok || not.Op != sysy.OpLNot {
		t.Errorf("right of || should be !")
	}
}

func TestParseWhileBreakContinue(t *testing.T) {
	cu := parse(t, `
int main() {
    int i = 0;
    while (i < 10) {
        i = i + 1;
        if (i == 5) continue;
        if (i == 8) break;
    }
    return i;
}`)
	fn := cu.Decls[0].(*sysy.FuncDef)
	if len(fn.Body.Items) != 3 {
		t.Fatalf("body stmt count = %d, want 3", len(fn.Body.Items))
	}
	loop, ok := fn.Body.Items[1].(*sysy.While)
	if !ok {
		t.Fatalf("second stmt should be While")
	}
	body := loop.Body.(*sysy.Block)
	if len(body.Items) != 3 {
		t.Errorf("loop body stmt count = %d, want 3", len(body.Items))
	}
}

func TestParseArrayParams(t *testing.T) {
	cu := parse(t, `int sum(int a[], int m[][3]) { return a[0] + m[1][2]; }`)
	fn := cu.Decls[0].(*sysy.FuncDef)
	if len(fn.Params) != 2 {
		t.Fatalf("param count = %d, want 2", len(fn.Params))
	}
	if !fn.Params[0].IsArray || len(fn.Params[0].Dims) != 0 {
		t.Errorf("a should be an array param with no extra dims")
	}
	if !fn.Params[1].IsArray || len(fn.Params[1].Dims) != 1 {
		t.Errorf("m should be an array param with 1 extra dim")
	}
}

func TestParseAggregateInit(t *testing.T) {
	cu := parse(t, `int a[2][2] = {{1, 2}, {3, 4}};`)
	decl := cu.Decls[0].(*sysy.VarDecl)
	list, ok := decl.Items[0].Init.(*sysy.ListInit)
	if !ok || len(list.Items) != 2 {
		t.Fatalf("init should be a 2-item list")
	}
	inner, ok := list.Items[0].(*sysy.ListInit)
	if !ok || len(inner.Items) != 2 {
		t.Errorf("inner init should be a 2-item list")
	}
}

func TestParseCallArgs(t *testing.T) {
	cu := parse(t, `int main() { putint(f(1, 2) + 3); return 0; }`)
	fn := cu.Decls[0].(*sysy.FuncDef)
	es, ok := fn.Body.Items[0].(*sysy.ExprStmt)
	if !ok {
		t.Fatalf("first stmt should be an ExprStmt")
	}
	call, ok := es.E.(*sysy.Call)
	if !ok || call.Name != "putint" || len(call.Args) != 1 {
		t.Fatalf("expected putint call with 1 arg")
	}
}

func TestParseErrorReported(t *testing.T) {
	p := New(lexer.New(`int main() { return 1 }`))
	p.ParseCompUnit()
	if len(p.Errors()) == 0 {
		t.Errorf("expected a parse error for missing semicolon")
	}
}

func TestParseDanglingElse(t *testing.T) {
	cu := parse(t, `int f(int a) { if (a) if (a == 1) return 1; else return 2; return 0; }`)
	fn := cu.Decls[0].(*sysy.FuncDef)
	outer := fn.Body.Items[0].(*sysy.If)
	if outer.Else != nil {
		t.Errorf("else should bind to the inner if")
	}
	inner := outer.Then.(*sysy.If)
	if inner.Else == nil {
		t.Errorf("inner if should carry the else")
	}
}
