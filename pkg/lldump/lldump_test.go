package lldump

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sysycc/pkg/ir"
	"sysycc/pkg/irgen"
	"sysycc/pkg/lexer"
	"sysycc/pkg/parser"
	"sysycc/pkg/pass"
	_ "sysycc/pkg/pass/transforms"
	"sysycc/pkg/typing"
)

func build(t *testing.T, src string) *ir.Module {
	t.Helper()
	p := parser.New(lexer.New(src))
	cu := p.ParseCompUnit()
	require.Empty(t, p.Errors(), "parse errors")
	m, err := irgen.NewGenerator().Generate(cu)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m))
	return m
}

func TestDumpFunctionAndRuntime(t *testing.T) {
	out := Dump(build(t, `
int main() {
    putint(42);
    return 0;
}`))
	require.Contains(t, out, "define i32 @main(")
	require.Contains(t, out, "declare i32 @getint(")
	require.Contains(t, out, "declare void @putint(i32")
	require.Contains(t, out, "call void @putint(")
}

func TestDumpGlobals(t *testing.T) {
	out := Dump(build(t, `
int z[4][2];
int x = 7;
int main() { return z[0][0] + x; }`))
	require.Contains(t, out, "@z = global [4 x [2 x i32]] zeroinitializer")
	require.Contains(t, out, "@x = global i32 7")
}

func TestDumpNestedArrayInit(t *testing.T) {
	out := Dump(build(t, `
int g[2][2] = {{1, 2}, {3, 4}};
int main() { return g[1][1]; }`))
	require.Contains(t, out, "[i32 1, i32 2]")
	require.Contains(t, out, "[i32 3, i32 4]")
}

func TestDumpPhiAfterPromotion(t *testing.T) {
	m := build(t, `
int f(int a) {
    int r = 0;
    if (a) { r = 1; } else { r = 2; }
    return r;
}`)
	require.NoError(t, pass.NewManager(m).RunNamed([]string{"mem2reg"}))
	out := Dump(m)
	require.Contains(t, out, "phi i32")
	require.Contains(t, out, "icmp ne")
	require.NotContains(t, out, "alloca")
}

func TestDumpLoopCompare(t *testing.T) {
	m := build(t, `
int f(int n) {
    int i = 0;
    while (i < n) { i = i + 1; }
    return i;
}`)
	require.NoError(t, pass.NewManager(m).RunNamed([]string{"mem2reg"}))
	out := Dump(m)
	require.Contains(t, out, "icmp slt i32")
	require.Contains(t, out, "add i32")
	require.Contains(t, out, "br i1")
}

func TestDumpFloatOps(t *testing.T) {
	out := Dump(build(t, `
float f(float a, float b) { return a * b + 1.0; }`))
	require.Contains(t, out, "define float @f(float")
	require.Contains(t, out, "fmul float")
	require.Contains(t, out, "fadd float")
}

func TestDumpMemsetLowersToIntrinsic(t *testing.T) {
	out := Dump(build(t, `
int main() {
    int a[100] = {1};
    return a[0];
}`))
	require.Contains(t, out, "declare void @llvm.memset.p0i8.i32(")
	require.Contains(t, out, "bitcast")
	require.Contains(t, out, "call void @llvm.memset.p0i8.i32(")
}

func TestDumpIsDeterministic(t *testing.T) {
	m := build(t, `
int g[10];
int f(int n) {
    int i = 0;
    while (i < n) { g[i] = i; i = i + 1; }
    return 0;
}`)
	require.NoError(t, pass.NewManager(m).RunNamed([]string{"mem2reg", "loopsimplify"}))
	require.Equal(t, Dump(m), Dump(m))
}

func TestConvertHandBuilt(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunction("pick", typing.Func(typing.I32(), typing.I32()))
	a := f.Args()[0]
	entry := f.NewBlock("entry")
	then := f.NewBlock("then")
	done := f.NewBlock("done")

	cmp := ir.NewICmp(ir.PredGT, a, ir.NewConstInt(typing.I32(), 0))
	entry.Append(cmp)
	entry.Append(ir.NewCondBr(cmp, then, done))
	dbl := ir.NewBinary(ir.OpMul, a, ir.NewConstInt(typing.I32(), 2))
	then.Append(dbl)
	then.Append(ir.NewBr(done))
	phi := ir.NewPhi(typing.I32())
	phi.AddIncoming(a, entry)
	phi.AddIncoming(dbl, then)
	done.Append(phi)
	done.Append(ir.NewRet(phi))
	require.NoError(t, ir.Verify(m))

	out := Convert(m).String()
	require.Contains(t, out, "icmp sgt i32")
	require.Contains(t, out, "mul i32")
	require.True(t, strings.Contains(out, "phi i32"))
	require.Contains(t, out, "ret i32")
}
