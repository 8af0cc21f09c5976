package transforms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sysycc/pkg/ir"
	"sysycc/pkg/typing"
)

func funcWithAttr(m *ir.Module, a ir.Attr) *ir.Function {
	for _, f := range m.Funcs() {
		if f.HasAttr(a) {
			return f
		}
	}
	return nil
}

func TestLoopBodyExtractOutlines(t *testing.T) {
	m := build(t, `
int g[100];
int main() {
    int i = 0;
    while (i < 100) {
        g[i] = i;
        i = i + 1;
    }
    return 0;
}`)
	run(t, m, "mem2reg", "loopsimplify", "loopbodyextract")
	main := m.Func("main")
	li, _ := loopsOf(main)
	require.Empty(t, li.Top, "the loop leaves the caller")

	body := funcWithAttr(m, ir.AttrLoopBody)
	require.NotNil(t, body)
	require.True(t, strings.HasPrefix(body.Name(), "main.body."))
	require.True(t, typing.Same(body.Sig(), typing.Func(typing.Void(), typing.I32(), typing.I32())))

	sites := body.CallSites()
	require.Len(t, sites, 1)
	require.True(t, ir.IsConstInt(sites[0].Args()[0], 0))
	require.True(t, ir.IsConstInt(sites[0].Args()[1], 100))
	require.Len(t, m.Globals(), 1, "a global array needs no capture slot")
}

func TestLoopBodyExtractCapturesScalars(t *testing.T) {
	m := build(t, `
int g[100];
void f(int k) {
    int i = 0;
    while (i < 100) {
        g[i] = k;
        i = i + 1;
    }
}`)
	run(t, m, "mem2reg", "loopsimplify", "loopbodyextract")
	f := m.Func("f")
	require.Equal(t, 1, countOp(f, ir.OpCall))

	var slot *ir.Global
	for _, g := range m.Globals() {
		if strings.Contains(g.Name(), ".cap") {
			slot = g
		}
	}
	require.NotNil(t, slot, "the parameter travels through a capture global")
	require.Equal(t, 1, countOp(f, ir.OpStore), "the preheader stores the capture")

	body := funcWithAttr(m, ir.AttrLoopBody)
	require.NotNil(t, body)
	loads := 0
	for _, in := range body.Entry().Instrs() {
		if in.Op == ir.OpLoad {
			loads++
		}
	}
	require.Equal(t, 1, loads, "the outlined entry reloads the capture")
}

func TestLoopParallelCallsRuntime(t *testing.T) {
	m := build(t, `
int g[100];
int main() {
    int i = 0;
    while (i < 100) {
        g[i] = i * 2;
        i = i + 1;
    }
    return 0;
}`)
	run(t, m, "mem2reg", "loopsimplify", "loopparallel")
	main := m.Func("main")
	li, _ := loopsOf(main)
	require.Empty(t, li.Top)

	body := funcWithAttr(m, ir.AttrParallelBody)
	require.NotNil(t, body)
	require.True(t, strings.HasPrefix(body.Name(), "main.par."))

	pf := m.Func(ir.ParallelForName)
	require.Len(t, pf.CallSites(), 1, "the range goes through the runtime")
	require.Equal(t, 1, countOp(main, ir.OpBitCast))
}

func TestLoopParallelKeepsReductions(t *testing.T) {
	m := build(t, `
int g[100];
int f() {
    int i = 0;
    int s = 0;
    while (i < 100) {
        s = s + g[i];
        i = i + 1;
    }
    return s;
}`)
	run(t, m, "mem2reg", "loopsimplify", "loopparallel")
	f := m.Func("f")
	li, _ := loopsOf(f)
	require.Len(t, li.Top, 1, "a carried sum cannot be partitioned")
	require.Empty(t, m.Func(ir.ParallelForName).CallSites())
}

func TestLoopParallelKeepsCarriedStores(t *testing.T) {
	m := build(t, `
int g[100];
int main() {
    int i = 0;
    while (i < 99) {
        g[i + 1] = g[i];
        i = i + 1;
    }
    return 0;
}`)
	run(t, m, "mem2reg", "loopsimplify", "loopparallel")
	main := m.Func("main")
	li, _ := loopsOf(main)
	require.Len(t, li.Top, 1, "a shifted copy carries across iterations")
	require.Empty(t, m.Func(ir.ParallelForName).CallSites())
}
