package ir

import (
	"fmt"
	"strings"

	"sysycc/pkg/typing"
)

// Format renders the module as human-readable LLVM-like text. It is
// used for per-pass dump files and internal-error diagnostics; -i output
// goes through pkg/lldump instead.
func (m *Module) Format() string {
	var sb strings.Builder
	for _, g := range m.globals {
		sb.WriteString(formatGlobal(g))
		sb.WriteByte('\n')
	}
	if len(m.globals) > 0 {
		sb.WriteByte('\n')
	}
	for i, f := range m.funcs {
		if f.IsDecl() && f.HasAttr(AttrBuiltin) {
			continue
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(f.Format())
	}
	return sb.String()
}

func (m *Module) String() string { return m.Format() }

func formatGlobal(g *Global) string {
	kw := "global"
	if g.IsConst {
		kw = "constant"
	}
	init := "zeroinitializer"
	if !g.IsZeroInit() {
		parts := make([]string, len(g.Init))
		for i, c := range g.Init {
			parts[i] = formatConst(c)
		}
		init = "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("@%s = %s %s %s", g.Name(), kw, g.elem, init)
}

func formatConst(v Value) string {
	switch c := v.(type) {
	case *ConstantInt:
		return fmt.Sprintf("%d", c.Value)
	case *ConstantFloat:
		return fmt.Sprintf("%g", c.Value)
	case *ConstantBool:
		if c.Value {
			return "true"
		}
		return "false"
	case *Undef:
		return "undef"
	}
	return "?"
}

// formatter assigns stable temp names to unnamed values within one
// function
type formatter struct {
	names map[Value]string
	next  int
}

func (ft *formatter) ref(v Value) string {
	switch v.(type) {
	case *ConstantInt, *ConstantFloat, *ConstantBool, *Undef:
		return formatConst(v)
	case *Global, *Function:
		return "@" + v.Name()
	}
	if n := v.Name(); n != "" {
		return "%" + n
	}
	n, ok := ft.names[v]
	if !ok {
		n = fmt.Sprintf("t%d", ft.next)
		ft.next++
		ft.names[v] = n
	}
	return "%" + n
}

func (ft *formatter) typedRef(v Value) string {
	return fmt.Sprintf("%s %s", v.Type(), ft.ref(v))
}

// Format renders one function
func (f *Function) Format() string {
	var sb strings.Builder
	sig := f.Sig()
	if f.IsDecl() {
		params := make([]string, len(sig.Params))
		for i, p := range sig.Params {
			params[i] = p.String()
		}
		fmt.Fprintf(&sb, "declare %s @%s(%s)\n", sig.Ret, f.Name(), strings.Join(params, ", "))
		return sb.String()
	}
	ft := &formatter{names: make(map[Value]string)}
	params := make([]string, len(f.args))
	for i, a := range f.args {
		params[i] = ft.typedRef(a)
	}
	fmt.Fprintf(&sb, "define %s @%s(%s) {\n", sig.Ret, f.Name(), strings.Join(params, ", "))
	for i, b := range f.blocks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		preds := make([]string, len(b.preds))
		for j, p := range b.preds {
			preds[j] = ft.ref(p)
		}
		if len(preds) > 0 {
			fmt.Fprintf(&sb, "%s:  ; preds: %s\n", b.Name(), strings.Join(preds, ", "))
		} else {
			fmt.Fprintf(&sb, "%s:\n", b.Name())
		}
		for _, in := range b.instrs {
			fmt.Fprintf(&sb, "    %s\n", ft.instr(in))
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func (ft *formatter) instr(in *Instr) string {
	switch in.Op {
	case OpAlloca:
		return fmt.Sprintf("%s = alloca %s", ft.ref(in), in.Allocated)
	case OpLoad:
		return fmt.Sprintf("%s = load %s, %s", ft.ref(in), in.Type(), ft.typedRef(in.Operand(0)))
	case OpStore:
		return fmt.Sprintf("store %s, %s", ft.typedRef(in.Operand(0)), ft.typedRef(in.Operand(1)))
	case OpGetElementPtr:
		parts := make([]string, in.NumOperands())
		for i, op := range in.Operands() {
			parts[i] = ft.typedRef(op)
		}
		return fmt.Sprintf("%s = getelementptr %s", ft.ref(in), strings.Join(parts, ", "))
	case OpMemset:
		return fmt.Sprintf("memset %s, 0, %d", ft.typedRef(in.Operand(0)), in.Bytes)
	case OpRet:
		if in.NumOperands() == 0 {
			return "ret void"
		}
		return "ret " + ft.typedRef(in.Operand(0))
	case OpBr:
		return "br label " + ft.ref(in.Operand(0))
	case OpCondBr:
		return fmt.Sprintf("br %s, label %s, label %s",
			ft.typedRef(in.Operand(0)), ft.ref(in.Operand(1)), ft.ref(in.Operand(2)))
	case OpCall:
		args := make([]string, len(in.Args()))
		for i, a := range in.Args() {
			args[i] = ft.typedRef(a)
		}
		call := fmt.Sprintf("call %s @%s(%s)", in.Type(), in.Callee().Name(), strings.Join(args, ", "))
		if typing.IsVoid(in.Type()) {
			return call
		}
		return ft.ref(in) + " = " + call
	case OpICmp, OpFCmp:
		return fmt.Sprintf("%s = %s %s %s, %s", ft.ref(in), in.Op, in.Pred,
			ft.typedRef(in.Operand(0)), ft.ref(in.Operand(1)))
	case OpFNeg:
		return fmt.Sprintf("%s = fneg %s", ft.ref(in), ft.typedRef(in.Operand(0)))
	case OpPhi:
		pairs := make([]string, in.NumIncoming())
		for i := 0; i < in.NumIncoming(); i++ {
			v, b := in.Incoming(i)
			pairs[i] = fmt.Sprintf("[ %s, %s ]", ft.ref(v), ft.ref(b))
		}
		return fmt.Sprintf("%s = phi %s %s", ft.ref(in), in.Type(), strings.Join(pairs, ", "))
	}
	if in.Op.IsCast() {
		return fmt.Sprintf("%s = %s %s to %s", ft.ref(in), in.Op, ft.typedRef(in.Operand(0)), in.Type())
	}
	// binary arithmetic
	return fmt.Sprintf("%s = %s %s, %s", ft.ref(in), in.Op,
		ft.typedRef(in.Operand(0)), ft.ref(in.Operand(1)))
}
