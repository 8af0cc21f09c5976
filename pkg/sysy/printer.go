package sysy

import (
	"fmt"
	"io"
	"strings"
)

// Printer writes an AST back out in source-like form for debugging
type Printer struct {
	w      io.Writer
	indent int
}

// NewPrinter creates a Printer writing to w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintCompUnit prints a whole translation unit
func (p *Printer) PrintCompUnit(cu *CompUnit) {
	for _, d := range cu.Decls {
		switch d := d.(type) {
		case *VarDecl:
			p.printVarDecl(d)
		case *FuncDef:
			p.printFuncDef(d)
		}
	}
}

func (p *Printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, "%s%s\n", strings.Repeat("    ", p.indent), fmt.Sprintf(format, args...))
}

func (p *Printer) printVarDecl(d *VarDecl) {
	prefix := ""
	if d.Const {
		prefix = "const "
	}
	items := make([]string, len(d.Items))
	for i, def := range d.Items {
		items[i] = p.varDefString(def)
	}
	p.line("%s%s %s;", prefix, d.Type, strings.Join(items, ", "))
}

func (p *Printer) varDefString(def *VarDef) string {
	s := def.Name
	for _, dim := range def.Dims {
		s += "[" + ExprString(dim) + "]"
	}
	if def.Init != nil {
		s += " = " + p.initString(def.Init)
	}
	return s
}

func (p *Printer) initString(iv InitVal) string {
	switch iv := iv.(type) {
	case *ExprInit:
		return ExprString(iv.E)
	case *ListInit:
		items := make([]string, len(iv.Items))
		for i, item := range iv.Items {
			items[i] = p.initString(item)
		}
		return "{" + strings.Join(items, ", ") + "}"
	}
	return "?"
}

func (p *Printer) printFuncDef(f *FuncDef) {
	params := make([]string, len(f.Params))
	for i, param := range f.Params {
		s := fmt.Sprintf("%s %s", param.Type, param.Name)
		if param.IsArray {
			s += "[]"
			for _, dim := range param.Dims {
				s += "[" + ExprString(dim) + "]"
			}
		}
		params[i] = s
	}
	p.line("%s %s(%s)", f.Ret, f.Name, strings.Join(params, ", "))
	p.printBlock(f.Body)
}

func (p *Printer) printBlock(b *Block) {
	p.line("{")
	p.indent++
	for _, item := range b.Items {
		p.printStmt(item)
	}
	p.indent--
	p.line("}")
}

func (p *Printer) printStmt(s Stmt) {
	switch s := s.(type) {
	case *Block:
		p.printBlock(s)
	case *DeclStmt:
		p.printVarDecl(s.Decl)
	case *If:
		p.line("if (%s)", ExprString(s.Cond))
		p.printNested(s.Then)
		if s.Else != nil {
			p.line("else")
			p.printNested(s.Else)
		}
	case *While:
		p.line("while (%s)", ExprString(s.Cond))
		p.printNested(s.Body)
	case *Break:
		p.line("break;")
	case *Continue:
		p.line("continue;")
	case *Return:
		if s.Value != nil {
			p.line("return %s;", ExprString(s.Value))
		} else {
			p.line("return;")
		}
	case *Assign:
		p.line("%s = %s;", ExprString(s.LHS), ExprString(s.RHS))
	case *ExprStmt:
		p.line("%s;", ExprString(s.E))
	case *Empty:
		p.line(";")
	}
}

func (p *Printer) printNested(s Stmt) {
	if b, ok := s.(*Block); ok {
		p.printBlock(b)
		return
	}
	p.indent++
	p.printStmt(s)
	p.indent--
}

// ExprString renders an expression with full parenthesization
func ExprString(e Expr) string {
	switch e := e.(type) {
	case *IntLit:
		return fmt.Sprintf("%d", e.Value)
	case *FloatLit:
		return fmt.Sprintf("%g", e.Value)
	case *LVal:
		s := e.Name
		for _, idx := range e.Indices {
			s += "[" + ExprString(idx) + "]"
		}
		return s
	case *Unary:
		return fmt.Sprintf("%s%s", e.Op, ExprString(e.X))
	case *Binary:
		return fmt.Sprintf("(%s %s %s)", ExprString(e.X), e.Op, ExprString(e.Y))
	case *Call:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = ExprString(a)
		}
		return fmt.Sprintf("%s(%s)", e.Name, strings.Join(args, ", "))
	}
	return "?"
}
