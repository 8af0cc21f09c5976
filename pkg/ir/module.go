package ir

import "sysycc/pkg/typing"

// ParallelForName is the runtime entry point that runs a loop body
// function over subranges of [beg, end)
const ParallelForName = "__parallel_for"

// Module owns the functions and globals of one translation unit.
// Iteration order is insertion order; the maps serve lookup only.
type Module struct {
	funcs     []*Function
	funcMap   map[string]*Function
	globals   []*Global
	globalMap map[string]*Global
}

// NewModule builds an empty module with the SysY runtime declared
func NewModule() *Module {
	m := &Module{
		funcMap:   make(map[string]*Function),
		globalMap: make(map[string]*Global),
	}
	m.declareRuntime()
	return m
}

// Funcs returns the functions in insertion order
func (m *Module) Funcs() []*Function { return m.funcs }

// Globals returns the globals in insertion order
func (m *Module) Globals() []*Global { return m.globals }

// Func looks a function up by name, nil if absent
func (m *Module) Func(name string) *Function { return m.funcMap[name] }

// GlobalByName looks a global up by name, nil if absent
func (m *Module) GlobalByName(name string) *Global { return m.globalMap[name] }

// NewFunction adds a function with the given signature. The body is
// empty; callers add blocks.
func (m *Module) NewFunction(name string, sig *typing.FuncType) *Function {
	if m.funcMap[name] != nil {
		panic("ir: duplicate function " + name)
	}
	f := newFunction(m, name, sig)
	m.funcs = append(m.funcs, f)
	m.funcMap[name] = f
	return f
}

// RemoveFunction unlinks f from the module
func (m *Module) RemoveFunction(f *Function) {
	for i, x := range m.funcs {
		if x == f {
			m.funcs = append(m.funcs[:i], m.funcs[i+1:]...)
			delete(m.funcMap, f.Name())
			return
		}
	}
}

// NewGlobal adds a module-level variable storing elem. init is the
// flattened initializer, nil for zero initialization.
func (m *Module) NewGlobal(name string, elem typing.Type, init []Constant, isConst bool) *Global {
	if m.globalMap[name] != nil {
		panic("ir: duplicate global " + name)
	}
	g := &Global{
		valueBase: valueBase{typ: typing.Pointer(elem), name: name},
		elem:      elem,
		Init:      init,
		IsConst:   isConst,
	}
	m.globals = append(m.globals, g)
	m.globalMap[name] = g
	return g
}

// RemoveGlobal unlinks g from the module
func (m *Module) RemoveGlobal(g *Global) {
	for i, x := range m.globals {
		if x == g {
			m.globals = append(m.globals[:i], m.globals[i+1:]...)
			delete(m.globalMap, g.Name())
			return
		}
	}
}

// declareRuntime registers the SysY runtime library declarations
func (m *Module) declareRuntime() {
	i32 := typing.I32()
	f32 := typing.F32()
	void := typing.Void()
	i32p := typing.Pointer(i32)
	f32p := typing.Pointer(f32)

	decl := func(name string, sig *typing.FuncType, extra Attr) {
		f := m.NewFunction(name, sig)
		f.SetAttr(AttrBuiltin | extra)
	}

	decl("getint", typing.Func(i32), 0)
	decl("getch", typing.Func(i32), 0)
	decl("getfloat", typing.Func(f32), 0)
	decl("getarray", typing.Func(i32, i32p), 0)
	decl("getfarray", typing.Func(i32, f32p), 0)
	decl("putint", typing.Func(void, i32), AttrNoMemoryRead)
	decl("putch", typing.Func(void, i32), AttrNoMemoryRead)
	decl("putfloat", typing.Func(void, f32), AttrNoMemoryRead)
	decl("putarray", typing.Func(void, i32, i32p), 0)
	decl("putfarray", typing.Func(void, i32, f32p), 0)
	decl("starttime", typing.Func(void), AttrNoMemoryRead|AttrNoMemoryWrite)
	decl("stoptime", typing.Func(void), AttrNoMemoryRead|AttrNoMemoryWrite)

	body := typing.Pointer(typing.Func(void, i32, i32))
	decl(ParallelForName, typing.Func(void, i32, i32, body), 0)
}
