package analysis

import "sysycc/pkg/ir"

// CallGraph holds the static call edges of a module. Declarations
// appear as nodes with no callees.
type CallGraph struct {
	module  *ir.Module
	callees map[*ir.Function][]*ir.Function
	callers map[*ir.Function][]*ir.Function
	sites   map[*ir.Function][]*ir.Instr // call instructions inside the function
	scc     map[*ir.Function]int
	sccSize map[int]int
}

// ComputeCallGraph scans every call instruction and runs Tarjan's
// algorithm so recursion queries are O(1)
func ComputeCallGraph(m *ir.Module) *CallGraph {
	cg := &CallGraph{
		module:  m,
		callees: make(map[*ir.Function][]*ir.Function),
		callers: make(map[*ir.Function][]*ir.Function),
		sites:   make(map[*ir.Function][]*ir.Instr),
		scc:     make(map[*ir.Function]int),
		sccSize: make(map[int]int),
	}
	for _, f := range m.Funcs() {
		if f.IsDecl() {
			continue
		}
		seen := make(map[*ir.Function]bool)
		for _, b := range f.Blocks() {
			for _, in := range b.Instrs() {
				if in.Op != ir.OpCall {
					continue
				}
				cg.sites[f] = append(cg.sites[f], in)
				callee := in.Callee()
				if !seen[callee] {
					seen[callee] = true
					cg.callees[f] = append(cg.callees[f], callee)
					cg.callers[callee] = append(cg.callers[callee], f)
				}
			}
		}
	}
	cg.tarjan()
	return cg
}

// Callees returns the functions f calls, each once, first-site order
func (cg *CallGraph) Callees(f *ir.Function) []*ir.Function { return cg.callees[f] }

// Callers returns the functions calling f
func (cg *CallGraph) Callers(f *ir.Function) []*ir.Function { return cg.callers[f] }

// Sites returns the call instructions inside f in block order
func (cg *CallGraph) Sites(f *ir.Function) []*ir.Instr { return cg.sites[f] }

// SCC returns the strongly connected component id of f
func (cg *CallGraph) SCC(f *ir.Function) int { return cg.scc[f] }

// SameSCC reports whether f and g sit in one recursion cycle
func (cg *CallGraph) SameSCC(f, g *ir.Function) bool {
	return !f.IsDecl() && !g.IsDecl() && cg.scc[f] == cg.scc[g]
}

// IsRecursive reports whether f can reach itself through calls
func (cg *CallGraph) IsRecursive(f *ir.Function) bool {
	if cg.sccSize[cg.scc[f]] > 1 {
		return true
	}
	for _, c := range cg.callees[f] {
		if c == f {
			return true
		}
	}
	return false
}

// PostOrder returns the defined functions callees first, so a
// bottom-up propagation sees a function after everything it calls
// outside its own cycle
func (cg *CallGraph) PostOrder() []*ir.Function {
	var order []*ir.Function
	seen := make(map[*ir.Function]bool)
	var walk func(*ir.Function)
	walk = func(f *ir.Function) {
		seen[f] = true
		for _, c := range cg.callees[f] {
			if !c.IsDecl() && !seen[c] {
				walk(c)
			}
		}
		order = append(order, f)
	}
	for _, f := range cg.module.Funcs() {
		if !f.IsDecl() && !seen[f] {
			walk(f)
		}
	}
	return order
}

func (cg *CallGraph) tarjan() {
	index := make(map[*ir.Function]int)
	low := make(map[*ir.Function]int)
	onStack := make(map[*ir.Function]bool)
	var stack []*ir.Function
	next, comp := 0, 0

	var strong func(*ir.Function)
	strong = func(f *ir.Function) {
		index[f] = next
		low[f] = next
		next++
		stack = append(stack, f)
		onStack[f] = true
		for _, c := range cg.callees[f] {
			if c.IsDecl() {
				continue
			}
			if _, visited := index[c]; !visited {
				strong(c)
				if low[c] < low[f] {
					low[f] = low[c]
				}
			} else if onStack[c] && index[c] < low[f] {
				low[f] = index[c]
			}
		}
		if low[f] == index[f] {
			for {
				g := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[g] = false
				cg.scc[g] = comp
				cg.sccSize[comp]++
				if g == f {
					break
				}
			}
			comp++
		}
	}
	for _, f := range cg.module.Funcs() {
		if f.IsDecl() {
			continue
		}
		if _, visited := index[f]; !visited {
			strong(f)
		}
	}
}
