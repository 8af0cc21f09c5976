package analysis

import "sysycc/pkg/ir"

type funcCache struct {
	dom     *DomTree
	postdom *PostDomTree
	loops   *LoopInfo
	indvars *IndVarInfo
	deps    *DependenceInfo
}

// Manager caches analyses per function. Passes call the invalidation
// hooks after mutating the IR; the next query recomputes.
type Manager struct {
	module *ir.Module
	funcs  map[*ir.Function]*funcCache

	callgraph *CallGraph
	effects   *SideEffects
}

// NewManager creates a manager for m with all caches empty
func NewManager(m *ir.Module) *Manager {
	return &Manager{module: m, funcs: make(map[*ir.Function]*funcCache)}
}

// Module returns the managed module
func (a *Manager) Module() *ir.Module { return a.module }

func (a *Manager) cache(f *ir.Function) *funcCache {
	c := a.funcs[f]
	if c == nil {
		c = &funcCache{}
		a.funcs[f] = c
	}
	return c
}

// DomTree returns the dominator tree of f, recomputing if stale
func (a *Manager) DomTree(f *ir.Function) *DomTree {
	c := a.cache(f)
	if c.dom == nil {
		c.dom = ComputeDomTree(f)
	}
	return c.dom
}

// DomTreeWithoutRefresh returns the cached tree, nil if invalidated
func (a *Manager) DomTreeWithoutRefresh(f *ir.Function) *DomTree {
	return a.cache(f).dom
}

// PostDomTree returns the postdominator tree of f
func (a *Manager) PostDomTree(f *ir.Function) *PostDomTree {
	c := a.cache(f)
	if c.postdom == nil {
		c.postdom = ComputePostDomTree(f)
	}
	return c.postdom
}

// PostDomTreeWithoutRefresh returns the cached tree, nil if invalidated
func (a *Manager) PostDomTreeWithoutRefresh(f *ir.Function) *PostDomTree {
	return a.cache(f).postdom
}

// LoopInfo returns the loop nest of f
func (a *Manager) LoopInfo(f *ir.Function) *LoopInfo {
	c := a.cache(f)
	if c.loops == nil {
		c.loops = ComputeLoopInfo(f, a.DomTree(f))
	}
	return c.loops
}

// LoopInfoWithoutRefresh returns the cached loop nest, nil if invalidated
func (a *Manager) LoopInfoWithoutRefresh(f *ir.Function) *LoopInfo {
	return a.cache(f).loops
}

// IndVars returns the induction variable summary of f
func (a *Manager) IndVars(f *ir.Function) *IndVarInfo {
	c := a.cache(f)
	if c.indvars == nil {
		c.indvars = ComputeIndVars(f, a.LoopInfo(f))
	}
	return c.indvars
}

// IndVarsWithoutRefresh returns the cached summary, nil if invalidated
func (a *Manager) IndVarsWithoutRefresh(f *ir.Function) *IndVarInfo {
	return a.cache(f).indvars
}

// Dependence returns the memory dependence summary of f
func (a *Manager) Dependence(f *ir.Function) *DependenceInfo {
	c := a.cache(f)
	if c.deps == nil {
		c.deps = ComputeDependence(f, a.LoopInfo(f), a.IndVars(f))
	}
	return c.deps
}

// DependenceWithoutRefresh returns the cached summary, nil if invalidated
func (a *Manager) DependenceWithoutRefresh(f *ir.Function) *DependenceInfo {
	return a.cache(f).deps
}

// CallGraph returns the module call graph
func (a *Manager) CallGraph() *CallGraph {
	if a.callgraph == nil {
		a.callgraph = ComputeCallGraph(a.module)
	}
	return a.callgraph
}

// CallGraphWithoutRefresh returns the cached graph, nil if invalidated
func (a *Manager) CallGraphWithoutRefresh() *CallGraph { return a.callgraph }

// SideEffects returns the per-function side effect summaries
func (a *Manager) SideEffects() *SideEffects {
	if a.effects == nil {
		a.effects = ComputeSideEffects(a.module, a.CallGraph())
	}
	return a.effects
}

// SideEffectsWithoutRefresh returns the cached summaries, nil if invalidated
func (a *Manager) SideEffectsWithoutRefresh() *SideEffects { return a.effects }

// CFGChanged invalidates every CFG-derived analysis of f
func (a *Manager) CFGChanged(f *ir.Function) {
	c := a.cache(f)
	c.dom = nil
	c.postdom = nil
	c.loops = nil
	c.indvars = nil
	c.deps = nil
}

// IndVarChanged invalidates the induction variable and dependence
// summaries of f while keeping the CFG analyses
func (a *Manager) IndVarChanged(f *ir.Function) {
	c := a.cache(f)
	c.indvars = nil
	c.deps = nil
}

// CallChanged invalidates the call graph and the side effect summaries
func (a *Manager) CallChanged() {
	a.callgraph = nil
	a.effects = nil
}

// FuncRemoved drops every cached analysis of a deleted function
func (a *Manager) FuncRemoved(f *ir.Function) {
	delete(a.funcs, f)
	a.CallChanged()
}

// InvalidateAll clears every cache
func (a *Manager) InvalidateAll() {
	a.funcs = make(map[*ir.Function]*funcCache)
	a.callgraph = nil
	a.effects = nil
}
