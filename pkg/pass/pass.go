// Package pass drives ordered IR rewrites. Passes register themselves
// by name; the manager resolves a pipeline of names and runs it,
// verifying the module between passes in debug mode.
package pass

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"sysycc/pkg/analysis"
	"sysycc/pkg/ir"
)

// Pass is anything the manager can run by name
type Pass interface {
	Name() string
}

// ModulePass rewrites the whole module
type ModulePass interface {
	Pass
	RunModule(m *ir.Module, am *analysis.Manager) (bool, error)
}

// FunctionPass rewrites one function at a time
type FunctionPass interface {
	Pass
	RunFunc(f *ir.Function, am *analysis.Manager) (bool, error)
}

// BlockPass rewrites one basic block at a time
type BlockPass interface {
	Pass
	RunBlock(b *ir.BasicBlock, am *analysis.Manager) (bool, error)
}

// Manager runs passes in order over one module. Passes invalidate the
// analyses they break; the manager never invalidates on its own.
type Manager struct {
	am  *analysis.Manager
	log commonlog.Logger

	// Debug verifies the module after every pass and honors DumpDir
	Debug   bool
	DumpDir string

	dumpSeq int
}

// NewManager wraps m for pipeline runs
func NewManager(m *ir.Module) *Manager {
	return &Manager{
		am:  analysis.NewManager(m),
		log: commonlog.GetLogger("pass"),
	}
}

// Analyses returns the shared analysis manager
func (pm *Manager) Analyses() *analysis.Manager { return pm.am }

// Run executes one pass over the module, returning whether anything
// changed
func (pm *Manager) Run(p Pass) (bool, error) {
	m := pm.am.Module()
	changed := false
	switch p := p.(type) {
	case ModulePass:
		c, err := p.RunModule(m, pm.am)
		if err != nil {
			return false, err
		}
		changed = c
	case FunctionPass:
		for _, f := range m.Funcs() {
			if f.IsDecl() {
				continue
			}
			c, err := p.RunFunc(f, pm.am)
			if err != nil {
				return false, err
			}
			changed = changed || c
		}
	case BlockPass:
		for _, f := range m.Funcs() {
			if f.IsDecl() {
				continue
			}
			for _, b := range f.Blocks() {
				c, err := p.RunBlock(b, pm.am)
				if err != nil {
					return false, err
				}
				changed = changed || c
			}
		}
	default:
		return false, fmt.Errorf("pass %s has no run method", p.Name())
	}
	pm.log.Debugf("%s: changed=%v", p.Name(), changed)

	if pm.Debug {
		if err := ir.Verify(m); err != nil {
			return changed, &ICE{Pass: p.Name(), Err: err, Dump: m.Format()}
		}
		if pm.DumpDir != "" {
			pm.dump(p.Name(), m)
		}
	}
	return changed, nil
}

// RunNamed resolves names through the registry and runs them in order.
// Unknown names are errors before anything runs.
func (pm *Manager) RunNamed(names []string) error {
	passes := make([]Pass, len(names))
	for i, n := range names {
		p, err := Lookup(n)
		if err != nil {
			return err
		}
		passes[i] = p
	}
	for _, p := range passes {
		if _, err := pm.Run(p); err != nil {
			return err
		}
	}
	return nil
}

func (pm *Manager) dump(name string, m *ir.Module) {
	pm.dumpSeq++
	path := filepath.Join(pm.DumpDir, fmt.Sprintf("%03d-%s.ir", pm.dumpSeq, name))
	if err := os.WriteFile(path, []byte(m.Format()), 0o644); err != nil {
		pm.log.Errorf("dump %s: %v", path, err)
	}
}

// ICE is an internal compiler error: a pass left the module in a state
// the verifier rejects
type ICE struct {
	Pass string
	Err  error
	Dump string
}

func (e *ICE) Error() string {
	return fmt.Sprintf("internal error after pass %s: %v", e.Pass, e.Err)
}

func (e *ICE) Unwrap() error { return e.Err }
