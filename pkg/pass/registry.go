package pass

import (
	"fmt"
	"sort"
)

var registry = map[string]func() Pass{}

// Register makes a pass constructor available to RunNamed. Meant to be
// called from init functions; duplicate names panic.
func Register(name string, ctor func() Pass) {
	if _, dup := registry[name]; dup {
		panic("pass registered twice: " + name)
	}
	registry[name] = ctor
}

// Lookup instantiates the pass registered under name
func Lookup(name string) (Pass, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown pass %q", name)
	}
	return ctor(), nil
}

// Names returns every registered pass name, sorted
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
