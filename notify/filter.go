package notify

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Filter selects row events by table id glob patterns.
// Empty patterns match everything.
type Filter struct {
	tableGlobs []glob.Glob
	ops        map[Op]bool
}

// NewFilter compiles table patterns and an optional op allow-list
func NewFilter(tablePatterns []string, ops ...Op) (Filter, error) {
	f := Filter{tableGlobs: make([]glob.Glob, 0, len(tablePatterns))}

	for _, pattern := range tablePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
		}
		f.tableGlobs = append(f.tableGlobs, g)
	}

	if len(ops) > 0 {
		f.ops = make(map[Op]bool, len(ops))
		for _, op := range ops {
			f.ops[op] = true
		}
	}

	return f, nil
}

// MatchTable reports whether tableID matches any pattern
func (f Filter) MatchTable(tableID string) bool {
	if len(f.tableGlobs) == 0 {
		return true
	}
	for _, g := range f.tableGlobs {
		if g.Match(tableID) {
			return true
		}
	}
	return false
}

// Match reports whether the event passes the filter
func (f Filter) Match(ev RowEvent) bool {
	if f.ops != nil && !f.ops[ev.Op] {
		return false
	}
	return f.MatchTable(ev.Table)
}
