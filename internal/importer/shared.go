package importer

import (
	"fmt"
	"strings"
)

// SharedContext holds the to-create lists that several resolution handlers
// of one run share, keyed by entity kind. Handlers built with the same
// SharedContext and kind deduplicate pseudo-entities across each other.
//
// Build one per run and pass it to every handler that needs it; Clear it
// when the run is cleaned up.
type SharedContext struct {
	pending map[string]any
}

func NewSharedContext() *SharedContext {
	return &SharedContext{pending: make(map[string]any)}
}

// Kinds returns the entity kinds currently holding a to-create list.
func (c *SharedContext) Kinds() []string {
	out := make([]string, 0, len(c.pending))
	for k := range c.pending {
		out = append(out, k)
	}
	return out
}

// Clear drops every shared to-create list.
func (c *SharedContext) Clear() {
	clear(c.pending)
}

// pendingSet is one to-create list with its dedupe index.
type pendingSet[S SideEntity] struct {
	items []*Mapping[S]
	index map[string]*Mapping[S]
	// committed marks mappings already handed to a commit, so a shared list
	// is committed once regardless of how many handlers hold it.
	committed map[*Mapping[S]]bool
}

func newPendingSet[S SideEntity]() *pendingSet[S] {
	return &pendingSet[S]{
		index:     make(map[string]*Mapping[S]),
		committed: make(map[*Mapping[S]]bool),
	}
}

func (p *pendingSet[S]) lookup(name string) (*Mapping[S], bool) {
	m, ok := p.index[normalizeName(name)]
	return m, ok
}

// add queues m unless a mapping with the same normalized name exists, in
// which case the existing one is returned.
func (p *pendingSet[S]) add(m *Mapping[S]) (*Mapping[S], bool) {
	key := normalizeName(m.Name)
	if existing, ok := p.index[key]; ok {
		return existing, false
	}
	p.index[key] = m
	p.items = append(p.items, m)
	return m, true
}

// uncommitted returns queued mappings that have not been committed yet.
func (p *pendingSet[S]) uncommitted() []*Mapping[S] {
	var out []*Mapping[S]
	for _, m := range p.items {
		if m.WillBeCreated && m.ID == 0 && !p.committed[m] {
			out = append(out, m)
		}
	}
	return out
}

func (p *pendingSet[S]) reset() {
	p.items = nil
	clear(p.index)
	clear(p.committed)
}

// sharedPending returns the to-create list for kind, creating it on first use.
func sharedPending[S SideEntity](c *SharedContext, kind string) (*pendingSet[S], error) {
	if v, ok := c.pending[kind]; ok {
		set, ok := v.(*pendingSet[S])
		if !ok {
			return nil, fmt.Errorf("import: shared kind %q holds %T", kind, v)
		}
		return set, nil
	}
	set := newPendingSet[S]()
	c.pending[kind] = set
	return set, nil
}

// normalizeName is the dedupe key of a reference name: lower case with runs
// of whitespace collapsed to one space.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
