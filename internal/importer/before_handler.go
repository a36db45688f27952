package importer

// BeforeHandler is a SideHandler whose entities are committed before the
// primary rows, so their ids can be written onto the rows with DoResolve.
type BeforeHandler[M Entity, S SideEntity] struct {
	*SideHandler[M, S]
	useDefault []int64
	unresolved int
}

// NewBeforeHandler builds a BeforeHandler. useDefault, when not empty, is
// assigned to rows whose reference field is empty.
func NewBeforeHandler[M Entity, S SideEntity](cfg SideConfig[M, S], useDefault ...int64) (*BeforeHandler[M, S], error) {
	side, err := NewSideHandler(cfg)
	if err != nil {
		return nil, err
	}
	return &BeforeHandler[M, S]{SideHandler: side, useDefault: useDefault}, nil
}

// Unresolved counts rows whose references could not be mapped to ids.
func (h *BeforeHandler[M, S]) Unresolved() int { return h.unresolved }

func (h *BeforeHandler[M, S]) DoCleanup() {
	h.SideHandler.DoCleanup()
	h.unresolved = 0
}

// DoResolve writes the ids of row's references onto its property.
// Rows that reference names without an id increment Unresolved and keep
// their property untouched.
func (h *BeforeHandler[M, S]) DoResolve(row *ImportModel[M]) {
	prop := h.cfg.Property
	refs := h.refs[row.ID]

	if len(refs) == 0 {
		if len(h.useDefault) > 0 && isBlank(prop.Get(row.Model)) {
			prop.Set(row.Model, append([]int64(nil), h.useDefault...))
		}
		return
	}

	if !prop.IsArray() {
		if id := h.idFor(refs[0]); id != 0 {
			prop.Set(row.Model, []int64{id})
			return
		}
		h.unresolved++
		return
	}

	if allResolved(refs) {
		prop.Set(row.Model, uniqueIDs(refs, func(m *Mapping[S]) int64 { return m.ID }))
		return
	}
	ids := uniqueIDs(refs, h.idFor)
	if len(ids) == 0 {
		h.unresolved++
		return
	}
	prop.Set(row.Model, ids)
}

func allResolved[S SideEntity](refs []*Mapping[S]) bool {
	for _, m := range refs {
		if m.ID == 0 {
			return false
		}
	}
	return true
}

// uniqueIDs returns the non-zero ids of refs in order of first appearance.
func uniqueIDs[S SideEntity](refs []*Mapping[S], id func(*Mapping[S]) int64) []int64 {
	seen := make(map[int64]bool, len(refs))
	var out []int64
	for _, m := range refs {
		v := id(m)
		if v == 0 || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
