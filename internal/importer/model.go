package importer

import "strings"

// Entity is a record the engine can commit. A zero id means not persisted.
type Entity interface {
	EntityID() int64
	SetEntityID(id int64)
}

// SideEntity is an auxiliary record referenced by name from primary rows.
type SideEntity interface {
	Entity
	Title() string
}

// Status is the outcome of one primary row.
type Status string

const (
	StatusNew   Status = "new"
	StatusError Status = "error"
	StatusDone  Status = "done"
)

// RawImportModel is a parsed row as delivered by the tabular parser.
type RawImportModel[T any] struct {
	ID    int // track number assigned at parse time
	Model T
}

// ImportModel wraps one candidate primary record for the length of a run.
type ImportModel[T Entity] struct {
	ID            int
	Model         T
	Status        Status
	Errors        []string
	Duplicates    []T
	HasDuplicates bool
}

// NewImportModels wraps parsed rows, one ImportModel per row, all with StatusNew.
func NewImportModels[T Entity](raw []RawImportModel[T]) []*ImportModel[T] {
	out := make([]*ImportModel[T], len(raw))
	for i, r := range raw {
		out[i] = &ImportModel[T]{
			ID:     r.ID,
			Model:  r.Model,
			Status: StatusNew,
		}
	}
	return out
}

// AddError appends a row error. Rows with errors are no longer StatusNew.
func (m *ImportModel[T]) AddError(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	m.Errors = append(m.Errors, msg)
	if m.Status == StatusNew {
		m.Status = StatusError
	}
}

// MarkDuplicates records existing records the row collides with.
func (m *ImportModel[T]) MarkDuplicates(dups ...T) {
	if len(dups) == 0 {
		return
	}
	m.Duplicates = append(m.Duplicates, dups...)
	if !m.HasDuplicates {
		m.HasDuplicates = true
		m.AddError(DuplicateError)
	}
}

// HasErrors reports whether any error was recorded on the row.
func (m *ImportModel[T]) HasErrors() bool {
	return len(m.Errors) > 0
}

// Persisted reports whether the row's record already carries a backend id.
func (m *ImportModel[T]) Persisted() bool {
	return m.Model.EntityID() != 0
}

// DuplicateError is the standing error marker of a row with duplicates.
const DuplicateError = "duplicate: record matches existing data"

// Identifiable is the per-record outcome of a commit, aligned with its input.
type Identifiable struct {
	ID     int64    // 0 when nothing was persisted
	Errors []string // errors reported by the backend for this record
	Err    error    // commit failure captured for this record
}

// Failed reports whether the record's commit failed.
func (r Identifiable) Failed() bool {
	return r.Err != nil
}

// Mapping is an auxiliary candidate: an existing entity (ID set) or a
// pseudo-entity queued for creation (WillBeCreated).
type Mapping[S SideEntity] struct {
	Name          string
	ID            int64
	WillBeCreated bool
	Model         S
}

// Resolved reports whether the mapping carries a backend id.
func (m *Mapping[S]) Resolved() bool {
	return m != nil && m.ID != 0
}
