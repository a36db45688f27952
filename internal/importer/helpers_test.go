package importer

import (
	"context"
	"errors"
	"strings"
)

type person struct {
	id      int64
	Name    string
	Tags    string
	TagIDs  []int64
	Team    string
	TeamID  int64
	failing bool
}

func (p *person) EntityID() int64 { return p.id }
func (p *person) SetEntityID(id int64) { p.id = id }

type tag struct {
	id   int64
	Name string
}

func (t *tag) EntityID() int64 { return t.id }
func (t *tag) SetEntityID(id int64) { t.id = id }
func (t *tag) Title() string { return t.Name }

type membership struct {
	id       int64
	PersonID int64
	TagID    int64
}

func (m *membership) EntityID() int64 { return m.id }
func (m *membership) SetEntityID(id int64) { m.id = id }

var errBackend = errors.New("backend unavailable")

// sequence returns a commit function that hands out ids from next and
// records every call it receives.
type sequence[C Entity] struct {
	next  int64
	calls [][]C
	fail  func(records []C) error
}

func (s *sequence[C]) commit(_ context.Context, records []C) ([]Identifiable, error) {
	s.calls = append(s.calls, records)
	if s.fail != nil {
		if err := s.fail(records); err != nil {
			return nil, err
		}
	}
	out := make([]Identifiable, len(records))
	for i := range records {
		out[i] = Identifiable{ID: s.next}
		s.next++
	}
	return out, nil
}

func (s *sequence[C]) batchCalls() int {
	n := 0
	for _, c := range s.calls {
		if len(c) > 1 {
			n++
		}
	}
	return n
}

// failBatches fails every call with more than one record.
func failBatches[C Entity](records []C) error {
	if len(records) > 1 {
		return errBackend
	}
	return nil
}

func people(names ...string) []*ImportModel[*person] {
	raw := make([]RawImportModel[*person], len(names))
	for i, n := range names {
		raw[i] = RawImportModel[*person]{ID: i + 1, Model: &person{Name: n}}
	}
	return NewImportModels(raw)
}

// tagIndex is a preloaded lookup of existing tags by lower-cased name.
type tagIndex map[string]*tag

func (idx tagIndex) find(name string, _ *person) (*tag, bool) {
	t, ok := idx[strings.ToLower(name)]
	return t, ok
}

func tagsProperty() Property[*person] {
	return Property[*person]{
		Key:       "tag_ids",
		Delimiter: ";",
		Get:       func(p *person) string { return p.Tags },
		Set:       func(p *person, ids []int64) { p.TagIDs = ids },
	}
}

func teamProperty() Property[*person] {
	return Property[*person]{
		Key: "team_id",
		Get: func(p *person) string { return p.Team },
		Set: func(p *person, ids []int64) { p.TeamID = ids[0] },
	}
}

func newTag(name string) *tag { return &tag{Name: name} }
