package importer

import (
	"context"
	"fmt"
	"log/slog"
)

// RowResolver is a Before handler as seen by the Orchestrator.
type RowResolver[M Entity] interface {
	ImportStep
	Resolver[M]
	CollectSelected(rows []*ImportModel[M], selected func(row *ImportModel[M]) bool)
}

// AfterStep is an After handler as seen by the Orchestrator.
type AfterStep[M Entity] interface {
	ImportStep
	CollectSelected(rows []*ImportModel[M], selected func(row *ImportModel[M]) bool)
	Additional() []AdditionalStep[M]
}

// Orchestrator runs one import: Before handlers, then Main handlers, then
// After handlers each followed by their Additional handlers. Every stage
// finishes before the next one starts.
type Orchestrator[M Entity] struct {
	before []RowResolver[M]
	main   []*MainHandler[M]
	after  []AfterStep[M]
	shared *SharedContext
	logger *slog.Logger

	rows []*ImportModel[M]
}

// NewOrchestrator returns an empty Orchestrator. shared, when not nil, is
// cleared on Cleanup.
func NewOrchestrator[M Entity](shared *SharedContext, logger *slog.Logger) *Orchestrator[M] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator[M]{shared: shared, logger: logger}
}

func (o *Orchestrator[M]) AddBefore(h ...RowResolver[M]) { o.before = append(o.before, h...) }
func (o *Orchestrator[M]) AddMain(h ...*MainHandler[M]) { o.main = append(o.main, h...) }
func (o *Orchestrator[M]) AddAfter(h ...AfterStep[M]) { o.after = append(o.after, h...) }

// Steps returns every step in execution order.
func (o *Orchestrator[M]) Steps() []ImportStep {
	var out []ImportStep
	for _, h := range o.before {
		out = append(out, h)
	}
	for _, h := range o.main {
		out = append(out, h)
	}
	for _, h := range o.after {
		out = append(out, h)
		for _, a := range h.Additional() {
			out = append(out, a)
		}
	}
	return out
}

// Observe registers fn with every step.
func (o *Orchestrator[M]) Observe(fn func(Event)) {
	for _, s := range o.Steps() {
		s.observe(fn)
	}
}

// Rows returns the rows of the prepared run.
func (o *Orchestrator[M]) Rows() []*ImportModel[M] { return o.rows }

// Prepare hands rows to the main handlers and lets every resolution handler
// look up the names the rows reference. Names only referenced by rows no
// main handler selects are checked but never queued for creation.
func (o *Orchestrator[M]) Prepare(rows []*ImportModel[M]) {
	o.rows = rows
	for _, h := range o.main {
		h.SetRows(rows)
	}
	for _, h := range o.before {
		h.CollectSelected(rows, o.selected)
	}
	for _, h := range o.after {
		h.CollectSelected(rows, o.selected)
	}
}

// selected reports whether any main handler will commit row. Only such rows
// queue auxiliary entities for creation.
func (o *Orchestrator[M]) selected(row *ImportModel[M]) bool {
	if len(o.main) == 0 {
		return true
	}
	for _, h := range o.main {
		if h.Selects(row) {
			return true
		}
	}
	return false
}

// Run executes the prepared import. It returns the first error a Before or
// Main handler returns; After and Additional handlers report failures
// through their phase.
func (o *Orchestrator[M]) Run(ctx context.Context) error {
	for _, h := range o.before {
		if err := h.DoImport(ctx); err != nil {
			return fmt.Errorf("%s: %w", h.Name(), err)
		}
	}

	resolvers := make([]Resolver[M], len(o.before))
	for i, h := range o.before {
		resolvers[i] = h
	}

	var created []*ImportModel[M]
	for _, h := range o.main {
		h.StartImport()
		h.ResolveReferences(resolvers...)
		if err := h.DoImport(ctx); err != nil {
			return fmt.Errorf("%s: %w", h.Name(), err)
		}
		h.FinishImport()
		created = append(created, h.ModelsToCreate()...)
	}

	for _, h := range o.after {
		_ = h.DoImport(ctx)
		for _, a := range h.Additional() {
			a.PipeImportedSideModels(created)
			_ = a.DoImport(ctx)
		}
	}

	s := o.Summary()
	o.logger.Info("import run complete",
		"rows", s.Rows.Total,
		"done", s.Rows.Done,
		"errors", s.Rows.Error,
	)
	return nil
}

// Cleanup resets every handler and the shared context.
func (o *Orchestrator[M]) Cleanup() {
	for _, s := range o.Steps() {
		s.DoCleanup()
	}
	if o.shared != nil {
		o.shared.Clear()
	}
	o.rows = nil
}

// RowCounts tallies row outcomes.
type RowCounts struct {
	Total      int `json:"total"`
	New        int `json:"new"`
	Done       int `json:"done"`
	Error      int `json:"error"`
	Duplicates int `json:"duplicates"`
}

// Summary is a snapshot of a run.
type Summary struct {
	Steps []StepSummary `json:"steps"`
	Rows  RowCounts     `json:"rows"`
}

// Summary snapshots every step and tallies row outcomes.
func (o *Orchestrator[M]) Summary() Summary {
	var s Summary
	for _, step := range o.Steps() {
		s.Steps = append(s.Steps, Summarize(step))
	}
	s.Rows = CountRows(o.rows)
	return s
}

// CountRows tallies the status of rows.
func CountRows[M Entity](rows []*ImportModel[M]) RowCounts {
	c := RowCounts{Total: len(rows)}
	for _, row := range rows {
		switch row.Status {
		case StatusNew:
			c.New++
		case StatusDone:
			c.Done++
		case StatusError:
			c.Error++
		}
		if row.HasDuplicates {
			c.Duplicates++
		}
	}
	return c
}
