package importer

import (
	"context"
	"fmt"
	"log/slog"
)

// AdditionalStep is a handler fed with the primary rows after they are committed.
type AdditionalStep[M Entity] interface {
	ImportStep
	PipeImportedSideModels(rows []*ImportModel[M])
}

// AdditionalConfig configures an AdditionalHandler.
type AdditionalConfig[M Entity, A Entity] struct {
	Name  string
	Label Label

	// Build derives the records to create from one persisted primary row.
	Build  func(row *ImportModel[M]) []A
	Create CommitFunc[A]

	ChunkSize int
	Logger    *slog.Logger
}

// AdditionalHandler creates records that need a persisted primary id.
// Like AfterHandler it never returns an error from DoImport.
type AdditionalHandler[M Entity, A Entity] struct {
	stepBase
	build   func(row *ImportModel[M]) []A
	process *ImportProcess[A]
	ctx     *ImportContext[A]
}

func NewAdditionalHandler[M Entity, A Entity](cfg AdditionalConfig[M, A]) (*AdditionalHandler[M, A], error) {
	if cfg.Build == nil {
		return nil, fmt.Errorf("import: %s: build function is required", cfg.Name)
	}
	h := &AdditionalHandler[M, A]{
		stepBase: newStepBase(cfg.Name, cfg.Label, cfg.Logger),
		build:    cfg.Build,
		ctx:      NewImportContext[A](),
	}
	process, err := NewImportProcess(cfg.Create, cfg.ChunkSize, h.logger)
	if err != nil {
		return nil, err
	}
	process.OnChunk(func(r ChunkReport[A]) {
		h.emit(Event{
			Phase:       h.Phase(),
			Chunk:       r.Index,
			Records:     len(r.Records),
			Failed:      r.Failed(),
			Imported:    h.ModelsImportedAmount(),
			Total:       h.ModelsToCreateAmount(),
			Fallback:    r.Fallback,
			CircuitOpen: h.process.CircuitOpen(),
		})
	})
	h.process = process
	return h, nil
}

func (h *AdditionalHandler[M, A]) Phase() StepPhase { return h.ctx.Phase() }

func (h *AdditionalHandler[M, A]) Description() string { return describe(h.label, h.Phase()) }

// Process exposes the commit engine, mainly for its breaker state.
func (h *AdditionalHandler[M, A]) Process() *ImportProcess[A] { return h.process }

// ModelsToCreate returns the records built from the piped rows.
func (h *AdditionalHandler[M, A]) ModelsToCreate() []A { return h.ctx.Rows() }

func (h *AdditionalHandler[M, A]) ModelsToCreateAmount() int { return len(h.ctx.Rows()) }

func (h *AdditionalHandler[M, A]) ModelsImportedAmount() int { return len(h.process.Imported()) }

func (h *AdditionalHandler[M, A]) StartImport() { h.setPhase(PhasePending) }

func (h *AdditionalHandler[M, A]) FinishImport() { h.setPhase(PhaseFinished) }

func (h *AdditionalHandler[M, A]) setPhase(p StepPhase) {
	h.ctx.SetPhase(p)
	h.emit(Event{Phase: p, Chunk: -1, Imported: h.ModelsImportedAmount(), Total: h.ModelsToCreateAmount()})
}

func (h *AdditionalHandler[M, A]) DoCleanup() {
	h.ctx.Reset()
	h.process.CleanUp()
}

// PipeImportedSideModels builds the records for every row that was
// committed successfully. Other rows are ignored.
func (h *AdditionalHandler[M, A]) PipeImportedSideModels(rows []*ImportModel[M]) {
	var records []A
	for _, row := range rows {
		if row.Status != StatusDone || !row.Persisted() {
			continue
		}
		records = append(records, h.build(row)...)
	}
	h.ctx.SetRows(records)
}

// DoImport commits the built records. It always returns nil; check Phase
// for the outcome.
func (h *AdditionalHandler[M, A]) DoImport(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", h.name, r)
		}
		if err != nil {
			h.logger.Error("additional import failed", "error", err)
			h.setPhase(PhaseError)
			err = nil
		}
	}()

	h.StartImport()
	records := h.ctx.Rows()
	results := h.process.Run(ctx, records)
	for i, res := range results {
		if res.ID != 0 {
			records[i].SetEntityID(res.ID)
		}
	}
	h.logger.Info("additional import complete",
		"records", len(records),
		"imported", h.ModelsImportedAmount(),
		"circuit_open", h.process.CircuitOpen(),
	)
	h.FinishImport()
	return nil
}
