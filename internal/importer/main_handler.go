package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// MainConfig configures a MainHandler.
type MainConfig[M Entity] struct {
	Name  string
	Label Label

	// Create commits rows without an id. Required.
	Create CommitFunc[M]
	// Update commits rows that already carry an id. Required when such rows exist.
	Update CommitFunc[M]

	ChunkSize int

	// ShouldImport selects the rows to commit. Defaults to rows without duplicates.
	ShouldImport func(row *ImportModel[M]) bool

	Logger *slog.Logger
}

// MainHandler commits primary rows and writes the outcome back onto each row.
// Failed batches are retried one row at a time. This path has no circuit breaker.
type MainHandler[M Entity] struct {
	stepBase
	create       CommitFunc[M]
	update       CommitFunc[M]
	chunkSize    int
	shouldImport func(row *ImportModel[M]) bool
	ctx          *ImportContext[*ImportModel[M]]
}

// NewMainHandler validates cfg and returns a handler in PhaseEnqueued.
func NewMainHandler[M Entity](cfg MainConfig[M]) (*MainHandler[M], error) {
	if cfg.Create == nil {
		return nil, ErrMissingCreate
	}
	should := cfg.ShouldImport
	if should == nil {
		should = func(row *ImportModel[M]) bool { return !row.HasDuplicates }
	}
	return &MainHandler[M]{
		stepBase:     newStepBase(cfg.Name, cfg.Label, cfg.Logger),
		create:       cfg.Create,
		update:       cfg.Update,
		chunkSize:    cfg.ChunkSize,
		shouldImport: should,
		ctx:          NewImportContext[*ImportModel[M]](),
	}, nil
}

func (h *MainHandler[M]) Phase() StepPhase { return h.ctx.Phase() }
func (h *MainHandler[M]) Context() *ImportContext[*ImportModel[M]] { return h.ctx }

// SetRows hands the parsed rows of the run to the handler.
func (h *MainHandler[M]) SetRows(rows []*ImportModel[M]) { h.ctx.SetRows(rows) }

// Rows returns every row of the run, selected or not.
func (h *MainHandler[M]) Rows() []*ImportModel[M] { return h.ctx.Rows() }

// Selects reports whether row is committed by this handler.
func (h *MainHandler[M]) Selects(row *ImportModel[M]) bool { return h.shouldImport(row) }

// ModelsToCreate returns the rows selected for commit.
func (h *MainHandler[M]) ModelsToCreate() []*ImportModel[M] {
	var out []*ImportModel[M]
	for _, row := range h.ctx.Rows() {
		if h.Selects(row) {
			out = append(out, row)
		}
	}
	return out
}

func (h *MainHandler[M]) ModelsToCreateAmount() int { return len(h.ModelsToCreate()) }

// ModelsImportedAmount counts rows whose commit outcome has been written back.
func (h *MainHandler[M]) ModelsImportedAmount() int { return len(h.ctx.Imported()) }

func (h *MainHandler[M]) Description() string { return describe(h.label, h.Phase()) }

func (h *MainHandler[M]) StartImport() { h.setPhase(PhasePending) }

func (h *MainHandler[M]) FinishImport() { h.setPhase(PhaseFinished) }

func (h *MainHandler[M]) DoCleanup() { h.ctx.Reset() }

func (h *MainHandler[M]) setPhase(p StepPhase) {
	h.ctx.SetPhase(p)
	h.emit(Event{Phase: p, Chunk: -1, Imported: h.ModelsImportedAmount(), Total: h.ModelsToCreateAmount()})
}

// Resolver writes resolved reference ids onto primary rows.
type Resolver[M Entity] interface {
	DoResolve(row *ImportModel[M])
	Unresolved() int
	VerboseName() string
}

// ResolveReferences lets every resolver write its ids onto the selected rows.
// A row whose reference cannot be resolved gets an error naming the resolver.
func (h *MainHandler[M]) ResolveReferences(resolvers ...Resolver[M]) {
	for _, row := range h.ModelsToCreate() {
		for _, r := range resolvers {
			before := r.Unresolved()
			r.DoResolve(row)
			if r.Unresolved() > before {
				row.AddError(fmt.Sprintf("%s: could not resolve reference", r.VerboseName()))
			}
		}
	}
}

// indexed is one row with its position among the selected rows.
type indexed[M Entity] struct {
	index int
	row   *ImportModel[M]
}

type indexedResult struct {
	index int
	res   Identifiable
}

// DoImport commits the selected rows: new rows through Create, persisted
// rows through Update. Outcomes are written back in original row order.
func (h *MainHandler[M]) DoImport(ctx context.Context) error {
	rows := h.ModelsToCreate()

	var toCreate, toUpdate []indexed[M]
	for i, row := range rows {
		if row.Persisted() {
			toUpdate = append(toUpdate, indexed[M]{i, row})
		} else {
			toCreate = append(toCreate, indexed[M]{i, row})
		}
	}
	if len(toUpdate) > 0 && h.update == nil {
		h.setPhase(PhaseError)
		return ErrMissingUpdate
	}

	results := make([]indexedResult, 0, len(rows))
	results = append(results, h.commitPartition(ctx, "create", h.create, toCreate)...)
	results = append(results, h.commitPartition(ctx, "update", h.update, toUpdate)...)

	sort.SliceStable(results, func(i, j int) bool { return results[i].index < results[j].index })

	for _, r := range results {
		h.writeBack(rows[r.index], r.res)
	}

	h.logger.Info("main import complete",
		"created", len(toCreate),
		"updated", len(toUpdate),
		"imported", h.ModelsImportedAmount(),
	)
	return nil
}

func (h *MainHandler[M]) commitPartition(ctx context.Context, op string, commit CommitFunc[M], part []indexed[M]) []indexedResult {
	var out []indexedResult
	for n, chunk := range chunks(part, h.chunkSize) {
		records := make([]M, len(chunk))
		for i, c := range chunk {
			records[i] = c.row.Model
		}

		res, err := callCommit(ctx, commit, records)
		fallback := err != nil
		if err != nil {
			h.logger.Warn("batch "+op+" failed, retrying per row",
				"chunk", n,
				"size", len(records),
				"error", err,
			)
			res = make([]Identifiable, len(records))
			for i, rec := range records {
				one, err := callCommit(ctx, commit, []M{rec})
				if err != nil {
					res[i] = Identifiable{Err: err}
					continue
				}
				res[i] = one[0]
			}
		}

		failed := 0
		for i, c := range chunk {
			if res[i].Err != nil {
				failed++
			}
			out = append(out, indexedResult{index: c.index, res: res[i]})
		}
		h.emit(Event{
			Phase:    h.Phase(),
			Chunk:    n,
			Records:  len(chunk),
			Failed:   failed,
			Total:    h.ModelsToCreateAmount(),
			Fallback: fallback,
		})
	}
	return out
}

func (h *MainHandler[M]) writeBack(row *ImportModel[M], res Identifiable) {
	if res.ID != 0 {
		row.Model.SetEntityID(res.ID)
	}
	row.Errors = append(row.Errors, res.Errors...)
	if res.Err != nil {
		row.Errors = append(row.Errors, res.Err.Error())
	}
	// errors recorded before the commit count too
	if res.ID != 0 && len(row.Errors) == 0 {
		row.Status = StatusDone
	} else {
		row.Status = StatusError
	}
	h.ctx.AddImported(row)
}
