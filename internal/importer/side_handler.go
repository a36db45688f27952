package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// MaxNameLength is the longest accepted reference name segment.
const MaxNameLength = 256

// DefaultDelimiter separates names in array-typed reference fields.
const DefaultDelimiter = ","

// FindFunc looks up an existing auxiliary entity by name on behalf of owner.
type FindFunc[M Entity, S SideEntity] func(name string, owner M) (S, bool)

// ShouldCreateFunc decides whether an unmatched name is queued for creation.
type ShouldCreateFunc[M Entity, S SideEntity] func(pseudo *Mapping[S], rows []*ImportModel[M]) bool

// Property describes the reference field of a primary row.
// Keys ending in "ids" are array-typed: the raw value holds a list of names.
type Property[M Entity] struct {
	Key       string
	Delimiter string
	Get       func(row M) string
	Set       func(row M, ids []int64)
}

// IsArray reports whether the property holds a list of references.
func (p Property[M]) IsArray() bool {
	return strings.HasSuffix(strings.ToLower(p.Key), "ids")
}

func (p Property[M]) delimiter() string {
	if p.Delimiter == "" {
		return DefaultDelimiter
	}
	return p.Delimiter
}

// SideConfig configures the resolution handlers.
type SideConfig[M Entity, S SideEntity] struct {
	Name        string
	Label       Label
	VerboseName Label

	Property Property[M]

	Find         FindFunc[M, S]
	NewModel     func(name string) S
	Create       CommitFunc[S]
	ShouldCreate ShouldCreateFunc[M, S]

	// OnQueue is called once for every newly queued pseudo-entity with the
	// row that first referenced it and the handler's data bag.
	OnQueue func(pseudo *Mapping[S], row *ImportModel[M], data *ImportContext[*ImportModel[M]])

	// Kind keys the to-create list in Shared. Defaults to Name.
	Kind   string
	Shared *SharedContext

	ChunkSize int
	Logger    *slog.Logger
}

// SideHandler resolves reference names of primary rows to auxiliary entities,
// queuing unknown names for creation, and commits the queue.
type SideHandler[M Entity, S SideEntity] struct {
	stepBase
	cfg     SideConfig[M, S]
	kind    string
	shared  *SharedContext
	local   *pendingSet[S]
	process *ImportProcess[S]
	ctx     *ImportContext[*ImportModel[M]]

	// refs holds the mappings each row referenced, keyed by row track number.
	refs   map[int][]*Mapping[S]
	queued int
}

// NewSideHandler validates cfg and returns a handler in PhaseEnqueued.
func NewSideHandler[M Entity, S SideEntity](cfg SideConfig[M, S]) (*SideHandler[M, S], error) {
	switch {
	case cfg.Find == nil:
		return nil, ErrMissingFind
	case cfg.Create == nil:
		return nil, ErrMissingCreate
	case cfg.NewModel == nil:
		return nil, ErrMissingNewModel
	case cfg.Property.Key == "" || cfg.Property.Get == nil || cfg.Property.Set == nil:
		return nil, ErrMissingProperty
	}

	h := &SideHandler[M, S]{
		stepBase: newStepBase(cfg.Name, cfg.Label, cfg.Logger),
		cfg:      cfg,
		kind:     cfg.Kind,
		shared:   cfg.Shared,
		ctx:      NewImportContext[*ImportModel[M]](),
		refs:     make(map[int][]*Mapping[S]),
	}
	if h.kind == "" {
		h.kind = cfg.Name
	}
	if h.shared != nil {
		if _, err := sharedPending[S](h.shared, h.kind); err != nil {
			return nil, err
		}
	} else {
		h.local = newPendingSet[S]()
	}

	process, err := NewImportProcess(cfg.Create, cfg.ChunkSize, h.logger)
	if err != nil {
		return nil, err
	}
	process.OnChunk(func(r ChunkReport[S]) {
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

func (h *SideHandler[M, S]) pending() *pendingSet[S] {
	if h.shared == nil {
		return h.local
	}
	set, err := sharedPending[S](h.shared, h.kind)
	if err != nil {
		panic(err)
	}
	return set
}

func (h *SideHandler[M, S]) Phase() StepPhase { return h.ctx.Phase() }

// Context returns the handler's run state and data bag.
func (h *SideHandler[M, S]) Context() *ImportContext[*ImportModel[M]] { return h.ctx }

// Process exposes the commit engine, mainly for its breaker state.
func (h *SideHandler[M, S]) Process() *ImportProcess[S] { return h.process }

func (h *SideHandler[M, S]) VerboseName() string {
	if h.cfg.VerboseName != nil {
		return h.cfg.VerboseName.Text(h.Phase(), false)
	}
	return h.label.Text(h.Phase(), false)
}

func (h *SideHandler[M, S]) Description() string { return describe(h.label, h.Phase()) }

// ModelsToCreate returns the pseudo-entities this handler queued.
func (h *SideHandler[M, S]) ModelsToCreate() []*Mapping[S] {
	var out []*Mapping[S]
	for _, m := range h.pending().items {
		if m.WillBeCreated {
			out = append(out, m)
		}
	}
	return out
}

func (h *SideHandler[M, S]) ModelsToCreateAmount() int { return h.queued }

func (h *SideHandler[M, S]) ModelsImportedAmount() int { return len(h.process.Imported()) }

func (h *SideHandler[M, S]) StartImport() { h.setPhase(PhasePending) }

func (h *SideHandler[M, S]) FinishImport() { h.setPhase(PhaseFinished) }

func (h *SideHandler[M, S]) setPhase(p StepPhase) {
	h.ctx.SetPhase(p)
	h.emit(Event{Phase: p, Chunk: -1, Imported: h.ModelsImportedAmount(), Total: h.ModelsToCreateAmount()})
}

// DoCleanup resets rows, references and the to-create list. The circuit
// breaker of the underlying process is kept.
func (h *SideHandler[M, S]) DoCleanup() {
	h.ctx.Reset()
	h.process.CleanUp()
	clear(h.refs)
	h.queued = 0
	if h.local != nil {
		h.local.reset()
	}
}

// FindByName resolves a raw field value to mappings. Array-typed properties
// are split on the delimiter; every other value is one name. Segments longer
// than MaxNameLength are rejected and reported in the returned error while
// the remaining segments are still resolved.
func (h *SideHandler[M, S]) FindByName(raw string, row *ImportModel[M]) ([]*Mapping[S], error) {
	return h.findByName(raw, row, true)
}

// findByName is FindByName; with queue false unknown names are returned as
// mappings that will not be created.
func (h *SideHandler[M, S]) findByName(raw string, row *ImportModel[M], queue bool) ([]*Mapping[S], error) {
	var names []string
	if h.cfg.Property.IsArray() {
		for _, seg := range strings.Split(raw, h.cfg.Property.delimiter()) {
			if seg = strings.TrimSpace(seg); seg != "" {
				names = append(names, seg)
			}
		}
	} else if name := strings.TrimSpace(raw); name != "" {
		names = []string{name}
	}

	var (
		out  []*Mapping[S]
		errs []error
	)
	for _, name := range names {
		if len(name) > MaxNameLength {
			errs = append(errs, fmt.Errorf("%w: %d characters, max %d", ErrNameTooLong, len(name), MaxNameLength))
			continue
		}
		out = append(out, h.findOne(name, row, queue))
	}
	return out, errors.Join(errs...)
}

func (h *SideHandler[M, S]) findOne(name string, row *ImportModel[M], queue bool) *Mapping[S] {
	var owner M
	if row != nil {
		owner = row.Model
	}
	if existing, ok := h.cfg.Find(name, owner); ok && existing.EntityID() != 0 {
		return &Mapping[S]{Name: existing.Title(), ID: existing.EntityID(), Model: existing}
	}

	set := h.pending()
	if queued, ok := set.lookup(name); ok {
		return queued
	}

	if !queue {
		return &Mapping[S]{Name: name, Model: h.cfg.NewModel(name)}
	}

	pseudo := &Mapping[S]{Name: name, WillBeCreated: true, Model: h.cfg.NewModel(name)}
	if h.cfg.ShouldCreate != nil && !h.cfg.ShouldCreate(pseudo, h.ctx.Rows()) {
		pseudo.WillBeCreated = false
		return pseudo
	}
	pseudo, added := set.add(pseudo)
	if added {
		h.queued++
		if h.cfg.OnQueue != nil && row != nil {
			h.cfg.OnQueue(pseudo, row, h.ctx)
		}
	}
	return pseudo
}

// Collect looks up the references of every row and remembers them for
// resolution. Rejected names become row errors.
func (h *SideHandler[M, S]) Collect(rows []*ImportModel[M]) {
	h.CollectSelected(rows, nil)
}

// CollectSelected is Collect where only rows accepted by selected may queue
// unknown names for creation. The other rows are still checked and get the
// same row errors. A nil selected accepts every row.
func (h *SideHandler[M, S]) CollectSelected(rows []*ImportModel[M], selected func(row *ImportModel[M]) bool) {
	h.ctx.SetRows(rows)
	for _, row := range rows {
		raw := h.cfg.Property.Get(row.Model)
		refs, err := h.findByName(raw, row, selected == nil || selected(row))
		if err != nil {
			for _, e := range splitJoined(err) {
				row.AddError(fmt.Sprintf("%s: %v", h.VerboseName(), e))
			}
		}
		h.refs[row.ID] = refs
	}
}

// Refs returns the mappings row referenced.
func (h *SideHandler[M, S]) Refs(row *ImportModel[M]) []*Mapping[S] {
	return h.refs[row.ID]
}

// ResolvedIDs returns the ids of the row's references that carry one.
func (h *SideHandler[M, S]) ResolvedIDs(row *ImportModel[M]) []int64 {
	var ids []int64
	for _, m := range h.refs[row.ID] {
		if id := h.idFor(m); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// idFor returns the id of m, falling back to the to-create list by name.
func (h *SideHandler[M, S]) idFor(m *Mapping[S]) int64 {
	if m.ID != 0 {
		return m.ID
	}
	if queued, ok := h.pending().lookup(m.Name); ok {
		return queued.ID
	}
	return 0
}

// DoImport commits the pending pseudo-entities and writes the returned ids
// back onto them by position. Errors are returned to the caller.
func (h *SideHandler[M, S]) DoImport(ctx context.Context) error {
	h.StartImport()

	set := h.pending()
	queue := set.uncommitted()
	models := make([]S, len(queue))
	for i, m := range queue {
		models[i] = m.Model
		set.committed[m] = true
	}

	results := h.process.Run(ctx, models)
	if len(results) != len(queue) {
		h.setPhase(PhaseError)
		return fmt.Errorf("%s: %w", h.name, ErrResultMismatch)
	}

	failed := 0
	for i, res := range results {
		m := queue[i]
		if res.Err != nil {
			failed++
			h.logger.Warn("create failed",
				"name", m.Name,
				"error", res.Err,
			)
		}
		if res.ID != 0 {
			m.ID = res.ID
			m.Model.SetEntityID(res.ID)
		}
	}

	h.logger.Info("side import complete",
		"queued", len(queue),
		"failed", failed,
		"circuit_open", h.process.CircuitOpen(),
	)
	h.FinishImport()
	return nil
}

func splitJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
