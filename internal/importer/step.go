package importer

import (
	"context"
	"log/slog"
)

// ImportStep is the capability every handler offers to the Orchestrator.
//
// The set of implementations is closed: MainHandler, BeforeHandler,
// SideHandler, AfterHandler and AdditionalHandler.
type ImportStep interface {
	Name() string
	Phase() StepPhase
	StartImport()
	DoImport(ctx context.Context) error
	FinishImport()
	DoCleanup()
	ModelsToCreateAmount() int
	ModelsImportedAmount() int
	Description() string

	observe(fn func(Event))
}

// Event reports progress of one step. Chunk is -1 for phase changes.
type Event struct {
	Step     string
	Phase    StepPhase
	Chunk    int
	Records  int
	Failed   int
	Imported int
	Total    int

	Fallback    bool // chunk was retried per record
	CircuitOpen bool
}

// stepBase carries what every handler has: identity, label and observers.
type stepBase struct {
	name     string
	label    Label
	logger   *slog.Logger
	notifyFn []func(Event)
}

func newStepBase(name string, label Label, logger *slog.Logger) stepBase {
	if label == nil {
		label = Literal(name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return stepBase{
		name:   name,
		label:  label,
		logger: logger.With("step", name),
	}
}

func (b *stepBase) Name() string { return b.name }

func (b *stepBase) observe(fn func(Event)) {
	if fn != nil {
		b.notifyFn = append(b.notifyFn, fn)
	}
}

func (b *stepBase) emit(e Event) {
	e.Step = b.name
	for _, fn := range b.notifyFn {
		fn(e)
	}
}

// StepSummary is a snapshot of one step.
type StepSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Phase       StepPhase `json:"phase"`
	ToCreate    int       `json:"to_create"`
	Imported    int       `json:"imported"`
}

// Summarize snapshots a step.
func Summarize(s ImportStep) StepSummary {
	return StepSummary{
		Name:        s.Name(),
		Description: s.Description(),
		Phase:       s.Phase(),
		ToCreate:    s.ModelsToCreateAmount(),
		Imported:    s.ModelsImportedAmount(),
	}
}
