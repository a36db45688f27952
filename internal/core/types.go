package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/rowimport/internal/importer"
	"github.com/JonMunkholm/rowimport/internal/rows"
	"github.com/JonMunkholm/rowimport/internal/store"
)

// ProfileInfo describes an import profile.
type ProfileInfo struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Columns     []string `json:"columns"`  // accepted header names
	Required    []string `json:"required"` // header names that must be present
}

// Deps is what a profile needs to build a plan.
type Deps struct {
	Store     *store.Store
	Logger    *slog.Logger
	ChunkSize int
	Delimiter string // separator of multi-value reference cells
	Options   map[string]string
}

// BuildFunc creates a fresh plan for one run.
type BuildFunc func(deps Deps) (Plan, error)

// ProfileDefinition contains everything needed to import with a profile.
type ProfileDefinition struct {
	Info  ProfileInfo
	Build BuildFunc
}

// Plan is one run of a profile. A plan is used by a single goroutine.
type Plan interface {
	// Load preloads the lookup data the plan resolves names against.
	Load(ctx context.Context) error
	// Prepare turns table records into rows and collects their references.
	Prepare(table *rows.Table) error
	// Run commits the prepared rows.
	Run(ctx context.Context) error
	Observe(fn func(importer.Event))
	Summary() importer.Summary
	Outcomes() []RowOutcome
	Cleanup()
}

// RowOutcome is the result of one input row.
type RowOutcome struct {
	Line   int             `json:"line"`
	Key    string          `json:"key,omitempty"` // natural key of the row, such as an email
	ID     int64           `json:"id,omitempty"`
	Status importer.Status `json:"status"`
	Errors []string        `json:"errors,omitempty"`
}

// RunPhase indicates the current stage of a run.
type RunPhase string

const (
	PhaseStarting  RunPhase = "starting"
	PhaseReading   RunPhase = "reading"
	PhasePreparing RunPhase = "preparing"
	PhaseImporting RunPhase = "importing"
	PhaseComplete  RunPhase = "complete"
	PhaseFailed    RunPhase = "failed"
)

// Done reports whether the phase is terminal.
func (p RunPhase) Done() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// RunProgress is the current state of a run.
type RunProgress struct {
	RunID     string   `json:"run_id"`
	Profile   string   `json:"profile"`
	FileName  string   `json:"file_name"`
	Phase     RunPhase `json:"phase"`
	Step      string   `json:"step,omitempty"` // step currently reporting
	TotalRows int      `json:"total_rows"`
	Committed int      `json:"committed"` // primary rows written back so far
	Failed    int      `json:"failed"`    // failed records across all steps
	Error     string   `json:"error,omitempty"`
}

// Percent returns primary-row progress in 0..100.
func (p RunProgress) Percent() int {
	if p.TotalRows <= 0 {
		if p.Phase.Done() {
			return 100
		}
		return 0
	}
	return min(p.Committed*100/p.TotalRows, 100)
}

// RunResult is the final result of a run.
type RunResult struct {
	RunID      string           `json:"run_id"`
	Profile    string           `json:"profile"`
	FileName   string           `json:"file_name"`
	Summary    importer.Summary `json:"summary"`
	FailedRows []RowOutcome     `json:"failed_rows"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration"`
	Error      string           `json:"error,omitempty"` // non-empty if the run failed
}

// Failed reports whether the run as a whole failed.
func (r *RunResult) Failed() bool { return r.Error != "" }

// Status is the run status stored in history.
func (r *RunResult) Status() string {
	if r.Failed() {
		return string(PhaseFailed)
	}
	return string(PhaseComplete)
}

// ProgressCallback is called as a run advances.
type ProgressCallback func(RunProgress)

// PreviewResult is a prepared but uncommitted run.
type PreviewResult struct {
	Profile  string                 `json:"profile"`
	FileName string                 `json:"file_name"`
	Steps    []importer.StepSummary `json:"steps"`
	Rows     importer.RowCounts     `json:"rows"`
	Invalid  []RowOutcome           `json:"invalid"` // rows that already carry errors
}
