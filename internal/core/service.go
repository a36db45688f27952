package core

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rowimport/internal/importer"
	"github.com/JonMunkholm/rowimport/internal/rows"
	"github.com/JonMunkholm/rowimport/internal/store"
)

// Defaults used when Options leave a value unset.
const (
	DefaultChunkSize   = 100
	DefaultMaxFileSize = 100 << 20
	DefaultRunTimeout  = 10 * time.Minute
	DefaultResultTTL   = 5 * time.Minute
)

// Options configure a Service.
type Options struct {
	ChunkSize     int
	Delimiter     string
	MaxFileSize   int64
	MaxRows       int
	MaxConcurrent int
	MaxWait       time.Duration
	RunTimeout    time.Duration
	ResultTTL     time.Duration
}

func (o *Options) defaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = DefaultResultTTL
	}
}

// RunStore keeps finished runs. Satisfied by *store.Store.
type RunStore interface {
	SaveRun(ctx context.Context, r store.RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// Observer is told about engine events and finished runs.
type Observer interface {
	ObserveEvent(profile string, e importer.Event)
	ObserveRun(result *RunResult)
}

// ImportRequest is one file to import.
type ImportRequest struct {
	Profile  string
	FileName string
	Data     []byte
	Options  map[string]string // profile specific, such as "update_existing"
}

// Service runs imports and tracks them by run id.
type Service struct {
	store    *store.Store
	history  RunStore
	observer Observer
	opts     Options
	limiter  *RunLimiter
	logger   *slog.Logger

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// NewService creates a Service. st may be nil for profiles that do not
// need a database; run history is then disabled.
func NewService(st *store.Store, opts Options, logger *slog.Logger) *Service {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:   st,
		opts:    opts,
		limiter: NewRunLimiter(opts.MaxConcurrent, opts.MaxWait),
		logger:  logger.With("component", "import"),
		runs:    make(map[string]*activeRun),
	}
	if st != nil {
		s.history = st
	}
	return s
}

// SetObserver registers the observer of engine events and run outcomes.
func (s *Service) SetObserver(o Observer) { s.observer = o }

// Limiter exposes the run limiter for monitoring and shutdown.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// Profiles returns every registered profile.
func (s *Service) Profiles() []ProfileInfo {
	defs := All()
	infos := make([]ProfileInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// StartImport begins an asynchronous run and returns its id. Use
// SubscribeProgress or GetRunResult to follow it.
//
// Returns ErrTooManyRuns if no run slot frees up within the limiter's wait time.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	def, err := s.check(req)
	if err != nil {
		return "", err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)
	run := newActiveRun(uuid.New().String(), req, cancel)

	s.mu.Lock()
	s.runs[run.id] = run
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		s.execute(runCtx, run, def, req)
	}()

	return run.id, nil
}

// RunSync imports req in the calling goroutine. The run is not tracked and
// does not take a limiter slot.
func (s *Service) RunSync(ctx context.Context, req ImportRequest, onProgress ProgressCallback) (*RunResult, error) {
	def, err := s.check(req)
	if err != nil {
		return nil, err
	}
	run := newActiveRun(uuid.New().String(), req, func() {})
	run.callback = onProgress
	s.execute(ctx, run, def, req)
	return run.result, nil
}

func (s *Service) check(req ImportRequest) (ProfileDefinition, error) {
	def, ok := Get(req.Profile)
	if !ok {
		return ProfileDefinition{}, fmt.Errorf("%w: %s", ErrUnknownProfile, req.Profile)
	}
	if len(req.Data) == 0 {
		return ProfileDefinition{}, ErrEmptyFile
	}
	if int64(len(req.Data)) > s.opts.MaxFileSize {
		return ProfileDefinition{}, fmt.Errorf("%w: %d bytes, max %d", ErrFileTooLarge, len(req.Data), s.opts.MaxFileSize)
	}
	return def, nil
}

// execute drives one run to completion. It always finishes the run, also
// when the plan panics.
func (s *Service) execute(ctx context.Context, run *activeRun, def ProfileDefinition, req ImportRequest) {
	logger := s.logger.With("run_id", run.id, "profile", def.Info.Key)
	result := &RunResult{
		RunID:     run.id,
		Profile:   def.Info.Key,
		FileName:  req.FileName,
		StartedAt: time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in import run", "panic", r)
			result.Error = fmt.Sprintf("internal error: %v", r)
		}
		result.Duration = time.Since(result.StartedAt)
		s.finish(run, result, logger)
	}()

	plan, err := s.runPlan(ctx, run, def, req, result, logger)
	if plan != nil {
		result.Summary = plan.Summary()
		result.FailedRows = failedRows(plan.Outcomes())
		plan.Cleanup()
	}
	if err != nil {
		logger.Warn("import run failed", "error", err)
		result.Error = err.Error()
	}
}

func (s *Service) runPlan(ctx context.Context, run *activeRun, def ProfileDefinition, req ImportRequest, result *RunResult, logger *slog.Logger) (Plan, error) {
	run.update(func(p *RunProgress) { p.Phase = PhaseReading })
	table, err := rows.Read(req.FileName, bytes.NewReader(req.Data), rows.Options{MaxRows: s.opts.MaxRows})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.FileName, err)
	}
	logger.Info("file parsed", "rows", len(table.Records), "columns", len(table.Headers))

	plan, err := def.Build(s.deps(logger, req.Options))
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	var failed int
	plan.Observe(func(e importer.Event) {
		if s.observer != nil {
			s.observer.ObserveEvent(def.Info.Key, e)
		}
		if e.Chunk < 0 {
			run.update(func(p *RunProgress) { p.Step = e.Step })
			return
		}
		failed += e.Failed
		done := plan.Summary().Rows.Done
		run.update(func(p *RunProgress) {
			p.Step = e.Step
			p.Committed = done
			p.Failed = failed
		})
	})

	run.update(func(p *RunProgress) {
		p.Phase = PhasePreparing
		p.TotalRows = len(table.Records)
	})
	if err := plan.Load(ctx); err != nil {
		return plan, fmt.Errorf("load lookups: %w", err)
	}
	if err := plan.Prepare(table); err != nil {
		return plan, fmt.Errorf("prepare: %w", err)
	}

	run.update(func(p *RunProgress) { p.Phase = PhaseImporting })
	if err := plan.Run(ctx); err != nil {
		return plan, err
	}
	return plan, nil
}

func (s *Service) deps(logger *slog.Logger, options map[string]string) Deps {
	return Deps{
		Store:     s.store,
		Logger:    logger,
		ChunkSize: s.opts.ChunkSize,
		Delimiter: s.opts.Delimiter,
		Options:   options,
	}
}

// finish publishes result, stores it in history and schedules removal of
// the run from memory.
func (s *Service) finish(run *activeRun, result *RunResult, logger *slog.Logger) {
	run.complete(result)

	rowsCount := result.Summary.Rows
	logger.Info("import run finished",
		"status", result.Status(),
		"rows", rowsCount.Total,
		"done", rowsCount.Done,
		"errors", rowsCount.Error,
		"duplicates", rowsCount.Duplicates,
		"duration", result.Duration,
	)

	if s.observer != nil {
		s.observer.ObserveRun(result)
	}
	if s.history != nil {
		s.saveHistory(result, logger)
	}

	time.AfterFunc(s.opts.ResultTTL, func() {
		s.mu.Lock()
		delete(s.runs, run.id)
		s.mu.Unlock()
	})
}

// SubscribeProgress returns a channel of progress updates. It receives the
// current state first and is closed when the run finishes.
func (s *Service) SubscribeProgress(runID string) (<-chan RunProgress, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	return run.subscribe(), nil
}

// GetRunProgress returns the current progress without blocking.
func (s *Service) GetRunProgress(runID string) (RunProgress, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return RunProgress{}, err
	}
	return run.snapshot(), nil
}

// GetRunResult waits for the run to finish and returns its result.
func (s *Service) GetRunResult(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
		return run.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CancelRun cancels the context given to the backend calls of a run.
func (s *Service) CancelRun(runID string) error {
	run, err := s.lookup(runID)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Shutdown waits for running imports to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) lookup(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// failedRows keeps the outcomes of rows that were not imported.
func failedRows(outcomes []RowOutcome) []RowOutcome {
	out := make([]RowOutcome, 0)
	for _, o := range outcomes {
		if o.Status != importer.StatusDone {
			out = append(out, o)
		}
	}
	return out
}

// activeRun is the in-memory state of one run.
type activeRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	progress  RunProgress
	result    *RunResult
	listeners []chan RunProgress
	callback  ProgressCallback
}

func newActiveRun(id string, req ImportRequest, cancel context.CancelFunc) *activeRun {
	return &activeRun{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: RunProgress{
			RunID:    id,
			Profile:  req.Profile,
			FileName: req.FileName,
			Phase:    PhaseStarting,
		},
	}
}

func (r *activeRun) snapshot() RunProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// update applies fn and notifies listeners. Slow listeners miss updates.
func (r *activeRun) update(fn func(*RunProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(&r.progress)
	r.notify()
}

func (r *activeRun) notify() {
	for _, ch := range r.listeners {
		select {
		case ch <- r.progress:
		default:
		}
	}
	if r.callback != nil {
		r.callback(r.progress)
	}
}

func (r *activeRun) subscribe() <-chan RunProgress {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan RunProgress, 16)
	ch <- r.progress
	if r.result != nil {
		close(ch)
		return ch
	}
	r.listeners = append(r.listeners, ch)
	return ch
}

// complete records the result, sends the final progress and closes every
// listener.
func (r *activeRun) complete(result *RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result = result
	if result.Failed() {
		r.progress.Phase = PhaseFailed
		r.progress.Error = result.Error
	} else {
		r.progress.Phase = PhaseComplete
		r.progress.Committed = result.Summary.Rows.Done
	}
	r.notify()
	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
	close(r.done)
}
