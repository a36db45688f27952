package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/rowimport/internal/importer"
	"github.com/JonMunkholm/rowimport/internal/rows"
	"github.com/JonMunkholm/rowimport/internal/store"
)

// fakePlan imports every record whose name is not "fail".
type fakePlan struct {
	table     *rows.Table
	observers []func(importer.Event)
	runErr    error
	panicRun  bool
	block     chan struct{}
	ran       bool
	cleaned   bool
}

func (p *fakePlan) Load(context.Context) error { return nil }

func (p *fakePlan) Prepare(t *rows.Table) error {
	if err := t.Require("name"); err != nil {
		return err
	}
	p.table = t
	return nil
}

func (p *fakePlan) Run(context.Context) error {
	if p.block != nil {
		<-p.block
	}
	if p.panicRun {
		panic("boom")
	}
	p.ran = true
	for _, fn := range p.observers {
		fn(importer.Event{Step: "items", Phase: importer.PhasePending, Chunk: -1})
		fn(importer.Event{Step: "items", Chunk: 0, Records: len(p.table.Records), Failed: p.failures()})
	}
	return p.runErr
}

func (p *fakePlan) Observe(fn func(importer.Event)) { p.observers = append(p.observers, fn) }

func (p *fakePlan) failures() int {
	n := 0
	for _, rec := range p.table.Records {
		if p.table.Cell(rec, "name") == "fail" {
			n++
		}
	}
	return n
}

func (p *fakePlan) Summary() importer.Summary {
	if p.table == nil {
		return importer.Summary{}
	}
	total, failed := len(p.table.Records), p.failures()
	counts := importer.RowCounts{Total: total, New: total}
	if p.ran {
		counts = importer.RowCounts{Total: total, Done: total - failed, Error: failed}
	}
	return importer.Summary{
		Steps: []importer.StepSummary{{Name: "items", ToCreate: total}},
		Rows:  counts,
	}
}

func (p *fakePlan) Outcomes() []RowOutcome {
	if p.table == nil {
		return nil
	}
	out := make([]RowOutcome, 0, len(p.table.Records))
	for _, rec := range p.table.Records {
		o := RowOutcome{Line: rec.Line, Key: p.table.Cell(rec, "name"), Status: importer.StatusNew}
		if o.Key == "fail" {
			o.Status = importer.StatusError
			o.Errors = []string{"rejected"}
		} else if p.ran {
			o.Status = importer.StatusDone
		}
		out = append(out, o)
	}
	return out
}

func (p *fakePlan) Cleanup() { p.cleaned = true }

// registerFake registers a profile building plan and removes it when the
// test ends.
func registerFake(t *testing.T, plan *fakePlan) string {
	t.Helper()
	key := "fake_" + t.Name()
	Register(ProfileDefinition{
		Info:  ProfileInfo{Key: key, Label: "Fake", Required: []string{"name"}},
		Build: func(Deps) (Plan, error) { return plan, nil },
	})
	t.Cleanup(func() { unregister(key) })
	return key
}

type fakeHistory struct {
	mu   sync.Mutex
	runs []store.RunRecord
}

func (h *fakeHistory) SaveRun(_ context.Context, r store.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, r)
	return nil
}

func (h *fakeHistory) ListRuns(_ context.Context, limit int) ([]store.RunRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, nil
}

func (h *fakeHistory) saved() []store.RunRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]store.RunRecord(nil), h.runs...)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []importer.Event
	runs   []*RunResult
}

func (o *recordingObserver) ObserveEvent(_ string, e importer.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) ObserveRun(r *RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, r)
}

const items = "name\nalpha\nfail\nbeta\n"

func newTestService(opts Options) (*Service, *fakeHistory) {
	s := NewService(nil, opts, nil)
	h := &fakeHistory{}
	s.SetHistory(h)
	return s, h
}

func waitResult(t *testing.T, s *Service, id string) *RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := s.GetRunResult(ctx, id)
	require.NoError(t, err)
	return res
}

func TestService_StartImport(t *testing.T) {
	plan := &fakePlan{}
	key := registerFake(t, plan)
	s, history := newTestService(Options{})
	obs := &recordingObserver{}
	s.SetObserver(obs)

	id, err := s.StartImport(context.Background(), ImportRequest{Profile: key, FileName: "items.csv", Data: []byte(items)})
	require.NoError(t, err)

	res := waitResult(t, s, id)
	assert.False(t, res.Failed())
	assert.Equal(t, "complete", res.Status())
	assert.Equal(t, 2, res.Summary.Rows.Done)
	require.Len(t, res.FailedRows, 1)
	assert.Equal(t, 3, res.FailedRows[0].Line)
	assert.Equal(t, []string{"rejected"}, res.FailedRows[0].Errors)
	assert.True(t, plan.cleaned)

	progress, err := s.GetRunProgress(id)
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, progress.Phase)
	assert.Equal(t, 3, progress.TotalRows)
	assert.Equal(t, 1, progress.Failed)
	assert.Equal(t, 66, progress.Percent())

	require.Eventually(t, func() bool { return len(history.saved()) == 1 }, time.Second, 10*time.Millisecond)
	saved := history.saved()[0]
	assert.Equal(t, id, saved.ID.String())
	assert.Equal(t, "complete", saved.Status)
	assert.Equal(t, 3, saved.TotalRows)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.events, 2)
	assert.Len(t, obs.runs, 1)
}

func TestService_RejectsRequests(t *testing.T) {
	key := registerFake(t, &fakePlan{})
	s, _ := newTestService(Options{MaxFileSize: 10})
	ctx := context.Background()

	_, err := s.StartImport(ctx, ImportRequest{Profile: "missing", Data: []byte(items)})
	assert.ErrorIs(t, err, ErrUnknownProfile)

	_, err = s.StartImport(ctx, ImportRequest{Profile: key, FileName: "items.csv"})
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = s.StartImport(ctx, ImportRequest{Profile: key, FileName: "items.csv", Data: []byte(items)})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = s.GetRunProgress("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestService_FailedRun(t *testing.T) {
	key := registerFake(t, &fakePlan{})
	s, history := newTestService(Options{})

	id, err := s.StartImport(context.Background(), ImportRequest{Profile: key, FileName: "items.csv", Data: []byte("title\nx\n")})
	require.NoError(t, err)

	res := waitResult(t, s, id)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "required columns missing")

	progress, err := s.GetRunProgress(id)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, progress.Phase)
	assert.NotEmpty(t, progress.Error)

	require.Eventually(t, func() bool { return len(history.saved()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "failed", history.saved()[0].Status)
}

func TestService_RunErrorKeepsOutcomes(t *testing.T) {
	key := registerFake(t, &fakePlan{runErr: errors.New("contacts: backend down")})
	s, _ := newTestService(Options{})

	id, err := s.StartImport(context.Background(), ImportRequest{Profile: key, FileName: "items.csv", Data: []byte(items)})
	require.NoError(t, err)

	res := waitResult(t, s, id)
	assert.Equal(t, "contacts: backend down", res.Error)
	assert.Equal(t, 3, res.Summary.Rows.Total)
}

func TestService_RecoversPanic(t *testing.T) {
	key := registerFake(t, &fakePlan{panicRun: true})
	s, _ := newTestService(Options{})

	id, err := s.StartImport(context.Background(), ImportRequest{Profile: key, FileName: "items.csv", Data: []byte(items)})
	require.NoError(t, err)

	res := waitResult(t, s, id)
	assert.Equal(t, "internal error: boom", res.Error)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx), "the run slot is released")
}

func TestService_SubscribeProgress(t *testing.T) {
	plan := &fakePlan{block: make(chan struct{})}
	key := registerFake(t, plan)
	s, _ := newTestService(Options{})

	id, err := s.StartImport(context.Background(), ImportRequest{Profile: key, FileName: "items.csv", Data: []byte(items)})
	require.NoError(t, err)

	ch, err := s.SubscribeProgress(id)
	require.NoError(t, err)
	first := <-ch
	assert.Equal(t, id, first.RunID)

	close(plan.block)

	var last RunProgress
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case p, ok := <-ch:
			if !ok {
				done = true
				break
			}
			last = p
		case <-timeout:
			t.Fatal("progress channel not closed")
		}
	}
	assert.Equal(t, PhaseComplete, last.Phase)

	late, err := s.SubscribeProgress(id)
	require.NoError(t, err)
	p, ok := <-late
	assert.True(t, ok)
	assert.Equal(t, PhaseComplete, p.Phase)
	_, ok = <-late
	assert.False(t, ok, "subscribing to a finished run returns a closed channel")
}

func TestService_TooManyRuns(t *testing.T) {
	plan := &fakePlan{block: make(chan struct{})}
	key := registerFake(t, plan)
	s, _ := newTestService(Options{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
	req := ImportRequest{Profile: key, FileName: "items.csv", Data: []byte(items)}

	id, err := s.StartImport(context.Background(), req)
	require.NoError(t, err)

	_, err = s.StartImport(context.Background(), req)
	assert.ErrorIs(t, err, ErrTooManyRuns)

	close(plan.block)
	waitResult(t, s, id)
}

func TestService_ResultExpires(t *testing.T) {
	key := registerFake(t, &fakePlan{})
	s, _ := newTestService(Options{ResultTTL: 10 * time.Millisecond})

	id, err := s.StartImport(context.Background(), ImportRequest{Profile: key, FileName: "items.csv", Data: []byte(items)})
	require.NoError(t, err)
	waitResult(t, s, id)

	require.Eventually(t, func() bool {
		_, err := s.GetRunProgress(id)
		return errors.Is(err, ErrRunNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestService_RunSync(t *testing.T) {
	key := registerFake(t, &fakePlan{})
	s, _ := newTestService(Options{})

	var phases []RunPhase
	res, err := s.RunSync(context.Background(), ImportRequest{Profile: key, FileName: "items.csv", Data: []byte(items)}, func(p RunProgress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	})
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Equal(t, []RunPhase{PhaseReading, PhasePreparing, PhaseImporting, PhaseComplete}, phases)

	_, err = s.GetRunProgress(res.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound, "synchronous runs are not tracked")
}

func TestService_Preview(t *testing.T) {
	plan := &fakePlan{}
	key := registerFake(t, plan)
	s, _ := newTestService(Options{})

	res, err := s.Preview(context.Background(), ImportRequest{Profile: key, FileName: "items.csv", Data: []byte(items)})
	require.NoError(t, err)

	assert.False(t, plan.ran)
	assert.True(t, plan.cleaned)
	assert.Equal(t, 3, res.Rows.Total)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 3, res.Steps[0].ToCreate)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, "fail", res.Invalid[0].Key)
}

func TestService_History(t *testing.T) {
	s := NewService(nil, Options{}, nil)
	_, err := s.History(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestRunProgress_Percent(t *testing.T) {
	assert.Equal(t, 0, RunProgress{}.Percent())
	assert.Equal(t, 100, RunProgress{Phase: PhaseComplete}.Percent())
	assert.Equal(t, 50, RunProgress{TotalRows: 4, Committed: 2}.Percent())
	assert.Equal(t, 100, RunProgress{TotalRows: 4, Committed: 9}.Percent())
}
