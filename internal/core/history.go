package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rowimport/internal/store"
)

// HistorySaveTimeout bounds the write of a finished run. The run's own
// context may already be done when it is saved.
var HistorySaveTimeout = 5 * time.Second

// History returns the most recent finished runs.
func (s *Service) History(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	return s.history.ListRuns(ctx, limit)
}

// SetHistory replaces the run store.
func (s *Service) SetHistory(h RunStore) { s.history = h }

func (s *Service) saveHistory(result *RunResult, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), HistorySaveTimeout)
	defer cancel()

	if err := s.history.SaveRun(ctx, runRecord(result)); err != nil {
		logger.Error("failed to save run history", "error", err)
	}
}

func runRecord(r *RunResult) store.RunRecord {
	id, err := uuid.Parse(r.RunID)
	if err != nil {
		id = uuid.New()
	}
	counts := r.Summary.Rows
	return store.RunRecord{
		ID:            id,
		Profile:       r.Profile,
		FileName:      r.FileName,
		Status:        r.Status(),
		TotalRows:     counts.Total,
		DoneRows:      counts.Done,
		ErrorRows:     counts.Error,
		DuplicateRows: counts.Duplicates,
		Error:         r.Error,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.StartedAt.Add(r.Duration),
	}
}
