package core

import (
	"bytes"
	"context"
	"fmt"

	"github.com/JonMunkholm/rowimport/internal/rows"
)

// Preview parses and prepares req without committing anything. The result
// shows how many entities each step would create and which rows already
// carry errors.
func (s *Service) Preview(ctx context.Context, req ImportRequest) (*PreviewResult, error) {
	def, err := s.check(req)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("profile", def.Info.Key, "preview", true)

	table, err := rows.Read(req.FileName, bytes.NewReader(req.Data), rows.Options{MaxRows: s.opts.MaxRows})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.FileName, err)
	}

	plan, err := def.Build(s.deps(logger, req.Options))
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}
	defer plan.Cleanup()

	if err := plan.Load(ctx); err != nil {
		return nil, fmt.Errorf("load lookups: %w", err)
	}
	if err := plan.Prepare(table); err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	summary := plan.Summary()
	result := &PreviewResult{
		Profile:  def.Info.Key,
		FileName: req.FileName,
		Steps:    summary.Steps,
		Rows:     summary.Rows,
		Invalid:  make([]RowOutcome, 0),
	}
	for _, o := range plan.Outcomes() {
		if len(o.Errors) > 0 {
			result.Invalid = append(result.Invalid, o)
		}
	}
	return result, nil
}
