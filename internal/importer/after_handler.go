package importer

import (
	"context"
	"fmt"
)

// AfterHandler is a SideHandler committed after the primary rows. Failures
// of its own run are captured into PhaseError instead of being returned.
// It owns the Additional handlers that depend on its entities.
type AfterHandler[M Entity, S SideEntity] struct {
	*SideHandler[M, S]
	additional []AdditionalStep[M]
}

func NewAfterHandler[M Entity, S SideEntity](cfg SideConfig[M, S]) (*AfterHandler[M, S], error) {
	side, err := NewSideHandler(cfg)
	if err != nil {
		return nil, err
	}
	return &AfterHandler[M, S]{SideHandler: side}, nil
}

// AddAdditional registers handlers run after this one.
func (h *AfterHandler[M, S]) AddAdditional(steps ...AdditionalStep[M]) {
	h.additional = append(h.additional, steps...)
}

// Additional returns the registered Additional handlers in order.
func (h *AfterHandler[M, S]) Additional() []AdditionalStep[M] { return h.additional }

func (h *AfterHandler[M, S]) DoCleanup() {
	h.SideHandler.DoCleanup()
	for _, a := range h.additional {
		a.DoCleanup()
	}
}

// DoImport commits the queued entities. It always returns nil; check Phase
// for the outcome.
func (h *AfterHandler[M, S]) DoImport(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", h.name, r)
		}
		if err != nil {
			h.logger.Error("after import failed", "error", err)
			h.setPhase(PhaseError)
			err = nil
		}
	}()
	return h.SideHandler.DoImport(ctx)
}
