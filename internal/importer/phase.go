package importer

import "fmt"

// StepPhase is the lifecycle state of one handler.
type StepPhase int

const (
	PhaseEnqueued StepPhase = iota
	PhasePending
	PhaseFinished
	PhaseError
)

func (p StepPhase) String() string {
	switch p {
	case PhaseEnqueued:
		return "ENQUEUED"
	case PhasePending:
		return "PENDING"
	case PhaseFinished:
		return "FINISHED"
	case PhaseError:
		return "ERROR"
	default:
		return fmt.Sprintf("StepPhase(%d)", int(p))
	}
}

// Done reports whether the phase is terminal.
func (p StepPhase) Done() bool {
	return p == PhaseFinished || p == PhaseError
}

// MarshalText encodes the phase by name.
func (p StepPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Label renders a handler's human-facing name.
// It is either a Literal string or a Derived function of phase and plurality.
type Label interface {
	Text(phase StepPhase, plural bool) string
}

// Literal is a fixed label.
type Literal string

func (l Literal) Text(StepPhase, bool) string { return string(l) }

// Derived computes a label from the current phase.
type Derived func(phase StepPhase, plural bool) string

func (d Derived) Text(phase StepPhase, plural bool) string {
	if d == nil {
		return ""
	}
	return d(phase, plural)
}

// describe renders the default description of a step: its plural label
// followed by what the phase means for it.
func describe(label Label, phase StepPhase) string {
	name := label.Text(phase, true)
	switch phase {
	case PhaseEnqueued:
		return name + ": waiting"
	case PhasePending:
		return name + ": importing"
	case PhaseFinished:
		return name + ": done"
	case PhaseError:
		return name + ": failed"
	default:
		return name
	}
}
