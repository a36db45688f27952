package importer

import "errors"

var (
	// ErrMissingCreate is returned when a handler is built without a create function.
	ErrMissingCreate = errors.New("import: create function is required")

	// ErrMissingFind is returned when a resolution handler is built without a find function.
	ErrMissingFind = errors.New("import: find function is required")

	// ErrMissingNewModel is returned when a resolution handler cannot build pseudo-entities.
	ErrMissingNewModel = errors.New("import: new model function is required")

	// ErrMissingUpdate is returned when rows need updating and no update function is set.
	ErrMissingUpdate = errors.New("import: update function is required")

	// ErrMissingProperty is returned when a resolution handler has no target property.
	ErrMissingProperty = errors.New("import: property is required")

	// ErrResultMismatch is returned when a commit returns a different number of
	// results than records it was given.
	ErrResultMismatch = errors.New("import: commit result count does not match input")

	// ErrCircuitOpen marks records that were skipped because the circuit breaker
	// was open. It is only used for logging and metrics; skipped records carry no error.
	ErrCircuitOpen = errors.New("import: circuit breaker open")

	// ErrNameTooLong is returned for reference names longer than MaxNameLength.
	ErrNameTooLong = errors.New("import: reference name too long")
)
