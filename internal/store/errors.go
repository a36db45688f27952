package store

import "errors"

// ErrNotFound is returned when an update matches no row.
var ErrNotFound = errors.New("store: record not found")
