package core

import "errors"

var (
	ErrUnknownProfile = errors.New("unknown profile")
	ErrRunNotFound    = errors.New("run not found")
	ErrFileTooLarge   = errors.New("file too large")
	ErrEmptyFile      = errors.New("empty file")
	ErrNoHistory      = errors.New("run history is not configured")
)
