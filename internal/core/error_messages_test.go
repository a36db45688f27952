package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/rowimport/internal/importer"
	"github.com/JonMunkholm/rowimport/internal/rows"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"wrapped missing columns", fmt.Errorf("prepare: %w", rows.ErrMissingColumns), "VAL001"},
		{"no header", rows.ErrNoHeader, "VAL002"},
		{"name too long", fmt.Errorf("Tag: %w", importer.ErrNameTooLong), "VAL004"},
		{"unsupported format", fmt.Errorf("%w: %q", rows.ErrUnsupportedFormat, ".pdf"), "FILE002"},
		{"csv parse error", fmt.Errorf("read csv: %w", &csv.ParseError{Line: 3, Err: csv.ErrQuote}), "FILE004"},
		{"limiter full", ErrTooManyRuns, "RUN001"},
		{"unknown run", fmt.Errorf("%w: abc", ErrRunNotFound), "RUN002"},
		{"canceled", fmt.Errorf("insert: %w", context.Canceled), "RUN004"},
		{"missing update", fmt.Errorf("contacts: %w", importer.ErrMissingUpdate), "IMP001"},
		{"unique violation by sqlstate", fmt.Errorf("record 2: %w", &pgconn.PgError{Code: "23505"}), "DB001"},
		{"foreign key by sqlstate", &pgconn.PgError{Code: "23503"}, "DB002"},
		{"deadlock by sqlstate", &pgconn.PgError{Code: "40P01"}, "DB007"},
		{"unique violation by text", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB004"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrEmptyFile)

	expected := "The uploaded file is empty (Code: FILE003). Please upload a file with data rows"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrUnknownProfile, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("start: %w", ErrTooManyRuns)
		userErr := NewUserError(techErr)

		if userErr.Error() != "System is busy processing other imports" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrTooManyRuns) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}
