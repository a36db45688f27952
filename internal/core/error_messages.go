// Error codes reference.
//
// Technical errors are mapped to user-friendly messages with a code users can
// quote to support. Sentinel errors are matched with errors.Is, PostgreSQL
// errors by SQLSTATE, and everything else by case-insensitive substring.
//
//	DB001-DB099     database constraints and connectivity
//	VAL001-VAL099   file content that does not fit the profile
//	FILE001-FILE099 upload and parse errors
//	RUN001-RUN099   run lifecycle (limits, unknown ids, timeouts)
//	IMP001-IMP099   import engine configuration and commit errors
//	RATE001         request throttling
//	ERR000          anything else; check the logs for the technical error
package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/rowimport/internal/importer"
	"github.com/JonMunkholm/rowimport/internal/rows"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgUniqueViolation = UserMessage{
		Message: "A record with this value already exists",
		Action:  "Check the file for values that are already stored",
		Code:    "DB001",
	}
	msgForeignKey = UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Ensure referenced records exist before importing",
		Code:    "DB002",
	}
	msgNotNull = UserMessage{
		Message: "A required value is missing",
		Action:  "Ensure all required columns have values",
		Code:    "DB003",
	}
	msgConnRefused = UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}
	msgConnReset = UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}
	msgTimeout = UserMessage{
		Message: "Operation timed out",
		Action:  "Try importing a smaller file or try again later",
		Code:    "DB006",
	}
	msgDeadlock = UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}
	msgCheckViolation = UserMessage{
		Message: "A value is outside the allowed range",
		Action:  "Review the values of the failed rows",
		Code:    "DB008",
	}

	msgMissingColumns = UserMessage{
		Message: "Required column is missing from the file",
		Action:  "Check that all required columns are present in your file",
		Code:    "VAL001",
	}
	msgNoHeader = UserMessage{
		Message: "The file has no header row",
		Action:  "Add a header row naming the columns",
		Code:    "VAL002",
	}
	msgTooManyRows = UserMessage{
		Message: "The file has too many rows",
		Action:  "Split the file into smaller files",
		Code:    "VAL003",
	}
	msgNameTooLong = UserMessage{
		Message: "A referenced name is too long",
		Action:  "Shorten names to at most 256 characters",
		Code:    "VAL004",
	}

	msgFileTooLarge = UserMessage{
		Message: "File exceeds maximum size limit",
		Action:  "Split the file into smaller files",
		Code:    "FILE001",
	}
	msgUnsupportedFormat = UserMessage{
		Message: "Unsupported file format",
		Action:  "Upload a .csv, .tsv, .txt or .xlsx file",
		Code:    "FILE002",
	}
	msgEmptyFile = UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a file with data rows",
		Code:    "FILE003",
	}
	msgInvalidCSV = UserMessage{
		Message: "File is not valid CSV",
		Action:  "Ensure quotes are balanced and the delimiter is consistent",
		Code:    "FILE004",
	}
	msgNoFile = UserMessage{
		Message: "No file was selected",
		Action:  "Please select a file to import",
		Code:    "FILE005",
	}

	msgTooManyRuns = UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "RUN001",
	}
	msgRunNotFound = UserMessage{
		Message: "Import run not found",
		Action:  "The run may have expired. Check the run history",
		Code:    "RUN002",
	}
	msgUnknownProfile = UserMessage{
		Message: "Unknown import profile",
		Action:  "List the available profiles and pick one of them",
		Code:    "RUN003",
	}
	msgCanceled = UserMessage{
		Message: "Import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "RUN004",
	}
	msgDeadline = UserMessage{
		Message: "Import timed out",
		Action:  "Try importing a smaller file",
		Code:    "RUN005",
	}
	msgNoHistory = UserMessage{
		Message: "Run history is not available",
		Action:  "Configure a database to keep run history",
		Code:    "RUN006",
	}

	msgMissingUpdate = UserMessage{
		Message: "The profile cannot update existing records",
		Action:  "Remove rows that match stored records",
		Code:    "IMP001",
	}
	msgResultMismatch = UserMessage{
		Message: "The backend returned an unexpected number of results",
		Action:  "Please try again or contact support",
		Code:    "IMP002",
	}
	msgCircuitOpen = UserMessage{
		Message: "Too many records failed, remaining records were skipped",
		Action:  "Fix the failed rows and import them again",
		Code:    "IMP003",
	}

	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}
)

// sentinels are matched with errors.Is, in order.
var sentinels = []struct {
	err error
	msg UserMessage
}{
	{rows.ErrMissingColumns, msgMissingColumns},
	{rows.ErrNoHeader, msgNoHeader},
	{rows.ErrTooManyRows, msgTooManyRows},
	{rows.ErrUnsupportedFormat, msgUnsupportedFormat},
	{importer.ErrNameTooLong, msgNameTooLong},
	{importer.ErrMissingUpdate, msgMissingUpdate},
	{importer.ErrResultMismatch, msgResultMismatch},
	{importer.ErrCircuitOpen, msgCircuitOpen},
	{ErrFileTooLarge, msgFileTooLarge},
	{ErrEmptyFile, msgEmptyFile},
	{ErrTooManyRuns, msgTooManyRuns},
	{ErrRunNotFound, msgRunNotFound},
	{ErrUnknownProfile, msgUnknownProfile},
	{ErrNoHistory, msgNoHistory},
	{context.Canceled, msgCanceled},
	{context.DeadlineExceeded, msgDeadline},
}

// sqlStates maps PostgreSQL error codes.
var sqlStates = map[string]UserMessage{
	"23505": msgUniqueViolation,
	"23503": msgForeignKey,
	"23502": msgNotNull,
	"23514": msgCheckViolation,
	"40P01": msgDeadlock,
	"57014": msgTimeout, // query_canceled by statement_timeout
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is the fallback for errors that only carry text. The first
// match wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	{"duplicate key", msgUniqueViolation},
	{"violates unique", msgUniqueViolation},
	{"violates foreign key", msgForeignKey},
	{"violates not-null", msgNotNull},
	{"connection refused", msgConnRefused},
	{"connection reset", msgConnReset},
	{"deadlock", msgDeadlock},
	{"timeout", msgTimeout},
	{"no file provided", msgNoFile},
	{"rate limit", msgRateLimited},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("prepare: %w", rows.ErrMissingColumns))
//	// msg.Code == "VAL001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStates[pgErr.Code]; ok {
			return msg
		}
	}

	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		return msgInvalidCSV
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
