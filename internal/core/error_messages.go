package core

// # Error Codes Reference
//
// error_messages.go defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Typed errors are recognised first with errors.As / errors.Is; everything
// else falls through to case-insensitive pattern matching on the message.
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - Unknown association: the template names an association the entity lacks
//	         Action: Check association names in the template
//	TPL002 - Missing default template: a nested null inherits a template that does not exist
//	         Action: Register a template for the inherited entity
//	TPL003 - Duplicate column: two template entries resolve to the same column
//	         Action: Remove the repeated column from the template
//	TPL004 - Unknown entity: the entity is not in the schema
//	         Action: Verify the entity name is correct
//	TPL005 - Template cycle: default templates inherit each other through associations
//	         Action: Replace one of the nested nulls with explicit columns
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - No unique column: no declared unique column is in the header
//	         Action: Add a unique column or star one with "*"
//	IMP002 - Too few matching columns: most headers do not match the template
//	         Action: Export a blank file to see the expected headers
//	IMP003 - Invalid row: a row failed validation
//	         Action: Review the reported rows and fields
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key"
//	DB002 - Unique constraint      Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key            Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused     Patterns: "connection refused"
//	DB005 - Connection reset       Patterns: "connection reset"
//	DB006 - Timeout                Patterns: "timeout"
//	DB007 - Deadlock / busy        Patterns: "deadlock", "database is locked"
//	DB008 - Record not found       store.ErrNotFound
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large       Patterns: "file too large"
//	FILE002 - Invalid CSV          Patterns: "invalid csv", "parse error on line"
//	FILE003 - Encoding error       Patterns: "encoding error"
//	FILE004 - No file              Patterns: "no file provided"
//	FILE005 - Empty file           ErrEmptySource, Patterns: "empty file"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - System busy           ErrTooManyImports
//	UPL003 - Rate limited          returned by the HTTP rate limiter
//	UPL004 - Request cancelled     context.Canceled
//	UPL005 - Request timeout       context.DeadlineExceeded
//
// # Request Errors (REQ001, AUTH001-AUTH002)
//
// Set directly by the HTTP layer: REQ001 for a malformed query parameter,
// AUTH001 for a missing API key and AUTH002 for an unknown one.
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check application
// logs for the original technical error when users report ERR000.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/entity"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// typedError maps an error type or sentinel to its user message.
type typedError struct {
	match func(error) bool
	msg   UserMessage
}

func as[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// typedErrors is checked before the message patterns.
var typedErrors = []typedError{
	{
		match: as[*UnknownAssociationError],
		msg:   UserMessage{Message: "The template names an unknown association", Action: "Check association names in the template", Code: "TPL001"},
	},
	{
		match: as[*MissingDefaultTemplateError],
		msg:   UserMessage{Message: "A nested template inherits a template that does not exist", Action: "Register a template for the inherited entity", Code: "TPL002"},
	},
	{
		match: as[*DuplicateColumnError],
		msg:   UserMessage{Message: "The template lists a column twice", Action: "Remove the repeated column from the template", Code: "TPL003"},
	},
	{
		match: as[*UnknownEntityError],
		msg:   UserMessage{Message: "Unknown entity", Action: "Verify the entity name is correct", Code: "TPL004"},
	},
	{
		match: as[*TemplateCycleError],
		msg:   UserMessage{Message: "Default templates inherit each other in a loop", Action: "Replace one of the nested nulls with explicit columns", Code: "TPL005"},
	},
	{
		match: as[*NoUniqueColumnError],
		msg:   UserMessage{Message: "No unique column found in the file", Action: "Add a unique column or mark one with \"*\"", Code: "IMP001"},
	},
	{
		match: as[*TooFewMatchingColumnsError],
		msg:   UserMessage{Message: "Most columns do not match the template", Action: "Export a blank file to see the expected headers", Code: "IMP002"},
	},
	{
		match: as[*entity.ValidationError],
		msg:   UserMessage{Message: "A row failed validation", Action: "Review the reported rows and fields", Code: "IMP003"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrEmptySource) },
		msg:   UserMessage{Message: "The uploaded file is empty", Action: "Please upload a CSV file with a header row", Code: "FILE005"},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrTooManyImports) },
		msg:   UserMessage{Message: "System is busy processing other imports", Action: "Please wait a moment and try again", Code: "UPL002"},
	},
	{
		match: func(err error) bool { return errors.Is(err, store.ErrDuplicate) },
		msg:   UserMessage{Message: "A record with this key already exists", Action: "Check for duplicate entries in your file", Code: "DB001"},
	},
	{
		match: func(err error) bool { return errors.Is(err, store.ErrNotFound) },
		msg:   UserMessage{Message: "Record not found", Action: "Verify the record still exists", Code: "DB008"},
	},
	{
		match: func(err error) bool { return errors.Is(err, context.Canceled) },
		msg:   UserMessage{Message: "Request was cancelled", Action: "Please try again", Code: "UPL004"},
	},
	{
		match: func(err error) bool { return errors.Is(err, context.DeadlineExceeded) },
		msg:   UserMessage{Message: "Request timed out", Action: "Try a smaller file or check your connection", Code: "UPL005"},
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Import parent records first",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Import parent records first",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE005)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with balanced quotes",
			Code:    "FILE002",
		},
	},
	{
		pattern: "parse error on line",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with balanced quotes",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a CSV file with a header row",
			Code:    "FILE005",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Typed errors win; then the first message pattern that matches; then
// the ERR000 fallback.
//
// Example:
//
//	_, err := importer.Import(ctx, et, tmpl, rows)
//	msg := MapError(err)
//	// msg.Code == "IMP001" for a header without a unique column
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, te := range typedErrors {
		if te.match(err) {
			return te.msg
		}
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

// IsUserFacing reports whether an error maps to a specific message rather
// than the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging.
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

// NewUserError maps a technical error to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
