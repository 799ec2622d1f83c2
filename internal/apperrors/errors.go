// Package apperrors defines the error taxonomy shared by the forecasting core
// and the surfaces (CLI, HTTP) that report failures to users.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Code string

const (
	CodeSchema              Code = "SCHEMA_ERROR"
	CodeInsufficientHistory Code = "INSUFFICIENT_HISTORY"
	CodeModelNotTrained     Code = "MODEL_NOT_TRAINED"
	CodeTraining            Code = "TRAINING_ERROR"
	CodeArtifactCorruption  Code = "ARTIFACT_CORRUPTION"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. They match any *Error carrying the same code.
var (
	ErrSchema              = &Error{Code: CodeSchema}
	ErrInsufficientHistory = &Error{Code: CodeInsufficientHistory}
	ErrModelNotTrained     = &Error{Code: CodeModelNotTrained}
	ErrTraining            = &Error{Code: CodeTraining}
	ErrArtifactCorruption  = &Error{Code: CodeArtifactCorruption}
)

// Error carries enough location detail (field, row, month) for a caller to
// build a user-facing message.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Row     int    `json:"row,omitempty"`
	Month   string `json:"month,omitempty"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var loc []string
	if e.Row > 0 {
		loc = append(loc, fmt.Sprintf("data row %d, comments and blank lines not counted", e.Row))
	}
	if e.Field != "" {
		loc = append(loc, fmt.Sprintf("field %q", e.Field))
	}
	if e.Month != "" {
		loc = append(loc, "month "+e.Month)
	}
	if len(loc) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(loc, ", "))
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code. A corrupted bundle is reported as not trained as well,
// since the remedy is the same.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return e.Code == CodeArtifactCorruption && t.Code == CodeModelNotTrained
}

func Schema(field string, row int, format string, args ...any) *Error {
	return &Error{
		Code:    CodeSchema,
		Message: fmt.Sprintf(format, args...),
		Field:   field,
		Row:     row,
	}
}

func InsufficientHistory(format string, args ...any) *Error {
	return &Error{Code: CodeInsufficientHistory, Message: fmt.Sprintf(format, args...)}
}

func ModelNotTrained(message string) *Error {
	return &Error{Code: CodeModelNotTrained, Message: message}
}

func Training(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeTraining, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func ArtifactCorruption(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeArtifactCorruption, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func StatusCode(err error) int {
	switch CodeOf(err) {
	case CodeSchema, CodeInsufficientHistory:
		return http.StatusBadRequest
	case CodeModelNotTrained, CodeArtifactCorruption:
		return http.StatusConflict
	case CodeTraining:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
