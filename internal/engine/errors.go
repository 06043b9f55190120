package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/pagegraph/internal/ir"
	"github.com/roach88/pagegraph/internal/runner"
)

// RuntimeError represents a failure attributed to one query or component.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// QueryID identifies the affected query. Empty for extraction errors.
	QueryID string

	// ComponentPath identifies the template the query belongs to.
	ComponentPath string

	// Errors are the structured query errors behind this failure.
	Errors []ir.QueryError

	// Err is the underlying error, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeExtractionFailed indicates the template source could not be read as a query.
	ErrCodeExtractionFailed RuntimeErrorCode = "EXTRACTION_FAILED"

	// ErrCodeValidationFailed indicates the query text is invalid.
	ErrCodeValidationFailed RuntimeErrorCode = "VALIDATION_FAILED"

	// ErrCodeExecutionFailed indicates execution failed or returned errors.
	ErrCodeExecutionFailed RuntimeErrorCode = "EXECUTION_FAILED"

	// ErrCodeChunkFailed indicates a shared chunk could not be resolved.
	ErrCodeChunkFailed RuntimeErrorCode = "CHUNK_FAILED"

	// ErrCodePersistFailed indicates the result could not be written.
	ErrCodePersistFailed RuntimeErrorCode = "PERSIST_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	subject := e.QueryID
	if subject == "" {
		subject = e.ComponentPath
	}
	if subject != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, subject)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsExtractionError returns true if the error is a source-level extraction failure.
func IsExtractionError(err error) bool {
	return hasCode(err, ErrCodeExtractionFailed)
}

// IsValidationError returns true if the error is an invalid query.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidationFailed)
}

// IsExecutionError returns true if the error is an execution failure.
func IsExecutionError(err error) bool {
	return hasCode(err, ErrCodeExecutionFailed)
}

// IsChunkError returns true if the error is a shared chunk failure.
func IsChunkError(err error) bool {
	return hasCode(err, ErrCodeChunkFailed)
}

// IsPersistError returns true if the error is a write failure.
func IsPersistError(err error) bool {
	return hasCode(err, ErrCodePersistFailed)
}

// outcomeError converts a failed runner outcome into a RuntimeError.
func outcomeError(out runner.Outcome) *RuntimeError {
	code := ErrCodeExecutionFailed
	switch out.Failure {
	case runner.FailureChunk:
		code = ErrCodeChunkFailed
	case runner.FailurePersist:
		code = ErrCodePersistFailed
	case runner.FailureValidation:
		code = ErrCodeValidationFailed
	}
	msg := "query failed"
	if out.Err != nil {
		msg = out.Err.Error()
	}
	return &RuntimeError{
		Code:          code,
		Message:       msg,
		QueryID:       out.ID,
		ComponentPath: out.ComponentPath,
		Errors:        out.Result.Errors,
		Err:           out.Err,
	}
}

// BuildError aggregates every failure of a build-mode batch. It is returned
// only after the whole batch has drained.
type BuildError struct {
	Errors []*RuntimeError
}

// Error renders every failure with file, location and codeframe.
func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d quer", len(e.Errors))
	if len(e.Errors) == 1 {
		b.WriteString("y failed")
	} else {
		b.WriteString("ies failed")
	}

	for _, re := range e.Errors {
		b.WriteString("\n\n")
		b.WriteString(re.Error())
		for _, qe := range re.Errors {
			b.WriteString("\n  ")
			if qe.File != "" {
				b.WriteString(qe.File)
				if len(qe.Locations) > 0 {
					fmt.Fprintf(&b, ":%d:%d", qe.Locations[0].Line, qe.Locations[0].Column)
				}
				b.WriteString(": ")
			}
			b.WriteString(qe.Message)
			if qe.Codeframe != "" {
				b.WriteString("\n")
				for _, line := range strings.Split(qe.Codeframe, "\n") {
					b.WriteString("\n    ")
					b.WriteString(line)
				}
			}
		}
	}
	return b.String()
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *BuildError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, re := range e.Errors {
		out[i] = re
	}
	return out
}
