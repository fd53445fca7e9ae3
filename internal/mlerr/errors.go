// Package mlerr implements the typed error taxonomy of spec.md §7,
// grounded on pkg/llm/errors.go's LLMError base-embedding pattern and
// pkg/pipeline/validator.go's LintError accumulation style.
package mlerr

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mlld-lang/mlld/internal/ast"
)

// Severity classifies how an error should propagate (spec.md §7).
type Severity string

const (
	SeverityFatal      Severity = "fatal"
	SeverityRecoverable Severity = "recoverable"
	SeverityInfo       Severity = "info"
)

// Base is embedded by every concrete error kind below.
type Base struct {
	Sev      Severity
	Code     string
	Loc      *ast.SourceLocation
	Cause    error
}

func (e *Base) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return e.Code
}
func (e *Base) Unwrap() error { return e.Cause }

// ParseError — grammar failure.
type ParseError struct {
	Base
	Message  string
	Expected []string
	SourceLine string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ParseError: %s", e.Message)
}
func (e *ParseError) Unwrap() error { return e.Cause }

// ResolutionError — undefined variable, bad field access, path rule violation.
type ResolutionError struct {
	Base
	Message string
}

func (e *ResolutionError) Error() string { return fmt.Sprintf("ResolutionError: %s", e.Message) }
func (e *ResolutionError) Unwrap() error { return e.Cause }

// PathValidationError — empty, null byte, outside base dir, dot segments, not
// found, wrong type.
type PathValidationError struct {
	Base
	Path    string
	Reason  string
}

func (e *PathValidationError) Error() string {
	return fmt.Sprintf("PathValidationError: %s (%s)", e.Reason, e.Path)
}
func (e *PathValidationError) Unwrap() error { return e.Cause }

// ImportErrorCode enumerates ImportError.Code values.
type ImportErrorCode string

const (
	ImportCodeCircular     ImportErrorCode = "CIRCULAR_IMPORT"
	ImportCodeNotFound     ImportErrorCode = "MODULE_NOT_FOUND"
	ImportCodeHashMismatch ImportErrorCode = "HASH_MISMATCH"
	ImportCodeExportMissing ImportErrorCode = "EXPORT_MISSING"
)

// ImportError — cycle, not found, hash mismatch, export missing.
type ImportError struct {
	Base
	Code ImportErrorCode
	Path string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("ImportError[%s]: %s", e.Code, e.Path)
}
func (e *ImportError) Unwrap() error { return e.Cause }

// DirectiveError — validation (missing slot), resolution, execution failure.
type DirectiveError struct {
	Base
	DirectiveKind ast.DirectiveKind
	Subtype       string
	Message       string
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("DirectiveError[%s/%s]: %s", e.DirectiveKind, e.Subtype, e.Message)
}
func (e *DirectiveError) Unwrap() error { return e.Cause }

// ExecutionError — shell non-zero exit, host-language throw, timeout.
type ExecutionError struct {
	Base
	Command          string
	ExitCode         int
	Stderr           string
	WorkingDirectory string
	Duration         time.Duration
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("ExecutionError: command %q exited %d: %s", e.Command, e.ExitCode, e.Stderr)
}
func (e *ExecutionError) Unwrap() error { return e.Cause }

// ExecutionOverflow is raised when an /exe invocation's recursion depth
// exceeds the configured limit (spec.md §4.6; renamed from the teacher's
// agent-loop MaxTurnsError, same "bounded iterative call" shape).
type ExecutionOverflow struct {
	Base
	Limit int
}

func (e *ExecutionOverflow) Error() string {
	return fmt.Sprintf("ExecutionOverflow: recursion depth exceeded limit %d", e.Limit)
}
func (e *ExecutionOverflow) Unwrap() error { return e.Cause }

// PipelineErrorKind enumerates the three PipelineError shapes.
type PipelineErrorKind string

const (
	PipelineRetryExhausted PipelineErrorKind = "PipelineRetryExhausted"
	PipelineTimeoutKind    PipelineErrorKind = "PipelineTimeout"
	PipelineStageThrow     PipelineErrorKind = "PipelineStageThrow"
)

// PipelineError — stage failure.
type PipelineError struct {
	Base
	ErrKind    PipelineErrorKind
	StageIndex int
	StageName  string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: stage %d (%s)", e.ErrKind, e.StageIndex, e.StageName)
}
func (e *PipelineError) Unwrap() error { return e.Cause }

// SecurityError — policy denial, untrusted import, capability violation.
type SecurityError struct {
	Base
	Message string
}

func (e *SecurityError) Error() string { return fmt.Sprintf("SecurityError: %s", e.Message) }
func (e *SecurityError) Unwrap() error { return e.Cause }

// BailError — /bail directive; exit code 2.
type BailError struct {
	Base
	Message string
}

func (e *BailError) Error() string { return fmt.Sprintf("bail: %s", e.Message) }
func (e *BailError) Unwrap() error { return e.Cause }

// Cancelled — host requested cancellation; exit code 3.
type Cancelled struct {
	Base
}

func (e *Cancelled) Error() string { return "cancelled" }
func (e *Cancelled) Unwrap() error { return e.Cause }

// Retryable reports whether err is a transient failure eligible for
// internal/mlerr.WithRetry — generalized directly from
// pkg/llm/errors.go's Retryable, extended to PipelineError's
// PipelineStageThrow kind (a stage handler's own transient failure, not
// just an LLM provider's).
func Retryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) && pe.ErrKind == PipelineStageThrow {
		return true
	}
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// WithRetry retries fn up to maxAttempts using exponential backoff with
// jitter, grounded 1:1 on pkg/llm/errors.go's WithRetry.
func WithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for i := range maxAttempts {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if i == maxAttempts-1 {
			break
		}
		base := time.Duration(1<<uint(i)) * time.Second
		if base > 30*time.Second {
			base = 30 * time.Second
		}
		jitter := time.Duration(rand.Float64() * 0.5 * float64(base))
		wait := base/4*3 + jitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", maxAttempts, lastErr)
}
