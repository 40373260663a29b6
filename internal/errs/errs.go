// Package errs defines the structured error kinds from spec.md §7. Each
// carries a cause chain via Unwrap so callers can use errors.As/errors.Is
// instead of matching on message text, grounded on internal/errors'
// StandardError (Category/Code/Context/Caller) from the teacher, adapted
// from a single flat category to the five families the spec names.
package errs

import (
	"fmt"
)

// Family groups an error under one of the five propagation policies in
// spec.md §7.
type Family string

const (
	FamilyResolve   Family = "resolve"
	FamilyFetch     Family = "fetch"
	FamilyPlan      Family = "plan"
	FamilyExecution Family = "execution"
	FamilyPackage   Family = "package"
)

// Code names one specific error kind within a Family.
type Code string

const (
	NoMatchingVersion       Code = "NoMatchingVersion"
	ConflictingRequirements Code = "ConflictingRequirements"
	LinksCollision          Code = "LinksCollision"
	Cycle                   Code = "Cycle"
	UnusedPatch             Code = "UnusedPatch"

	NetworkFailure   Code = "NetworkFailure"
	ChecksumMismatch Code = "ChecksumMismatch"
	NotFound         Code = "NotFound"
	Unauthorized     Code = "Unauthorized"

	DuplicateTarget   Code = "DuplicateTarget"
	NonExistentFeature Code = "NonExistentFeature"
	FeatureCycle      Code = "FeatureCycle"

	CompilerFailed Code = "CompilerFailed"
	SpawnFailed    Code = "SpawnFailed"
	JobServerLost  Code = "JobServerLost"

	DirtyVcs             Code = "DirtyVcs"
	InvalidPath          Code = "InvalidPath"
	MissingRequiredFile  Code = "MissingRequiredFile"
	ArchiveTooLarge      Code = "ArchiveTooLarge"
	CustomBuildOutsideRoot Code = "CustomBuildOutsideRoot"
)

// Retryable codes, per spec.md §4.1 / §7: network errors get exponential
// backoff, checksum mismatches never do.
func (c Code) Retryable() bool {
	return c == NetworkFailure
}

// Fatal reports whether this code always aborts the owning command, as
// opposed to being collected as a warning (UnusedPatch, FeatureCycle,
// ArchiveTooLarge are warning-only per spec.md §7).
func (c Code) Fatal() bool {
	switch c {
	case UnusedPatch, FeatureCycle, ArchiveTooLarge:
		return false
	default:
		return true
	}
}

// Error is the structured error type threaded through every component.
// AlreadyPrinted marks an error whose diagnostics a worker already
// rendered, so the job queue coordinator does not redisplay it (spec.md
// §7's "AlreadyPrintedError marker").
type Error struct {
	Family         Family
	Code           Code
	Message        string
	Context        map[string]any
	AlreadyPrinted bool
	cause          error
}

func New(family Family, code Code, message string, context map[string]any) *Error {
	return &Error{Family: family, Code: code, Message: message, Context: context}
}

// Wrap attaches a cause, preserving errors.As/errors.Unwrap compatibility.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Family, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Family, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// PrintAlways marks errors that must always surface even when "mundane"
// errors are otherwise suppressed to avoid flooding output (spec.md
// §4.4.4): compiler diagnostics always print.
type PrintAlways struct {
	Err error
}

func (p PrintAlways) Error() string { return p.Err.Error() }
func (p PrintAlways) Unwrap() error { return p.Err }
