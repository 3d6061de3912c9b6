package bot

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind tags pipeline errors so callers can branch on the cause
// instead of matching error text.
type FailureKind string

// Failure kinds surfaced by the site client and pipelines.
const (
	FailureNetwork   FailureKind = "network"
	FailureParse     FailureKind = "parse"
	FailureAuth      FailureKind = "auth"
	FailureRateLimit FailureKind = "rate-limit"
	FailureCancelled FailureKind = "cancelled"
)

// Failure wraps an underlying error with its kind and the operation that
// produced it.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

// NewFailure constructs a tagged Failure.
func NewFailure(kind FailureKind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: err}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s failure", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", f.Op, f.Kind, f.Err)
}

// Unwrap exposes the underlying error for errors.Is/As chains.
func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf extracts the failure kind from an error chain. Context cancellation
// maps to FailureCancelled; untagged errors report an empty kind.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailureCancelled
	}
	return ""
}
