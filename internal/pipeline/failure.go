package pipeline

import (
	"errors"
	"fmt"

	"repin/internal/models"
)

// Failure is a classified collaborator error. Adapters wrap everything they
// return in one so the runner can route it through the retry policy.
type Failure struct {
	Kind    models.FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Transient builds a retryable failure.
func Transient(format string, args ...any) *Failure {
	return &Failure{Kind: models.FailureTransient, Message: fmt.Sprintf(format, args...)}
}

// Permanent builds a terminal failure.
func Permanent(format string, args ...any) *Failure {
	return &Failure{Kind: models.FailurePermanent, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from an error. Unclassified errors are
// treated as transient so an adapter bug cannot permanently fail an item.
func KindOf(err error) models.FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return models.FailureTransient
}
