// Package classify maps pipeline failures onto the two-valued error taxonomy
// used to choose a user-facing message.
//
// Only one failure signature is distinguished: a non-recoverable failure of
// the language model dependency (ErrLLMCritical, usually wrapped in a
// *CriticalError). Everything else is generic. Detail stays in logs.
package classify

import (
	"errors"
	"fmt"

	"github.com/harun/umile/pkg/task"
)

// ErrLLMCritical marks a failure the language model dependency cannot recover from.
var ErrLLMCritical = errors.New("llm critical failure")

// CriticalError wraps a provider failure that should be reported as critical.
type CriticalError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *CriticalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: llm error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: llm error: %v", e.Provider, e.Err)
}

func (e *CriticalError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrLLMCritical) true for any CriticalError.
func (e *CriticalError) Is(target error) bool {
	return target == ErrLLMCritical
}

// Critical wraps err as a critical language model failure.
func Critical(provider string, statusCode int, err error) error {
	if err == nil {
		err = ErrLLMCritical
	}
	return &CriticalError{Provider: provider, StatusCode: statusCode, Err: err}
}

// Classifier decides the ErrorKind of a failure.
type Classifier interface {
	Classify(err error) task.ErrorKind
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) task.ErrorKind

// Classify calls f(err).
func (f ClassifierFunc) Classify(err error) task.ErrorKind {
	return f(err)
}

// Default is the classifier used when none is configured.
var Default Classifier = ClassifierFunc(Classify)

// Classify returns KindCritical for language model critical failures and
// KindGeneric for every other non-nil error. A nil error has no kind.
func Classify(err error) task.ErrorKind {
	if err == nil {
		return task.KindNone
	}
	if errors.Is(err, ErrLLMCritical) {
		return task.KindCritical
	}
	var ce *CriticalError
	if errors.As(err, &ce) {
		return task.KindCritical
	}
	return task.KindGeneric
}
