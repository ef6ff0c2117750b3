// Package task defines the unit of work accepted by the worker pool and the
// result record delivered back to the request's origin.
//
// Invariants:
// - A Task is immutable once created.
// - Exactly one Result is produced per Task.
// - ErrorKind is set only on Failed results.
package task

import (
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Origin identifies where a request came from. It is carried for logging and
// routing only; the pool never interprets it.
type Origin struct {
	Channel     string `json:"channel"`
	Thread      string `json:"thread,omitempty"`
	RequesterID string `json:"requester_id,omitempty"`
}

// Task is one prompt to run through the agent pipeline.
type Task struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	SubmittedAt time.Time `json:"submitted_at"`
	Origin      Origin    `json:"origin"`
}

// New creates a task with a fresh identifier.
func New(prompt string, origin Origin) Task {
	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("task-%d", time.Now().UnixNano())
	}
	return Task{
		ID:          id,
		Prompt:      prompt,
		SubmittedAt: time.Now(),
		Origin:      origin,
	}
}

// Outcome is the terminal state of a task.
type Outcome string

const (
	OutcomeOk     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

// ErrorKind is the closed failure taxonomy used to pick a user-facing message.
type ErrorKind string

const (
	KindNone ErrorKind = ""
	// KindCritical is a non-recoverable failure of the language model dependency.
	KindCritical ErrorKind = "critical"
	// KindGeneric covers every other failure, timeouts included.
	KindGeneric ErrorKind = "generic"
)

func (k ErrorKind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

// Result is the outcome record for a task.
type Result struct {
	Outcome   Outcome   `json:"outcome"`
	Message   string    `json:"message"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// Ok builds a successful result.
func Ok(message string) Result {
	return Result{Outcome: OutcomeOk, Message: message}
}

// Failed builds a failed result. An empty kind is treated as generic.
func Failed(kind ErrorKind, message string) Result {
	if kind == KindNone {
		kind = KindGeneric
	}
	return Result{Outcome: OutcomeFailed, Message: message, ErrorKind: kind}
}

// IsOk reports whether the task succeeded.
func (r Result) IsOk() bool {
	return r.Outcome == OutcomeOk
}

// String returns a compact form suitable for logs.
func (r Result) String() string {
	var b strings.Builder
	b.WriteString(string(r.Outcome))
	if r.ErrorKind != KindNone {
		b.WriteString("/")
		b.WriteString(string(r.ErrorKind))
	}
	return b.String()
}
