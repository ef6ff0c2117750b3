package flow

import (
	"strings"
	"time"
)

// Messages are the result texts produced by a Runner.
//
// Completed may contain {output}; Timeout may contain {deadline}.
type Messages struct {
	Completed string `json:"completed"`
	Timeout   string `json:"timeout"`
	Critical  string `json:"critical"`
	Generic   string `json:"generic"`
}

// DefaultMessages returns the built-in result texts.
func DefaultMessages() Messages {
	return Messages{
		Completed: "Your request has been completed.",
		Timeout:   "Operation terminated due to timeout. Please try a simpler request.",
		Critical:  "The language model failed to process your request.",
		Generic:   "An error occurred while running the agent.",
	}
}

// WithDefaults fills empty fields from DefaultMessages.
func (m Messages) WithDefaults() Messages {
	d := DefaultMessages()
	if m.Completed == "" {
		m.Completed = d.Completed
	}
	if m.Timeout == "" {
		m.Timeout = d.Timeout
	}
	if m.Critical == "" {
		m.Critical = d.Critical
	}
	if m.Generic == "" {
		m.Generic = d.Generic
	}
	return m
}

func (m Messages) completed(output string) string {
	return strings.NewReplacer("{output}", output).Replace(m.Completed)
}

func (m Messages) timeout(deadline time.Duration) string {
	return strings.NewReplacer("{deadline}", deadline.String()).Replace(m.Timeout)
}
