// Package pipeline provides the language model pipeline run for each task:
// one completion call per prompt with retry on transient failures.
//
// Provider API errors that survive retries are reported as critical language
// model failures (classify.ErrLLMCritical); transport and context errors stay
// generic.
package pipeline
