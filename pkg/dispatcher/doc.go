// Package dispatcher is the boundary between event sources and the worker
// pool. It turns inbound requests into tasks and delivers exactly one
// completion notification per submitted task back to the request's origin.
//
// Invariants:
// - Empty prompts are answered with a missing-input notice and never submitted.
// - Redelivered events (same event id within the dedup window) are dropped.
// - Notification failures and panics are logged, never propagated.
package dispatcher
