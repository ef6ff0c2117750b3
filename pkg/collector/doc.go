// Package collector records prompt/response pairs produced by pipeline runs
// and flushes them to newline-delimited JSON files.
//
// Invariants:
// - Entry order equals Collect call order; entries are never mutated.
// - Dump writes every entry held at call time before it removes any of them.
// - Dump never overwrites an existing file; same-second dumps get a numeric suffix.
// - Collect is safe for concurrent use.
//
// Usage:
//
//	c := collector.New(collector.Config{Dir: "/var/lib/umile/collections"})
//	c.Collect([]collector.Message{{Role: "user", Content: "hi"}}, "hello")
//	path, _ := c.Dump(true)
//	_ = path
package collector
