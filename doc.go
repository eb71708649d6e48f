// Package telemex is a resilient telemetry export engine: it takes log and
// execution-span records produced anywhere in an instrumented application and
// durably delivers them to a remote time-series store without ever blocking
// the producer, and without losing critical span data through backend outages
// or process restarts.
//
// Records are held in three bounded, insertion-ordered queues (logs, critical
// spans, normal spans) and flushed in batches on a timer or when a queue
// reaches the configured batch size. Critical spans, identified by a
// configurable predicate, are additionally written to a local write-ahead log
// on arrival and relocated to a dead-letter file when the critical buffer
// hits its hard cap, so they are never discarded from memory without a
// durable copy on disk. A circuit breaker suppresses normal-priority flushes
// against a backend that keeps failing; critical flushes bypass it entirely.
//
// Nothing in this package ever returns or panics an error back to an
// instrumentation call site: all failures are absorbed, logged and turned
// into internal state.
package telemex // import "github.com/durastream/telemex"
