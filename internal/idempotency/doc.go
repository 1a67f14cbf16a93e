// Package idempotency runs an operation at most once per key.
//
// A key moves through processing, completed and failed. Completed keys
// return their stored result; failed keys may be retried; a processing key
// is polled for a bounded time. Records live in a Store (memory, the bus
// Pebble database, or Postgres) reached through a circuit breaker. When the
// store is unreachable the Guard either runs the operation unguarded
// (FailOpen) or refuses with buserr.ErrStoreUnavailable (FailClosed).
package idempotency
