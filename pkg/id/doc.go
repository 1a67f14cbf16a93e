// Package id provides stream entry identifiers.
//
// # Format
//
// An ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison preserves append order, so IDs are used directly as
// the suffix of Pebble log keys. The text form is "<ms>-<seq>", the same
// shape clients of Redis-style streams expect.
//
// # Monotonicity
//
// A Generator is owned by one stream and ensures strictly increasing IDs:
//   - If the system clock regresses, it pins to the last seen millisecond and
//     increments the sequence.
//   - If the sequence would overflow within a millisecond, it waits for the
//     next millisecond.
//   - Observe seeds the generator from the last persisted ID after a restart.
//
// Usage
//
//	g := id.NewGeneratorAfter(lastPersisted)
//	entryID := g.Next()
//	key := entryID.Bytes() // 16-byte key suffix
//	s := entryID.String()  // "1700000000123-0"
package id
