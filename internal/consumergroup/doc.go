// Package consumergroup stores the per-group delivery state of durable
// streams: the Pending Entries List (PEL) and the consumer registry.
//
// # Keyspace
//
// All keys are prefixed with bus/cg/{topic}/{group}/:
//
//	pel/{id_be16}                       - pending entry (owner, deliveries, timestamps)
//	cons/{consumer}                     - consumer registry
//	cons_idx/{expires_be8}/{consumer}   - consumer expiry index
//
// # Entry lifecycle
//
//  1. Deliver: entry handed to a consumer, PEL record written with deliveries=1
//  2. Ack: PEL record removed; acking a missing record is a no-op
//  3. Claim: an entry idle for at least minIdle moves to another consumer and
//     its delivery count is incremented
//
// PEL mutations for one group must be serialized by the caller; the stream
// transport holds a per-group lock around every call.
package consumergroup
