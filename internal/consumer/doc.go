// Package consumer runs a consumer-group member: it reads a topic through a
// transport.Transport, authenticates each entry with the envelope, runs the
// registered handler under the idempotency guard and acknowledges on
// success.
//
// Entries that cannot be parsed are poison and are acknowledged at once.
// Entries whose handler fails stay pending. A periodic sweep claims entries
// idle longer than ClaimIdle and redelivers them; once an entry has been
// delivered MaxDeliveries times it is copied to "<topic>.dlq" and
// acknowledged.
package consumer
