// Package gateway fans bus events out to authenticated WebSocket clients.
//
// Each connection owns a bounded outbound queue drained by its own writer
// goroutine. Broadcast never blocks: a connection whose queue is full is
// force-closed and unregistered. Broadcasts are serialized, so every
// connection observes events in broadcast call order.
package gateway
