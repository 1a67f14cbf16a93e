// Package client provides the `eventbus` command-line client.
//
// The CLI talks to the HTTP and gRPC endpoints of a running bus to publish
// events and inspect consumer groups from a terminal. It is primarily
// intended for developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. The standalone binary reads EVENT_BUS_HTTP
// (default http://127.0.0.1:8080). The gRPC address is read from
// EVENT_BUS_GRPC (default 127.0.0.1:50051).
//
// Usage
//
//	eventbus publish --topic finbot.events --type finbot.account.created \
//	    --source finbot --data '{"accountId":"a-1"}' --idempotency-key pub-123
//
//	eventbus pending --topic finbot.events --group analytics
//
//	eventbus dlq --topic finbot.events --limit 20
//
//	eventbus token --user u-1 --role ops --ttl 1h
//
//	eventbus health --service eventbus.consumers
package client
