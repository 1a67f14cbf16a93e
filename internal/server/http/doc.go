// Package httpserver is the REST and WebSocket front of the event bus:
// health, metrics, consumer status, idempotent publish, stream inspection
// and the /ws fan-out endpoint.
//
// Example:
//
//	s := httpserver.New(httpserver.Options{
//	    Deps:          controllers.Deps{Runtime: rt, Producer: prod, Guard: guard, Metrics: m},
//	    Gateway:       gw,
//	    Authenticator: jwtManager,
//	})
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
