// Package grpcserver hosts the standard grpc.health.v1 service for the
// event bus. The empty service name reflects storage health; the
// "eventbus.consumers" name reflects whether every consumer is running.
//
// Example:
//
//	s := grpcserver.New(rt, statuses, logger)
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
