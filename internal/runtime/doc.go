// Package runtime opens the storage of a single-node event bus: the Pebble
// database, the stream transport and the idempotency store, chosen by
// config. It also runs the janitor that applies stream retention and
// sweeps expired idempotency records.
//
// Example:
//
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger, Metrics: m})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	go rt.RunJanitor(ctx)
package runtime
