// Package dispatcher owns the lifecycle of every plug connection.
//
// It consumes discovery intents, decides whether a plug needs an entity
// created, is a known plug that only needs reconnecting, or is already
// live, and retries entity creation from a pending queue until the
// materializer acknowledges it. Disappearing plugs are removed only after
// a debounce; any discovery add or update, or any reading from the plug,
// cancels the removal.
//
// Readings from connected plugs are routed three ways: role changes are
// reported for persistence, power and energy readings feed the household
// aggregator, and every reading is broadcast on the bus keyed by
// (MAC, event) together with a synthesized role reading.
//
// Lifecycle:
//
//	d, err := dispatcher.New(dispatcher.Options{Bus: b, NewClient: factory, ...})
//	d.Start(ctx)                   // ack subscriptions, pending work begins
//	go d.Consume(ctx, adapter.Intents())
//	...
//	d.Shutdown(ctx)                // disconnect all, stop queue, cancel removals
package dispatcher
