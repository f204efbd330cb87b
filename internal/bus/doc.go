// Package bus is the in-process event bus that decouples the dispatcher
// from the components that materialize devices, persist roles, aggregate
// household figures, and push readings outward.
//
// Topics are a closed enum. Per-device readings additionally carry a Key
// of (MAC, event name) so a subscriber can follow one stream, the same way
// a dashboard entity follows one device sensor.
//
// Delivery is synchronous on the publisher's goroutine, in subscription
// order. A panicking handler is recovered and logged; it does not affect
// other handlers or the publisher.
package bus
