// Package discovery finds Powersensor plugs on the local network and turns
// mDNS churn into debounced add, update, and remove intents.
//
// The Browser wraps zeroconf and calls the Adapter from its own goroutines.
// The Adapter never touches dispatcher state: it pushes Intents onto a
// channel that the consumer drains on its own goroutine.
//
// mDNS goodbye packets are often followed by a re-announcement a moment
// later. The Adapter therefore delays removals, keyed by service name
// because that is all a goodbye carries, and cancels them when the same
// device identity (the "id" TXT key) is seen again. A cancelled removal
// turns the next add into an update.
package discovery
