package dispatcher

import (
	"sort"
)

// Status is a point-in-time view of dispatcher state.
type Status struct {
	Started         bool              `json:"started"`
	Closed          bool              `json:"closed"`
	Live            []LiveConnection  `json:"live"`
	Known           []string          `json:"known"`
	Pending         []Entry           `json:"pending"`
	PendingRemovals []string          `json:"pending_removals"`
	Sensors         map[string]string `json:"sensors"`
	LoopRunning     bool              `json:"loop_running"`
	ReadingsRouted  uint64            `json:"readings_routed"`
	Exceptions      uint64            `json:"exceptions"`
	ReconcilePasses uint64            `json:"reconcile_passes"`
}

// Status returns the current state.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	live := d.reg.snapshot()
	known := make([]string, 0, len(d.reg.known))
	for mac := range d.reg.known {
		known = append(known, mac)
	}
	d.mu.Unlock()
	sort.Strings(known)

	removals := d.removals.Keys()
	sort.Strings(removals)

	return Status{
		Started:         d.started.Load(),
		Closed:          d.closed.Load(),
		Live:            live,
		Known:           known,
		Pending:         d.queue.Snapshot(),
		PendingRemovals: removals,
		Sensors:         d.Sensors(),
		LoopRunning:     d.queue.Running(),
		ReadingsRouted:  d.routed.Load(),
		Exceptions:      d.exceptions.Load(),
		ReconcilePasses: d.queue.Passes(),
	}
}

// Connections returns the live plug connections sorted by MAC.
func (d *Dispatcher) Connections() []LiveConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.snapshot()
}

// IsLive reports whether mac has a live connection.
func (d *Dispatcher) IsLive(mac string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.isLive(mac)
}

// IsKnown reports whether an entity was ever connected for mac.
func (d *Dispatcher) IsKnown(mac string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.isKnown(mac)
}

// NameFor returns the identity indexed for an advertised name.
func (d *Dispatcher) NameFor(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mac, ok := d.reg.names[name]
	return mac, ok
}

// Pending returns the queued plugs.
func (d *Dispatcher) Pending() []Entry {
	return d.queue.Snapshot()
}

// RemovalPending reports whether a removal is scheduled for mac.
func (d *Dispatcher) RemovalPending(mac string) bool {
	return d.removals.Pending(mac)
}

// Sensors returns acknowledged sensors and their roles.
func (d *Dispatcher) Sensors() map[string]string {
	d.sensorMu.Lock()
	defer d.sensorMu.Unlock()
	out := make(map[string]string, len(d.sensors))
	for mac, role := range d.sensors {
		out[mac] = role
	}
	return out
}
