// Package roles persists the role of each powersensor device and the
// household with_solar flag.
//
// The Store is loaded once at startup and then serves as the dispatcher's
// role source. Role updates arrive on the bus (role-updated); the store
// writes only non-empty roles that differ from what it already holds, so a
// device reporting the same role on every reading costs no database work.
//
// Storing the role "solar" for any device also sets with_solar, which is
// announced on the have-solar topic so production figures can be enabled.
//
// Thread Safety:
//   - All Store methods are safe for concurrent use.
//   - Bus events are published after the internal lock is released.
package roles
