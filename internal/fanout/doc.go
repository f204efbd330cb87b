// Package fanout forwards bus traffic to the daemon's outer surfaces.
//
// Device readings and household figures leave the process through four
// sinks, each optional:
//
//   - MQTT: retained JSON on powersensor/state/{mac}/{event} and
//     powersensor/household/{figure}
//   - InfluxDB: one point per numeric reading or figure
//   - WebSocket: broadcast on device.{mac}.{event}, devices and household
//   - Prometheus: counters and gauges served on /metrics
//
// Bus delivery is synchronous and runs on the plug dispatch goroutines, so
// the Fanout only enqueues there. Run drains the queue on its own goroutine;
// when the queue is full the event is dropped and counted.
//
// RoleCommands bridges the other direction: role assignments received on
// powersensor/command/role/{mac} are republished on the bus as role-updated.
package fanout
