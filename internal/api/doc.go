// Package api implements the read-only HTTP API and WebSocket server for the
// powersensor daemon.
//
// This package provides:
//   - REST endpoints for materialized devices, household figures, and
//     dispatcher state
//   - A WebSocket hub that relays live readings to subscribed clients
//   - A Prometheus scrape endpoint
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The server never drives devices. Plugs are found by mDNS and connected by
// the dispatcher; the server only reports what the registry, dispatcher, and
// household aggregator currently hold. Readings reach WebSocket clients via
// the fanout package, which calls Hub.Broadcast.
//
// # Graceful Degradation
//
// Every source except the device registry is optional. A missing source
// yields an empty section, never an error.
package api
