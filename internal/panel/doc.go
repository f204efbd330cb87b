// Package panel serves the status panel web UI as an embedded asset.
//
// The panel is a single static page that polls /api/v1/devices,
// /api/v1/household and /api/v1/dispatcher and subscribes to the WebSocket
// feed for live readings. It is embedded with go:embed so the daemon has no
// runtime dependency on external files; Handler can serve a directory
// instead while the page is being edited.
//
// Unknown paths fall back to index.html.
package panel
