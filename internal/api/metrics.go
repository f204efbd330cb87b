package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// hostStatsTimeout bounds the host memory and load probes.
const hostStatsTimeout = time.Second

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	Host          *HostMetrics       `json:"host,omitempty"`
	WebSocket     WSMetrics          `json:"websocket"`
	MQTT          MQTTMetrics        `json:"mqtt"`
	Dispatcher    *DispatcherSummary `json:"dispatcher,omitempty"`
	Discovery     *DiscoverySummary  `json:"discovery,omitempty"`
	Devices       DeviceMetrics      `json:"devices"`
	Database      DatabaseMetrics    `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HostMetrics describes the machine the daemon runs on. Fields the
// platform cannot report stay zero.
type HostMetrics struct {
	MemoryTotalMB float64 `json:"memory_total_mb"`
	MemoryUsedPct float64 `json:"memory_used_percent"`
	Load1         float64 `json:"load1"`
	Load5         float64 `json:"load5"`
	Load15        float64 `json:"load15"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// DispatcherSummary condenses dispatcher state to counters.
type DispatcherSummary struct {
	PlugsConnected  int    `json:"plugs_connected"`
	PendingAdds     int    `json:"pending_adds"`
	PendingRemovals int    `json:"pending_removals"`
	SensorsKnown    int    `json:"sensors_known"`
	ReadingsRouted  uint64 `json:"readings_routed"`
	Exceptions      uint64 `json:"exceptions"`
	ReconcilePasses uint64 `json:"reconcile_passes"`
}

// DiscoverySummary condenses mDNS discovery state to counters.
type DiscoverySummary struct {
	ServicesResolved int    `json:"services_resolved"`
	PendingRemovals  int    `json:"pending_removals"`
	BrowseRestarts   uint64 `json:"browse_restarts"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total  int            `json:"total"`
	Online int            `json:"online"`
	ByKind map[string]int `json:"by_kind"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystem returns runtime and component statistics as JSON.
// Prometheus scrapes /metrics instead.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedEvents:    s.hub.Dropped(),
		},
	}

	metrics.Host = s.hostMetrics(r.Context())

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Enabled:   true,
			Connected: s.mqtt.IsConnected(),
		}
	}

	if s.dispatcher != nil {
		st := s.dispatcher.Status()
		metrics.Dispatcher = &DispatcherSummary{
			PlugsConnected:  len(st.Live),
			PendingAdds:     len(st.Pending),
			PendingRemovals: len(st.PendingRemovals),
			SensorsKnown:    len(st.Sensors),
			ReadingsRouted:  st.ReadingsRouted,
			Exceptions:      st.Exceptions,
			ReconcilePasses: st.ReconcilePasses,
		}
	}

	if s.discovery != nil {
		metrics.Discovery = &DiscoverySummary{
			ServicesResolved: len(s.discovery.Records()),
			PendingRemovals:  s.discovery.PendingRemovals(),
		}
		if s.browser != nil {
			metrics.Discovery.BrowseRestarts = s.browser.Restarts()
		}
	}

	regStats := s.registry.GetStats()
	metrics.Devices = DeviceMetrics{
		Total:  regStats.TotalDevices,
		Online: regStats.Online,
		ByKind: make(map[string]int, len(regStats.ByKind)),
	}
	for kind, count := range regStats.ByKind {
		metrics.Devices.ByKind[string(kind)] = count
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// hostMetrics samples memory and load average. It returns nil when neither
// is available.
func (s *Server) hostMetrics(ctx context.Context) *HostMetrics {
	ctx, cancel := context.WithTimeout(ctx, hostStatsTimeout)
	defer cancel()

	var host HostMetrics
	ok := false

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Debug("host memory unavailable", "error", err)
	} else {
		host.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
		host.MemoryUsedPct = vm.UsedPercent
		ok = true
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		s.logger.Debug("load average unavailable", "error", err)
	} else {
		host.Load1, host.Load5, host.Load15 = avg.Load1, avg.Load5, avg.Load15
		ok = true
	}

	if !ok {
		return nil
	}
	return &host
}
