package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	byMAC   map[string]string  // MAC -> ID
	cacheMu sync.RWMutex       // Protects cache and byMAC
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		byMAC:  make(map[string]string),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	r.byMAC = make(map[string]string, len(devices))
	for i := range devices {
		r.storeLocked(&devices[i])
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cacheMu.Lock()
	r.storeLocked(device)
	r.cacheMu.Unlock()
	return device, nil
}

// GetByMAC retrieves a device by its identity.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) GetByMAC(ctx context.Context, mac string) (*Device, error) {
	r.cacheMu.RLock()
	id, ok := r.byMAC[mac]
	var cached *Device
	if ok {
		cached = r.cache[id]
	}
	r.cacheMu.RUnlock()
	if cached != nil {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByMAC(ctx, mac)
	if err != nil {
		return nil, err
	}
	r.cacheMu.Lock()
	r.storeLocked(device)
	r.cacheMu.Unlock()
	return device, nil
}

// ListDevices returns every cached device ordered by MAC.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(_ context.Context) []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].MAC < devices[j].MAC })
	return devices
}

// ListByKind returns cached devices of one kind ordered by MAC.
func (r *Registry) ListByKind(ctx context.Context, kind Kind) []Device {
	all := r.ListDevices(ctx)
	out := all[:0]
	for _, d := range all {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// CreateDevice validates and persists a new device, generating its ID
// when empty.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if err := ValidateDevice(device); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.storeLocked(device)
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "mac", device.MAC, "kind", device.Kind)
	return nil
}

// UpdateDevice validates and persists changes to an existing device.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.storeLocked(device)
	r.cacheMu.Unlock()

	r.logger.Debug("device updated", "id", device.ID, "mac", device.MAC)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.cache[id]; ok {
		delete(r.byMAC, d.MAC)
	}
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetOnline records presence for the device with the given MAC. The last
// seen time is kept when the device goes offline.
func (r *Registry) SetOnline(ctx context.Context, mac string, online bool) error {
	device, err := r.GetByMAC(ctx, mac)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := r.repo.SetOnline(ctx, device.ID, online, now); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[device.ID]; ok {
		updated := cached.DeepCopy()
		updated.Online = online
		updated.LastSeen = &now
		r.cache[device.ID] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device presence updated", "mac", mac, "online", online)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// storeLocked caches a deep copy of d. Caller holds cacheMu.
func (r *Registry) storeLocked(d *Device) {
	r.cache[d.ID] = d.DeepCopy()
	r.byMAC[d.MAC] = d.ID
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int          `json:"total_devices"`
	Online       int          `json:"online"`
	ByKind       map[Kind]int `json:"by_kind"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByKind:       make(map[Kind]int),
	}
	for _, d := range r.cache {
		stats.ByKind[d.Kind]++
		if d.Online {
			stats.Online++
		}
	}
	return stats
}
