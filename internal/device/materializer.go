package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/powersensor-core/internal/bus"
)

// roleSolar marks a sensor measuring solar generation.
const roleSolar = "solar"

// handlerTimeout bounds one registry write triggered from the bus.
const handlerTimeout = 5 * time.Second

// Bus is the bus surface the Materializer needs.
type Bus interface {
	Publish(ev bus.Event)
	Subscribe(topic bus.Topic, h bus.Handler) bus.Token
}

// Materializer turns materialize requests into catalogue entries and
// acknowledges them.
type Materializer struct {
	registry *Registry
	bus      Bus
	logger   Logger

	// mu serialises upserts so two requests for one MAC create one row.
	mu sync.Mutex
}

// NewMaterializer creates a Materializer writing to registry and
// publishing acks on b.
func NewMaterializer(registry *Registry, b Bus, logger Logger) *Materializer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Materializer{registry: registry, bus: b, logger: logger}
}

// Subscribe registers the Materializer for plug and sensor requests, role
// updates, and plug removals.
//
// Returns:
//   - []bus.Token: One token per subscription, for Unsubscribe
func (m *Materializer) Subscribe(b Bus) []bus.Token {
	return []bus.Token{
		b.Subscribe(bus.TopicMaterializePlug, m.handlePlug),
		b.Subscribe(bus.TopicMaterializeSensor, m.handleSensor),
		b.Subscribe(bus.TopicRoleUpdated, m.handleRole),
		b.Subscribe(bus.TopicPlugRemoved, m.handleRemoved),
	}
}

// MaterializePlug creates or refreshes the plug entity and publishes
// plug-acked with the request.
//
// Parameters:
//   - ctx: Context for the registry write
//   - req: Identity and address from discovery
//
// Returns:
//   - error: If validation or persistence fails; no ack is published
func (m *Materializer) MaterializePlug(ctx context.Context, req bus.PlugRequest) error {
	now := time.Now().UTC()
	created, err := m.upsert(ctx, req.MAC, KindPlug, func(d *Device) {
		if req.Name != "" {
			d.Name = req.Name
		}
		d.Host = req.Host
		d.Port = req.Port
		d.Online = true
		d.LastSeen = &now
	})
	if err != nil {
		return fmt.Errorf("materializing plug %s: %w", req.MAC, err)
	}

	m.logger.Info("plug materialized", "mac", req.MAC, "host", req.Host, "port", req.Port, "created", created)
	m.bus.Publish(bus.Event{Topic: bus.TopicPlugAcked, Key: bus.Key{MAC: req.MAC}, Payload: req})
	return nil
}

// MaterializeSensor creates or refreshes the sensor entity and publishes
// sensor-acked. A solar sensor also publishes have-solar.
func (m *Materializer) MaterializeSensor(ctx context.Context, req bus.SensorRequest) error {
	now := time.Now().UTC()
	created, err := m.upsert(ctx, req.MAC, KindSensor, func(d *Device) {
		if req.Role != "" {
			d.Role = req.Role
		}
		d.Online = true
		d.LastSeen = &now
	})
	if err != nil {
		return fmt.Errorf("materializing sensor %s: %w", req.MAC, err)
	}

	m.logger.Info("sensor materialized", "mac", req.MAC, "role", req.Role, "created", created)
	m.bus.Publish(bus.Event{Topic: bus.TopicSensorAcked, Key: bus.Key{MAC: req.MAC}, Payload: req})
	if req.Role == roleSolar {
		m.bus.Publish(bus.Event{Topic: bus.TopicHaveSolar})
	}
	return nil
}

// ApplyRole records role on an existing device. Unknown devices are
// skipped; their role arrives with the materialize request.
func (m *Materializer) ApplyRole(ctx context.Context, mac, role string) error {
	if role == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.registry.GetByMAC(ctx, mac)
	if errors.Is(err, ErrDeviceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if d.Role == role {
		return nil
	}
	d.Role = role
	if err := m.registry.UpdateDevice(ctx, d); err != nil {
		return fmt.Errorf("updating role of %s: %w", mac, err)
	}
	m.logger.Info("device role updated", "mac", mac, "role", role)
	return nil
}

// MarkRemoved flags a plug offline. Its last seen time is kept.
func (m *Materializer) MarkRemoved(ctx context.Context, mac string) error {
	if err := m.registry.SetOnline(ctx, mac, false); err != nil {
		return fmt.Errorf("marking %s offline: %w", mac, err)
	}
	m.logger.Info("plug offline", "mac", mac)
	return nil
}

// upsert applies mutate to the existing device for mac, or to a fresh one.
func (m *Materializer) upsert(ctx context.Context, mac string, kind Kind, mutate func(*Device)) (bool, error) {
	if err := ValidateMAC(mac); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.registry.GetByMAC(ctx, mac)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		d := &Device{MAC: mac, Kind: kind}
		mutate(d)
		return true, m.registry.CreateDevice(ctx, d)
	case err != nil:
		return false, err
	}

	if existing.Kind != kind {
		m.logger.Warn("device changed kind", "mac", mac, "stored", existing.Kind, "requested", kind)
	}
	mutate(existing)
	return false, m.registry.UpdateDevice(ctx, existing)
}

func (m *Materializer) handlePlug(ev bus.Event) {
	req, ok := ev.Payload.(bus.PlugRequest)
	if !ok {
		m.logger.Warn("plug request with unexpected payload", "type", fmt.Sprintf("%T", ev.Payload))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := m.MaterializePlug(ctx, req); err != nil {
		m.logger.Error("plug materialization failed", "mac", req.MAC, "error", err)
	}
}

func (m *Materializer) handleSensor(ev bus.Event) {
	req, ok := ev.Payload.(bus.SensorRequest)
	if !ok {
		m.logger.Warn("sensor request with unexpected payload", "type", fmt.Sprintf("%T", ev.Payload))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := m.MaterializeSensor(ctx, req); err != nil {
		m.logger.Error("sensor materialization failed", "mac", req.MAC, "error", err)
	}
}

func (m *Materializer) handleRemoved(ev bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := m.MarkRemoved(ctx, ev.Key.MAC); err != nil {
		m.logger.Warn("plug removal not recorded", "mac", ev.Key.MAC, "error", err)
	}
}

func (m *Materializer) handleRole(ev bus.Event) {
	u, ok := ev.Payload.(bus.RoleUpdate)
	if !ok {
		m.logger.Warn("role update with unexpected payload", "type", fmt.Sprintf("%T", ev.Payload))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := m.ApplyRole(ctx, u.MAC, u.Role); err != nil {
		m.logger.Error("device role not recorded", "mac", u.MAC, "error", err)
	}
}
