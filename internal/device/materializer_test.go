package device

import (
	"context"
	"testing"

	"github.com/nerrad567/powersensor-core/internal/bus"
)

type harness struct {
	bus      *bus.Bus
	registry *Registry
	events   []bus.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{bus: bus.New(nil)}
	h.registry = NewRegistry(NewSQLiteRepository(setupTestDB(t)))
	NewMaterializer(h.registry, h.bus, nil).Subscribe(h.bus)

	record := func(ev bus.Event) { h.events = append(h.events, ev) }
	h.bus.Subscribe(bus.TopicPlugAcked, record)
	h.bus.Subscribe(bus.TopicSensorAcked, record)
	h.bus.Subscribe(bus.TopicHaveSolar, record)
	return h
}

func (h *harness) count(topic bus.Topic) int {
	n := 0
	for _, ev := range h.events {
		if ev.Topic == topic {
			n++
		}
	}
	return n
}

func TestMaterializer_PlugRequestCreatesAndAcks(t *testing.T) {
	h := newHarness(t)
	req := bus.PlugRequest{MAC: "aabbccddeeff", Host: "192.168.1.20", Port: 49476, Name: "Powersensor-aabbccddeeff"}

	h.bus.Publish(bus.Event{Topic: bus.TopicMaterializePlug, Key: bus.Key{MAC: req.MAC}, Payload: req})

	if h.count(bus.TopicPlugAcked) != 1 {
		t.Fatalf("plug-acked published %d times, want 1", h.count(bus.TopicPlugAcked))
	}
	if got := h.events[0].Payload.(bus.PlugRequest); got != req {
		t.Errorf("ack payload = %+v, want %+v", got, req)
	}

	d, err := h.registry.GetByMAC(context.Background(), req.MAC)
	if err != nil {
		t.Fatalf("GetByMAC() error = %v", err)
	}
	if d.Kind != KindPlug || d.Host != req.Host || d.Port != req.Port || d.Name != req.Name || !d.Online {
		t.Errorf("device = %+v", d)
	}
}

func TestMaterializer_PlugRequestRefreshesAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := NewMaterializer(h.registry, h.bus, nil)

	if err := m.MaterializePlug(ctx, bus.PlugRequest{MAC: "aa", Host: "10.0.0.1", Port: 49476, Name: "first"}); err != nil {
		t.Fatalf("MaterializePlug() error = %v", err)
	}
	first, _ := h.registry.GetByMAC(ctx, "aa")

	if err := m.MaterializePlug(ctx, bus.PlugRequest{MAC: "aa", Host: "10.0.0.2", Port: 50000}); err != nil {
		t.Fatalf("MaterializePlug() error = %v", err)
	}
	second, _ := h.registry.GetByMAC(ctx, "aa")

	if second.ID != first.ID {
		t.Error("refresh created a new device")
	}
	if second.Host != "10.0.0.2" || second.Port != 50000 || second.Name != "first" {
		t.Errorf("refreshed device = %+v", second)
	}
	if h.registry.GetDeviceCount() != 1 {
		t.Errorf("GetDeviceCount() = %d, want 1", h.registry.GetDeviceCount())
	}
}

func TestMaterializer_InvalidPlugIsNotAcked(t *testing.T) {
	h := newHarness(t)

	h.bus.Publish(bus.Event{Topic: bus.TopicMaterializePlug, Payload: bus.PlugRequest{MAC: "aa"}})
	h.bus.Publish(bus.Event{Topic: bus.TopicMaterializePlug, Payload: bus.PlugRequest{Host: "h", Port: 1}})
	h.bus.Publish(bus.Event{Topic: bus.TopicMaterializePlug, Payload: "garbage"})

	if n := h.count(bus.TopicPlugAcked); n != 0 {
		t.Errorf("plug-acked published %d times, want 0", n)
	}
}

func TestMaterializer_SensorRequest(t *testing.T) {
	h := newHarness(t)

	h.bus.Publish(bus.Event{Topic: bus.TopicMaterializeSensor, Payload: bus.SensorRequest{MAC: "s1", Role: "house-net"}})
	h.bus.Publish(bus.Event{Topic: bus.TopicMaterializeSensor, Payload: bus.SensorRequest{MAC: "s2", Role: "solar"}})
	h.bus.Publish(bus.Event{Topic: bus.TopicMaterializeSensor, Payload: bus.SensorRequest{MAC: "s1"}})

	if n := h.count(bus.TopicSensorAcked); n != 3 {
		t.Errorf("sensor-acked published %d times, want 3", n)
	}
	if n := h.count(bus.TopicHaveSolar); n != 1 {
		t.Errorf("have-solar published %d times, want 1", n)
	}

	d, err := h.registry.GetByMAC(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetByMAC() error = %v", err)
	}
	if d.Kind != KindSensor || d.Role != "house-net" {
		t.Errorf("sensor = %+v; role must survive a request without one", d)
	}
}

func TestMaterializer_RoleUpdateAppliesToExistingDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A relayed sensor is requested with no role; the persisted role follows.
	h.bus.Publish(bus.Event{Topic: bus.TopicMaterializeSensor, Payload: bus.SensorRequest{MAC: "s1"}})
	h.bus.Publish(bus.Event{Topic: bus.TopicRoleUpdated, Payload: bus.RoleUpdate{MAC: "s1", Role: "water"}})
	h.bus.Publish(bus.Event{Topic: bus.TopicRoleUpdated, Payload: bus.RoleUpdate{MAC: "unknown", Role: "solar"}})

	d, err := h.registry.GetByMAC(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByMAC() error = %v", err)
	}
	if d.Role != "water" {
		t.Errorf("Role = %q, want water", d.Role)
	}
	if _, err := h.registry.GetByMAC(ctx, "unknown"); err == nil {
		t.Error("role update created a device")
	}
}

func TestMaterializer_PlugRemovedMarksOffline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := bus.PlugRequest{MAC: "aa", Host: "10.0.0.1", Port: 49476}

	h.bus.Publish(bus.Event{Topic: bus.TopicMaterializePlug, Payload: req})
	h.bus.Publish(bus.Event{Topic: bus.TopicPlugRemoved, Key: bus.Key{MAC: "aa"}, Payload: req})
	h.bus.Publish(bus.Event{Topic: bus.TopicPlugRemoved, Key: bus.Key{MAC: "unknown"}})

	d, err := h.registry.GetByMAC(ctx, "aa")
	if err != nil {
		t.Fatalf("GetByMAC() error = %v", err)
	}
	if d.Online {
		t.Error("removed plug still online")
	}
	if d.LastSeen == nil {
		t.Error("last seen dropped on removal")
	}
}
