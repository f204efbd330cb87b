package dispatcher

import (
	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/plug"
)

// RoleEvent is the synthesized event name carrying only a device role.
const RoleEvent = "role"

func (d *Dispatcher) handleReading(event string, msg plug.Message) {
	d.OnTelemetry(event, msg)
}

func (d *Dispatcher) handleRelay(_ string, msg plug.Message) {
	d.OnRelayedSensorReport(msg)
}

func (d *Dispatcher) handleException(_ string, msg plug.Message) {
	d.exceptions.Add(1)
	d.logger.Warn("plug reported exception", "mac", msg.MAC(), "error", msg.String("error"))
}

// OnTelemetry routes one reading. A missing, null, or empty role is
// replaced by the persisted role; a role differing from the persisted one
// is published for persistence. Any reading cancels a pending removal for
// the device. Power and energy readings feed the aggregator. The reading
// is broadcast on (mac, event), followed by the role on (mac, "role").
func (d *Dispatcher) OnTelemetry(event string, msg plug.Message) {
	mac := msg.MAC()
	if mac == "" {
		d.logger.Warn("reading without mac dropped", "event", event)
		return
	}

	out := msg.Clone()
	role, hasRole := d.normalizeRole(mac, out)

	if persisted, _ := d.roles.Role(mac); hasRole && role != persisted {
		d.logger.Debug("device reported new role", "mac", mac, "role", role, "persisted", persisted)
		d.publishRole(mac, role)
	}

	if d.removals.Cancel(mac) {
		d.logger.Debug("pending removal cancelled by reading", "mac", mac, "event", event)
	}

	if d.aggregator != nil {
		switch event {
		case plug.EventAveragePower:
			d.aggregator.ProcessAveragePowerEvent(out)
		case plug.EventSummationEnergy:
			d.aggregator.ProcessSummationEvent(out)
		}
	}

	d.bus.Publish(bus.Event{Topic: bus.TopicDeviceData, Key: bus.Key{MAC: mac, Event: event}, Payload: out})
	d.bus.Publish(bus.Event{
		Topic:   bus.TopicDeviceData,
		Key:     bus.Key{MAC: mac, Event: RoleEvent},
		Payload: plug.Message{"mac": mac, "role": out["role"]},
	})
	d.routed.Add(1)
}

// OnRelayedSensorReport handles a plug announcing a sensor it relays. A
// sensor that never had an entity requested gets one requested with the
// role it reported, which may be empty. Sensors do not remember their
// role, so a persisted role that differs from the reported one is
// published again to push it back; the broadcast carries the persisted
// role.
func (d *Dispatcher) OnRelayedSensorReport(msg plug.Message) {
	mac := msg.MAC()
	deviceType := msg.String("device_type")
	if mac == "" || deviceType != plug.DeviceSensor {
		d.logger.Warn("ignoring relayed device", "mac", mac, "device_type", deviceType)
		return
	}

	reported, _ := msg.Role()
	out := msg.Clone()
	d.normalizeRole(mac, out)

	d.sensorMu.Lock()
	_, acked := d.sensors[mac]
	_, requested := d.requested[mac]
	isNew := !acked && !requested
	if isNew {
		d.requested[mac] = reported
	}
	d.sensorMu.Unlock()

	if isNew {
		d.logger.Info("new relayed sensor", "mac", mac, "role", reported)
		if d.started.Load() {
			d.bus.Publish(bus.Event{
				Topic:   bus.TopicMaterializeSensor,
				Key:     bus.Key{MAC: mac},
				Payload: bus.SensorRequest{MAC: mac, Role: reported},
			})
		}
	}

	if persisted, ok := d.roles.Role(mac); ok && reported != persisted {
		d.logger.Debug("restoring sensor role", "mac", mac, "reported", reported, "persisted", persisted)
		d.publishRole(mac, persisted)
	}

	d.bus.Publish(bus.Event{
		Topic:   bus.TopicDeviceData,
		Key:     bus.Key{MAC: mac, Event: plug.EventNowRelayingFor},
		Payload: out,
	})
}

// normalizeRole sets msg["role"] to the effective role: the message role
// if present, else the persisted role, else nil.
func (d *Dispatcher) normalizeRole(mac string, msg plug.Message) (string, bool) {
	if role, ok := msg.Role(); ok {
		msg["role"] = role
		return role, true
	}
	if persisted, ok := d.roles.Role(mac); ok {
		msg["role"] = persisted
		return persisted, true
	}
	msg["role"] = nil
	return "", false
}

func (d *Dispatcher) publishRole(mac, role string) {
	d.bus.Publish(bus.Event{
		Topic:   bus.TopicRoleUpdated,
		Key:     bus.Key{MAC: mac},
		Payload: bus.RoleUpdate{MAC: mac, Role: role},
	})
}
