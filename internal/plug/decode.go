package plug

import (
	"encoding/json"
	"fmt"
)

// reading is the plug's instant_power datagram.
type reading struct {
	Type             string   `json:"type"`
	Device           string   `json:"device"`
	MAC              string   `json:"mac"`
	Role             *string  `json:"role"`
	Unit             string   `json:"unit"`
	Power            *float64 `json:"power"`
	Duration         *float64 `json:"duration"`
	StartTime        *float64 `json:"starttime"`
	Summation        *float64 `json:"summation"`
	SummationStart   *float64 `json:"summation_start"`
	Voltage          *float64 `json:"voltage"`
	ActiveCurrent    *float64 `json:"active_current"`
	ReactiveCurrent  *float64 `json:"reactive_current"`
	Current          *float64 `json:"current"`
	BatteryMicrovolt *float64 `json:"batteryMicrovolt"`
	RSSI             *float64 `json:"rssi"`

	// hasRole records whether the key was present at all, null included.
	hasRole bool
}

// delivery is one event produced from a datagram.
type delivery struct {
	event string
	msg   Message
}

const microvoltsPerVolt = 1e6

// decoder turns datagrams into events. It remembers which relayed sensor
// MACs have been announced on this connection. Not safe for concurrent use;
// the read loop owns it.
type decoder struct {
	plugMAC  string
	relaying map[string]struct{}
}

func newDecoder(plugMAC string) *decoder {
	return &decoder{plugMAC: plugMAC, relaying: make(map[string]struct{})}
}

// decode maps one datagram to zero or more events. Readings of unknown
// type are ignored; malformed datagrams become an exception event.
func (d *decoder) decode(data []byte) []delivery {
	var r reading
	if err := json.Unmarshal(data, &r); err != nil {
		return d.exception(fmt.Errorf("%w: %w", ErrMalformedDatagram, err))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		_, r.hasRole = raw["role"]
	}

	if r.Type != "instant_power" {
		return nil
	}
	if r.MAC == "" {
		return d.exception(fmt.Errorf("%w: reading without mac", ErrMalformedDatagram))
	}

	var out []delivery
	if r.Device == DeviceSensor && r.MAC != d.plugMAC {
		if _, seen := d.relaying[r.MAC]; !seen {
			d.relaying[r.MAC] = struct{}{}
			msg := Message{"mac": r.MAC, "device_type": DeviceSensor}
			r.putRole(msg)
			out = append(out, delivery{EventNowRelayingFor, msg})
		}
	}

	switch r.Unit {
	case "W", "w":
		out = append(out, r.power()...)
	case "L", "l":
		out = append(out, r.flow()...)
	default:
		return append(out, d.exception(fmt.Errorf("%w: unknown unit %q", ErrMalformedDatagram, r.Unit))...)
	}

	if r.Device == DeviceSensor {
		out = append(out, r.sensorExtras()...)
	} else {
		out = append(out, r.plugExtras()...)
	}
	return out
}

func (d *decoder) exception(err error) []delivery {
	return []delivery{{EventException, Message{"mac": d.plugMAC, "error": err.Error()}}}
}

func (r *reading) putRole(msg Message) {
	if !r.hasRole {
		return
	}
	if r.Role == nil {
		msg["role"] = nil
		return
	}
	msg["role"] = *r.Role
}

func putFloat(msg Message, key string, v *float64) {
	if v != nil {
		msg[key] = *v
	}
}

func (r *reading) power() []delivery {
	var out []delivery
	if r.Power != nil {
		msg := Message{"mac": r.MAC, "watts": *r.Power, "device": r.deviceType()}
		putFloat(msg, "duration_s", r.Duration)
		putFloat(msg, "starttime_utc", r.StartTime)
		r.putRole(msg)
		out = append(out, delivery{EventAveragePower, msg})
	}
	if r.Summation != nil {
		msg := Message{"mac": r.MAC, "summation_joules": *r.Summation}
		putFloat(msg, "summation_resettime_utc", r.SummationStart)
		r.putRole(msg)
		out = append(out, delivery{EventSummationEnergy, msg})
	}
	return out
}

func (r *reading) flow() []delivery {
	var out []delivery
	if r.Power != nil {
		msg := Message{"mac": r.MAC, "litres_per_minute": *r.Power}
		putFloat(msg, "duration_s", r.Duration)
		r.putRole(msg)
		out = append(out, delivery{EventAverageFlow, msg})
	}
	if r.Summation != nil {
		msg := Message{"mac": r.MAC, "summation_litres": *r.Summation}
		putFloat(msg, "summation_resettime_utc", r.SummationStart)
		r.putRole(msg)
		out = append(out, delivery{EventSummationVolume, msg})
	}
	return out
}

func (r *reading) plugExtras() []delivery {
	if r.Voltage == nil && r.ActiveCurrent == nil && r.ReactiveCurrent == nil && r.Current == nil {
		return nil
	}
	msg := Message{"mac": r.MAC}
	putFloat(msg, "volts", r.Voltage)
	putFloat(msg, "active_current", r.ActiveCurrent)
	putFloat(msg, "reactive_current", r.ReactiveCurrent)
	putFloat(msg, "apparent_current", r.Current)
	return []delivery{{EventAveragePowerComponents, msg}}
}

func (r *reading) sensorExtras() []delivery {
	var out []delivery
	if r.BatteryMicrovolt != nil {
		out = append(out, delivery{EventBatteryLevel,
			Message{"mac": r.MAC, "volts": *r.BatteryMicrovolt / microvoltsPerVolt}})
	}
	if r.RSSI != nil {
		out = append(out, delivery{EventRadioSignalQuality,
			Message{"mac": r.MAC, "average_rssi": *r.RSSI}})
	}
	return out
}

func (r *reading) deviceType() string {
	if r.Device == DeviceSensor {
		return DeviceSensor
	}
	return DevicePlug
}
