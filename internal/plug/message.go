package plug

// Event names delivered by the client.
const (
	EventAverageFlow            = "average_flow"
	EventAveragePower           = "average_power"
	EventAveragePowerComponents = "average_power_components"
	EventBatteryLevel           = "battery_level"
	EventRadioSignalQuality     = "radio_signal_quality"
	EventSummationEnergy        = "summation_energy"
	EventSummationVolume        = "summation_volume"
	EventNowRelayingFor         = "now_relaying_for"
	EventException              = "exception"
)

// Events is the full vocabulary, in the order handlers are usually bound.
var Events = []string{
	EventAverageFlow,
	EventAveragePower,
	EventAveragePowerComponents,
	EventBatteryLevel,
	EventRadioSignalQuality,
	EventSummationEnergy,
	EventSummationVolume,
	EventNowRelayingFor,
	EventException,
}

// Device types reported in the "device" and "device_type" fields.
const (
	DevicePlug   = "plug"
	DeviceSensor = "sensor"
)

// Message is one decoded event. Every message carries "mac"; the other
// fields depend on the event.
type Message map[string]any

// MAC returns the device identity the message is about.
func (m Message) MAC() string {
	s, _ := m["mac"].(string)
	return s
}

// String returns a string field, or "" when absent or not a string.
func (m Message) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Float returns a numeric field.
func (m Message) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Role returns the role carried by the message. Missing, null, and empty
// roles all report false.
func (m Message) Role() (string, bool) {
	s, ok := m["role"].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Clone returns a shallow copy safe to modify.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
