package device

import "time"

// Kind distinguishes plugs, which the daemon connects to, from sensors,
// which are only heard through a relaying plug.
type Kind string

// Device kinds.
const (
	KindPlug   Kind = "plug"
	KindSensor Kind = "sensor"
)

// AllKinds returns every valid kind.
func AllKinds() []Kind {
	return []Kind{KindPlug, KindSensor}
}

// Device is one materialized plug or sensor.
// This matches the devices table in migrations/20260301_120000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	MAC  string `json:"mac"`
	Kind Kind   `json:"kind"`
	Name string `json:"name"`

	// Network address; sensors have none.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// Role as last materialized. The role store holds the persisted value.
	Role string `json:"role,omitempty"`

	// Presence
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.LastSeen != nil {
		t := *d.LastSeen
		cp.LastSeen = &t
	}
	return &cp
}
