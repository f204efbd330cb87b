package bus

// PlugRequest describes a plug found by discovery. It is the payload of
// the materialize, ack, and removal topics for plugs.
type PlugRequest struct {
	MAC  string `json:"mac"`
	Host string `json:"host"`
	Port int    `json:"port"`
	Name string `json:"name"`
}

// SensorRequest describes a sensor heard through a relaying plug.
type SensorRequest struct {
	MAC  string `json:"mac"`
	Role string `json:"role,omitempty"`
}

// RoleUpdate carries a role to persist. An empty Role clears nothing; the
// role store ignores it.
type RoleUpdate struct {
	MAC  string `json:"mac"`
	Role string `json:"role"`
}
