package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the daemon publishes or consumes.
//
// Hierarchy:
//
//	powersensor/state/{mac}/{event}      device readings (retained)
//	powersensor/household/{figure}       virtual household figures (retained)
//	powersensor/device/{mac}/role        role changes (retained)
//	powersensor/system/status            online/offline (retained, LWT)
//	powersensor/system/have_solar        solar flag (retained)
//	powersensor/command/role/{mac}       inbound role assignments
const TopicPrefix = "powersensor"

// Topics provides builders for powersensor MQTT topics.
//
//	topic := mqtt.Topics{}.DeviceState("aa:bb:cc:dd:ee:ff", "average_power")
//	// powersensor/state/aa:bb:cc:dd:ee:ff/average_power
type Topics struct{}

// DeviceState returns the topic for one device event stream.
func (Topics) DeviceState(mac, event string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, mac, event)
}

// DeviceRole returns the topic announcing a device's role.
func (Topics) DeviceRole(mac string) string {
	return fmt.Sprintf("%s/device/%s/role", TopicPrefix, mac)
}

// Household returns the topic for a virtual household figure.
//
// Example: powersensor/household/from_grid
func (Topics) Household(figure string) string {
	return fmt.Sprintf("%s/household/%s", TopicPrefix, figure)
}

// SystemStatus returns the daemon status topic used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// HaveSolar returns the topic carrying the solar production flag.
func (Topics) HaveSolar() string {
	return TopicPrefix + "/system/have_solar"
}

// RoleCommand returns the inbound role assignment topic for one device.
func (Topics) RoleCommand(mac string) string {
	return fmt.Sprintf("%s/command/role/%s", TopicPrefix, mac)
}

// AllRoleCommands matches every inbound role assignment.
//
// Pattern: powersensor/command/role/+
func (Topics) AllRoleCommands() string {
	return TopicPrefix + "/command/role/+"
}

// AllDeviceStates matches every device reading.
//
// Pattern: powersensor/state/+/+
func (Topics) AllDeviceStates() string {
	return TopicPrefix + "/state/+/+"
}

// ParseRoleCommand extracts the MAC from a role command topic.
func ParseRoleCommand(topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/command/role/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopicFormat, topic)
	}
	return rest, nil
}
