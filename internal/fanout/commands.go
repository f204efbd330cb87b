package fanout

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/mqtt"
)

// CommandSubscriber subscribes to MQTT topics. *mqtt.Client satisfies it.
type CommandSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Publisher is the bus surface RoleCommands needs.
type Publisher interface {
	Publish(ev bus.Event)
}

// roleCommand is the JSON form of a role assignment. A bare string
// payload is accepted too.
type roleCommand struct {
	Role string `json:"role"`
}

// RoleCommands subscribes to powersensor/command/role/+ and republishes
// each assignment as role-updated.
//
// Parameters:
//   - sub: MQTT client
//   - pub: Bus the role store listens on
//   - logger: Receives rejected commands at warn
//
// Returns:
//   - error: If the subscription fails
func RoleCommands(sub CommandSubscriber, pub Publisher, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}
	topic := mqtt.Topics{}.AllRoleCommands()
	return sub.Subscribe(topic, 1, func(t string, payload []byte) error {
		mac, err := mqtt.ParseRoleCommand(t)
		if err != nil {
			logger.Warn("ignoring role command", "topic", t, "error", err)
			return nil
		}
		role, err := ParseRolePayload(payload)
		if err != nil {
			logger.Warn("ignoring role command", "topic", t, "error", err)
			return nil
		}
		pub.Publish(bus.Event{
			Topic:   bus.TopicRoleUpdated,
			Key:     bus.Key{MAC: mac},
			Payload: bus.RoleUpdate{MAC: mac, Role: role},
		})
		return nil
	})
}

// ParseRolePayload accepts {"role":"solar"}, "solar" or solar.
func ParseRolePayload(payload []byte) (string, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return "", fmt.Errorf("empty role payload")
	}

	var role string
	switch trimmed[0] {
	case '{':
		var cmd roleCommand
		if err := json.Unmarshal([]byte(trimmed), &cmd); err != nil {
			return "", fmt.Errorf("decoding role payload: %w", err)
		}
		role = cmd.Role
	case '"':
		if err := json.Unmarshal([]byte(trimmed), &role); err != nil {
			return "", fmt.Errorf("decoding role payload: %w", err)
		}
	default:
		role = trimmed
	}

	role = strings.TrimSpace(role)
	if role == "" {
		return "", fmt.Errorf("empty role")
	}
	return role, nil
}
