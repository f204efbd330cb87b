// Package mqtt connects the powersensor daemon to an MQTT broker.
//
// The daemon publishes every device reading and household figure as a
// retained message so home-automation consumers can pick up the latest
// value on subscribe, and it accepts role assignments on
// powersensor/command/role/{mac}. The package covers:
//   - Connection with auto-reconnect and subscription restore
//   - Retained LWT on powersensor/system/status
//   - Publish/subscribe with QoS validation
//   - Topic builders and parsers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllRoleCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        mac, err := mqtt.ParseRoleCommand(topic)
//	        ...
//	    })
//
//	client.PublishJSON(mqtt.Topics{}.DeviceState(mac, "average_power"), reading, true)
package mqtt
