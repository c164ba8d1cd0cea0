// Package mqtt connects the Ai-Link bridge to an MQTT broker.
//
// The broker is how Home Assistant sees the water heaters: the bridge
// publishes retained discovery configs, device snapshots and availability,
// and subscribes to per-field command topics.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Last Will and Testament on ailink/bridge/status
//   - Publish/subscribe with QoS validation and handler panic recovery
//   - Topic layout (see Topics)
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.HomeAssistant.TopicPrefix)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        id, field, _ := topics.ParseDeviceCommand(topic)
//	        return handle(id, field, payload)
//	    })
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) when the broker is not on the same host
//   - Anyone able to publish to ailink/+/+/set can operate the heaters;
//     restrict it with broker ACLs
package mqtt
