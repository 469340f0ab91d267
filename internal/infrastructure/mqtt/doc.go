// Package mqtt provides MQTT client connectivity for Arvis Core.
//
// MQTT carries both directions of room traffic:
//
//	producers (mic, PIR, camera, scheduler) → signal topics → Core
//	Core → command topics → actuators (LED strip, speaker, smart plugs)
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and a bounded acknowledgement wait
//   - Subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament so observers see Core go offline
//
// # Errors
//
// ErrNotConnected, ErrTimeout and ErrPublishFailed describe broker
// conditions that may clear by themselves; IsTransient groups them so the
// capability layer can ask the dispatcher for its one silent retry.
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.Room.ID)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllSignals(), 1, ingester.HandleMessage)
//	err = client.PublishJSON(topics.Command("lights"), cmd)
package mqtt
