// Package mqtt provides the broker session used by go2wb.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and subscription restore
//   - Publishing with QoS and retain flag, waiting for acknowledgment
//   - An unbounded inbound FIFO queue fed by broker subscriptions
//   - Local pattern routes dispatched from a single Run loop
//   - MQTT topic filter matching ("+" and "#")
//
// # Dispatch model
//
// The broker usually sees one wide subscription ("#") plus any filters it
// does not cover. Every message that arrives is queued, never dropped; Run pops messages one at a time and calls each route
// whose pattern matches, in registration order:
//
//	paho router -> inbound queue -> Run -> routes (OnMessage)
//
// Routes can be added and removed at any time, including from inside a
// handler. Routes and broker subscriptions are managed separately: removing
// a route never touches a subscription, Unsubscribe does.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnMessage("/devices/+/controls/+", func(topic string, payload []byte) error {
//	    log.Printf("%s = %s", topic, payload)
//	    return nil
//	})
//	if err := client.Subscribe("#", 0); err != nil {
//	    log.Fatal(err)
//	}
//	go client.Run(ctx)
package mqtt
