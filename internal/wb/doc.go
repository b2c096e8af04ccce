// Package wb implements Wiren Board virtual devices on top of an MQTT broker.
//
// A Session keeps three pieces of state behind one mutex:
//   - a Registry of the last value seen on every /devices/+/controls/+ topic
//   - the virtual devices this process publishes
//   - a table of topic patterns, each with an ordered list of bindings
//
// # Topic convention
//
//	/devices/{d}/meta                        {"driver": ..., "title": {...}}   retained
//	/devices/{d}/controls/{c}/meta           control spec JSON                 retained
//	/devices/{d}/controls/{c}/meta/type      type string                       retained
//	/devices/{d}/controls/{c}                encoded value                     retained for virtual devices
//	/devices/{d}/controls/{c}/on             encoded value (command)           not retained
//	/devices/{d}/controls/{c}/meta/error     error text
//
// # Commands
//
// Each virtual control has a watcher on its ".../on" topic. A command is
// republished, retained, to the state topic; the registry picks the new
// value up when the broker echoes it back.
//
// # Dispatch
//
// Every pattern with at least one binding owns one broker route. The broker
// matches wildcards and calls the route from its run loop; the session then
// updates the registry and runs callbacks after releasing its lock.
//
// Usage:
//
//	sess, err := wb.NewSession(broker, wb.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	sess.CreateVirtualDevice("my_device", wb.PlainTitle("My Device"),
//	    wb.ControlSpec{Name: "temp", Type: "temperature", Default: wb.FloatValue(21.5)})
//	sess.SubscribeValue(func(d, c string, v wb.Value) {
//	    log.Printf("%s/%s = %s", d, c, v)
//	}, wb.Path("wb-gpio", "+"))
//	return sess.Run(ctx)
package wb
