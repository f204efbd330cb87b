// Package plug is the UDP telemetry client for Powersensor plugs.
//
// A plug streams JSON readings to every address that has sent it the text
// command "subscribe(1)" and stops when it receives "subscribe(0)". Plugs
// also relay readings from nearby battery sensors, so one connection can
// carry several MACs.
//
// The client decodes each datagram into named events from a fixed
// vocabulary (average_power, summation_energy, battery_level, ...) and
// delivers them to per-event handlers on a dedicated goroutine, so slow
// handlers never stall the socket reader. Undecodable datagrams arrive as
// the "exception" event.
//
//	c := plug.New(mac, "192.168.1.40", 49476, plug.WithLogger(log))
//	c.Subscribe(plug.EventAveragePower, func(event string, msg plug.Message) {
//	    watts, _ := msg.Float("watts")
//	    ...
//	})
//	if err := c.Connect(); err != nil {
//	    return err
//	}
//	defer c.Disconnect(ctx)
package plug
