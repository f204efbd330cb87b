package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDevice    = "powersensor_device"
	MeasurementHousehold = "powersensor_household"
)

// WriteReading records one device event.
//
// Parameters:
//   - mac: Device MAC, stored as the "mac" tag
//   - event: Event name (average_power, summation_energy, ...), stored as the "event" tag
//   - role: Device role tag; omitted when empty
//   - fields: Numeric fields of the event
//   - ts: Reading time; zero means now
//
// Example:
//
//	client.WriteReading("aabbccddeeff", "average_power", "house-net",
//	    map[string]any{"watts": 412.5}, time.Time{})
func (c *Client) WriteReading(mac, event, role string, fields map[string]any, ts time.Time) {
	if len(fields) == 0 || !c.IsConnected() {
		return
	}
	p := influxdb2.NewPointWithMeasurement(MeasurementDevice).
		AddTag("mac", mac).
		AddTag("event", event).
		SetTime(stamp(ts))
	if role != "" {
		p.AddTag("role", role)
	}
	for k, v := range fields {
		p.AddField(k, v)
	}
	c.writeAPI.WritePoint(p)
}

// WriteHousehold records one virtual household figure.
//
// Parameters:
//   - figure: home_usage, from_grid, to_grid, solar_generation or a *_summation variant
//   - value: Watts for power figures, joules for summations
func (c *Client) WriteHousehold(figure string, value float64, ts time.Time) {
	c.WritePointWithTime(MeasurementHousehold,
		map[string]string{"figure": figure},
		map[string]any{"value": value},
		ts,
	)
}

// WritePoint writes a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point at ts, or now when ts is zero.
// Points written while disconnected are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, stamp(ts)))
}

func stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
