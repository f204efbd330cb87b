// Package influxdb stores powersensor readings as time series.
//
// Each device event becomes a point in the powersensor_device measurement
// tagged by mac, event and role; household figures go to
// powersensor_household tagged by figure. Writes are batched and
// non-blocking, and are silently dropped while disconnected so a slow or
// absent InfluxDB never stalls the dispatcher.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history disabled
//	}
//	client.WriteHousehold("from_grid", 350, time.Now())
package influxdb
