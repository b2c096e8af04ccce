// Package influxdb exports numeric control values to InfluxDB v2.
//
// It wraps the official influxdb-client-go library. Each sample is written
// as measurement "control_value" with tags device and control and a single
// float field "value".
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("influx write", "error", err) })
//	sess.AddObserver(client.Observer())
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval), so write
// errors are delivered asynchronously to the SetOnError callback. Connection
// and health check errors are returned directly.
package influxdb
