package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/aadegtyarev/go2wb/internal/wb"
)

// Measurement is the measurement name for exported control values.
const Measurement = "control_value"

// WriteControlValue queues one numeric control sample.
//
//	client.WriteControlValue("wb-msw", "Temperature", 21.5)
func (c *Client) WriteControlValue(device, control string, value float64) {
	c.WriteControlValueAt(device, control, value, time.Now())
}

// WriteControlValueAt is WriteControlValue with an explicit timestamp.
func (c *Client) WriteControlValueAt(device, control string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		Measurement,
		map[string]string{
			"device":  device,
			"control": control,
		},
		map[string]any{
			"value": value,
		},
		ts,
	)
	c.writeAPI.WritePoint(point)
}

// Observer returns a session observer exporting numeric values.
// Text and Unknown values are skipped.
func (c *Client) Observer() wb.ChangeObserver {
	return func(path wb.ControlPath, value wb.Value, _ string) {
		f, ok := value.Float()
		if !ok {
			return
		}
		c.WriteControlValue(path.Device, path.Control, f)
	}
}
