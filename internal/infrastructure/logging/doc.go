// Package logging provides structured logging for go2wb.
//
// It wraps log/slog with a JSON or text handler and stamps every record
// with service and version fields.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("virtual device created", "device", "my_device")
//
// Never log broker passwords or the InfluxDB token.
package logging
