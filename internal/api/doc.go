// Package api implements the go2wb inspection API: a small HTTP surface over
// a running wb.Session plus a WebSocket stream of control changes.
//
// This package provides:
//   - REST endpoints to list virtual devices and the control registry
//   - Control writes that go through Session.Set
//   - Journal history per control (when the journal is enabled)
//   - A WebSocket hub streaming "control.changed" events, filtered per client
//     by device/control patterns, with a "control.snapshot" on connect
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// The server works without the journal; the history endpoint then answers
// 503. Writes fail with 502 while the broker is unreachable.
package api
