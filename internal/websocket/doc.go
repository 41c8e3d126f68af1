// Package websocket pushes reconciliation pass snapshots to connected
// dashboard clients. The hub fans broadcast messages out to every
// client; slow clients are dropped rather than allowed to stall the
// pipeline.
package websocket
