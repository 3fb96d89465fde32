// Package hub coordinates live chat connections.
//
// The Hub owns every accepted WebSocket connection. It binds each one to the
// identity verified at handshake, supervises it with a heartbeat Monitor,
// keeps the presence Registry, pushes full presence snapshots to every
// connection whenever the registry changes, and relays persisted messages to
// the recipient's connections.
package hub
