// Package collab replicates signal values between processes.
//
// A Room is a named collection of shared entries, each entry pairing a
// string key with a JSON-encoded value, a Lamport clock, and the ID of
// the replica that wrote it. Conflicting writes are resolved with
// last-writer-wins: the higher clock wins, and on a clock tie the
// higher replica ID wins. Rooms converge regardless of the order in
// which updates arrive.
//
// SignalFor binds a key to a reactive signal, so remote writes flow
// into the local dependency graph and re-run memos and effects exactly
// like local writes do.
//
// The Hub serves rooms over WebSocket and the Client connects to one.
// Both exchange binary frames:
//
//	┌────────────┬─────────────────┬──────────┐
//	│ Frame Type │ Payload Length  │ Payload  │
//	│ (1 byte)   │ (uvarint)       │          │
//	└────────────┴─────────────────┴──────────┘
//
// A connection starts with Hello/Welcome: the client names the room,
// its replica ID, and the highest clock it has seen; the server answers
// with every entry written since that clock. After the handshake both
// sides exchange Update frames carrying changed entries.
package collab
