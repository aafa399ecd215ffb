// Package ports defines the interfaces that connect the boardlink core to
// infrastructure adapters.
//
//   - [Sender]: delivers one upload item to the backend (HTTP, WebSocket, Postgres)
//   - [CommandSender]: issues a named command to the peer board
//   - [FrameSource]: produces encoded camera frames on the vision board
//   - [DetectionSink]: receives face detection and recognition results
//   - [AudioSource]: produces microphone chunks on the controller
//   - [StatusRepository]: persists diagnostic snapshots
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// The core packages depend only on these interfaces; internal/adapters holds
// the concrete implementations.
package ports
