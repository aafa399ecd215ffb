// Package domain contains the core entities shared by both boards.
//
// It has no dependencies on transports, logging or configuration.
//
// # Entities
//
//   - [Frame]: one image frame as moved over the frame transport
//   - [Mode]: the operating mode of the vision board
//   - [UploadItem]: a unit of work for an async upload pipeline
//   - [StreamStats]: a snapshot of pipeline counters
package domain
