package domain

import "errors"

// Domain errors returned by the public API. Check them with errors.Is.
var (
	// ErrBusy is returned when the frame transport queue is full.
	ErrBusy = errors.New("boardlink: frame queue busy")

	// ErrQueueFull is returned when an upload pipeline queue is full.
	ErrQueueFull = errors.New("boardlink: upload queue full")

	// ErrInvalidArgument is returned for nil or empty payloads and bad parameters.
	ErrInvalidArgument = errors.New("boardlink: invalid argument")

	// ErrRateLimited is returned when a stream item arrives before its interval elapsed.
	ErrRateLimited = errors.New("boardlink: rate limited")

	// ErrStreamingDisabled is returned when a stream item arrives while the stream is off.
	ErrStreamingDisabled = errors.New("boardlink: streaming disabled")

	// ErrTooLarge is returned when a payload exceeds the configured maximum.
	ErrTooLarge = errors.New("boardlink: payload too large")

	// ErrAlreadyRunning is returned when Start() is called on a running component.
	ErrAlreadyRunning = errors.New("boardlink: already running")

	// ErrNotRunning is returned when work is submitted to a stopped component.
	ErrNotRunning = errors.New("boardlink: not running")

	// ErrHandshakeFailed is returned when the frame transport handshake gives up.
	ErrHandshakeFailed = errors.New("boardlink: handshake failed")

	// ErrNotReady is returned for frame requests issued before a handshake.
	ErrNotReady = errors.New("boardlink: transport not ready")

	// ErrBadMagic is returned when a frame header does not start with 0x55 0xAA.
	ErrBadMagic = errors.New("boardlink: bad frame magic")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("boardlink: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("boardlink: invalid configuration")
)
