package ports

import "context"

// AudioSource produces raw microphone chunks for the backend audio stream.
type AudioSource interface {
	// NextChunk blocks until the next chunk has been captured or ctx is done.
	NextChunk(ctx context.Context) ([]byte, error)
}
