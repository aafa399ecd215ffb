package domain

// Frame is one image frame moved from the vision board to the controller.
type Frame struct {
	// ID is the producer-assigned frame identifier. It wraps at 65535.
	ID uint16

	// Timestamp is the producer's millisecond tick when the frame was sent.
	Timestamp uint32

	// Payload holds the encoded image bytes.
	Payload []byte
}

// Size returns the payload length in bytes.
func (f *Frame) Size() int {
	return len(f.Payload)
}
