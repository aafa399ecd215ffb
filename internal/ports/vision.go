package ports

import (
	"context"
	"time"
)

// FrameSource produces encoded camera frames.
type FrameSource interface {
	// NextFrame blocks until a frame is available or ctx is done.
	NextFrame(ctx context.Context) ([]byte, error)
}

// Detection is a face detection result from the inference engine.
type Detection struct {
	Faces     int
	Timestamp time.Time
}

// Recognition is a face recognition result from the inference engine.
type Recognition struct {
	Recognized bool
	Name       string
	Confidence float64
	Timestamp  time.Time
}

// DetectionSink receives results from the face pipeline. The inference
// engine itself is a black box; it only needs to call these methods.
type DetectionSink interface {
	OnDetection(d Detection)
	OnRecognition(r Recognition)
}
