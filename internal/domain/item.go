package domain

import "time"

// ItemKind identifies what an UploadItem carries.
type ItemKind int

const (
	KindFaceDetection ItemKind = iota
	KindCameraFrame
	KindAudioChunk
)

// String returns a short name for logs.
func (k ItemKind) String() string {
	switch k {
	case KindFaceDetection:
		return "face_detection"
	case KindCameraFrame:
		return "camera_frame"
	case KindAudioChunk:
		return "audio_chunk"
	default:
		return "unknown"
	}
}

// ItemMeta carries the per-kind metadata of an upload.
// Fields that do not apply to a kind are left zero.
type ItemMeta struct {
	FrameID    uint32
	Sequence   uint32
	Timestamp  time.Time
	Recognized bool
	Name       string
	Confidence float64
}

// UploadItem is one unit of work for an upload pipeline.
// The pipeline owns Payload once the item is accepted.
type UploadItem struct {
	Kind       ItemKind
	Meta       ItemMeta
	Payload    []byte
	EnqueuedAt time.Time
}
