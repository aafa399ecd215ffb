package domain

import "time"

// StreamStats is a snapshot of an upload pipeline's counters.
type StreamStats struct {
	Queued           uint64        `json:"queued"`
	Sent             uint64        `json:"sent"`
	Failed           uint64        `json:"failed"`
	Overflowed       uint64        `json:"overflowed"`
	RateLimited      uint64        `json:"rate_limited"`
	Discarded        uint64        `json:"discarded"`
	LastSendDuration time.Duration `json:"last_send_duration"`
}

// LinkStats counts frame transport activity on either side of the link.
type LinkStats struct {
	Sent           uint64 `json:"sent"`
	Received       uint64 `json:"received"`
	Failed         uint64 `json:"failed"`
	Dropped        uint64 `json:"dropped"`
	Discarded      uint64 `json:"discarded"`
	Resyncs        uint64 `json:"resyncs"`
	DiscardedBytes uint64 `json:"discarded_bytes"`
}

// HubStatus is the diagnostic snapshot the controller persists periodically.
type HubStatus struct {
	UpdatedAt     time.Time   `json:"updated_at"`
	State         string      `json:"state"`
	StateReason   string      `json:"state_reason,omitempty"`
	Connected     bool        `json:"connected"`
	DesiredMode   string      `json:"desired_mode"`
	ActualMode    string      `json:"actual_mode"`
	Frames        LinkStats   `json:"frames"`
	Detections    uint64      `json:"detections"`
	FacesSkipped  uint64      `json:"faces_skipped"`
	FaceEvents    StreamStats `json:"face_events"`
	CameraStream  StreamStats `json:"camera_stream"`
	AudioStream   StreamStats `json:"audio_stream"`
	LastFrameID   uint16      `json:"last_frame_id"`
	LastFrameSize int         `json:"last_frame_size"`
}
