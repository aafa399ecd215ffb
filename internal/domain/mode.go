package domain

import (
	"fmt"
	"strings"
)

// Mode is the operating mode of the vision board.
type Mode int

const (
	ModeDisconnected      Mode = -1
	ModeStandby           Mode = 0
	ModeCameraActive      Mode = 1
	ModeRecognitionActive Mode = 2
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDisconnected:
		return "disconnected"
	case ModeStandby:
		return "standby"
	case ModeCameraActive:
		return "camera_active"
	case ModeRecognitionActive:
		return "recognition_active"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m >= ModeDisconnected && m <= ModeRecognitionActive
}

// CameraOn reports whether the camera runs in this mode.
func (m Mode) CameraOn() bool {
	return m == ModeCameraActive || m == ModeRecognitionActive
}

// ParseMode accepts a wire name or a numeric mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disconnected", "-1":
		return ModeDisconnected, nil
	case "standby", "0":
		return ModeStandby, nil
	case "camera_active", "camera", "1":
		return ModeCameraActive, nil
	case "recognition_active", "recognition", "2":
		return ModeRecognitionActive, nil
	}
	return ModeDisconnected, fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, s)
}
