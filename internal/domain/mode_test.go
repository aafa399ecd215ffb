package domain

import (
	"errors"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"standby", ModeStandby, false},
		{"1", ModeCameraActive, false},
		{"Recognition", ModeRecognitionActive, false},
		{"-1", ModeDisconnected, false},
		{"sleep", ModeDisconnected, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseMode(%q) err = %v", tt.in, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ParseMode(%q) err = %v, want ErrInvalidArgument", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestModeStringRoundTrip(t *testing.T) {
	for _, m := range []Mode{ModeDisconnected, ModeStandby, ModeCameraActive, ModeRecognitionActive} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if Mode(7).Valid() {
		t.Error("Mode(7) should be invalid")
	}
}
