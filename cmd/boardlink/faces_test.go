package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bft-labs/boardlink/internal/adapters/pg"
)

func TestPrintFaceEvents(t *testing.T) {
	var buf bytes.Buffer
	if err := printFaceEvents(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No face events") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	events := []pg.FaceEvent{
		{ID: 7, FrameID: 42, Recognized: true, Name: "alice", Confidence: 0.934, ImageBytes: 1200, DetectedAt: time.Now()},
		{ID: 6, FrameID: 40, Name: "ignored", ImageBytes: 900, DetectedAt: time.Now()},
	}
	if err := printFaceEvents(&buf, events); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "alice") || !strings.Contains(lines[2], "0.93") {
		t.Errorf("row = %q", lines[2])
	}
	if !strings.Contains(lines[3], "(unknown)") || strings.Contains(lines[3], "ignored") {
		t.Errorf("row = %q", lines[3])
	}
}
