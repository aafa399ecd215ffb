package vision

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bft-labs/boardlink/internal/command"
	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/frame"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/internal/ports"
)

type harness struct {
	board    *Board
	ctl      *command.Channel
	consumer *frame.Consumer
	statuses chan *command.Message
	events   chan *command.Message
}

func newHarness(t *testing.T, source ports.FrameSource) *harness {
	t.Helper()
	cmdA, cmdB := net.Pipe()
	frA, frB := net.Pipe()

	cfg := DefaultConfig()
	cfg.FrameInterval = 5 * time.Millisecond
	cfg.Producer.PollTimeout = 5 * time.Millisecond
	cfg.Producer.SizeWait = 10 * time.Millisecond

	h := &harness{
		board:    NewBoard(link.NewPair(cmdA, frA, nil), source, cfg, nil),
		ctl:      command.NewChannel(cmdB, command.DefaultConfig(), nil),
		consumer: frame.NewConsumer(frB, frame.DefaultConsumerConfig(), nil),
		statuses: make(chan *command.Message, 16),
		events:   make(chan *command.Message, 16),
	}
	h.ctl.OnStatus(func(m *command.Message) { h.statuses <- m })
	h.ctl.OnEvent(func(m *command.Message) { h.events <- m })
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.board.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		h.board.Stop()
		h.ctl.Stop()
		for _, c := range []net.Conn{cmdA, cmdB, frA, frB} {
			c.Close()
		}
	})
	return h
}

func (h *harness) status(t *testing.T) *command.Message {
	t.Helper()
	select {
	case m := <-h.statuses:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no status reply")
	}
	return nil
}

func (h *harness) do(t *testing.T, name string, params map[string]any) *command.Message {
	t.Helper()
	if err := h.ctl.SendCommand(name, params); err != nil {
		t.Fatalf("SendCommand(%s) = %v", name, err)
	}
	return h.status(t)
}

func mustPattern(t *testing.T, n int) *PatternSource {
	t.Helper()
	s, err := NewPatternSource(n)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBoard_ModeCommands(t *testing.T) {
	h := newHarness(t, mustPattern(t, 64))

	ready := h.status(t)
	if ready.Status != command.StatusReady || ready.Mode == nil || *ready.Mode != 0 {
		t.Fatalf("ready = %+v", ready)
	}

	camera := func(name string) map[string]any { return map[string]any{"name": name} }
	steps := []struct {
		cmd    string
		params map[string]any
		status string
		mode   domain.Mode
	}{
		{CmdStartRecognition, nil, command.StatusError, domain.ModeStandby},
		{CmdCameraControl, camera("camera_start"), command.StatusOK, domain.ModeCameraActive},
		{CmdCameraControl, camera("camera_start"), command.StatusInfo, domain.ModeCameraActive},
		{CmdStartRecognition, nil, command.StatusOK, domain.ModeRecognitionActive},
		{CmdStartRecognition, nil, command.StatusInfo, domain.ModeRecognitionActive},
		{CmdStopRecognition, nil, command.StatusOK, domain.ModeCameraActive},
		{CmdStopRecognition, nil, command.StatusInfo, domain.ModeCameraActive},
		{CmdCameraControl, camera("camera_stop"), command.StatusOK, domain.ModeStandby},
		{CmdCameraControl, camera("camera_stop"), command.StatusInfo, domain.ModeStandby},
		{CmdCameraControl, camera("zoom"), command.StatusError, domain.ModeStandby},
		{CmdCameraControl, nil, command.StatusError, domain.ModeStandby},
		{CmdTest, nil, command.StatusOK, domain.ModeStandby},
		{CmdFrameStats, nil, command.StatusOK, domain.ModeStandby},
		{CmdGetStatus, nil, command.StatusOK, domain.ModeStandby},
	}
	for i, s := range steps {
		m := h.do(t, s.cmd, s.params)
		if m.Status != s.status || m.Mode == nil || domain.Mode(*m.Mode) != s.mode {
			t.Fatalf("step %d (%s %v): reply %+v, want status %s mode %s", i, s.cmd, s.params, m, s.status, s.mode)
		}
	}
	if h.board.Mode() != domain.ModeStandby {
		t.Errorf("Mode() = %s", h.board.Mode())
	}
}

func TestBoard_ServesFramesWhileCameraOn(t *testing.T) {
	h := newHarness(t, mustPattern(t, 1500))
	h.status(t)
	ctx := context.Background()

	if err := h.consumer.PerformHandshake(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if f, err := h.consumer.Fetch(ctx); err != nil || f != nil {
		t.Fatalf("Fetch in standby = %v, %v; want nothing", f, err)
	}

	h.do(t, CmdCameraControl, map[string]any{"name": "camera_start"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := h.consumer.Fetch(ctx)
		if err != nil {
			t.Fatalf("Fetch() = %v", err)
		}
		if f != nil {
			if f.Size() != 1500 {
				t.Fatalf("frame size = %d", f.Size())
			}
			if err := frame.VerifyPattern(f.Payload); err != nil {
				t.Fatal(err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame served after camera_start")
		}
	}
	if h.board.Stats().Captured == 0 {
		t.Error("captured counter not advanced")
	}
}

func TestBoard_SinkForwardsOnlyDuringRecognition(t *testing.T) {
	h := newHarness(t, mustPattern(t, 16))
	h.status(t)
	sink := h.board.Sink()
	now := time.UnixMilli(5000)

	sink.OnRecognition(ports.Recognition{Recognized: true, Name: "alice", Timestamp: now})

	h.do(t, CmdCameraControl, map[string]any{"name": "camera_start"})
	h.do(t, CmdStartRecognition, nil)

	sink.OnRecognition(ports.Recognition{Recognized: true, Name: "alice", Confidence: 0.9, Timestamp: now})
	select {
	case ev := <-h.events:
		if ev.Event != EventRecognition || ev.Data["name"] != "alice" || ev.Data["recognized"] != true {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recognition event not forwarded")
	}

	h.do(t, CmdPauseDetection, nil)
	sink.OnDetection(ports.Detection{Faces: 2, Timestamp: now})
	select {
	case ev := <-h.events:
		t.Fatalf("event forwarded while paused: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}

	h.do(t, CmdResumeDetection, nil)
	sink.OnDetection(ports.Detection{Faces: 2, Timestamp: now})
	select {
	case ev := <-h.events:
		if ev.Event != EventDetection {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detection event not forwarded after resume")
	}
	if got := h.board.Stats().Events; got != 2 {
		t.Errorf("events = %d, want 2", got)
	}
}

func TestBoard_StopTwice(t *testing.T) {
	h := newHarness(t, mustPattern(t, 16))
	if err := h.board.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := h.board.Stop(); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("second Stop() = %v, want ErrNotRunning", err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"b.jpg": "B", "a.JPEG": "A", "notes.txt": "x"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s, err := NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	var got string
	for i := 0; i < 3; i++ {
		b, err := s.NextFrame(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		got += string(b)
	}
	if got != "ABA" {
		t.Errorf("frames = %q, want ABA", got)
	}

	if _, err := NewDirSource(t.TempDir()); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("NewDirSource(empty) = %v, want ErrInvalidConfig", err)
	}
}

func TestPatternSource_Validation(t *testing.T) {
	for _, n := range []int{0, -1, frame.DefaultMaxFrameSize + 1} {
		if _, err := NewPatternSource(n); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("NewPatternSource(%d) = %v", n, err)
		}
	}
}
