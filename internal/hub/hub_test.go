package hub

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/boardlink/internal/adapters/fs"
	"github.com/bft-labs/boardlink/internal/app"
	"github.com/bft-labs/boardlink/internal/audio"
	"github.com/bft-labs/boardlink/internal/command"
	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/frame"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/internal/vision"
)

type recorder struct {
	mu    sync.Mutex
	items []domain.UploadItem
}

func (r *recorder) Send(_ context.Context, item domain.UploadItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

func (r *recorder) snapshot() []domain.UploadItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.UploadItem(nil), r.items...)
}

type rig struct {
	hub    *Hub
	board  *vision.Board
	faces  *recorder
	camera *recorder
	audio  *recorder
	status *fs.StatusFile
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Channel.PingInterval = 20 * time.Millisecond
	cfg.Channel.PingTimeout = 200 * time.Millisecond
	cfg.Channel.MonitorInterval = 5 * time.Millisecond
	cfg.Consumer.HandshakeDelay = time.Millisecond
	cfg.Reconcile.Interval = 20 * time.Millisecond
	cfg.Reconcile.SettleDelay = 5 * time.Millisecond
	cfg.Stream.CameraInterval = time.Millisecond
	cfg.FetchInterval = 2 * time.Millisecond
	cfg.StatusInterval = 10 * time.Millisecond
	return cfg
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	return newRigWithMic(t, cfg, nil)
}

func newRigWithMic(t *testing.T, cfg Config, mic ports.AudioSource) *rig {
	t.Helper()
	cmdA, cmdB := net.Pipe()
	frA, frB := net.Pipe()

	src, err := vision.NewPatternSource(800)
	if err != nil {
		t.Fatal(err)
	}
	bcfg := vision.DefaultConfig()
	bcfg.FrameInterval = 2 * time.Millisecond
	bcfg.Producer.PollTimeout = 2 * time.Millisecond
	bcfg.Producer.SizeWait = 5 * time.Millisecond

	r := &rig{
		board:  vision.NewBoard(link.NewPair(cmdA, frA, nil), src, bcfg, nil),
		faces:  &recorder{},
		camera: &recorder{},
		audio:  &recorder{},
		status: fs.NewStatusFile(t.TempDir()),
	}
	r.hub = New(link.NewPair(cmdB, frB, nil), Deps{
		Faces:      r.faces,
		Camera:     r.camera,
		Audio:      r.audio,
		Status:     r.status,
		Microphone: mic,
	}, cfg, nil)

	if err := r.hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.board.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		r.board.Stop()
		r.hub.Stop()
		for _, c := range []net.Conn{cmdA, cmdB, frA, frB} {
			c.Close()
		}
	})
	return r
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHub_ConvergesToRequestedMode(t *testing.T) {
	r := newRig(t, testConfig())
	ctx := context.Background()

	if err := r.hub.SetMode(ctx, domain.ModeRecognitionActive); err != nil {
		t.Logf("SetMode() = %v (the reconciler retries)", err)
	}
	eventually(t, "recognition mode", func() bool {
		return r.hub.State().Actual() == domain.ModeRecognitionActive
	})
	if r.board.Mode() != domain.ModeRecognitionActive {
		t.Errorf("board mode = %s", r.board.Mode())
	}

	if err := r.hub.SetMode(ctx, domain.ModeStandby); err != nil {
		t.Logf("SetMode() = %v", err)
	}
	eventually(t, "standby", func() bool {
		return r.hub.State().Actual() == domain.ModeStandby && r.board.Mode() == domain.ModeStandby
	})
}

func TestHub_RejectsInvalidMode(t *testing.T) {
	r := newRig(t, testConfig())
	for _, m := range []domain.Mode{domain.ModeDisconnected, domain.Mode(7)} {
		if err := r.hub.SetMode(context.Background(), m); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("SetMode(%s) = %v, want ErrInvalidArgument", m, err)
		}
	}
}

func TestHub_RecognitionUploadsLatestFrame(t *testing.T) {
	r := newRig(t, testConfig())
	r.hub.SetMode(context.Background(), domain.ModeRecognitionActive)

	eventually(t, "a frame", func() bool { return r.hub.Status().LastFrameSize == 800 })
	eventually(t, "recognition mode", func() bool {
		return r.board.Mode() == domain.ModeRecognitionActive
	})

	ts := time.UnixMilli(1_700_000_000_000)
	r.board.Sink().OnRecognition(ports.Recognition{Recognized: true, Name: "bob", Confidence: 0.91, Timestamp: ts})

	eventually(t, "face upload", func() bool { return len(r.faces.snapshot()) == 1 })
	item := r.faces.snapshot()[0]
	if item.Kind != domain.KindFaceDetection || !item.Meta.Recognized || item.Meta.Name != "bob" {
		t.Fatalf("item = %+v", item.Meta)
	}
	if !item.Meta.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", item.Meta.Timestamp, ts)
	}
	if err := frame.VerifyPattern(item.Payload); err != nil || len(item.Payload) != 800 {
		t.Errorf("payload len %d: %v", len(item.Payload), err)
	}
}

func TestHub_StreamsFramesWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.StreamCamera = true
	r := newRig(t, cfg)
	r.hub.SetMode(context.Background(), domain.ModeCameraActive)

	eventually(t, "camera uploads", func() bool { return len(r.camera.snapshot()) >= 2 })
	for _, item := range r.camera.snapshot() {
		if item.Kind != domain.KindCameraFrame || len(item.Payload) != 800 {
			t.Fatalf("camera item = %+v", item.Meta)
		}
	}

	r.hub.Streamer().StopCamera()
	time.Sleep(10 * time.Millisecond)
	n := r.hub.Streamer().Stats().Camera.Queued
	time.Sleep(30 * time.Millisecond)
	if got := r.hub.Streamer().Stats().Camera.Queued; got != n {
		t.Errorf("queued grew from %d to %d after StopCamera", n, got)
	}
}

func TestHub_LivenessAndStatusFile(t *testing.T) {
	r := newRig(t, testConfig())

	eventually(t, "connected", func() bool { return r.hub.Status().Connected })
	eventually(t, "status file", func() bool {
		st, err := r.status.Load(context.Background())
		return err == nil && st.Connected && st.ActualMode == domain.ModeStandby.String()
	})

	// Silence the board: the hub must mark it disconnected.
	r.board.Stop()
	eventually(t, "disconnected", func() bool {
		return r.hub.State().Actual() == domain.ModeDisconnected
	})
}

func TestHub_StartStop(t *testing.T) {
	r := newRig(t, testConfig())
	if r.hub.Lifecycle() != app.StateRunning {
		t.Fatalf("lifecycle = %s", r.hub.Lifecycle())
	}
	if err := r.hub.Start(context.Background()); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
	if err := r.hub.Stop(); err != nil {
		t.Fatal(err)
	}
	st, err := r.status.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.State != app.StateStopped.String() || st.StateReason != "stopped" {
		t.Errorf("final status state = %q (%q)", st.State, st.StateReason)
	}
	if err := r.hub.Stop(); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("second Stop() = %v, want ErrNotRunning", err)
	}
}

func TestHub_LinkLost(t *testing.T) {
	cmdA, cmdB := net.Pipe()
	frA, frB := net.Pipe()
	defer cmdA.Close()
	defer cmdB.Close()

	h := New(link.NewPair(cmdB, frB, nil), Deps{Faces: &recorder{}, Camera: &recorder{}, Audio: &recorder{}}, testConfig(), nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	frA.Close()
	select {
	case <-h.LinkLost():
	case <-time.After(3 * time.Second):
		t.Fatal("LinkLost not closed after the frame link failed")
	}
}

func TestHub_MicrophoneStreamsAudio(t *testing.T) {
	mic, err := audio.NewToneSource(440)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.StreamAudio = true
	cfg.Stream.AudioInterval = time.Millisecond
	r := newRigWithMic(t, cfg, mic)

	eventually(t, "audio chunks", func() bool { return len(r.audio.snapshot()) >= 3 })
	var last uint32
	for _, it := range r.audio.snapshot() {
		if it.Kind != domain.KindAudioChunk || len(it.Payload) != audio.ChunkBytes {
			t.Fatalf("item kind %v size %d", it.Kind, len(it.Payload))
		}
		if it.Meta.Sequence <= last {
			t.Fatalf("sequence %d after %d", it.Meta.Sequence, last)
		}
		last = it.Meta.Sequence
	}

	r.hub.StopMicrophone()
	time.Sleep(100 * time.Millisecond)
	n := len(r.audio.snapshot())
	time.Sleep(200 * time.Millisecond)
	if got := len(r.audio.snapshot()); got != n {
		t.Errorf("audio grew from %d to %d with the microphone off", n, got)
	}

	r.hub.StartMicrophone()
	eventually(t, "audio after restart", func() bool { return len(r.audio.snapshot()) > n })
	if st := r.hub.Status(); st.AudioStream.Sent == 0 {
		t.Errorf("status audio stream = %+v", st.AudioStream)
	}
}

func TestHub_NoCommandsBeforeBoardReportsMode(t *testing.T) {
	cmdA, cmdB := net.Pipe()
	frA, frB := net.Pipe()
	defer func() {
		for _, c := range []net.Conn{cmdA, cmdB, frA, frB} {
			c.Close()
		}
	}()
	go io.Copy(io.Discard, frA)

	cmds := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(cmdA)
		for sc.Scan() {
			if m, err := command.Decode(sc.Bytes()); err == nil && m.Cmd != "" {
				select {
				case cmds <- m.Cmd:
				default:
				}
			}
		}
	}()

	h := New(link.NewPair(cmdB, frB, nil), Deps{Faces: &recorder{}, Camera: &recorder{}, Audio: &recorder{}}, testConfig(), nil)
	h.State().SetDesired(domain.ModeCameraActive)
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	select {
	case c := <-cmds:
		t.Fatalf("command %q sent before the board reported a mode", c)
	case <-time.After(150 * time.Millisecond):
	}
	if h.State().Actual() != domain.ModeDisconnected {
		t.Fatalf("actual = %s, want disconnected", h.State().Actual())
	}

	if _, err := cmdA.Write([]byte(`{"status":"ready","mode":0}` + "\n")); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-cmds:
		if c != vision.CmdCameraControl {
			t.Errorf("first command = %q, want %q", c, vision.CmdCameraControl)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command after the board reported standby")
	}
}
