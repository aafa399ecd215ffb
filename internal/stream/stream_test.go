package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/ports"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRateLimiter_Window(t *testing.T) {
	const interval = 200 * time.Millisecond
	clock := newFakeClock()
	rl := NewRateLimiter(interval, clock.Now)
	ok := func() error { return nil }

	tests := []struct {
		advance time.Duration
		want    bool
	}{
		{0, true},
		{interval / 2, false},
		{interval/2 + time.Millisecond, true},
	}
	for i, tt := range tests {
		clock.Advance(tt.advance)
		got, _ := rl.Admit(ok)
		if got != tt.want {
			t.Errorf("step %d: Admit() = %v, want %v", i, got, tt.want)
		}
	}
}

func TestRateLimiter_FailedEnqueueDoesNotConsumeWindow(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(time.Second, clock.Now)

	boom := errors.New("full")
	if admitted, err := rl.Admit(func() error { return boom }); !admitted || err != boom {
		t.Fatalf("Admit() = %v, %v", admitted, err)
	}
	if admitted, err := rl.Admit(func() error { return nil }); !admitted || err != nil {
		t.Fatalf("Admit after failed enqueue = %v, %v; want admitted", admitted, err)
	}

	rl.Reset()
	if admitted, _ := rl.Admit(func() error { return nil }); !admitted {
		t.Error("Reset should admit the next item")
	}
}

func newTestStreamer(t *testing.T, clock *fakeClock, sender ports.Sender) *Streamer {
	t.Helper()
	s := New(DefaultConfig(), sender, sender, nil, clock.Now)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestStreamer_RateLimitedFrames(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var sent []uint32
	s := newTestStreamer(t, clock, ports.SenderFunc(func(ctx context.Context, it domain.UploadItem) error {
		mu.Lock()
		sent = append(sent, it.Meta.FrameID)
		mu.Unlock()
		return nil
	}))
	s.StartCamera()
	interval := DefaultConfig().CameraInterval

	if err := s.QueueFrame([]byte{1}, 1); err != nil {
		t.Fatalf("frame at t = %v", err)
	}
	clock.Advance(interval / 2)
	if err := s.QueueFrame([]byte{2}, 2); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("frame at t+I/2 = %v, want ErrRateLimited", err)
	}
	clock.Advance(interval/2 + time.Millisecond)
	if err := s.QueueFrame([]byte{3}, 3); err != nil {
		t.Fatalf("frame at t+I+1 = %v", err)
	}

	st := s.Stats().Camera
	if st.Queued != 2 || st.RateLimited != 1 {
		t.Errorf("camera stats = %+v", st)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().Camera.Sent != 2 {
		if time.Now().After(deadline) {
			t.Fatal("frames not sent")
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 2 || sent[0] != 1 || sent[1] != 3 {
		t.Errorf("sent frames = %v, want [1 3]", sent)
	}
}

func TestStreamer_DisabledAndLimits(t *testing.T) {
	clock := newFakeClock()
	s := newTestStreamer(t, clock, ports.SenderFunc(func(context.Context, domain.UploadItem) error { return nil }))

	if err := s.QueueFrame([]byte{1}, 1); !errors.Is(err, domain.ErrStreamingDisabled) {
		t.Errorf("QueueFrame while off = %v", err)
	}
	if err := s.QueueAudio([]byte{1}, 1); !errors.Is(err, domain.ErrStreamingDisabled) {
		t.Errorf("QueueAudio while off = %v", err)
	}

	s.StartCamera()
	s.StartAudio()
	s.StartAudio()
	if !s.IsCameraStreaming() || !s.IsAudioStreaming() {
		t.Fatal("streams should be on")
	}
	if err := s.QueueFrame(make([]byte, 50001), 1); !errors.Is(err, domain.ErrTooLarge) {
		t.Errorf("oversized frame = %v", err)
	}
	if err := s.QueueAudio(make([]byte, 2049), 1); !errors.Is(err, domain.ErrTooLarge) {
		t.Errorf("oversized audio = %v", err)
	}
	if err := s.QueueAudio(nil, 1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty audio = %v", err)
	}
	if err := s.QueueAudio(make([]byte, 2048), 1); err != nil {
		t.Errorf("max-size audio = %v", err)
	}

	s.StopCamera()
	s.StopCamera()
	if s.IsCameraStreaming() {
		t.Error("camera should be off")
	}
}

func TestStreamer_StartCameraResetsLimiter(t *testing.T) {
	clock := newFakeClock()
	s := newTestStreamer(t, clock, ports.SenderFunc(func(context.Context, domain.UploadItem) error { return nil }))

	s.StartCamera()
	if err := s.QueueFrame([]byte{1}, 1); err != nil {
		t.Fatal(err)
	}
	s.StopCamera()
	s.StartCamera()
	if err := s.QueueFrame([]byte{2}, 2); err != nil {
		t.Errorf("first frame after restart = %v, want accepted", err)
	}
}

func TestStreamer_QueueOverflow(t *testing.T) {
	clock := newFakeClock()
	gate := make(chan struct{})
	s := New(DefaultConfig(), ports.SenderFunc(func(ctx context.Context, _ domain.UploadItem) error {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	}), nil, nil, clock.Now)
	// Workers not started: the camera queue fills at its capacity.
	s.StartCamera()

	for i := 0; i < DefaultConfig().CameraQueue; i++ {
		if err := s.QueueFrame([]byte{1}, uint32(i)); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		clock.Advance(time.Second)
	}
	if err := s.QueueFrame([]byte{1}, 9); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("overflow frame = %v, want ErrQueueFull", err)
	}
	clock.Advance(time.Millisecond)
	if err := s.QueueFrame([]byte{1}, 10); !errors.Is(err, domain.ErrQueueFull) {
		t.Errorf("frame after overflow = %v, want ErrQueueFull (window not consumed)", err)
	}
	if st := s.Stats().Camera; st.Overflowed != 2 || st.RateLimited != 0 {
		t.Errorf("camera stats = %+v", st)
	}
	close(gate)
	s.Stop()
}

func TestStreamer_SetIntervals(t *testing.T) {
	clock := newFakeClock()
	s := newTestStreamer(t, clock, ports.SenderFunc(func(context.Context, domain.UploadItem) error { return nil }))
	s.SetIntervals(time.Second, 0)
	if s.cameraLimit.Interval() != time.Second || s.audioLimit.Interval() != DefaultConfig().AudioInterval {
		t.Errorf("intervals = %v / %v", s.cameraLimit.Interval(), s.audioLimit.Interval())
	}
}
