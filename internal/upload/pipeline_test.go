package upload

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
)

type recordingSender struct {
	mu    sync.Mutex
	items []domain.UploadItem
	fail  map[uint32]bool
	gate  chan struct{}
}

func (r *recordingSender) Send(ctx context.Context, item domain.UploadItem) error {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	if r.fail[item.Meta.FrameID] {
		return errors.New("backend said no")
	}
	return nil
}

func (r *recordingSender) ids() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint32
	for _, it := range r.items {
		out = append(out, it.Meta.FrameID)
	}
	return out
}

func frameItem(id uint32, payload []byte) domain.UploadItem {
	return domain.UploadItem{Kind: domain.KindCameraFrame, Meta: domain.ItemMeta{FrameID: id}, Payload: payload}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPipeline_OverflowRejectsNewest(t *testing.T) {
	const n = 3
	s := &recordingSender{}
	p := New("faces", n, s, Options{})

	for i := 0; i < n; i++ {
		if err := p.Enqueue(frameItem(uint32(i), []byte{byte(i)})); err != nil {
			t.Fatalf("Enqueue(%d) = %v", i, err)
		}
	}
	if err := p.Enqueue(frameItem(99, []byte{9})); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("Enqueue on full queue = %v, want ErrQueueFull", err)
	}
	if st := p.Stats(); st.Overflowed != 1 || st.Queued != n {
		t.Errorf("stats = %+v, want 1 overflow and %d queued", st, n)
	}
	if p.Pending() != n {
		t.Errorf("pending = %d, want %d", p.Pending(), n)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	waitFor(t, "drain", func() bool { return p.Stats().Sent == n })

	got := s.ids()
	for i, id := range got {
		if id != uint32(i) {
			t.Fatalf("send order = %v, want 0..%d", got, n-1)
		}
	}
}

func TestPipeline_CopiesPayload(t *testing.T) {
	s := &recordingSender{}
	p := New("camera", 5, s, Options{})

	buf := []byte("jpeg bytes")
	if err := p.Enqueue(frameItem(7, buf)); err != nil {
		t.Fatal(err)
	}
	copy(buf, "XXXXXXXXXX")

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	waitFor(t, "send", func() bool { return p.Stats().Sent == 1 })

	if !bytes.Equal(s.items[0].Payload, []byte("jpeg bytes")) {
		t.Errorf("sender saw %q, caller mutation leaked", s.items[0].Payload)
	}
	if s.items[0].EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not stamped")
	}
}

func TestPipeline_CameraFrameScenario(t *testing.T) {
	s := &recordingSender{}
	p := New("camera", 5, s, Options{})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	if err := p.Enqueue(frameItem(7, make([]byte, 2000))); err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}
	waitFor(t, "send", func() bool { return p.Stats().Sent == 1 })
	if st := p.Stats(); st.Overflowed != 0 || st.Failed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipeline_FailureIsCountedNotRetried(t *testing.T) {
	s := &recordingSender{fail: map[uint32]bool{1: true}}
	p := New("faces", 5, s, Options{})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	for i := uint32(0); i < 3; i++ {
		if err := p.Enqueue(frameItem(i, []byte{1})); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "worker", func() bool { st := p.Stats(); return st.Sent+st.Failed == 3 })

	if st := p.Stats(); st.Sent != 2 || st.Failed != 1 {
		t.Errorf("stats = %+v", st)
	}
	if len(s.ids()) != 3 {
		t.Errorf("sender called %d times, want 3 (no retry)", len(s.ids()))
	}
}

func TestPipeline_SendTimeout(t *testing.T) {
	s := &recordingSender{gate: make(chan struct{})}
	p := New("audio", 2, s, Options{SendTimeout: 10 * time.Millisecond})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	_ = p.Enqueue(frameItem(1, []byte{1}))
	waitFor(t, "timeout", func() bool { return p.Stats().Failed == 1 })
	if p.Stats().LastSendDuration < 10*time.Millisecond {
		t.Errorf("last send duration = %v", p.Stats().LastSendDuration)
	}
}

func TestPipeline_StopDiscardsQueued(t *testing.T) {
	s := &recordingSender{gate: make(chan struct{})}
	p := New("faces", 3, s, Options{SendTimeout: time.Minute})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	_ = p.Enqueue(frameItem(0, []byte{0}))
	waitFor(t, "worker pickup", func() bool { return p.Pending() == 0 })
	for i := uint32(1); i <= 3; i++ {
		_ = p.Enqueue(frameItem(i, []byte{1}))
	}

	p.Stop()
	if st := p.Stats(); st.Discarded != 3 {
		t.Errorf("discarded = %d, want 3", st.Discarded)
	}
	if err := p.Enqueue(frameItem(5, []byte{1})); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("Enqueue after Stop = %v, want ErrNotRunning", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("Start after Stop = %v, want ErrNotRunning", err)
	}
}

func TestSenderFunc(t *testing.T) {
	called := false
	var s Sender = SenderFunc(func(ctx context.Context, item domain.UploadItem) error {
		called = item.Kind == domain.KindAudioChunk
		return nil
	})
	_ = s.Send(context.Background(), domain.UploadItem{Kind: domain.KindAudioChunk})
	if !called {
		t.Error("SenderFunc did not forward the call")
	}
}
