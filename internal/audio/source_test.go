package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
)

func sampleAt(b []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(b[2*i:]))
}

func TestToneSource(t *testing.T) {
	// 1kHz at 16kHz is 16 samples per cycle.
	s, err := NewToneSource(1000)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	start := time.Now()
	first, err := s.NextChunk(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != ChunkBytes {
		t.Fatalf("chunk = %d bytes", len(first))
	}
	if sampleAt(first, 0) != 0 || sampleAt(first, 4) != amplitude || sampleAt(first, 12) != -amplitude {
		t.Errorf("samples 0,4,12 = %d %d %d", sampleAt(first, 0), sampleAt(first, 4), sampleAt(first, 12))
	}

	second, err := s.NextChunk(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second chunk after %v, want about %v", elapsed, ChunkDuration(ChunkBytes))
	}
	// The wave continues across chunks: 1024 is a whole number of cycles.
	if sampleAt(second, 4) != amplitude {
		t.Errorf("phase lost between chunks: sample = %d", sampleAt(second, 4))
	}
}

func TestToneSource_Validation(t *testing.T) {
	for _, hz := range []int{0, -5, SampleRate / 2} {
		if _, err := NewToneSource(hz); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("NewToneSource(%d) = %v, want ErrInvalidArgument", hz, err)
		}
	}
}

func TestToneSource_Cancelled(t *testing.T) {
	s, _ := NewToneSource(440)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.NextChunk(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := s.NextChunk(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("NextChunk after cancel = %v", err)
	}
}

func TestFileSource_Wraps(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "doorbell.pcm")
	data := make([]byte, 1500)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileSource(p)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := s.NextChunk(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range chunk {
		if want := data[i%len(data)]; b != want {
			t.Fatalf("byte %d = %d, want %d", i, b, want)
		}
	}

	odd := filepath.Join(dir, "odd.pcm")
	if err := os.WriteFile(odd, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileSource(odd); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("NewFileSource(odd) = %v, want ErrInvalidConfig", err)
	}
}
