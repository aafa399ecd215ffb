// Package audio stands in for the controller's microphone. Both sources
// deliver 16kHz mono 16-bit little-endian PCM in ChunkBytes pieces, paced
// at the rate a real capture would produce them.
package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
)

const (
	SampleRate = 16000

	// ChunkBytes is 1024 samples, 64ms of audio.
	ChunkBytes = 2048

	amplitude = 8000
)

// ChunkDuration returns the playback time of n bytes of PCM.
func ChunkDuration(n int) time.Duration {
	return time.Duration(n/2) * time.Second / SampleRate
}

// pacer releases one chunk per period. After a long pause it restarts
// from now instead of bursting to catch up.
type pacer struct {
	period time.Duration
	next   time.Time
}

func (p *pacer) wait(ctx context.Context) error {
	now := time.Now()
	if p.next.IsZero() || now.Sub(p.next) > p.period {
		p.next = now
	}
	d := p.next.Sub(now)
	p.next = p.next.Add(p.period)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ToneSource generates a sine test tone.
type ToneSource struct {
	mu     sync.Mutex
	hz     float64
	sample uint64
	pace   pacer
}

// NewToneSource returns a source of an hz sine wave. hz must be below the
// Nyquist frequency.
func NewToneSource(hz int) (*ToneSource, error) {
	if hz <= 0 || hz >= SampleRate/2 {
		return nil, fmt.Errorf("%w: tone frequency %d Hz", domain.ErrInvalidArgument, hz)
	}
	return &ToneSource{hz: float64(hz), pace: pacer{period: ChunkDuration(ChunkBytes)}}, nil
}

func (s *ToneSource) NextChunk(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pace.wait(ctx); err != nil {
		return nil, err
	}
	b := make([]byte, ChunkBytes)
	for i := 0; i < ChunkBytes/2; i++ {
		phase := 2 * math.Pi * s.hz * float64(s.sample) / SampleRate
		v := int16(math.Round(amplitude * math.Sin(phase)))
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
		s.sample++
	}
	return b, nil
}

// FileSource loops over a raw PCM recording.
type FileSource struct {
	mu   sync.Mutex
	data []byte
	off  int
	pace pacer
}

// NewFileSource loads a headerless 16kHz mono s16le file.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	if len(data) < 2 || len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %s is not 16-bit PCM (%d bytes)", domain.ErrInvalidConfig, path, len(data))
	}
	return &FileSource{data: data, pace: pacer{period: ChunkDuration(ChunkBytes)}}, nil
}

// NextChunk returns the next ChunkBytes of the recording, wrapping to the
// start at the end of the file.
func (s *FileSource) NextChunk(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pace.wait(ctx); err != nil {
		return nil, err
	}
	b := make([]byte, ChunkBytes)
	for n := 0; n < len(b); {
		c := copy(b[n:], s.data[s.off:])
		n += c
		s.off = (s.off + c) % len(s.data)
	}
	return b, nil
}
