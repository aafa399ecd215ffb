package vision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/frame"
)

// DirSource replays the JPEG files of a directory in name order, looping
// forever. Files are read on demand so large captures are never held in
// memory at once.
type DirSource struct {
	mu    sync.Mutex
	files []string
	next  int
}

// NewDirSource lists *.jpg and *.jpeg files in dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no JPEG files in %s", domain.ErrInvalidConfig, dir)
	}
	sort.Strings(files)
	return &DirSource{files: files}, nil
}

// Len returns the number of files in the rotation.
func (s *DirSource) Len() int {
	return len(s.files)
}

// NextFrame returns the contents of the next file.
func (s *DirSource) NextFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return b, nil
}

// PatternSource produces frame.PatternFrame payloads for link testing.
type PatternSource struct {
	size int
}

// NewPatternSource returns a source of size-byte pattern frames.
func NewPatternSource(size int) (*PatternSource, error) {
	if size <= 0 || size > frame.DefaultMaxFrameSize {
		return nil, fmt.Errorf("%w: pattern size %d", domain.ErrInvalidArgument, size)
	}
	return &PatternSource{size: size}, nil
}

func (s *PatternSource) NextFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return frame.PatternFrame(s.size), nil
}
