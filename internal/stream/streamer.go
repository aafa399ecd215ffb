package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/internal/upload"
	"github.com/bft-labs/boardlink/pkg/log"
)

// Config tunes a Streamer.
type Config struct {
	CameraInterval time.Duration
	AudioInterval  time.Duration
	CameraQueue    int
	AudioQueue     int
	MaxFrameBytes  int
	MaxAudioBytes  int
	CameraTimeout  time.Duration
	AudioTimeout   time.Duration
}

// DefaultConfig returns the firmware defaults.
func DefaultConfig() Config {
	return Config{
		CameraInterval: 200 * time.Millisecond,
		AudioInterval:  50 * time.Millisecond,
		CameraQueue:    3,
		AudioQueue:     10,
		MaxFrameBytes:  50000,
		MaxAudioBytes:  2048,
		CameraTimeout:  5 * time.Second,
		AudioTimeout:   3 * time.Second,
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.CameraInterval <= 0 {
		c.CameraInterval = d.CameraInterval
	}
	if c.AudioInterval <= 0 {
		c.AudioInterval = d.AudioInterval
	}
	if c.CameraQueue <= 0 {
		c.CameraQueue = d.CameraQueue
	}
	if c.AudioQueue <= 0 {
		c.AudioQueue = d.AudioQueue
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.MaxAudioBytes <= 0 {
		c.MaxAudioBytes = d.MaxAudioBytes
	}
	if c.CameraTimeout <= 0 {
		c.CameraTimeout = d.CameraTimeout
	}
	if c.AudioTimeout <= 0 {
		c.AudioTimeout = d.AudioTimeout
	}
}

// Stats holds both pipelines' snapshots.
type Stats struct {
	Camera          domain.StreamStats `json:"camera"`
	Audio           domain.StreamStats `json:"audio"`
	CameraStreaming bool               `json:"camera_streaming"`
	AudioStreaming  bool               `json:"audio_streaming"`
}

// Streamer owns the camera and audio pipelines. Start/Stop of a stream
// only toggles whether items are accepted; the workers keep running.
type Streamer struct {
	cfg    Config
	logger log.Logger
	now    func() time.Time

	camera *upload.Pipeline
	audio  *upload.Pipeline

	cameraLimit *RateLimiter
	audioLimit  *RateLimiter

	cameraOn atomic.Bool
	audioOn  atomic.Bool

	cameraRateLimited atomic.Uint64
	audioRateLimited  atomic.Uint64
}

// New creates a streamer sending camera frames through cameraSender and
// audio chunks through audioSender. A nil now uses time.Now.
func New(cfg Config, cameraSender, audioSender ports.Sender, logger log.Logger, now func() time.Time) *Streamer {
	cfg.fill()
	if now == nil {
		now = time.Now
	}
	logger = log.OrNoop(logger)
	return &Streamer{
		cfg:    cfg,
		logger: logger,
		now:    now,
		camera: upload.New("camera", cfg.CameraQueue, cameraSender, upload.Options{
			SendTimeout: cfg.CameraTimeout, Logger: logger, Now: now,
		}),
		audio: upload.New("audio", cfg.AudioQueue, audioSender, upload.Options{
			SendTimeout: cfg.AudioTimeout, Logger: logger, Now: now,
		}),
		cameraLimit: NewRateLimiter(cfg.CameraInterval, now),
		audioLimit:  NewRateLimiter(cfg.AudioInterval, now),
	}
}

// Start launches both workers.
func (s *Streamer) Start(ctx context.Context) error {
	if err := s.camera.Start(ctx); err != nil {
		return fmt.Errorf("camera pipeline: %w", err)
	}
	if err := s.audio.Start(ctx); err != nil {
		s.camera.Stop()
		return fmt.Errorf("audio pipeline: %w", err)
	}
	return nil
}

// Stop disables both streams, halts the workers and discards queued items.
func (s *Streamer) Stop() {
	s.cameraOn.Store(false)
	s.audioOn.Store(false)
	s.camera.Stop()
	s.audio.Stop()
}

// StartCamera enables frame streaming and resets its rate limiter.
func (s *Streamer) StartCamera() {
	if !s.cameraOn.Swap(true) {
		s.cameraLimit.Reset()
		s.logger.Info("camera streaming started", log.Duration("interval", s.cameraLimit.Interval()))
	}
}

// StopCamera disables frame streaming.
func (s *Streamer) StopCamera() {
	if s.cameraOn.Swap(false) {
		s.logger.Info("camera streaming stopped")
	}
}

// StartAudio enables audio streaming and resets its rate limiter.
func (s *Streamer) StartAudio() {
	if !s.audioOn.Swap(true) {
		s.audioLimit.Reset()
		s.logger.Info("audio streaming started", log.Duration("interval", s.audioLimit.Interval()))
	}
}

// StopAudio disables audio streaming.
func (s *Streamer) StopAudio() {
	if s.audioOn.Swap(false) {
		s.logger.Info("audio streaming stopped")
	}
}

// IsCameraStreaming reports whether frames are accepted.
func (s *Streamer) IsCameraStreaming() bool {
	return s.cameraOn.Load()
}

// IsAudioStreaming reports whether audio chunks are accepted.
func (s *Streamer) IsAudioStreaming() bool {
	return s.audioOn.Load()
}

// SetIntervals changes both rate limits. Zero leaves a limit unchanged.
func (s *Streamer) SetIntervals(camera, audio time.Duration) {
	if camera > 0 {
		s.cameraLimit.SetInterval(camera)
	}
	if audio > 0 {
		s.audioLimit.SetInterval(audio)
	}
}

// QueueFrame offers one encoded camera frame.
func (s *Streamer) QueueFrame(data []byte, frameID uint32) error {
	if !s.cameraOn.Load() {
		return domain.ErrStreamingDisabled
	}
	item := domain.UploadItem{
		Kind:    domain.KindCameraFrame,
		Meta:    domain.ItemMeta{FrameID: frameID, Timestamp: s.now()},
		Payload: data,
	}
	return s.offer(item, s.cfg.MaxFrameBytes, s.cameraLimit, s.camera, &s.cameraRateLimited)
}

// QueueAudio offers one audio chunk.
func (s *Streamer) QueueAudio(data []byte, seq uint32) error {
	if !s.audioOn.Load() {
		return domain.ErrStreamingDisabled
	}
	item := domain.UploadItem{
		Kind:    domain.KindAudioChunk,
		Meta:    domain.ItemMeta{Sequence: seq, Timestamp: s.now()},
		Payload: data,
	}
	return s.offer(item, s.cfg.MaxAudioBytes, s.audioLimit, s.audio, &s.audioRateLimited)
}

func (s *Streamer) offer(item domain.UploadItem, max int, limit *RateLimiter, p *upload.Pipeline, limited *atomic.Uint64) error {
	if len(item.Payload) == 0 {
		return fmt.Errorf("%w: empty %s", domain.ErrInvalidArgument, item.Kind)
	}
	if len(item.Payload) > max {
		return fmt.Errorf("%w: %s of %d bytes, max %d", domain.ErrTooLarge, item.Kind, len(item.Payload), max)
	}

	admitted, err := limit.Admit(func() error { return p.Enqueue(item) })
	if !admitted {
		limited.Add(1)
		return domain.ErrRateLimited
	}
	if err != nil && errors.Is(err, domain.ErrQueueFull) {
		s.logger.Debug("stream queue full", log.String("kind", item.Kind.String()))
	}
	return err
}

// Stats returns both pipelines' snapshots including rate-limit drops.
func (s *Streamer) Stats() Stats {
	cam := s.camera.Stats()
	cam.RateLimited = s.cameraRateLimited.Load()
	aud := s.audio.Stats()
	aud.RateLimited = s.audioRateLimited.Load()
	return Stats{
		Camera:          cam,
		Audio:           aud,
		CameraStreaming: s.cameraOn.Load(),
		AudioStreaming:  s.audioOn.Load(),
	}
}
