// Package hub implements the controller side of the board link. It keeps
// the vision board in the desired mode, pulls its frames, turns
// recognition events into face uploads and feeds the backend streams.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/boardlink/internal/app"
	"github.com/bft-labs/boardlink/internal/command"
	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/frame"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/internal/reconcile"
	"github.com/bft-labs/boardlink/internal/stream"
	"github.com/bft-labs/boardlink/internal/upload"
	"github.com/bft-labs/boardlink/pkg/log"
)

// Event names the vision board emits.
const (
	EventDetection   = "detection"
	EventRecognition = "recognition"
)

// Config tunes the hub.
type Config struct {
	Channel   command.Config
	Consumer  frame.ConsumerConfig
	Reconcile reconcile.Config
	Stream    stream.Config

	// FaceQueue bounds pending face uploads.
	FaceQueue int

	// MaxFaceImage rejects larger frames as face images.
	MaxFaceImage int

	// FaceTimeout bounds one face upload.
	FaceTimeout time.Duration

	// FetchInterval is the pause after an empty or failed fetch.
	FetchInterval time.Duration

	// HandshakeAttempts is the per-round hello budget; rounds repeat with
	// backoff until the link is closed.
	HandshakeAttempts int

	// FrameStream reads frames pushed by a stream-mode producer instead
	// of requesting them.
	FrameStream bool

	// StreamCamera enables the camera stream at start.
	StreamCamera bool

	// StreamAudio starts the microphone at start when Deps.Microphone is set.
	StreamAudio bool

	// StatusInterval paces status snapshots to the repository.
	StatusInterval time.Duration
}

// DefaultConfig returns the controller defaults. The hub pings every
// 2.5s so the board sees traffic well within its 5s timeout.
func DefaultConfig() Config {
	ch := command.DefaultConfig()
	ch.PingInterval = 2500 * time.Millisecond
	return Config{
		Channel:           ch,
		Consumer:          frame.DefaultConsumerConfig(),
		Reconcile:         reconcile.DefaultConfig(),
		Stream:            stream.DefaultConfig(),
		FaceQueue:         3,
		MaxFaceImage:      50000,
		FaceTimeout:       10 * time.Second,
		FetchInterval:     50 * time.Millisecond,
		HandshakeAttempts: 10,
		StatusInterval:    5 * time.Second,
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.FaceQueue <= 0 {
		c.FaceQueue = d.FaceQueue
	}
	if c.MaxFaceImage <= 0 {
		c.MaxFaceImage = d.MaxFaceImage
	}
	if c.FaceTimeout <= 0 {
		c.FaceTimeout = d.FaceTimeout
	}
	if c.FetchInterval <= 0 {
		c.FetchInterval = d.FetchInterval
	}
	if c.HandshakeAttempts <= 0 {
		c.HandshakeAttempts = d.HandshakeAttempts
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = d.StatusInterval
	}
}

// Deps are the outbound adapters. Status and Microphone may be nil.
type Deps struct {
	Faces      ports.Sender
	Camera     ports.Sender
	Audio      ports.Sender
	Status     ports.StatusRepository
	Microphone ports.AudioSource
}

// Hub is the controller role.
type Hub struct {
	cfg    Config
	deps   Deps
	logger log.Logger
	lc     *app.Lifecycle

	channel    *command.Channel
	consumer   *frame.Consumer
	state      *reconcile.State
	reconciler *reconcile.Reconciler
	faces      *upload.Pipeline
	streamer   *stream.Streamer

	latestMu sync.RWMutex
	latest   *domain.Frame

	lost     chan struct{}
	lostOnce sync.Once
	micWake  chan struct{}

	detections  atomic.Uint64
	faceSkipped atomic.Uint64
	stateReason atomic.Pointer[string]
}

// New wires a hub onto an established link.
func New(pair *link.Pair, deps Deps, cfg Config, logger log.Logger) *Hub {
	cfg.fill()
	logger = log.OrNoop(logger)
	state := reconcile.NewState(logger)
	// Nothing is known about the board until it reports its mode.
	state.SetActual(domain.ModeDisconnected)
	channel := command.NewChannel(pair.Command, cfg.Channel, logger)

	h := &Hub{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		channel:    channel,
		consumer:   frame.NewConsumer(pair.Frames, cfg.Consumer, logger),
		state:      state,
		reconciler: reconcile.New(state, channel, cfg.Reconcile, logger),
		faces: upload.New("faces", cfg.FaceQueue, deps.Faces, upload.Options{
			SendTimeout: cfg.FaceTimeout, Logger: logger,
		}),
		streamer: stream.New(cfg.Stream, deps.Camera, deps.Audio, logger, nil),
		lost:     make(chan struct{}),
		micWake:  make(chan struct{}, 1),
	}
	h.lc = app.NewLifecycle(logger, h)
	channel.OnStatus(h.onStatus)
	channel.OnEvent(h.onEvent)
	channel.OnLivenessChange(h.onLiveness)
	return h
}

// Streamer exposes the backend streams for start/stop control and audio.
func (h *Hub) Streamer() *stream.Streamer {
	return h.streamer
}

// State exposes the desired and actual modes.
func (h *Hub) State() *reconcile.State {
	return h.state
}

// LinkLost is closed when the frame link to the vision board fails. The
// hub must then be stopped and rebuilt on a new link.
func (h *Hub) LinkLost() <-chan struct{} {
	return h.lost
}

// Lifecycle returns the hub's lifecycle state.
func (h *Hub) Lifecycle() app.State {
	return h.lc.State()
}

// Start launches every worker. It returns once they are running; the
// frame link handshake proceeds in the background.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.lc.TransitionTo(app.StateStarting, "start requested"); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	h.lc.SetCancel(cancel)

	fail := func(what string, err error) error {
		cancel()
		h.faces.Stop()
		h.streamer.Stop()
		_ = h.lc.TransitionTo(app.StateCrashed, err.Error())
		return fmt.Errorf("%s: %w", what, err)
	}
	if err := h.faces.Start(ctx); err != nil {
		return fail("start face pipeline", err)
	}
	if err := h.streamer.Start(ctx); err != nil {
		return fail("start streamer", err)
	}
	if err := h.channel.Start(ctx); err != nil {
		return fail("start command channel", err)
	}
	if h.cfg.StreamCamera {
		h.streamer.StartCamera()
	}
	if h.deps.Microphone != nil {
		if h.cfg.StreamAudio {
			h.StartMicrophone()
		}
		h.lc.Go(func() { h.audioLoop(ctx) })
	}

	h.lc.Go(func() { h.frameLoop(ctx) })
	h.lc.Go(func() { h.reconciler.Run(ctx) })
	if h.deps.Status != nil {
		h.lc.Go(func() { h.statusLoop(ctx) })
	}

	// The board's mode is requested once liveness is established.
	return h.lc.TransitionTo(app.StateRunning, "started")
}

// Stop halts the workers, discards queued uploads and writes a final
// status snapshot.
func (h *Hub) Stop() error {
	if !h.lc.CanStop() {
		return domain.ErrNotRunning
	}
	if err := h.lc.TransitionTo(app.StateStopping, "stop requested"); err != nil {
		return err
	}
	h.lc.Cancel()
	err := h.lc.WaitWithTimeout(app.ShutdownTimeout)
	h.channel.Stop()
	h.faces.Stop()
	h.streamer.Stop()
	_ = h.lc.TransitionTo(app.StateStopped, "stopped")

	if h.deps.Status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if serr := h.deps.Status.Save(ctx, h.Status()); serr != nil {
			h.logger.Warn("final status not saved", log.Err(serr))
		}
		cancel()
	}
	return err
}

// SetMode records the desired mode and issues the commands for it right
// away instead of waiting for the next reconcile tick.
func (h *Hub) SetMode(ctx context.Context, m domain.Mode) error {
	if !m.Valid() || m == domain.ModeDisconnected {
		return fmt.Errorf("%w: cannot request mode %s", domain.ErrInvalidArgument, m)
	}
	h.state.SetDesired(m)
	if h.lc.State() != app.StateRunning {
		return nil
	}
	return h.reconciler.Tick(ctx)
}

// RequestStatus asks the vision board to report its mode.
func (h *Hub) RequestStatus() error {
	return h.channel.SendCommand("get_status", nil)
}

// SetStreamIntervals changes the backend stream rate limits.
func (h *Hub) SetStreamIntervals(camera, audio time.Duration) {
	h.streamer.SetIntervals(camera, audio)
	h.logger.Info("stream intervals updated",
		log.Duration("camera", camera),
		log.Duration("audio", audio),
	)
}

// Status returns a diagnostic snapshot.
func (h *Hub) Status() domain.HubStatus {
	st := domain.HubStatus{
		UpdatedAt:   time.Now(),
		State:       h.lc.State().String(),
		Connected:   h.channel.IsConnected(),
		DesiredMode: h.state.Desired().String(),
		ActualMode:  h.state.Actual().String(),
		Frames:      h.consumer.Stats(),
		FaceEvents:  h.faces.Stats(),

		Detections:   h.detections.Load(),
		FacesSkipped: h.faceSkipped.Load(),
	}
	if r := h.stateReason.Load(); r != nil {
		st.StateReason = *r
	}
	ss := h.streamer.Stats()
	st.CameraStream, st.AudioStream = ss.Camera, ss.Audio
	if f := h.latestFrame(); f != nil {
		st.LastFrameID, st.LastFrameSize = f.ID, f.Size()
	}
	return st
}

// OnStateChange records why the hub last changed lifecycle state so the
// status snapshot can explain a crash.
func (h *Hub) OnStateChange(_, _ app.State, reason string) {
	h.stateReason.Store(&reason)
}

func (h *Hub) latestFrame() *domain.Frame {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	return h.latest
}

func (h *Hub) onStatus(m *command.Message) {
	if m.Status == command.StatusError {
		h.logger.Warn("vision board reported error", log.String("msg", m.Msg))
	}
	if m.Mode == nil {
		return
	}
	mode := domain.Mode(*m.Mode)
	if !mode.Valid() || mode == domain.ModeDisconnected {
		h.logger.Warn("vision board reported unknown mode", log.Int("mode", *m.Mode))
		return
	}
	h.state.SetActual(mode)
}

func (h *Hub) onLiveness(up bool) {
	if !up {
		// Runs on the liveness monitor, not the reader goroutine.
		h.state.SetActual(domain.ModeDisconnected)
		return
	}
	if err := h.RequestStatus(); err != nil {
		h.logger.Debug("status request failed", log.Err(err))
	}
}

func (h *Hub) onEvent(m *command.Message) {
	switch m.Event {
	case EventDetection:
		h.detections.Add(1)
	case EventRecognition:
		h.enqueueFace(m.Data)
	default:
		h.logger.Debug("ignoring event", log.String("event", m.Event))
	}
}

// enqueueFace pairs a recognition result with the latest frame.
func (h *Hub) enqueueFace(data map[string]any) {
	f := h.latestFrame()
	if f == nil {
		h.faceSkipped.Add(1)
		h.logger.Warn("recognition event without a frame, skipped")
		return
	}
	if f.Size() > h.cfg.MaxFaceImage {
		h.faceSkipped.Add(1)
		h.logger.Warn("face image too large, skipped", log.Int("size", f.Size()))
		return
	}

	meta := domain.ItemMeta{FrameID: uint32(f.ID), Timestamp: time.Now()}
	meta.Recognized, _ = data["recognized"].(bool)
	meta.Name, _ = data["name"].(string)
	meta.Confidence, _ = data["confidence"].(float64)
	if ms, ok := data["timestamp"].(float64); ok && ms > 0 {
		meta.Timestamp = time.UnixMilli(int64(ms))
	}

	err := h.faces.Enqueue(domain.UploadItem{Kind: domain.KindFaceDetection, Meta: meta, Payload: f.Payload})
	if err != nil {
		h.logger.Warn("face event dropped", log.Err(err))
	}
}

func (h *Hub) frameLoop(ctx context.Context) {
	if h.cfg.FrameStream {
		h.readStream(ctx)
		return
	}
	bo := app.NewBackoff(h.cfg.FetchInterval, 5*time.Second)
	for ctx.Err() == nil {
		if !h.consumer.Ready() {
			err := h.consumer.PerformHandshake(ctx, h.cfg.HandshakeAttempts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if link.IsClosed(err) {
					h.markLost()
					return
				}
				h.logger.Warn("frame link handshake failed", log.Err(err))
				if bo.Sleep(ctx) != nil {
					return
				}
				continue
			}
			bo.Reset()
		}

		f, err := h.consumer.Fetch(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			if link.IsClosed(err) {
				h.logger.Warn("frame link closed", log.Err(err))
				h.markLost()
				return
			}
			h.logger.Debug("frame fetch failed", log.Err(err))
			if sleepCtx(ctx, h.cfg.FetchInterval) != nil {
				return
			}
		case f == nil:
			if sleepCtx(ctx, h.cfg.FetchInterval) != nil {
				return
			}
		default:
			h.handleFrame(f)
		}
	}
}

func (h *Hub) readStream(ctx context.Context) {
	for ctx.Err() == nil {
		f, err := h.consumer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if link.IsTimeout(err) {
				continue
			}
			if link.IsClosed(err) {
				h.logger.Warn("frame link closed", log.Err(err))
				h.markLost()
				return
			}
			h.logger.Debug("frame read failed", log.Err(err))
			continue
		}
		h.handleFrame(f)
	}
}

func (h *Hub) handleFrame(f *domain.Frame) {
	h.latestMu.Lock()
	h.latest = f
	h.latestMu.Unlock()

	err := h.streamer.QueueFrame(f.Payload, uint32(f.ID))
	switch {
	case err == nil,
		errors.Is(err, domain.ErrStreamingDisabled),
		errors.Is(err, domain.ErrRateLimited):
	default:
		h.logger.Debug("frame not streamed", log.Int("frame_id", int(f.ID)), log.Err(err))
	}
}

// StartMicrophone begins streaming microphone chunks to the backend. It
// is a no-op without a microphone.
func (h *Hub) StartMicrophone() {
	if h.deps.Microphone == nil {
		return
	}
	h.streamer.StartAudio()
	select {
	case h.micWake <- struct{}{}:
	default:
	}
}

// StopMicrophone stops the audio stream; capture pauses with it.
func (h *Hub) StopMicrophone() {
	h.streamer.StopAudio()
}

// audioLoop captures while the audio stream is on and sleeps otherwise.
func (h *Hub) audioLoop(ctx context.Context) {
	var seq uint32
	for ctx.Err() == nil {
		if !h.streamer.IsAudioStreaming() {
			select {
			case <-ctx.Done():
				return
			case <-h.micWake:
			}
			continue
		}
		chunk, err := h.deps.Microphone.NextChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn("microphone read failed", log.Err(err))
			if sleepCtx(ctx, time.Second) != nil {
				return
			}
			continue
		}
		seq++
		err = h.streamer.QueueAudio(chunk, seq)
		switch {
		case err == nil,
			errors.Is(err, domain.ErrStreamingDisabled),
			errors.Is(err, domain.ErrRateLimited):
		default:
			h.logger.Debug("audio chunk not streamed", log.Int("seq", int(seq)), log.Err(err))
		}
	}
}

func (h *Hub) statusLoop(ctx context.Context) {
	t := time.NewTicker(h.cfg.StatusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := h.deps.Status.Save(ctx, h.Status()); err != nil {
				h.logger.Warn("status not saved", log.Err(err))
			}
		}
	}
}

func (h *Hub) markLost() {
	h.lostOnce.Do(func() { close(h.lost) })
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
