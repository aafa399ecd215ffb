// Package vision implements the camera board side of the link: it serves
// captured frames to the controller, answers mode commands and forwards
// face recognition results.
package vision

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/bft-labs/boardlink/internal/app"
	"github.com/bft-labs/boardlink/internal/command"
	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/frame"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/pkg/log"
)

// Command names handled by the board.
const (
	CmdCameraControl    = "camera_control"
	CmdStartRecognition = "start_recognition"
	CmdStopRecognition  = "stop_recognition"
	CmdGetStatus        = "get_status"
	CmdFrameStats       = "spi_stats"
	CmdTest             = "test"
	CmdPauseDetection   = "pause_detection"
	CmdResumeDetection  = "resume_detection"
)

// Config tunes the board.
type Config struct {
	// FrameInterval paces the capture loop.
	FrameInterval time.Duration

	Producer frame.ProducerConfig
	Channel  command.Config
}

// DefaultConfig returns a 10 fps board.
func DefaultConfig() Config {
	return Config{
		FrameInterval: 100 * time.Millisecond,
		Producer:      frame.DefaultProducerConfig(),
		Channel:       command.DefaultConfig(),
	}
}

// Stats is a snapshot of the board counters.
type Stats struct {
	Mode          domain.Mode      `json:"mode"`
	Captured      uint64           `json:"captured"`
	CaptureErrors uint64           `json:"capture_errors"`
	Busy          uint64           `json:"busy"`
	Events        uint64           `json:"events"`
	Frames        domain.LinkStats `json:"frames"`
	Channel       command.Stats    `json:"channel"`
}

// Board is the vision board role. The board starts in standby with the
// camera off.
type Board struct {
	cfg      Config
	source   ports.FrameSource
	producer *frame.Producer
	channel  *command.Channel
	lc       *app.Lifecycle
	logger   log.Logger

	mode     atomic.Int32
	paused   atomic.Bool
	nextID   atomic.Uint32
	captured atomic.Uint64
	capErrs  atomic.Uint64
	busy     atomic.Uint64
	events   atomic.Uint64
	started  time.Time
}

// NewBoard builds a board on an accepted link.
func NewBoard(pair *link.Pair, source ports.FrameSource, cfg Config, logger log.Logger) *Board {
	logger = log.OrNoop(logger)
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultConfig().FrameInterval
	}
	b := &Board{
		cfg:      cfg,
		source:   source,
		producer: frame.NewProducer(pair.Frames, cfg.Producer, logger),
		channel:  command.NewChannel(pair.Command, cfg.Channel, logger),
		lc:       app.NewLifecycle(logger, nil),
		logger:   logger,
	}
	b.mode.Store(int32(domain.ModeStandby))
	b.registerHandlers()
	return b
}

// Mode returns the current mode.
func (b *Board) Mode() domain.Mode {
	return domain.Mode(b.mode.Load())
}

// Channel exposes the command channel, mainly for liveness queries.
func (b *Board) Channel() *command.Channel {
	return b.channel
}

// Start launches the producer, the command channel and the capture loop,
// then announces readiness to the controller.
func (b *Board) Start(ctx context.Context) error {
	if err := b.lc.TransitionTo(app.StateStarting, "start requested"); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	b.lc.SetCancel(cancel)
	b.started = time.Now()

	if err := b.producer.Start(ctx); err != nil {
		cancel()
		_ = b.lc.TransitionTo(app.StateCrashed, err.Error())
		return fmt.Errorf("start producer: %w", err)
	}
	if err := b.channel.Start(ctx); err != nil {
		cancel()
		b.producer.Stop()
		_ = b.lc.TransitionTo(app.StateCrashed, err.Error())
		return fmt.Errorf("start command channel: %w", err)
	}
	b.lc.Go(func() { b.capture(ctx) })

	if err := b.lc.TransitionTo(app.StateRunning, "started"); err != nil {
		return err
	}
	if err := b.channel.Send(b.reply(command.StatusReady, "camera system initialized, ready for commands")); err != nil {
		b.logger.Warn("ready announcement failed", log.Err(err))
	}
	return nil
}

// Stop halts every worker and discards queued frames.
func (b *Board) Stop() error {
	if !b.lc.CanStop() {
		return domain.ErrNotRunning
	}
	if err := b.lc.TransitionTo(app.StateStopping, "stop requested"); err != nil {
		return err
	}
	b.lc.Cancel()
	err := b.lc.WaitWithTimeout(app.ShutdownTimeout)
	b.channel.Stop()
	b.producer.Stop()
	_ = b.lc.TransitionTo(app.StateStopped, "stopped")
	return err
}

// Done is closed when the frame link fails or the board stops.
func (b *Board) Done() <-chan struct{} {
	return b.producer.Done()
}

// Stats returns a snapshot of the board counters.
func (b *Board) Stats() Stats {
	return Stats{
		Mode:          b.Mode(),
		Captured:      b.captured.Load(),
		CaptureErrors: b.capErrs.Load(),
		Busy:          b.busy.Load(),
		Events:        b.events.Load(),
		Frames:        b.producer.Stats(),
		Channel:       b.channel.Stats(),
	}
}

func (b *Board) capture(ctx context.Context) {
	t := time.NewTicker(b.cfg.FrameInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !b.Mode().CameraOn() {
			continue
		}
		data, err := b.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.capErrs.Add(1)
			b.logger.Warn("frame capture failed", log.Err(err))
			continue
		}
		b.captured.Add(1)
		id := uint16(b.nextID.Add(1))
		if err := b.producer.QueueFrame(id, data); err != nil {
			if errors.Is(err, domain.ErrBusy) {
				b.busy.Add(1)
				continue
			}
			b.logger.Debug("frame not queued", log.Int("frame_id", int(id)), log.Err(err))
		}
	}
}

func (b *Board) registerHandlers() {
	b.channel.RegisterHandler(CmdCameraControl, b.handleCameraControl)
	b.channel.RegisterHandler(CmdStartRecognition, b.handleStartRecognition)
	b.channel.RegisterHandler(CmdStopRecognition, b.handleStopRecognition)
	b.channel.RegisterHandler(CmdGetStatus, b.handleGetStatus)
	b.channel.RegisterHandler(CmdFrameStats, b.handleFrameStats)
	b.channel.RegisterHandler(CmdTest, func(map[string]any) *command.Message {
		return b.reply(command.StatusOK, "test successful")
	})
	b.channel.RegisterHandler(CmdPauseDetection, func(map[string]any) *command.Message {
		b.paused.Store(true)
		return b.reply(command.StatusOK, "detection paused")
	})
	b.channel.RegisterHandler(CmdResumeDetection, func(map[string]any) *command.Message {
		b.paused.Store(false)
		return b.reply(command.StatusOK, "detection resumed")
	})
}

func (b *Board) reply(status, msg string) *command.Message {
	return command.Reply(status, msg).WithMode(int(b.Mode()))
}

func (b *Board) setMode(m domain.Mode) {
	prev := domain.Mode(b.mode.Swap(int32(m)))
	if prev != m {
		b.logger.Info("mode changed",
			log.String("from", prev.String()),
			log.String("to", m.String()),
		)
	}
}

func (b *Board) handleCameraControl(params map[string]any) *command.Message {
	name, ok := command.StringParam(params, "name")
	if !ok {
		return b.reply(command.StatusError, "missing or invalid 'name' parameter")
	}
	switch name {
	case "camera_start":
		if b.Mode().CameraOn() {
			return b.reply(command.StatusInfo, "camera already running")
		}
		b.setMode(domain.ModeCameraActive)
		return b.reply(command.StatusOK, "camera started")
	case "camera_stop":
		if !b.Mode().CameraOn() {
			return b.reply(command.StatusInfo, "camera already stopped")
		}
		b.setMode(domain.ModeStandby)
		return b.reply(command.StatusOK, "camera stopped")
	default:
		return b.reply(command.StatusError, "unknown camera action: "+name)
	}
}

func (b *Board) handleStartRecognition(map[string]any) *command.Message {
	switch b.Mode() {
	case domain.ModeRecognitionActive:
		return b.reply(command.StatusInfo, "recognition already running")
	case domain.ModeStandby:
		return b.reply(command.StatusError, "camera not running")
	}
	b.setMode(domain.ModeRecognitionActive)
	return b.reply(command.StatusOK, "recognition started")
}

func (b *Board) handleStopRecognition(map[string]any) *command.Message {
	if b.Mode() != domain.ModeRecognitionActive {
		return b.reply(command.StatusInfo, "recognition not running")
	}
	b.setMode(domain.ModeCameraActive)
	return b.reply(command.StatusOK, "recognition stopped")
}

func (b *Board) handleGetStatus(map[string]any) *command.Message {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m := b.reply(command.StatusOK, fmt.Sprintf("mode=%s uptime=%s", b.Mode(), time.Since(b.started).Truncate(time.Second)))
	m.FreeHeap = ms.HeapIdle
	return m
}

func (b *Board) handleFrameStats(map[string]any) *command.Message {
	st := b.producer.Stats()
	return b.reply(command.StatusOK, fmt.Sprintf("Sent:%d Failed:%d Dropped:%d Discarded:%d Busy:%d",
		st.Sent, st.Failed, st.Dropped, st.Discarded, b.busy.Load()))
}
