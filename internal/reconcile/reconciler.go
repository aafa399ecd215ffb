package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/pkg/log"
)

// Command names understood by the vision board.
const (
	CmdCameraControl    = "camera_control"
	CmdStartRecognition = "start_recognition"
	CmdStopRecognition  = "stop_recognition"

	CameraStart = "camera_start"
	CameraStop  = "camera_stop"
)

// Step is one command in a recovery sequence.
type Step struct {
	Cmd    string
	Params map[string]any

	// Settle is waited before sending this step.
	Settle bool
}

func cameraStep(name string) Step {
	return Step{Cmd: CmdCameraControl, Params: map[string]any{"name": name}}
}

// Plan returns the minimal command sequence that moves actual toward
// desired. It returns nil when nothing can or needs to be done.
func Plan(desired, actual domain.Mode) []Step {
	if actual == domain.ModeDisconnected || desired == actual {
		return nil
	}
	switch desired {
	case domain.ModeStandby:
		return []Step{cameraStep(CameraStop)}
	case domain.ModeCameraActive:
		switch actual {
		case domain.ModeStandby:
			return []Step{cameraStep(CameraStart)}
		case domain.ModeRecognitionActive:
			return []Step{{Cmd: CmdStopRecognition}}
		}
	case domain.ModeRecognitionActive:
		switch actual {
		case domain.ModeStandby:
			return []Step{cameraStep(CameraStart), {Cmd: CmdStartRecognition, Settle: true}}
		case domain.ModeCameraActive:
			return []Step{{Cmd: CmdStartRecognition}}
		}
	}
	return nil
}

// Config tunes a Reconciler.
type Config struct {
	// Interval is the check period.
	Interval time.Duration

	// SettleDelay separates starting the camera from starting recognition.
	SettleDelay time.Duration
}

// DefaultConfig returns the firmware defaults.
func DefaultConfig() Config {
	return Config{Interval: time.Second, SettleDelay: 100 * time.Millisecond}
}

// Stats counts reconciler activity.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Recoveries   uint64 `json:"recoveries"`
	CommandsSent uint64 `json:"commands_sent"`
	SendErrors   uint64 `json:"send_errors"`
}

// Reconciler periodically compares desired and actual mode and sends
// recovery commands. It is level-triggered: a dropped command is simply
// re-issued on the next tick. It never writes the actual mode.
type Reconciler struct {
	state  *State
	cmds   ports.CommandSender
	cfg    Config
	logger log.Logger

	ticks        atomic.Uint64
	recoveries   atomic.Uint64
	commandsSent atomic.Uint64
	sendErrors   atomic.Uint64
}

// New creates a reconciler.
func New(state *State, cmds ports.CommandSender, cfg Config, logger log.Logger) *Reconciler {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = d.SettleDelay
	}
	return &Reconciler{state: state, cmds: cmds, cfg: cfg, logger: log.OrNoop(logger)}
}

// Tick runs one check and sends whatever recovery the plan calls for.
// Send errors are counted and the remaining steps still run.
func (r *Reconciler) Tick(ctx context.Context) error {
	r.ticks.Add(1)
	desired, actual := r.state.Desired(), r.state.Actual()
	steps := Plan(desired, actual)
	if len(steps) == 0 {
		if desired != actual && actual != domain.ModeDisconnected {
			r.logger.Warn("no recovery for mode mismatch",
				log.String("desired", desired.String()),
				log.String("actual", actual.String()),
			)
		}
		return nil
	}

	r.recoveries.Add(1)
	r.logger.Info("mode mismatch, recovering",
		log.String("desired", desired.String()),
		log.String("actual", actual.String()),
		log.Int("steps", len(steps)),
	)

	var firstErr error
	for _, s := range steps {
		if s.Settle && r.cfg.SettleDelay > 0 {
			t := time.NewTimer(r.cfg.SettleDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := r.cmds.SendCommand(s.Cmd, s.Params); err != nil {
			r.sendErrors.Add(1)
			r.logger.Warn("recovery command failed", log.String("cmd", s.Cmd), log.Err(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("send %s: %w", s.Cmd, err)
			}
			continue
		}
		r.commandsSent.Add(1)
	}
	return firstErr
}

// Run ticks every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = r.Tick(ctx)
		}
	}
}

// Stats returns a snapshot of the reconciler counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Ticks:        r.ticks.Load(),
		Recoveries:   r.recoveries.Load(),
		CommandsSent: r.commandsSent.Load(),
		SendErrors:   r.sendErrors.Load(),
	}
}
