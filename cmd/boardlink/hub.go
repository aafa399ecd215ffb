package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/boardlink/internal/adapters/fs"
	httpadapter "github.com/bft-labs/boardlink/internal/adapters/http"
	"github.com/bft-labs/boardlink/internal/adapters/pg"
	"github.com/bft-labs/boardlink/internal/adapters/ws"
	"github.com/bft-labs/boardlink/internal/audio"
	"github.com/bft-labs/boardlink/internal/config"
	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/hub"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/pkg/log"
)

func newHubCommand(s *settings) *cobra.Command {
	cfg := &s.cfg
	var mode string

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the controller: keep the camera board in mode, upload faces, stream frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.load(cmd); err != nil {
				return err
			}
			initial := domain.ModeStandby
			if mode != "" {
				m, err := domain.ParseMode(mode)
				if err != nil {
					return err
				}
				if m == domain.ModeDisconnected {
					return fmt.Errorf("%w: cannot request mode %s", domain.ErrInvalidArgument, m)
				}
				initial = m
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHub(ctx, s, initial)
		},
	}

	f := cmd.Flags()
	f.StringVar(&mode, "mode", "", "mode to request at start: standby, camera, recognition")
	f.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device id reported to the backend")
	f.StringVar(&cfg.BackendURL, "backend-url", cfg.BackendURL, "backend base URL (uploads are discarded when empty)")
	f.StringVar(&cfg.BackendMode, "backend-mode", cfg.BackendMode, "camera/audio stream transport: http or ws")
	f.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "backend API key")
	f.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "HTTP client timeout")
	f.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "also record face events in PostgreSQL")
	f.BoolVar(&cfg.StoreFaceImages, "store-face-images", cfg.StoreFaceImages, "store face JPEGs in PostgreSQL")
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for status.json (default: $HOME/.boardlink/state)")
	f.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "liveness ping period")
	f.DurationVar(&cfg.PingTimeout, "ping-timeout", cfg.PingTimeout, "peer is lost after this long without ping or pong")
	f.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "mode check period")
	f.DurationVar(&cfg.SettleDelay, "settle-delay", cfg.SettleDelay, "pause between camera start and recognition start")
	f.DurationVar(&cfg.CameraInterval, "camera-interval", cfg.CameraInterval, "minimum spacing of streamed camera frames")
	f.DurationVar(&cfg.AudioInterval, "audio-interval", cfg.AudioInterval, "minimum spacing of streamed audio chunks")
	f.BoolVar(&cfg.StreamCamera, "stream-camera", cfg.StreamCamera, "stream camera frames to the backend")
	f.IntVar(&cfg.FaceQueue, "face-queue", cfg.FaceQueue, "pending face uploads before new ones are rejected")
	f.IntVar(&cfg.MaxFaceImage, "max-face-image", cfg.MaxFaceImage, "largest frame uploaded as a face image")
	f.BoolVar(&cfg.FrameStream, "frame-stream", cfg.FrameStream, "read pushed frames instead of requesting them")
	f.BoolVar(&cfg.StreamAudio, "stream-audio", cfg.StreamAudio, "stream the microphone to the backend")
	f.StringVar(&cfg.AudioFile, "audio-file", cfg.AudioFile, "raw 16kHz mono s16le PCM played as the microphone (test tone when empty)")
	f.IntVar(&cfg.ToneHz, "tone-hz", cfg.ToneHz, "test tone frequency when no audio file is set")
	return cmd
}

func hubConfig(cfg config.Config) hub.Config {
	hc := hub.DefaultConfig()
	hc.Channel.PingInterval = cfg.PingInterval
	hc.Channel.PingTimeout = cfg.PingTimeout
	hc.Reconcile.Interval = cfg.ReconcileInterval
	hc.Reconcile.SettleDelay = cfg.SettleDelay
	hc.Stream.CameraInterval = cfg.CameraInterval
	hc.Stream.AudioInterval = cfg.AudioInterval
	hc.FaceQueue = cfg.FaceQueue
	hc.MaxFaceImage = cfg.MaxFaceImage
	hc.StreamCamera = cfg.StreamCamera
	hc.StreamAudio = cfg.StreamAudio
	hc.FrameStream = cfg.FrameStream
	return hc
}

// backend builds the outbound senders and returns a func releasing them.
func backend(ctx context.Context, cfg config.Config, logger log.Logger) (hub.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := hub.Deps{Status: fs.NewStatusFile(cfg.StateDir)}
	mic, err := microphone(cfg)
	if err != nil {
		return hub.Deps{}, nil, err
	}
	deps.Microphone = mic
	if cfg.BackendURL == "" {
		discard := ports.SenderFunc(func(_ context.Context, item domain.UploadItem) error {
			logger.Debug("no backend configured, item discarded", log.String("kind", item.Kind.String()))
			return nil
		})
		deps.Faces, deps.Camera, deps.Audio = discard, discard, discard
	} else {
		bc := httpadapter.Config{BaseURL: cfg.BackendURL, DeviceID: cfg.DeviceID, AuthKey: cfg.AuthKey}
		up := httpadapter.NewUploader(&http.Client{Timeout: cfg.HTTPTimeout}, bc, logger)
		deps.Faces, deps.Camera, deps.Audio = up, up, up
		if cfg.BackendMode == config.BackendWebSocket {
			wsSender := ws.NewSender(ws.Config{BaseURL: cfg.BackendURL, DeviceID: cfg.DeviceID, AuthKey: cfg.AuthKey}, logger)
			closers = append(closers, func() { wsSender.Close() })
			deps.Camera, deps.Audio = wsSender, wsSender
		}
	}

	if cfg.PostgresDSN != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		store, err := pg.Open(openCtx, cfg.PostgresDSN, cfg.DeviceID, cfg.StoreFaceImages, logger)
		cancel()
		if err != nil {
			cleanup()
			return hub.Deps{}, nil, fmt.Errorf("open face store: %w", err)
		}
		closers = append(closers, func() { store.Close(context.Background()) })
		if cfg.BackendURL == "" {
			deps.Faces = store
		} else {
			deps.Faces = ports.Fanout(deps.Faces, store)
		}
	}
	return deps, cleanup, nil
}

func microphone(cfg config.Config) (ports.AudioSource, error) {
	if cfg.AudioFile != "" {
		return audio.NewFileSource(cfg.AudioFile)
	}
	return audio.NewToneSource(cfg.ToneHz)
}

func runHub(ctx context.Context, s *settings, initial domain.Mode) error {
	cfg := s.cfg
	logger := s.logger

	deps, cleanup, err := backend(ctx, cfg, logger.With("backend"))
	if err != nil {
		return err
	}
	defer cleanup()

	dial, err := link.Dialer(cfg.Transport, cfg.Addr)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		current *hub.Hub
	)
	if s.file != "" {
		w := config.NewWatcher(s.file, s.base, cfg, s.changed, func(c config.Config) {
			if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
				log.SetGlobalLevel(lvl)
			}
			mu.Lock()
			defer mu.Unlock()
			if current != nil {
				current.SetStreamIntervals(c.CameraInterval, c.AudioInterval)
			}
		}, logger.With("config"))
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Warn("config watcher stopped", log.Err(err))
			}
		}()
	}

	for {
		pair, err := link.DialWithRetry(ctx, dial, 500*time.Millisecond, 10*time.Second, logger.With("link"))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("dial vision board: %w", err)
		}

		h := hub.New(pair, deps, hubConfig(cfg), logger.With("hub"))
		h.State().SetDesired(initial)
		if err := h.Start(ctx); err != nil {
			pair.Close()
			return fmt.Errorf("start hub: %w", err)
		}
		mu.Lock()
		current = h
		mu.Unlock()

		select {
		case <-ctx.Done():
		case <-h.LinkLost():
			logger.Warn("link to vision board lost, reconnecting")
		}

		// Keep the mode across reconnects.
		initial = h.State().Desired()
		if err := h.Stop(); err != nil {
			logger.Warn("hub stop", log.Err(err))
		}
		pair.Close()
		if ctx.Err() != nil {
			logger.Info("hub stopped")
			return nil
		}
	}
}
