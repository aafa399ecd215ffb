package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bft-labs/boardlink/internal/config"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/internal/vision"
	"github.com/bft-labs/boardlink/pkg/log"
)

func newVisionCommand(s *settings) *cobra.Command {
	cfg := &s.cfg
	var names string

	cmd := &cobra.Command{
		Use:   "vision",
		Short: "Simulate the camera board: serve frames, answer commands, report faces",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.load(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			var faceNames []string
			for _, n := range strings.Split(names, ",") {
				faceNames = append(faceNames, strings.TrimSpace(n))
			}
			return runVision(ctx, s, faceNames)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.FrameDir, "frame-dir", cfg.FrameDir, "directory of JPEG frames to replay (test pattern when empty)")
	f.IntVar(&cfg.PatternSize, "pattern-size", cfg.PatternSize, "test pattern frame size in bytes")
	f.DurationVar(&cfg.FrameInterval, "frame-interval", cfg.FrameInterval, "capture period while the camera is on")
	f.DurationVar(&cfg.SimulateFaces, "simulate-faces", cfg.SimulateFaces, "report a simulated face this often during recognition (0 disables)")
	f.StringVar(&names, "face-names", "alice,bob,", "comma-separated names for simulated faces; an empty entry is an unknown visitor")
	f.BoolVar(&cfg.FrameStream, "frame-stream", cfg.FrameStream, "push frames instead of waiting for requests")
	return cmd
}

func frameSource(cfg config.Config) (ports.FrameSource, error) {
	if cfg.FrameDir != "" {
		return vision.NewDirSource(cfg.FrameDir)
	}
	return vision.NewPatternSource(cfg.PatternSize)
}

func runVision(ctx context.Context, s *settings, names []string) error {
	cfg := s.cfg
	logger := s.logger

	src, err := frameSource(cfg)
	if err != nil {
		return err
	}
	ln, err := link.Listen(cfg.Transport, cfg.Addr, logger.With("link"))
	if err != nil {
		return err
	}
	defer ln.Close()
	logger.Info("waiting for the controller", log.String("addr", ln.Addr()), log.String("transport", cfg.Transport))

	bc := vision.DefaultConfig()
	bc.FrameInterval = cfg.FrameInterval
	bc.Producer.Stream = cfg.FrameStream

	for {
		pair, err := ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info("vision board stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		board := vision.NewBoard(pair, src, bc, logger.With("vision"))
		if err := board.Start(ctx); err != nil {
			pair.Close()
			return fmt.Errorf("start board: %w", err)
		}
		simCtx, cancelSim := context.WithCancel(ctx)
		go vision.SimulateRecognitions(simCtx, board.Sink(), cfg.SimulateFaces, names)

		select {
		case <-ctx.Done():
		case <-board.Done():
			logger.Warn("controller link lost, waiting for a new one")
		}
		cancelSim()
		if err := board.Stop(); err != nil {
			logger.Warn("board stop", log.Err(err))
		}
		pair.Close()
	}
}
