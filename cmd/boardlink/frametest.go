package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bft-labs/boardlink/internal/command"
	"github.com/bft-labs/boardlink/internal/frame"
	"github.com/bft-labs/boardlink/internal/link"
	"github.com/bft-labs/boardlink/internal/vision"
	"github.com/bft-labs/boardlink/pkg/log"
)

func newFrameTestCommand(s *settings) *cobra.Command {
	var count int
	var verify bool

	cmd := &cobra.Command{
		Use:   "frametest",
		Short: "Pull frames from a vision board and check the test pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.load(cmd); err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("count must be positive")
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runFrameTest(ctx, s, count, verify)
		},
	}
	cmd.Flags().IntVar(&count, "count", 100, "number of frames to pull")
	cmd.Flags().BoolVar(&verify, "verify", true, "verify every payload against the test pattern")
	return cmd
}

func runFrameTest(ctx context.Context, s *settings, count int, verify bool) error {
	cfg := s.cfg
	logger := s.logger

	dial, err := link.Dialer(cfg.Transport, cfg.Addr)
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pair, err := link.DialWithRetry(dialCtx, dial, 200*time.Millisecond, 2*time.Second, logger.With("link"))
	cancel()
	if err != nil {
		return fmt.Errorf("dial vision board: %w", err)
	}
	defer pair.Close()

	ch := command.NewChannel(pair.Command, command.DefaultConfig(), logger.With("command"))
	if err := ch.Start(ctx); err != nil {
		return err
	}
	defer ch.Stop()
	if err := ch.SendCommand(vision.CmdCameraControl, map[string]any{"name": "camera_start"}); err != nil {
		return fmt.Errorf("start camera: %w", err)
	}
	defer ch.SendCommand(vision.CmdCameraControl, map[string]any{"name": "camera_stop"})

	consumer := frame.NewConsumer(pair.Frames, frame.DefaultConsumerConfig(), logger.With("frames"))
	if err := consumer.PerformHandshake(ctx, 10); err != nil {
		return err
	}

	bar := progressbar.NewOptions(count,
		progressbar.OptionSetDescription("pulling frames"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	var bytes, corrupt, empty int
	start := time.Now()
	for got := 0; got < count; {
		if !consumer.Ready() {
			if err := consumer.PerformHandshake(ctx, 10); err != nil {
				return err
			}
		}
		f, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if link.IsClosed(err) {
				return fmt.Errorf("frame link lost after %d frames: %w", got, err)
			}
			logger.Warn("fetch failed", log.Err(err))
			continue
		}
		if f == nil {
			empty++
			continue
		}
		got++
		bytes += f.Size()
		if verify {
			if err := frame.VerifyPattern(f.Payload); err != nil {
				corrupt++
				logger.Warn("pattern mismatch", log.Int("frame_id", int(f.ID)), log.Err(err))
			}
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	elapsed := time.Since(start)
	st := consumer.Stats()
	logger.Info("frame test complete",
		log.Uint64("frames", st.Received),
		log.Uint64("failed", st.Failed),
		log.Uint64("resyncs", st.Resyncs),
		log.Int("corrupt", corrupt),
		log.Int("empty_polls", empty),
		log.Duration("elapsed", elapsed),
		log.Float64("kib_per_sec", float64(bytes)/1024/elapsed.Seconds()),
	)
	if corrupt > 0 {
		return fmt.Errorf("%d of %d frames failed pattern verification", corrupt, st.Received)
	}
	return nil
}
