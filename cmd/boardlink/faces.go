package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/boardlink/internal/adapters/pg"
	"github.com/bft-labs/boardlink/internal/domain"
)

func newFacesCommand(s *settings) *cobra.Command {
	cfg := &s.cfg
	var limit int

	cmd := &cobra.Command{
		Use:   "faces",
		Short: "List the latest face events recorded in PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.load(cmd); err != nil {
				return err
			}
			if s.cfg.PostgresDSN == "" {
				return fmt.Errorf("%w: --postgres-dsn is required", domain.ErrInvalidConfig)
			}
			if limit <= 0 {
				return fmt.Errorf("%w: limit must be positive", domain.ErrInvalidArgument)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			store, err := pg.Open(ctx, s.cfg.PostgresDSN, s.cfg.DeviceID, false, s.logger.With("faces"))
			if err != nil {
				return fmt.Errorf("open face store: %w", err)
			}
			defer store.Close(context.Background())

			events, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			return printFaceEvents(cmd.OutOrStdout(), events)
		},
	}

	f := cmd.Flags()
	f.IntVar(&limit, "limit", 20, "number of events to show")
	f.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL holding the face events")
	f.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device whose events to list")
	return cmd
}

func printFaceEvents(out io.Writer, events []pg.FaceEvent) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(out, "No face events recorded.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tDETECTED\tFRAME\tNAME\tCONFIDENCE\tIMAGE")
	fmt.Fprintln(w, "--\t--------\t-----\t----\t----------\t-----")
	for _, e := range events {
		name := e.Name
		if !e.Recognized {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%.2f\t%d\n",
			e.ID, e.DetectedAt.Local().Format("2006-01-02 15:04:05"), e.FrameID, name, e.Confidence, e.ImageBytes)
	}
	return w.Flush()
}
