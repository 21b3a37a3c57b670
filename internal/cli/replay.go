package cli

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/wamcp-ingest/internal/repo"
)

func newReplayCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "replay [raw-event-id...]",
		Short: "Re-run normalization and storage for stored deliveries",
		Long: "replay re-processes stored raw events, either by id or every event with a given parse status " +
			"(for example store_failed). Messages that already exist are left untouched, so replaying is safe to repeat.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && status == "" {
				return errors.New("pass raw event ids or --status")
			}
			ctx := cmd.Context()

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			svc, backend, err := newIngestService(ctx, db, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			ids := append([]string(nil), args...)
			if status != "" {
				evs, err := repo.ListRawEventsByStatus(ctx, db, status, limit)
				if err != nil {
					return fmt.Errorf("list raw events: %w", err)
				}
				for _, ev := range evs {
					ids = append(ids, ev.ID)
				}
			}

			out := cmd.OutOrStdout()
			var failed int
			for _, id := range ids {
				res, err := svc.Replay(ctx, id)
				if err != nil {
					failed++
					log.Error().Err(err).Str("raw_event_id", id).Msg("replay failed")
					fmt.Fprintf(out, "%s\terror\t%v\n", id, err)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%d\n", id, res.Outcome, res.Count)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d replays failed", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "replay every raw event with this parse status (ok, decode_failed, parse_failed, store_failed)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events selected by --status (0 = all)")
	return cmd
}
