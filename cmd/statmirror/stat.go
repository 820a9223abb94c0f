package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plpmc/statmirror/internal/query"
	"github.com/plpmc/statmirror/internal/store"
)

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <stats-dir> <uuid> <stat-key>",
		Short: "Print one statistic of one player from a stats directory",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(logLevel)
			if err != nil {
				return err
			}

			id, err := query.ParseID(args[1])
			if err != nil {
				return fmt.Errorf("%q: %w", args[1], err)
			}

			key, err := query.ValidateStatKey(args[2])
			if err != nil {
				return fmt.Errorf("%q: %w", args[2], err)
			}

			res := store.NewFileStore(log, args[0]).Fetch(cmd.Context(), id)

			switch res.Outcome {
			case store.OutcomeFound:
				fmt.Fprintln(cmd.OutOrStdout(), res.Document.Statistic(key))

				return nil
			case store.OutcomeCorrupt:
				return res.Err
			default:
				return fmt.Errorf("no stats document for %s in %s", id, args[0])
			}
		},
	}
}
