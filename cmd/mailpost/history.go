package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailpost/internal/archive"
	"github.com/nhle/mailpost/internal/display"
	"github.com/nhle/mailpost/internal/store"
)

var (
	historyLimit  int
	historyRun    string
	historyRule   string
	historyFailed bool
	historyPrune  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent dispatches from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		if ledger == nil {
			return errors.New("no ledger configured (set 'ledger' in the config)")
		}
		defer ledger.Close()

		ctx := cmd.Context()
		w := cmd.OutOrStdout()
		now := time.Now()

		if historyPrune != "" {
			age, err := archive.ParseRetention(historyPrune)
			if err != nil {
				return fmt.Errorf("--prune: %w", err)
			}
			if age <= 0 {
				return fmt.Errorf("--prune: %q disables pruning", historyPrune)
			}
			n, err := ledger.PruneDispatches(ctx, now.Add(-age))
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Pruned %d dispatches older than %s\n", n, historyPrune)
			return nil
		}

		filter := store.DispatchFilter{Limit: historyLimit}
		if historyRun != "" {
			filter.RunID = &historyRun
		}
		if historyRule != "" {
			filter.Rule = &historyRule
		}
		if historyFailed {
			filter.Failed = &historyFailed
		}

		recs, err := ledger.RecentDispatches(ctx, filter)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}

		if len(recs) == 0 {
			fmt.Fprintln(w, "No dispatches recorded.")
			return nil
		}
		for _, rec := range recs {
			fmt.Fprintln(w, display.HistoryLine(rec, now))
		}
		total, err := ledger.CountDispatches(ctx, filter)
		if err != nil {
			return err
		}
		if total > len(recs) {
			fmt.Fprintf(w, "\n%d of %d shown\n", len(recs), total)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of entries")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Only show dispatches from this run ID")
	historyCmd.Flags().StringVar(&historyRule, "rule", "", "Only show dispatches for this rule")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "Only show failed dispatches")
	historyCmd.Flags().StringVar(&historyPrune, "prune", "", "Delete entries older than this age (e.g. \"4 weeks\") instead of listing")
}
