package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/mailpost/internal/dispatch"
	"github.com/nhle/mailpost/internal/display"
	"github.com/nhle/mailpost/internal/handler"
	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/metrics"
	"github.com/nhle/mailpost/internal/store"
)

var metricsTextfile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every rule once, then archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ledger, err := openLedger()
		if err != nil {
			return err
		}
		if ledger != nil {
			defer ledger.Close()
		}

		h := handler.New(cfg, handlerOptions(ledger))
		summary, err := h.Process(ctx, printResult(cmd.OutOrStdout()))
		if !jsonOutput && summary.Dispatched == 0 && err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No matching messages.")
		}

		if metricsTextfile != "" {
			if werr := metrics.WriteTextfile(metricsTextfile); werr != nil {
				logger.Warn("writing metrics textfile", "path", metricsTextfile, "error", werr)
			}
		}
		return err
	},
}

// openLedger opens the configured dispatch ledger, or returns nil when
// none is configured.
func openLedger() (*store.SQLiteStore, error) {
	if cfg.Ledger == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return s, nil
}

func handlerOptions(ledger *store.SQLiteStore) handler.Options {
	var opts handler.Options
	if ledger != nil {
		opts.Ledger = ledger
	}
	return opts
}

func printResult(w io.Writer) func(dispatch.Result) {
	return func(r dispatch.Result) {
		if !jsonOutput {
			fmt.Fprintln(w, display.ResultLine(r))
			return
		}
		line, err := display.ResultJSONLine(r)
		if err != nil {
			logger.Warn("encoding result", "url", r.URL, "error", err)
			return
		}
		fmt.Fprintln(w, line)
	}
}

// cycle adapts one handler run to the poller.
func cycle(h *handler.Handler, w io.Writer) func(ctx context.Context) error {
	emit := printResult(w)
	return func(ctx context.Context) error {
		_, err := h.Process(ctx, emit)
		return err
	}
}

func init() {
	runCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write metrics in Prometheus text format to this file after the run")
}
