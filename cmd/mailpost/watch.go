package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailpost/internal/handler"
	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/status"
	"github.com/nhle/mailpost/internal/sync"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Process the rules every poll interval until interrupted",
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
		poller := sync.New(cycle(h, cmd.OutOrStdout()), cfg.PollInterval)

		grp, ctx := errgroup.WithContext(ctx)
		grp.Go(func() error {
			return poller.Run(ctx)
		})
		if cfg.MetricsAddr != "" {
			srv := status.New(cfg.MetricsAddr, poller)
			grp.Go(func() error {
				return srv.Start(ctx)
			})
		}

		logger.Info("watching", "interval", cfg.PollInterval, "rules", len(cfg.Rules))
		return grp.Wait()
	},
}
