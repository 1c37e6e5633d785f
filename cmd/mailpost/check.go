package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailpost/internal/credential"
	"github.com/nhle/mailpost/internal/display"
	"github.com/nhle/mailpost/internal/mailstore"
	"github.com/nhle/mailpost/internal/theme"
)

var checkConnect bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and show the resolved rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()

		var mailboxes []string
		if checkConnect {
			var err error
			mailboxes, err = listMailboxes(cmd.Context())
			if err != nil {
				return err
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"config":    configPath,
				"rules":     cfg.Rules,
				"mailboxes": mailboxes,
			})
		}

		fmt.Fprintf(w, "%s %s\n", theme.SuccessStyle.Render("ok"), configPath)
		fmt.Fprintf(w, "server:  %s (%s)\n", cfg.IMAP().Addr(), cfg.Username)
		if cfg.Archive != "" {
			fmt.Fprintf(w, "archive: %s, retention %s\n", cfg.Archive, cfg.ArchiveLife)
		}
		fmt.Fprintln(w)
		for _, line := range display.RuleLines(cfg.Rules, cfg.BaseURL) {
			fmt.Fprintln(w, line)
		}

		if checkConnect {
			fmt.Fprintln(w)
			fmt.Fprintln(w, theme.HeaderStyle.Render("mailboxes"))
			for _, name := range mailboxes {
				fmt.Fprintf(w, "  %s\n", name)
			}
		}
		return nil
	},
}

// listMailboxes logs in with the configured credentials and lists the
// server's mailboxes.
func listMailboxes(ctx context.Context) ([]string, error) {
	password, err := credential.Resolve(cfg.Password)
	if err != nil {
		return nil, err
	}
	s := mailstore.NewSession(mailstore.IMAPDialer(cfg.IMAP()), cfg.Username, password)
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = s.Logout(logoutCtx)
	}()
	return s.ListMailboxes(ctx)
}

func init() {
	checkCmd.Flags().BoolVar(&checkConnect, "connect", false, "Log in and list the server's mailboxes")
}
