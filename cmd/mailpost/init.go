package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/mailpost/internal/model"
	"github.com/nhle/mailpost/internal/setup"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		}

		answers := setup.NewAnswers()
		if err := setup.Form(answers).Run(); err != nil {
			return err
		}

		c, err := answers.Config()
		if err != nil {
			return err
		}
		if err := answers.StorePassword(); err != nil {
			return fmt.Errorf("saving password to keyring: %w", err)
		}
		if err := model.SaveConfig(configPath, c); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nRun 'mailpost check --connect' to verify the account.\n", configPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration")
}
