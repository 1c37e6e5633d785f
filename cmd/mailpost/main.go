package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/mailpost/internal/logger"
	"github.com/nhle/mailpost/internal/model"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	configPath string
	jsonOutput bool
	cfg        *model.Config
	logFile    *os.File
)

var rootCmd = &cobra.Command{
	Use:   "mailpost",
	Short: "mailpost - forward matching mail to HTTP endpoints",
	Long: "mailpost searches IMAP mailboxes, matches messages against rules and " +
		"posts each match to a webhook.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Commands that run without a config file
		switch cmd.Name() {
		case "init", "help", "version":
			return nil
		}

		var err error
		cfg, err = model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logFile, err = logger.Initialize(cfg.Logging)
		if err != nil {
			return err
		}
		logger.Debug("config loaded", "path", configPath, "rules", len(cfg.Rules))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mailpost version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", model.DefaultConfigPath(), "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
