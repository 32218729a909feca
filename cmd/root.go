package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/config"
)

var (
	cfg    *config.Config
	userID string
)

var rootCmd = &cobra.Command{
	Use:   "shuffle",
	Short: "Accessibility prospecting pipeline",
	Long:  "Discovers local businesses, scans their websites for accessibility violations, finds decision makers, syncs them to the CRM, and writes outreach scripts.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("SHUFFLE_USER"), "acting user id (default $SHUFFLE_USER)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
