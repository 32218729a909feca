package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/shuffle"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a shuffle and wait for it to finish",
	Long:  "Discovers sites for a category, scans them, and runs lead extraction, CRM sync, and outreach for non-compliant ones. Polls until the session is terminal; Ctrl-C leaves it running for the next serve to resume.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "shuffle")
		if err != nil {
			return err
		}
		defer env.Close()

		projectID, _ := cmd.Flags().GetInt64("project")
		category, _ := cmd.Flags().GetString("category")
		demographics, _ := cmd.Flags().GetString("demographics")
		sites, _ := cmd.Flags().GetInt("sites")
		poll, _ := cmd.Flags().GetDuration("poll")

		req := shuffle.StartRequest{ProjectID: projectID, Category: category, SitesToDiscover: sites}
		if demographics != "" {
			req.Demographics = &demographics
		}
		id, err := env.Service.StartShuffle(ctx, userID, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Started session %s\n", id)

		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return env.Service.Shutdown(context.WithoutCancel(ctx))
			case <-ticker.C:
			}
			details, err := env.Service.GetShuffleDetails(ctx, userID, id)
			if err != nil {
				return err
			}
			s := details.Session
			zap.L().Info("shuffle progress",
				zap.String("session_id", id),
				zap.String("status", string(s.Status)),
				zap.Int("progress", details.Progress),
				zap.Int("scanned", s.ScannedSites),
				zap.Int("failed", s.FailedSites),
			)
			if s.Status.IsTerminal() {
				formatDetails(os.Stdout, details)
				return env.Service.Shutdown(ctx)
			}
		}
	},
}

func init() {
	startCmd.Flags().Int64("project", 0, "project id")
	startCmd.Flags().String("category", "", "business category to search, e.g. \"dentists\"")
	startCmd.Flags().String("demographics", "", "optional location or audience qualifier")
	startCmd.Flags().Int("sites", 10, "sites to discover (5-50)")
	startCmd.Flags().Duration("poll", 5*time.Second, "status poll interval")
	_ = startCmd.MarkFlagRequired("project")
	_ = startCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(startCmd)
}
