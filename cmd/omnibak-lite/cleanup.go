package main

import (
	"context"

	"github.com/fgeck/omnibak-lite/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete local artifacts older than the retention window",
	Long: `Apply the local retention rule to backup.dir without running a backup:
every file last modified more than retention.days ago is deleted. The WebDAV
side is not touched.`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	result, err := runner.New(log.Logger).Cleanup(context.Background(), *cfg)
	if err != nil {
		log.Error().Err(err).Msg("cleanup failed")
		return err
	}

	for _, path := range result.LocalDeleted {
		cmd.Println("removed", path)
	}
	if len(result.Errors) > 0 {
		return result.Errors[0]
	}
	return nil
}
