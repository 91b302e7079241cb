package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/fgeck/omnibak-lite/internal/services/command"
	"github.com/fgeck/omnibak-lite/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cleanupMode string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the backup workflow",
	Long: `Execute the complete backup workflow:
1. Wake-on-LAN (if configured)
2. MySQL dump (if mysql.enabled)
3. Archive configured paths (if files.enabled)
4. Upload every artifact to WebDAV (if webdav.enabled)
5. Cleanup:
   remote  after a successful upload, empty the local directory and delete
           remote artifacts older than retention.days (default)
   local   delete local artifacts older than retention.days, always
6. SSH shutdown (if configured)
7. Send Telegram notification (if configured)

Stage failures are logged and summarized; they do not change the exit code.`,
	RunE: runBackup,
}

func init() {
	runCmd.Flags().StringVar(&cleanupMode, "cleanup-mode", "", "override retention.mode (remote or local)")
}

func runBackup(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	switch models.CleanupMode(cleanupMode) {
	case "":
	case models.CleanupRemote, models.CleanupLocal:
		cfg.Retention.Mode = models.CleanupMode(cleanupMode)
	default:
		return fmt.Errorf("invalid --cleanup-mode %q, expected remote or local", cleanupMode)
	}

	log.Info().
		Str("config", configFile).
		Str("dir", cfg.Backup.Dir).
		Str("host", cfg.Backup.Host).
		Str("cleanup_mode", string(cfg.Retention.Mode)).
		Msg("configuration loaded")

	if missing := command.New(log.Logger).Missing(runner.RequiredTools(*cfg)...); len(missing) > 0 {
		log.Warn().Strs("tools", missing).Msg("required tools not found in PATH, affected stages will fail")
	}

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	runnerSvc := runner.New(log.Logger)
	if _, err := runnerSvc.Run(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	return nil
}
