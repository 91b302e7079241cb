package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fgeck/omnibak-lite/internal/config"
	"github.com/fgeck/omnibak-lite/internal/logging"
	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	envFile    string
	logFile    string
	verbose    bool
	quiet      bool
	jsonOutput bool

	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "omnibak-lite",
	Short: "A one-shot MySQL and file backup to WebDAV",
	Long: `omnibak-lite is a backup orchestrator that handles:
  - MySQL dumps via mysqldump, gzip compressed
  - Archives of configured paths via tar
  - Upload of every artifact to a WebDAV collection via curl
  - Retention of local and remote artifacts
  - Optional Wake-on-LAN, SSH shutdown and Telegram notifications

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from a .env file before reading the config")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file, rotated by size")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	_ = rootCmd.MarkPersistentFlagRequired("config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func setupLogging() error {
	logger, closer, err := logging.New(os.Stdout, logging.Options{
		JSON:    jsonOutput,
		Verbose: verbose,
		Quiet:   quiet,
		File:    logFile,
	})
	if err != nil {
		return err
	}
	log.Logger = logger
	logCloser = closer
	return nil
}

// loadConfig reads the optional env file, then parses and validates the
// configuration file.
func loadConfig() (*config.Parser, *models.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Error().Err(err).Str("file", envFile).Msg("failed to load env file")
			return nil, nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	parser := config.NewParser(log.Logger)
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, nil, err
	}
	return parser, cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
