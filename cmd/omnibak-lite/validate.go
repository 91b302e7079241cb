package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/fgeck/omnibak-lite/internal/services/command"
	"github.com/fgeck/omnibak-lite/internal/services/runner"
	"github.com/fgeck/omnibak-lite/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	printTree bool
	checkSSH  bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without executing any backup operations.
Also reports external tools missing from PATH for the enabled stages.
With --check-ssh, logs into the storage host to verify the shutdown credentials.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&printTree, "print", false, "print the parsed configuration in normalized form")
	validateCmd.Flags().BoolVar(&checkSSH, "check-ssh", false, "connect to the storage host with the ssh_shutdown settings")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	parser, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if printTree {
		if err := parser.Tree().Encode(os.Stdout); err != nil {
			return err
		}
		fmt.Println()
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Backup dir: %s\n", cfg.Backup.Dir)
	fmt.Printf("  Host: %s\n", cfg.Backup.Host)
	fmt.Println()
	fmt.Println("Retention:")
	fmt.Printf("  Days: %d\n", cfg.Retention.Days)
	fmt.Printf("  Mode: %s\n", cfg.Retention.Mode)
	fmt.Println()
	fmt.Println("Stages:")
	fmt.Printf("  MySQL: %v\n", cfg.MySQL.Enabled)
	fmt.Printf("  Files: %v\n", cfg.Files.Enabled)
	fmt.Printf("  WebDAV: %v\n", cfg.WebDAV.Enabled)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.MySQL.Enabled {
		fmt.Println()
		fmt.Println("MySQL Configuration:")
		fmt.Printf("  Host: %s\n", cfg.MySQL.Host)
		fmt.Printf("  Port: %d\n", cfg.MySQL.Port)
		fmt.Printf("  User: %s\n", cfg.MySQL.User)
	}

	if cfg.Files.Enabled {
		fmt.Println()
		fmt.Println("Paths:")
		for _, spec := range cfg.Files.Paths {
			fmt.Printf("  %s -> %s\n", spec.Source, spec.Label)
		}
	}

	if cfg.WebDAV.Enabled {
		fmt.Println()
		fmt.Println("WebDAV Configuration:")
		fmt.Printf("  URL: %s\n", cfg.WebDAV.URL)
		fmt.Printf("  User: %s\n", cfg.WebDAV.User)
		fmt.Printf("  Retries: %d\n", cfg.WebDAV.Retries)
	}

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollURL != "" {
			fmt.Printf("  Poll URL: %s\n", cfg.WOL.PollURL)
		}
	}

	if cfg.SSHShutdown != nil {
		fmt.Println()
		fmt.Println("SSH Shutdown Configuration:")
		fmt.Printf("  Host: %s\n", cfg.SSHShutdown.Host)
		fmt.Printf("  Port: %d\n", cfg.SSHShutdown.Port)
		fmt.Printf("  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Printf("  OS: %s\n", cfg.SSHShutdown.OS)
		fmt.Printf("  Shutdown Delay: %d minute(s)\n", cfg.SSHShutdown.ShutdownDelay)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if missing := command.New(log.Logger).Missing(runner.RequiredTools(*cfg)...); len(missing) > 0 {
		fmt.Println()
		fmt.Printf("Missing tools: %s\n", strings.Join(missing, ", "))
		return fmt.Errorf("required tools not found in PATH: %s", strings.Join(missing, ", "))
	}

	if checkSSH {
		fmt.Println()
		if err := pingStorageHost(cmd.Context(), ssh.New(log.Logger), cfg.SSHShutdown); err != nil {
			fmt.Printf("SSH check: failed\n")
			return err
		}
		fmt.Printf("SSH check: ok\n")
	}

	return nil
}

// pingStorageHost verifies that the shutdown credentials work without
// powering anything off.
func pingStorageHost(ctx context.Context, svc ssh.Service, cfg *models.SSHShutdownConfig) error {
	if cfg == nil {
		return errors.New("--check-ssh needs an ssh_shutdown section")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := svc.Ping(ctx, *cfg)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		return fmt.Errorf("ssh check against %s failed: %w", cfg.Host, err)
	}
	return nil
}
