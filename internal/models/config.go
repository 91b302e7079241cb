// Package models contains the data structures used throughout omnibak-lite.
package models

import "time"

// CleanupMode selects which cleanup policy runs after the upload stage.
type CleanupMode string

const (
	// CleanupRemote empties the local backup directory once everything is
	// uploaded, then prunes expired artifacts on the WebDAV side.
	CleanupRemote CleanupMode = "remote"
	// CleanupLocal prunes local artifacts by modification time and never
	// touches the remote side. It runs whatever the upload outcome was.
	CleanupLocal CleanupMode = "local"
)

// Config holds the complete configuration for a backup run.
type Config struct {
	Backup      BackupSettings
	MySQL       MySQLConfig
	Files       FilesConfig
	WebDAV      WebDAVConfig
	Retention   RetentionConfig
	WOL         *WOLConfig         // nil if not configured
	SSHShutdown *SSHShutdownConfig // nil if not configured
	Telegram    *TelegramConfig    // nil if not configured
}

// BackupSettings holds settings for the local working directory.
type BackupSettings struct {
	Dir  string `validate:"required"`
	Host string
}

// MySQLConfig holds database dump configuration.
type MySQLConfig struct {
	Enabled  bool
	Host     string `validate:"required_if=Enabled true"`
	Port     int    `validate:"omitempty,min=1,max=65535"`
	User     string `validate:"required_if=Enabled true"`
	Password string
}

// FilesConfig holds the paths archived on each run.
type FilesConfig struct {
	Enabled bool
	Paths   []PathSpec `validate:"required_if=Enabled true,dive"`
}

// PathSpec is one archived source and the label its artifact is named after.
type PathSpec struct {
	Source string `validate:"required"`
	Label  string `validate:"required"`
}

// WebDAVConfig holds remote storage configuration.
type WebDAVConfig struct {
	Enabled       bool
	URL           string `validate:"required_if=Enabled true"`
	User          string
	Password      string
	Retries       int `validate:"min=0,max=10"`
	RetryInterval time.Duration
}

// RetentionConfig defines how long artifacts are kept.
type RetentionConfig struct {
	Days int         `validate:"min=1"`
	Mode CleanupMode `validate:"oneof=remote local"`
}
