package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorInstance *validator.Validate
	validatorOnce     sync.Once
)

// validate returns the shared validator. It caches struct metadata, so it is
// built once.
func validate() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInstance = validator.New()
	})
	return validatorInstance
}

// configKeys maps struct namespaces to the keys an operator writes.
var configKeys = map[string]string{
	"Config.Backup.Dir":           "backup.dir",
	"Config.MySQL.Host":           "mysql.host",
	"Config.MySQL.Port":           "mysql.port",
	"Config.MySQL.User":           "mysql.user",
	"Config.Files.Paths":          "files.paths",
	"Config.WebDAV.URL":           "webdav.url",
	"Config.WebDAV.Retries":       "webdav.retries",
	"Config.Retention.Days":       "retention.days",
	"Config.Retention.Mode":       "retention.mode",
	"Config.WOL.MACAddress":       "wol.mac_address",
	"Config.WOL.BroadcastIP":      "wol.broadcast_ip",
	"Config.SSHShutdown.Host":     "ssh_shutdown.host",
	"Config.SSHShutdown.Port":     "ssh_shutdown.port",
	"Config.SSHShutdown.Username": "ssh_shutdown.username",
	"Config.SSHShutdown.KeyPath":  "ssh_shutdown.key_path",
	"Config.SSHShutdown.OS":       "ssh_shutdown.os",
	"Config.Telegram.BotToken":    "telegram.bot_token",
	"Config.Telegram.ChatID":      "telegram.chat_id",
}

func describeFieldError(fe validator.FieldError) string {
	key, ok := configKeys[fe.Namespace()]
	if !ok {
		key = strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", key)
	case "required_if":
		section, _, _ := strings.Cut(key, ".")
		return fmt.Sprintf("%s is required when %s is enabled", key, section)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", key, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s must be at least %s", key, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", key, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a URL", key)
	case "mac":
		return fmt.Sprintf("%s must be a MAC address", key)
	case "ip":
		return fmt.Sprintf("%s must be an IP address", key)
	default:
		return fmt.Sprintf("%s failed %s validation", key, fe.Tag())
	}
}
