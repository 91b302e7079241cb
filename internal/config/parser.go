// Package config reads the omnibak-lite configuration dialect and turns it
// into a validated models.Config.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. OMNIBAK_MYSQL_PASSWORD.
const EnvPrefix = "OMNIBAK"

// DefaultBackupDir is the local working directory when backup.dir is unset.
const DefaultBackupDir = "/tmp/omnibaklite_backups"

// Parser handles configuration file parsing.
type Parser struct {
	v      *viper.Viper
	logger zerolog.Logger
	tree   *Tree
}

// NewParser creates a new configuration parser.
func NewParser(logger zerolog.Logger) *Parser {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Parser{v: v, logger: logger}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, &ConfigError{Path: path, Msg: "reading config file", Err: err}
	}
	defer func() { _ = f.Close() }()

	tree, err := Parse(f, p.logger)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
		}
		return nil, err
	}

	cfg, err := p.load(tree)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) && cfgErr.Path == "" {
			cfgErr.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	tree, err := Parse(strings.NewReader(content), p.logger)
	if err != nil {
		return nil, err
	}
	return p.load(tree)
}

// Tree returns the dialect tree of the last successful load.
func (p *Parser) Tree() *Tree {
	return p.tree
}

func (p *Parser) load(tree *Tree) (*models.Config, error) {
	m := tree.Map()
	if err := checkFoldedKeys(m); err != nil {
		return nil, err
	}
	if err := p.v.MergeConfigMap(m); err != nil {
		return nil, &ConfigError{Msg: "merging config", Err: err}
	}
	p.tree = tree

	cfg, err := p.parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	cfg.Backup = models.BackupSettings{
		Dir:  p.str("backup.dir"),
		Host: p.str("backup.host"),
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = DefaultBackupDir
	}
	if cfg.Backup.Host == "" {
		hostname, err := os.Hostname()
		if err != nil {
			cfg.Backup.Host = "unknown"
		} else {
			cfg.Backup.Host = hostname
		}
	}

	cfg.MySQL = models.MySQLConfig{
		Enabled:  p.v.GetBool("mysql.enabled"),
		Host:     p.str("mysql.host"),
		Port:     p.v.GetInt("mysql.port"),
		User:     p.expandEnv(p.str("mysql.user")),
		Password: p.expandEnv(p.str("mysql.password")),
	}
	if cfg.MySQL.Host == "" {
		cfg.MySQL.Host = "localhost"
	}
	if cfg.MySQL.Port == 0 {
		cfg.MySQL.Port = 3306
	}

	cfg.Files = models.FilesConfig{
		Enabled: p.v.GetBool("files.enabled"),
	}
	for _, raw := range p.v.GetStringSlice("files.paths") {
		spec, err := ParsePathSpec(raw)
		if err != nil {
			return nil, &ConfigError{Msg: "files.paths", Err: err}
		}
		if strings.Contains(spec.Label, "_") {
			p.logger.Warn().Str("label", spec.Label).
				Msg("label contains '_', remote retention cannot read dates from its artifacts")
		}
		cfg.Files.Paths = append(cfg.Files.Paths, spec)
	}

	retryInterval, err := p.duration("webdav.retry_interval")
	if err != nil {
		return nil, err
	}
	cfg.WebDAV = models.WebDAVConfig{
		Enabled:       p.v.GetBool("webdav.enabled"),
		URL:           p.str("webdav.url"),
		User:          p.expandEnv(p.str("webdav.user")),
		Password:      p.expandEnv(p.str("webdav.password")),
		Retries:       p.v.GetInt("webdav.retries"),
		RetryInterval: retryInterval,
	}
	if cfg.WebDAV.RetryInterval == 0 {
		cfg.WebDAV.RetryInterval = 2 * time.Second
	}

	cfg.Retention = models.RetentionConfig{
		Days: p.v.GetInt("retention.days"),
		Mode: models.CleanupMode(strings.ToLower(p.str("retention.mode"))),
	}
	if cfg.Retention.Days <= 0 {
		cfg.Retention.Days = DefaultRetentionDays
	}
	if cfg.Retention.Mode == "" {
		cfg.Retention.Mode = models.CleanupRemote
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:  p.str("wol.mac_address"),
			BroadcastIP: p.str("wol.broadcast_ip"),
			PollURL:     p.str("wol.poll_url"),
		}
		for key, dst := range map[string]*time.Duration{
			"wol.timeout":        &cfg.WOL.Timeout,
			"wol.poll_interval":  &cfg.WOL.PollInterval,
			"wol.stabilize_wait": &cfg.WOL.StabilizeWait,
		} {
			if *dst, err = p.duration(key); err != nil {
				return nil, err
			}
		}

		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.PollURL == "" && cfg.WebDAV.Enabled {
			cfg.WOL.PollURL = cfg.WebDAV.URL
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("ssh_shutdown") {
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:          p.str("ssh_shutdown.host"),
			Port:          p.v.GetInt("ssh_shutdown.port"),
			Username:      p.str("ssh_shutdown.username"),
			KeyPath:       p.expandEnv(p.str("ssh_shutdown.key_path")),
			KnownHosts:    p.expandEnv(p.str("ssh_shutdown.known_hosts")),
			ShutdownDelay: p.v.GetInt("ssh_shutdown.shutdown_delay"),
			OS:            strings.ToLower(p.str("ssh_shutdown.os")),
		}

		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if cfg.SSHShutdown.OS == "" {
			cfg.SSHShutdown.OS = "linux"
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.str("telegram.bot_token")),
			ChatID:   p.expandEnv(p.str("telegram.chat_id")),
		}
	}

	return cfg, nil
}

// str reads a string value and drops one pair of surrounding quotes, which
// the dialect keeps verbatim.
func (p *Parser) str(key string) string {
	return unquote(strings.TrimSpace(p.v.GetString(key)))
}

// duration reads a duration such as "90s" or "5m". A bare integer is a
// number of seconds.
func (p *Parser) duration(key string) (time.Duration, error) {
	if n, ok := p.v.Get(key).(int); ok {
		if n < 0 {
			return 0, &ConfigError{Msg: fmt.Sprintf("%s must not be negative, got %d", key, n)}
		}
		return time.Duration(n) * time.Second, nil
	}

	raw := p.str(key)
	if raw == "" {
		return 0, nil
	}
	if isDigits(raw) {
		n, err := strconv.Atoi(raw)
		if err == nil {
			return time.Duration(n) * time.Second, nil
		}
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, &ConfigError{Msg: fmt.Sprintf("%s %q must be a duration such as 30s or 5m, or a number of seconds", key, raw)}
	}
	return d, nil
}

// checkFoldedKeys rejects section or key names that differ only in case.
// Viper folds keys to lower case, so one would silently replace the other.
func checkFoldedKeys(m map[string]any) error {
	if a, b, ok := foldedDuplicate(m); ok {
		return &ConfigError{Msg: fmt.Sprintf("sections %q and %q differ only in case", a, b)}
	}
	for _, name := range sortedNames(m) {
		section, _ := m[name].(map[string]any)
		if a, b, ok := foldedDuplicate(section); ok {
			return &ConfigError{Msg: fmt.Sprintf("keys %s.%s and %s.%s differ only in case", name, a, name, b)}
		}
	}
	return nil
}

func foldedDuplicate(m map[string]any) (string, string, bool) {
	seen := make(map[string]string, len(m))
	for _, name := range sortedNames(m) {
		folded := strings.ToLower(name)
		if prev, ok := seen[folded]; ok {
			return prev, name, true
		}
		seen[folded] = name
	}
	return "", "", false
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// ParsePathSpec parses one files.paths item. "src:label" names the artifact
// after label; a bare path is named after its last segment.
func ParsePathSpec(raw string) (models.PathSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.PathSpec{}, fmt.Errorf("empty path")
	}

	switch strings.Count(raw, ":") {
	case 0:
		label := filepath.Base(filepath.Clean(raw))
		if label == "/" || label == "." || label == ".." {
			return models.PathSpec{}, fmt.Errorf("cannot derive a label from %q, use source:label", raw)
		}
		return models.PathSpec{Source: raw, Label: label}, nil
	case 1:
		src, label, _ := strings.Cut(raw, ":")
		src, label = strings.TrimSpace(src), strings.TrimSpace(label)
		if src == "" || label == "" {
			return models.PathSpec{}, fmt.Errorf("%q must be source:label with both parts set", raw)
		}
		if strings.ContainsRune(label, filepath.Separator) {
			return models.PathSpec{}, fmt.Errorf("label %q must not contain a path separator", label)
		}
		return models.PathSpec{Source: src, Label: label}, nil
	default:
		return models.PathSpec{}, fmt.Errorf("%q has more than one ':' separator", raw)
	}
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return &ConfigError{Msg: "configuration is nil"}
	}

	if err := validate().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return &ConfigError{Msg: strings.Join(msgs, "; ")}
		}
		return &ConfigError{Msg: "validating config", Err: err}
	}

	if cfg.WebDAV.Enabled {
		u, err := url.Parse(cfg.WebDAV.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Msg: fmt.Sprintf("webdav.url %q must be an http(s) URL", cfg.WebDAV.URL)}
		}
	}

	return nil
}
