// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/fgeck/omnibak-lite/internal/retention"
	"github.com/fgeck/omnibak-lite/internal/services/archive"
	"github.com/fgeck/omnibak-lite/internal/services/mysql"
	"github.com/fgeck/omnibak-lite/internal/services/ssh"
	"github.com/fgeck/omnibak-lite/internal/services/telegram"
	"github.com/fgeck/omnibak-lite/internal/services/webdav"
	"github.com/fgeck/omnibak-lite/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TimestampLayout is the run timestamp shared by every artifact of a run.
const TimestampLayout = "20060102150405"

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) (*models.RunSummary, error)
	Cleanup(ctx context.Context, cfg models.Config) (*models.CleanupResult, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	mysqlSvc    mysql.Service
	archiveSvc  archive.Service
	webdavSvc   webdav.Service
	wolSvc      wol.Service
	sshSvc      ssh.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		mysqlSvc:    mysql.New(logger),
		archiveSvc:  archive.New(logger),
		webdavSvc:   webdav.New(logger),
		wolSvc:      wol.New(logger),
		sshSvc:      ssh.New(logger),
		telegramSvc: telegram.New(logger),
		logger:      logger,
		now:         time.Now,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	mysqlSvc mysql.Service,
	archiveSvc archive.Service,
	webdavSvc webdav.Service,
	wolSvc wol.Service,
	sshSvc ssh.Service,
	telegramSvc telegram.Service,
	now func() time.Time,
) *Impl {
	if now == nil {
		now = time.Now
	}
	return &Impl{
		mysqlSvc:    mysqlSvc,
		archiveSvc:  archiveSvc,
		webdavSvc:   webdavSvc,
		wolSvc:      wolSvc,
		sshSvc:      sshSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
		now:         now,
	}
}

// RequiredTools lists the external commands the enabled stages invoke.
func RequiredTools(cfg models.Config) []string {
	var tools []string
	if cfg.MySQL.Enabled {
		tools = append(tools, mysql.Tools...)
	}
	if cfg.Files.Enabled {
		tools = append(tools, archive.Tools...)
	}
	if cfg.WebDAV.Enabled {
		tools = append(tools, webdav.Tools...)
	}
	return tools
}

// job is the state of one run.
type job struct {
	*Impl
	cfg     models.Config
	logger  zerolog.Logger
	summary *models.RunSummary
}

// Run executes the complete backup workflow. Only a failed Init is returned
// as an error; every other failure is recorded in the summary.
func (s *Impl) Run(ctx context.Context, cfg models.Config) (*models.RunSummary, error) {
	start := s.now()
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		Timestamp: start.Format(TimestampLayout),
		Dir:       cfg.Backup.Dir,
		Host:      cfg.Backup.Host,
		StartTime: start,
	}
	j := &job{
		Impl:    s,
		cfg:     cfg,
		logger:  s.logger.With().Str("run_id", summary.RunID).Logger(),
		summary: summary,
	}

	j.logger.Info().
		Str("dir", summary.Dir).
		Str("timestamp", summary.Timestamp).
		Str("host", summary.Host).
		Str("cleanup_mode", string(cfg.Retention.Mode)).
		Msg("starting backup run")

	if err := os.MkdirAll(summary.Dir, 0o750); err != nil {
		err = fmt.Errorf("init failed: cannot create backup directory %s: %w", summary.Dir, err)
		summary.Errors = append(summary.Errors, err)
		j.finish(ctx, models.OutcomeFailed)
		return summary, err
	}

	// Step 1: Wake-on-LAN (if configured)
	awake := true
	if cfg.WOL != nil {
		awake = j.wake(ctx)
	}

	// Step 2: MySQL dump (if enabled)
	if cfg.MySQL.Enabled {
		j.dumpDatabase(ctx)
	} else {
		j.logger.Debug().Msg("mysql disabled, skipping dump")
	}

	// Step 3: Archive paths (if enabled)
	if cfg.Files.Enabled {
		j.archiveFiles(ctx)
	} else {
		j.logger.Debug().Msg("files disabled, skipping archives")
	}

	// Step 4: Upload (if enabled)
	if cfg.WebDAV.Enabled {
		j.upload(ctx)
	} else {
		j.logger.Info().Msg("webdav disabled, artifacts stay local")
		summary.Upload = &models.UploadResult{Outcome: models.UploadSkipped}
	}

	// Step 5: Cleanup
	j.cleanup(ctx)

	// Step 6: SSH shutdown (if configured). A host that did not wake up is
	// left alone.
	if cfg.SSHShutdown != nil && awake {
		j.powerOff(ctx)
	}

	j.finish(ctx, outcome(summary))
	return summary, nil
}

// Cleanup applies the local retention rule to the backup directory without
// running any other stage.
func (s *Impl) Cleanup(_ context.Context, cfg models.Config) (*models.CleanupResult, error) {
	j := &job{Impl: s, cfg: cfg, logger: s.logger}
	return j.cleanupLocal(cfg.Backup.Dir), nil
}

func (j *job) fail(err error, msg string) {
	j.logger.Error().Err(err).Msg(msg)
	j.summary.Errors = append(j.summary.Errors, err)
}

func (j *job) wake(ctx context.Context) bool {
	cfg := *j.cfg.WOL

	result, err := j.wolSvc.Wake(ctx, cfg)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		// The upload probe decides whether the host is reachable.
		j.fail(fmt.Errorf("wake-on-lan: %w", err), "storage host did not wake up")
		return false
	}

	j.logger.Info().
		Bool("target_ready", result.TargetReady).
		Int("polls", result.Polls).
		Dur("wait_duration", result.WaitDuration).
		Msg("storage host awake")
	return true
}

func (j *job) dumpDatabase(ctx context.Context) {
	outputPath := filepath.Join(j.summary.Dir, mysql.OutputName(j.summary.Timestamp))

	result, err := j.mysqlSvc.Dump(ctx, j.cfg.MySQL, outputPath)
	if err != nil {
		result = &models.DumpResult{OutputPath: outputPath, Error: err}
	}
	j.summary.Dump = result

	if result.Error != nil {
		j.fail(result.Error, "database dump abandoned")
	}
}

func (j *job) archiveFiles(ctx context.Context) {
	for _, spec := range j.cfg.Files.Paths {
		result, err := j.archiveSvc.Archive(ctx, spec, j.summary.Dir, j.summary.Timestamp)
		if err != nil {
			result = &models.ArchiveResult{Spec: spec, Error: err}
		}
		j.summary.Archives = append(j.summary.Archives, *result)

		if result.Error != nil {
			j.fail(result.Error, "archive failed, continuing with next path")
		}
	}
}

func (j *job) upload(ctx context.Context) {
	result, err := j.webdavSvc.Upload(ctx, j.cfg.WebDAV, j.summary.Dir)
	if err != nil {
		result = &models.UploadResult{Outcome: models.UploadFailed, Error: err}
	}
	j.summary.Upload = result

	if result.Outcome == models.UploadFailed {
		if result.Error == nil {
			result.Error = fmt.Errorf("upload failed for %d file(s)", len(result.Failed))
		}
		j.fail(result.Error, "upload failed, local artifacts are kept")
	}
}

func (j *job) cleanup(ctx context.Context) {
	switch j.cfg.Retention.Mode {
	case models.CleanupLocal:
		j.summary.Cleanup = j.cleanupLocal(j.summary.Dir)
	default:
		if j.summary.Upload.Outcome != models.UploadSucceeded {
			j.logger.Info().
				Str("upload", string(j.summary.Upload.Outcome)).
				Msg("upload did not succeed, skipping cleanup")
			j.summary.Cleanup = &models.CleanupResult{Mode: models.CleanupRemote}
			return
		}
		j.summary.Cleanup = j.cleanupRemote(ctx)
	}

	j.summary.Errors = append(j.summary.Errors, j.summary.Cleanup.Errors...)
}

// cleanupRemote empties the local backup directory, then deletes remote
// artifacts older than the retention window.
func (j *job) cleanupRemote(ctx context.Context) *models.CleanupResult {
	result := &models.CleanupResult{Mode: models.CleanupRemote, Ran: true}

	files, err := localFiles(j.summary.Dir)
	if err != nil {
		result.Errors = append(result.Errors, err)
		j.logger.Error().Err(err).Msg("cannot list local artifacts")
	}
	for _, path := range files {
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("removing %s: %w", path, err))
			j.logger.Error().Err(err).Str("file", path).Msg("cannot remove local artifact")
			continue
		}
		result.LocalDeleted = append(result.LocalDeleted, path)
	}
	j.logger.Info().Int("removed", len(result.LocalDeleted)).Msg("local artifacts removed after upload")

	names, err := j.webdavSvc.List(ctx, j.cfg.WebDAV)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("listing remote artifacts: %w", err))
		j.logger.Error().Err(err).Msg("cannot list remote artifacts, remote retention skipped")
		return result
	}
	result.RemoteListed = len(names)

	now := j.now()
	expired := retention.Expired(retention.ParseArtifacts(names, j.logger), j.cfg.Retention.Days, now)
	j.logger.Info().
		Int("listed", len(names)).
		Int("expired", len(expired)).
		Str("cutoff", retention.Cutoff(j.cfg.Retention.Days, now)).
		Msg("applying remote retention")

	for _, artifact := range expired {
		if err := j.webdavSvc.Delete(ctx, j.cfg.WebDAV, artifact.Name); err != nil {
			result.Errors = append(result.Errors, err)
			j.logger.Error().Err(err).Str("file", artifact.Name).Msg("cannot delete remote artifact")
			continue
		}
		result.RemoteDeleted = append(result.RemoteDeleted, artifact.Name)
	}

	return result
}

// cleanupLocal removes local files last modified before the retention
// window. The remote side is left alone.
func (j *job) cleanupLocal(dir string) *models.CleanupResult {
	result := &models.CleanupResult{Mode: models.CleanupLocal, Ran: true}

	expired, err := retention.ExpiredLocal(dir, j.cfg.Retention.Days, j.now())
	if err != nil {
		result.Errors = append(result.Errors, err)
		j.logger.Error().Err(err).Str("dir", dir).Msg("cannot scan backup directory")
		return result
	}

	for _, path := range expired {
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("removing %s: %w", path, err))
			j.logger.Error().Err(err).Str("file", path).Msg("cannot remove expired artifact")
			continue
		}
		result.LocalDeleted = append(result.LocalDeleted, path)
		j.logger.Debug().Str("file", path).Msg("removed expired artifact")
	}

	j.logger.Info().
		Str("dir", dir).
		Int("days", j.cfg.Retention.Days).
		Int("removed", len(result.LocalDeleted)).
		Msg("local retention applied")

	return result
}

func (j *job) powerOff(ctx context.Context) {
	result, err := j.sshSvc.PowerOff(ctx, *j.cfg.SSHShutdown)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		j.fail(fmt.Errorf("ssh shutdown: %w", err), "storage host was not powered off")
	}
}

// outcome classifies a run once every stage has finished.
func outcome(summary *models.RunSummary) models.Outcome {
	switch summary.Upload.Outcome {
	case models.UploadSkipped:
		return models.OutcomeLocalOnly
	case models.UploadFailed:
		return models.OutcomeUploadFailed
	}
	if c := summary.Cleanup; c == nil || !c.Ran || len(c.Errors) > 0 {
		return models.OutcomeCleanupUnverified
	}
	if len(summary.Errors) > 0 {
		return models.OutcomeCompletedWithErrors
	}
	return models.OutcomeCompleted
}

func (j *job) finish(ctx context.Context, o models.Outcome) {
	s := j.summary
	s.Outcome = o
	s.Duration = j.now().Sub(s.StartTime)

	var event *zerolog.Event
	switch o {
	case models.OutcomeCompleted, models.OutcomeLocalOnly:
		event = j.logger.Info()
	case models.OutcomeCompletedWithErrors, models.OutcomeCleanupUnverified:
		event = j.logger.Warn()
	default:
		event = j.logger.Error()
	}
	event.
		Str("outcome", string(o)).
		Int("artifacts", s.ArtifactCount()).
		Str("size", humanize.IBytes(uint64(s.ArtifactBytes()))). //nolint:gosec // size is never negative
		Int("errors", len(s.Errors)).
		Dur("duration", s.Duration).
		Msg(o.Describe())

	if j.cfg.Telegram != nil {
		j.notify(ctx)
	}
}

func (j *job) notify(ctx context.Context) {
	result, err := j.telegramSvc.SendSummary(ctx, *j.cfg.Telegram, j.summary)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	j.logger.Info().Msg("Telegram notification sent")
}

// localFiles returns every regular file below dir.
func localFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("walking %s: %w", dir, err)
	}
	return files, nil
}
