// Package telegram sends run summaries to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/rs/zerolog"
)

// maxListedErrors bounds the error lines in one message.
const maxListedErrors = 5

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendSummary(ctx context.Context, cfg models.TelegramConfig, summary *models.RunSummary) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendSummary posts the summary of a finished run.
func (s *Impl) SendSummary(ctx context.Context, cfg models.TelegramConfig, summary *models.RunSummary) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Str("outcome", string(summary.Outcome)).
		Msg("sending Telegram notification")

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      formatSummary(summary),
		ParseMode: "HTML",
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// The URL embeds the bot token.
		result.Error = fmt.Errorf("failed to send request to Telegram API")
		s.logger.Debug().Err(err).Msg("Telegram request failed")
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiResp apiResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiResp) == nil && apiResp.Description != "" {
			result.Error = fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, apiResp.Description)
		} else {
			result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		}
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func outcomeHeadline(o models.Outcome) string {
	switch o {
	case models.OutcomeCompleted:
		return "✅ <b>Backup completed</b>"
	case models.OutcomeCompletedWithErrors:
		return "⚠️ <b>Backup completed with errors</b>"
	case models.OutcomeCleanupUnverified:
		return "⚠️ <b>Backup uploaded, cleanup not verified</b>"
	case models.OutcomeUploadFailed:
		return "❌ <b>Backup upload failed</b>"
	case models.OutcomeLocalOnly:
		return "💾 <b>Backup kept locally</b>"
	case models.OutcomeFailed:
		return "❌ <b>Backup run aborted</b>"
	default:
		return "<b>Backup finished</b>"
	}
}

func formatSummary(summary *models.RunSummary) string {
	var b bytes.Buffer

	b.WriteString(outcomeHeadline(summary.Outcome))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "<b>Host:</b> %s\n", html.EscapeString(summary.Host))
	fmt.Fprintf(&b, "<b>Run:</b> <code>%s</code>\n", html.EscapeString(summary.RunID))
	fmt.Fprintf(&b, "<b>Started:</b> %s\n", summary.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "<b>Duration:</b> %s\n", summary.Duration.Round(time.Second))
	fmt.Fprintf(&b, "<i>%s</i>\n", html.EscapeString(summary.Outcome.Describe()))

	b.WriteString("\n<b>Artifacts:</b>\n")
	if summary.Dump != nil {
		writeArtifact(&b, summary.Dump.OutputPath, summary.Dump.SizeBytes, summary.Dump.Error, false)
	}
	for _, a := range summary.Archives {
		writeArtifact(&b, a.OutputPath, a.SizeBytes, a.Error, a.Skipped)
	}
	fmt.Fprintf(&b, "  total: %d (%s)\n", summary.ArtifactCount(), humanize.IBytes(uint64(summary.ArtifactBytes()))) //nolint:gosec // size is never negative

	if up := summary.Upload; up != nil && up.Outcome != models.UploadSkipped {
		b.WriteString("\n<b>Upload:</b>\n")
		fmt.Fprintf(&b, "  uploaded: %d (%s)\n", len(up.Uploaded), humanize.IBytes(uint64(up.Bytes))) //nolint:gosec // size is never negative
		if len(up.Failed) > 0 {
			fmt.Fprintf(&b, "  failed: %d\n", len(up.Failed))
		}
	}

	if c := summary.Cleanup; c != nil && c.Ran {
		fmt.Fprintf(&b, "\n<b>Cleanup (%s):</b>\n", c.Mode)
		fmt.Fprintf(&b, "  local removed: %d\n", len(c.LocalDeleted))
		if c.Mode == models.CleanupRemote {
			fmt.Fprintf(&b, "  remote removed: %d of %d listed\n", len(c.RemoteDeleted), c.RemoteListed)
		}
	}

	if len(summary.Errors) > 0 {
		b.WriteString("\n<b>Errors:</b>\n")
		for i, err := range summary.Errors {
			if i == maxListedErrors {
				fmt.Fprintf(&b, "  … and %d more\n", len(summary.Errors)-maxListedErrors)
				break
			}
			fmt.Fprintf(&b, "  • <code>%s</code>\n", html.EscapeString(err.Error()))
		}
	}

	return b.String()
}

func writeArtifact(b *bytes.Buffer, path string, size int64, err error, skipped bool) {
	name := html.EscapeString(filepath.Base(path))
	switch {
	case skipped:
		fmt.Fprintf(b, "  • %s: skipped, source missing\n", name)
	case err != nil:
		fmt.Fprintf(b, "  • %s: failed\n", name)
	default:
		fmt.Fprintf(b, "  • %s: %s\n", name, humanize.IBytes(uint64(size))) //nolint:gosec // size is never negative
	}
}
