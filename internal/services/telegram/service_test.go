package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/omnibak-lite/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func testSummary() *models.RunSummary {
	return &models.RunSummary{
		RunID:     "6f1c2a9e-3b7d-4f4e-9a51-2c8d0b7e1f00",
		Timestamp: "20240115103000",
		Host:      "myserver",
		StartTime: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Duration:  3*time.Minute + 45*time.Second,
		Dump: &models.DumpResult{
			OutputPath: "/backup/mysql_20240115103000.sql.gz",
			SizeBytes:  100 * 1024 * 1024,
		},
		Archives: []models.ArchiveResult{
			{OutputPath: "/backup/www_20240115103000.tar.gz", SizeBytes: 2 * 1024 * 1024 * 1024},
			{OutputPath: "/backup/mail_20240115103000.tar.gz", Skipped: true},
		},
		Upload: &models.UploadResult{
			Outcome:  models.UploadSucceeded,
			Uploaded: []string{"mysql_20240115103000.sql.gz", "www_20240115103000.tar.gz"},
			Bytes:    100*1024*1024 + 2*1024*1024*1024,
		},
		Cleanup: &models.CleanupResult{
			Mode:          models.CleanupRemote,
			Ran:           true,
			LocalDeleted:  []string{"a", "b"},
			RemoteDeleted: []string{"old_20240101000000.tar.gz"},
			RemoteListed:  9,
		},
		Outcome: models.OutcomeCompleted,
	}
}

func TestSendSummary_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")
	result, err := svc.SendSummary(context.Background(), testConfig(), testSummary())

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)

	require.NotNil(t, capturedRequest)
	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "Backup completed")
}

func TestSendSummary_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) {
			return nil, errors.New("dial tcp: lookup api.telegram.org/bot123456:ABC-DEF")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")
	result, err := svc.SendSummary(context.Background(), testConfig(), testSummary())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to send request")
	assert.NotContains(t, result.Error.Error(), "ABC-DEF")
}

func TestSendSummary_APIError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		contains string
	}{
		{"with description", `{"ok":false,"description":"Bad Request: chat not found"}`, "status 400: Bad Request: chat not found"},
		{"without description", `{"ok":false}`, "status 400"},
		{"not json", `<html>`, "status 400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpClient := &mockHTTPClient{
				doFunc: func(*http.Request) (*http.Response, error) {
					return &http.Response{
						StatusCode: http.StatusBadRequest,
						Body:       io.NopCloser(strings.NewReader(tt.body)),
					}, nil
				},
			}

			svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")
			result, err := svc.SendSummary(context.Background(), testConfig(), testSummary())

			require.NoError(t, err)
			assert.False(t, result.MessageSent)
			require.Error(t, result.Error)
			assert.Contains(t, result.Error.Error(), tt.contains)
		})
	}
}

func TestSendSummary_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) {
			return nil, context.Canceled
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.SendSummary(ctx, testConfig(), testSummary())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}

func TestFormatSummary_Completed(t *testing.T) {
	text := formatSummary(testSummary())

	assert.Contains(t, text, "Backup completed")
	assert.Contains(t, text, "myserver")
	assert.Contains(t, text, "6f1c2a9e-3b7d-4f4e-9a51-2c8d0b7e1f00")
	assert.Contains(t, text, "2024-01-15 10:30:00")
	assert.Contains(t, text, "3m45s")
	assert.Contains(t, text, models.OutcomeCompleted.Describe())
	assert.Contains(t, text, "mysql_20240115103000.sql.gz: 100 MiB")
	assert.Contains(t, text, "www_20240115103000.tar.gz: 2.0 GiB")
	assert.Contains(t, text, "mail_20240115103000.tar.gz: skipped")
	assert.Contains(t, text, "total: 2 (")
	assert.Contains(t, text, "uploaded: 2")
	assert.Contains(t, text, "local removed: 2")
	assert.Contains(t, text, "remote removed: 1 of 9 listed")
	assert.NotContains(t, text, "Errors")
}

func TestFormatSummary_Outcomes(t *testing.T) {
	tests := []struct {
		outcome  models.Outcome
		headline string
	}{
		{models.OutcomeCompleted, "Backup completed"},
		{models.OutcomeCompletedWithErrors, "Backup completed with errors"},
		{models.OutcomeCleanupUnverified, "cleanup not verified"},
		{models.OutcomeUploadFailed, "Backup upload failed"},
		{models.OutcomeLocalOnly, "Backup kept locally"},
		{models.OutcomeFailed, "Backup run aborted"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			summary := testSummary()
			summary.Outcome = tt.outcome

			text := formatSummary(summary)

			assert.Contains(t, text, tt.headline)
			assert.Contains(t, text, tt.outcome.Describe())
		})
	}
}

func TestFormatSummary_UploadFailedAndErrors(t *testing.T) {
	summary := testSummary()
	summary.Outcome = models.OutcomeUploadFailed
	summary.Upload = &models.UploadResult{
		Outcome:  models.UploadFailed,
		Uploaded: []string{"mysql_20240115103000.sql.gz"},
		Failed:   []string{"www_20240115103000.tar.gz"},
	}
	summary.Cleanup = &models.CleanupResult{Mode: models.CleanupRemote}
	summary.Errors = []error{errors.New("upload: curl exited with code 22 <html>")}

	text := formatSummary(summary)

	assert.Contains(t, text, "failed: 1")
	assert.NotContains(t, text, "Cleanup (")
	assert.Contains(t, text, "curl exited with code 22 &lt;html&gt;")
}

func TestFormatSummary_SkippedUploadAndLocalCleanup(t *testing.T) {
	summary := testSummary()
	summary.Outcome = models.OutcomeLocalOnly
	summary.Upload = &models.UploadResult{Outcome: models.UploadSkipped}
	summary.Cleanup = &models.CleanupResult{Mode: models.CleanupLocal, Ran: true, LocalDeleted: []string{"x"}}

	text := formatSummary(summary)

	assert.NotContains(t, text, "Upload:")
	assert.Contains(t, text, "Cleanup (local)")
	assert.Contains(t, text, "local removed: 1")
	assert.NotContains(t, text, "remote removed")
}

func TestFormatSummary_ErrorsTruncated(t *testing.T) {
	summary := testSummary()
	for i := 0; i < maxListedErrors+3; i++ {
		summary.Errors = append(summary.Errors, fmt.Errorf("error %d", i))
	}

	text := formatSummary(summary)

	assert.Contains(t, text, "error 4")
	assert.NotContains(t, text, "error 5")
	assert.Contains(t, text, "and 3 more")
}

func TestFormatSummary_FailedDump(t *testing.T) {
	summary := testSummary()
	summary.Dump.Error = errors.New("mysqldump exited with code 2")

	text := formatSummary(summary)

	assert.Contains(t, text, "mysql_20240115103000.sql.gz: failed")
	assert.Contains(t, text, "total: 1 (")
}
