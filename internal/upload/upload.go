// Package upload hands a finished recording off to the content service for
// durable processing.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/recollect-app/recollect/internal/insights"
)

// Request carries everything the content service needs to ingest one
// recording.
type Request struct {
	ScopeID      string
	ContentType  string
	Title        string
	Date         time.Time
	ArtifactPath string

	TranscriptionText     string
	TranscriptionSegments []insights.Segment

	// UseAutoMatch lets the server re-home the recording to a better-fitting
	// scope; the response reports the scope it actually chose.
	UseAutoMatch bool
}

// Result identifies the processing job the server created.
type Result struct {
	JobID           string `json:"jobId"`
	ContentID       string `json:"contentId"`
	ResolvedScopeID string `json:"scopeId"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client uploads recordings over multipart HTTP.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient configures an upload client for the content service base URL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	return &Client{http: http, logger: logger}
}

// Upload posts the artifact and its transcript in one multipart request. The
// artifact file must exist; it is left in place regardless of outcome.
func (c *Client) Upload(ctx context.Context, req Request) (Result, error) {
	if req.ArtifactPath == "" {
		return Result{}, fmt.Errorf("upload request has no artifact path")
	}
	if _, err := os.Stat(req.ArtifactPath); err != nil {
		return Result{}, fmt.Errorf("stat artifact: %w", err)
	}

	fields := map[string]string{
		"scopeId":      req.ScopeID,
		"contentType":  req.ContentType,
		"title":        req.Title,
		"date":         req.Date.UTC().Format(time.RFC3339),
		"useAutoMatch": strconv.FormatBool(req.UseAutoMatch),
	}
	if req.TranscriptionText != "" {
		fields["transcriptionText"] = req.TranscriptionText
	}
	if len(req.TranscriptionSegments) > 0 {
		segments, err := json.Marshal(req.TranscriptionSegments)
		if err != nil {
			return Result{}, fmt.Errorf("encode transcript segments: %w", err)
		}
		fields["transcriptionSegments"] = string(segments)
	}

	requestID := uuid.NewString()
	var result Result
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetMultipartFormData(fields).
		SetFile("audio", req.ArtifactPath).
		SetResult(&result).
		Post("/v1/recordings")
	if err != nil {
		return Result{}, fmt.Errorf("upload recording: %w", err)
	}
	if resp.IsError() {
		var body errorBody
		_ = json.Unmarshal(resp.Body(), &body)
		detail := body.Message
		if detail == "" {
			detail = body.Error
		}
		if detail == "" {
			detail = resp.Status()
		}
		return Result{}, fmt.Errorf("upload rejected: %s", detail)
	}
	if result.JobID == "" {
		return Result{}, fmt.Errorf("upload response missing job ID")
	}
	if result.ResolvedScopeID == "" {
		result.ResolvedScopeID = req.ScopeID
	}

	if c.logger != nil {
		c.logger.Info("recording uploaded",
			"request_id", requestID,
			"job_id", result.JobID,
			"content_id", result.ContentID,
			"scope_id", result.ResolvedScopeID,
			"artifact", filepath.Base(req.ArtifactPath),
		)
	}
	return result, nil
}
