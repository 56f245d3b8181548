package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recollect-app/recollect/internal/insights"
)

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p1-standup-20260823-101500.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFfakewav"), 0o600))
	return path
}

func TestUploadSuccess(t *testing.T) {
	var gotRequestID string
	var gotFields map[string]string
	var gotAudioName string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/recordings", r.URL.Path)
		gotRequestID = r.Header.Get("X-Request-ID")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFields = map[string]string{}
		for key, values := range r.MultipartForm.Value {
			gotFields[key] = values[0]
		}
		file := r.MultipartForm.File["audio"][0]
		gotAudioName = file.Filename

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Result{
			JobID:           "job-42",
			ContentID:       "content-7",
			ResolvedScopeID: "p9",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 10*time.Second, nil)
	result, err := client.Upload(context.Background(), Request{
		ScopeID:           "p1",
		ContentType:       "meeting",
		Title:             "standup",
		Date:              time.Date(2026, 8, 23, 10, 15, 0, 0, time.UTC),
		ArtifactPath:      writeArtifact(t),
		TranscriptionText: "hello there",
		TranscriptionSegments: []insights.Segment{
			{Text: "hello there", StartMs: 0, EndMs: 900},
		},
		UseAutoMatch: true,
	})
	require.NoError(t, err)

	require.Equal(t, "job-42", result.JobID)
	require.Equal(t, "content-7", result.ContentID)
	require.Equal(t, "p9", result.ResolvedScopeID)

	require.NotEmpty(t, gotRequestID)
	require.Equal(t, "p1", gotFields["scopeId"])
	require.Equal(t, "meeting", gotFields["contentType"])
	require.Equal(t, "standup", gotFields["title"])
	require.Equal(t, "2026-08-23T10:15:00Z", gotFields["date"])
	require.Equal(t, "true", gotFields["useAutoMatch"])
	require.Equal(t, "hello there", gotFields["transcriptionText"])
	require.Contains(t, gotFields["transcriptionSegments"], `"start_ms":0`)
	require.Equal(t, "p1-standup-20260823-101500.wav", gotAudioName)
}

func TestUploadDefaultsResolvedScope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "job-1"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 10*time.Second, nil)
	result, err := client.Upload(context.Background(), Request{
		ScopeID:      "p1",
		ContentType:  "note",
		Title:        "memo",
		Date:         time.Now(),
		ArtifactPath: writeArtifact(t),
	})
	require.NoError(t, err)
	require.Equal(t, "p1", result.ResolvedScopeID)
}

func TestUploadServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "unsupported sample rate"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 10*time.Second, nil)
	_, err := client.Upload(context.Background(), Request{
		ScopeID:      "p1",
		ContentType:  "note",
		Title:        "memo",
		Date:         time.Now(),
		ArtifactPath: writeArtifact(t),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported sample rate")
}

func TestUploadMissingArtifact(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second, nil)
	_, err := client.Upload(context.Background(), Request{
		ScopeID:      "p1",
		ContentType:  "note",
		Title:        "memo",
		Date:         time.Now(),
		ArtifactPath: filepath.Join(t.TempDir(), "missing.wav"),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "stat artifact")
}
