// Package session coordinates one recording at a time: it drives the capture
// device, runs the optional realtime analysis path, and hands the finished
// artifact to the content service.
package session

import (
	"context"
	"time"

	"github.com/recollect-app/recollect/internal/insights"
	"github.com/recollect-app/recollect/internal/upload"
)

// Device is the capture adapter the coordinator drives. A Device instance
// records once; the coordinator creates a fresh one per session.
type Device interface {
	Start(ctx context.Context, scopeID string, title string) error
	Pause() error
	Resume() error
	Stop() (string, error)
	Cancel() error

	Chunks() <-chan []byte
	States() <-chan string
	Durations() <-chan time.Duration
	Amplitudes() <-chan float64
	Warnings() <-chan bool
}

// TransportChannel carries binary audio frames to the remote collector.
type TransportChannel interface {
	Connect(ctx context.Context, sessionID string, credential string, scopeID string) error
	SendChunk(chunk []byte) error
	Disconnect() error
}

// InsightsChannel receives realtime analysis results and accumulates the
// transcript; the accumulator stays readable after Disconnect.
type InsightsChannel interface {
	Connect(ctx context.Context, sessionID string, tiers []string) error
	Disconnect() error
	FullText() string
	Segments() []insights.Segment
}

// Pipe frames a chunk feed for network transport. A pipe serves one session;
// Stop/Start bracket pause/resume and Dispose retires it.
type Pipe interface {
	Start() error
	Stop()
	Dispose()
	Chunks() <-chan []byte
}

// Uploader hands a finished recording to the content service.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (upload.Result, error)
}

// JobRegistrar records the processing job created for an upload.
type JobRegistrar interface {
	Register(ctx context.Context, jobID, contentID, scopeID, title string) error
}

// CredentialProvider supplies the bearer credential for the transport channel.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// TierConfig resolves which analysis tiers the insights channel subscribes to.
type TierConfig interface {
	EnabledTiers() []string
}

// Session is a point-in-time view of the coordinator, safe to copy.
type Session struct {
	State     string
	SessionID string
	Title     string

	Elapsed             time.Duration
	Amplitude           float64
	ShowDurationWarning bool
	DeviceState         string

	TranscriptionText     string
	TranscriptionSegments []insights.Segment

	ContentID            string
	ErrorMessage         string
	LiveAssistantEnabled bool
	RealtimeActive       bool
}

// StopOutcome reports what the finalize sequence produced. ArtifactPath is
// set even when the upload failed so the caller can retry manually.
type StopOutcome struct {
	JobID           string
	ContentID       string
	ResolvedScopeID string
	ArtifactPath    string
}
