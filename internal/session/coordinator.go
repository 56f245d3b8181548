package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/recollect-app/recollect/internal/fsm"
	"github.com/recollect-app/recollect/internal/insights"
	"github.com/recollect-app/recollect/internal/notify"
	"github.com/recollect-app/recollect/internal/upload"
)

const realtimeDegradedNotice = "live insights disabled, recording continues"

// Options wires the coordinator's collaborators. NewDevice and NewPipe are
// factories because both are single-session resources.
type Options struct {
	ScopeID      string
	ContentType  string
	UseAutoMatch bool

	LiveAssistant bool

	// PersistLiveAssistant, when set, writes the toggle back to durable
	// configuration so it survives a daemon restart.
	PersistLiveAssistant func(enabled bool) error

	NewDevice func() Device
	NewPipe   func(source <-chan []byte) Pipe

	Transport   TransportChannel
	Insights    InsightsChannel
	Uploader    Uploader
	Jobs        JobRegistrar
	Credentials CredentialProvider
	Tiers       TierConfig

	Notifier    notify.Notifier
	Diagnostics notify.Diagnostics
	Logger      *slog.Logger
}

// realtimePath bundles the live handles of one session's realtime analysis
// path. It exists only while all three are established; teardown always walks
// the full bundle in order.
type realtimePath struct {
	insights InsightsChannel
	pipe     Pipe

	forwardStop chan struct{}
	forwardDone chan struct{}
}

// Coordinator owns at most one recording session at a time. All public
// operations are serialized; signal streams merge into their own fields and
// never drive state transitions.
type Coordinator struct {
	opts   Options
	logger *slog.Logger

	mu            sync.Mutex
	state         fsm.State
	sessionID     string
	title         string
	startedAt     time.Time
	contentID     string
	errorMessage  string
	liveAssistant bool

	transcriptText     string
	transcriptSegments []insights.Segment

	device    Device
	realtime  *realtimePath
	mergeDone chan struct{}

	// Signal-merge fields live under their own lock so the merge goroutine
	// never contends with a blocking operation (connects, upload).
	sigMu       sync.Mutex
	elapsed     time.Duration
	amplitude   float64
	warned      bool
	deviceState string
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(opts Options) *Coordinator {
	if opts.ContentType == "" {
		opts.ContentType = "recording"
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = notify.NopDiagnostics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		opts:          opts,
		logger:        logger,
		state:         fsm.StateIdle,
		liveAssistant: opts.LiveAssistant,
	}
}

// Snapshot returns the current session view.
func (c *Coordinator) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Session {
	c.sigMu.Lock()
	elapsed, amplitude, warned, deviceState := c.elapsed, c.amplitude, c.warned, c.deviceState
	c.sigMu.Unlock()

	segments := make([]insights.Segment, len(c.transcriptSegments))
	copy(segments, c.transcriptSegments)

	return Session{
		State:                 string(c.state),
		SessionID:             c.sessionID,
		Title:                 c.title,
		Elapsed:               elapsed,
		Amplitude:             amplitude,
		ShowDurationWarning:   warned,
		DeviceState:           deviceState,
		TranscriptionText:     c.transcriptText,
		TranscriptionSegments: segments,
		ContentID:             c.contentID,
		ErrorMessage:          c.errorMessage,
		LiveAssistantEnabled:  c.liveAssistant,
		RealtimeActive:        c.realtime != nil,
	}
}

// SetLiveAssistant updates the preference. The value is captured when a
// session starts, so flipping it mid-recording takes effect on the next one.
// The in-memory toggle applies even when persisting it fails.
func (c *Coordinator) SetLiveAssistant(enabled bool) {
	c.mu.Lock()
	c.liveAssistant = enabled
	persist := c.opts.PersistLiveAssistant
	c.mu.Unlock()

	if persist == nil {
		return
	}
	if err := persist(enabled); err != nil {
		c.opts.Diagnostics.Report(context.Background(), "preference persistence", err)
		c.logger.Warn("live assistant preference not persisted", "error", err)
	}
}

// Start begins a new recording session. The realtime analysis path is
// attempted when the live-assistant preference is on; its failure degrades
// the session to local-only recording and never aborts the capture.
func (c *Coordinator) Start(ctx context.Context, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, fsm.EventStart)
	if err != nil {
		return err
	}

	c.contentID = ""
	c.errorMessage = ""
	c.transcriptText = ""
	c.transcriptSegments = nil
	c.sigMu.Lock()
	c.elapsed, c.amplitude, c.warned, c.deviceState = 0, 0, false, ""
	c.sigMu.Unlock()

	device := c.opts.NewDevice()
	if err := device.Start(ctx, c.opts.ScopeID, title); err != nil {
		c.failLocked(fmt.Sprintf("recording failed to start: %v", err))
		return fmt.Errorf("start capture device: %w", err)
	}

	c.device = device
	c.title = title
	c.startedAt = time.Now()
	c.sessionID = fmt.Sprintf("%s_%d", c.opts.ScopeID, c.startedAt.UnixMilli())
	c.state = next

	c.mergeDone = make(chan struct{})
	go c.mergeSignals(device, c.mergeDone)

	c.logger.Info("session started",
		"session_id", c.sessionID,
		"scope_id", c.opts.ScopeID,
		"title", title,
		"live_assistant", c.liveAssistant,
	)

	if c.liveAssistant {
		c.initRealtime(ctx, device)
	}
	return nil
}

// initRealtime establishes the realtime path in strict order: insights
// connect, pipe, credential, transport connect, pipe start, forwarding. Any
// failure tears down what was established and leaves the session recording
// without the path.
func (c *Coordinator) initRealtime(ctx context.Context, device Device) {
	var tiers []string
	if c.opts.Tiers != nil {
		tiers = c.opts.Tiers.EnabledTiers()
	}

	if c.opts.Insights == nil || c.opts.Transport == nil || c.opts.NewPipe == nil {
		c.realtimeFailed(ctx, "configure", fmt.Errorf("realtime path is not configured"))
		return
	}

	if err := c.opts.Insights.Connect(ctx, c.sessionID, tiers); err != nil {
		c.realtimeFailed(ctx, "insights connect", err)
		return
	}

	pipe := c.opts.NewPipe(device.Chunks())

	credential := ""
	if c.opts.Credentials != nil {
		token, err := c.opts.Credentials.Token(ctx)
		if err != nil {
			pipe.Dispose()
			c.disconnectLogged(ctx, "insights", c.opts.Insights.Disconnect)
			c.realtimeFailed(ctx, "credential", err)
			return
		}
		credential = token
	}

	if err := c.opts.Transport.Connect(ctx, c.sessionID, credential, c.opts.ScopeID); err != nil {
		pipe.Dispose()
		c.disconnectLogged(ctx, "insights", c.opts.Insights.Disconnect)
		c.realtimeFailed(ctx, "transport connect", err)
		return
	}

	if err := pipe.Start(); err != nil {
		c.disconnectLogged(ctx, "transport", c.opts.Transport.Disconnect)
		pipe.Dispose()
		c.disconnectLogged(ctx, "insights", c.opts.Insights.Disconnect)
		c.realtimeFailed(ctx, "pipe start", err)
		return
	}

	rt := &realtimePath{insights: c.opts.Insights, pipe: pipe}
	c.startForwarding(rt)
	c.realtime = rt
	c.logger.Info("realtime path established", "session_id", c.sessionID, "tiers", tiers)
}

// startForwarding subscribes to the pipe's current chunk sequence and copies
// each frame to the transport channel. Send failures are logged, not retried.
func (c *Coordinator) startForwarding(rt *realtimePath) {
	stop := make(chan struct{})
	done := make(chan struct{})
	rt.forwardStop = stop
	rt.forwardDone = done

	chunks := rt.pipe.Chunks()
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				if err := c.opts.Transport.SendChunk(chunk); err != nil {
					c.logger.Warn("audio chunk send failed", "error", err.Error())
				}
			}
		}
	}()
}

// stopForwarding cancels the forwarding subscription and waits for it to end.
func stopForwarding(rt *realtimePath) {
	if rt.forwardStop == nil {
		return
	}
	close(rt.forwardStop)
	<-rt.forwardDone
	rt.forwardStop = nil
	rt.forwardDone = nil
}

// Pause pauses the capture device and, when the realtime path is active,
// suspends chunk production without disconnecting either channel.
func (c *Coordinator) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, fsm.EventPause)
	if err != nil {
		return err
	}
	if err := c.device.Pause(); err != nil {
		return fmt.Errorf("pause capture device: %w", err)
	}

	if c.realtime != nil {
		stopForwarding(c.realtime)
		c.realtime.pipe.Stop()
	}

	c.state = next
	return nil
}

// Resume resumes the capture device and restarts the pipe with a fresh
// forwarding subscription. Realtime failures here are non-fatal.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, fsm.EventResume)
	if err != nil {
		return err
	}
	if err := c.device.Resume(); err != nil {
		return fmt.Errorf("resume capture device: %w", err)
	}

	if c.realtime != nil {
		if err := c.realtime.pipe.Start(); err != nil {
			c.opts.Diagnostics.Report(ctx, "pipe restart", err)
			c.logger.Warn("pipe restart failed, live streaming suspended", "error", err.Error())
		} else {
			c.startForwarding(c.realtime)
		}
	}

	c.state = next
	return nil
}

// Stop finalizes the session: tear down the realtime path, collect the
// artifact, upload it, register the job, and return to idle. An upload
// failure leaves the session in the error state with the artifact preserved.
func (c *Coordinator) Stop(ctx context.Context) (StopOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	processing, err := fsm.Transition(c.state, fsm.EventStop)
	if err != nil {
		return StopOutcome{}, err
	}

	hadRealtime := c.realtime != nil
	c.teardownRealtime(ctx)

	path, err := c.device.Stop()
	c.waitMergeDone()
	if err != nil {
		c.failLocked(fmt.Sprintf("recording could not be finalized: %v", err))
		return StopOutcome{}, fmt.Errorf("stop capture device: %w", err)
	}

	c.state = processing

	if hadRealtime && c.opts.Insights != nil {
		c.transcriptText = c.opts.Insights.FullText()
		c.transcriptSegments = c.opts.Insights.Segments()
	}

	req := upload.Request{
		ScopeID:               c.opts.ScopeID,
		ContentType:           c.opts.ContentType,
		Title:                 c.title,
		Date:                  c.startedAt,
		ArtifactPath:          path,
		TranscriptionText:     c.transcriptText,
		TranscriptionSegments: c.transcriptSegments,
		UseAutoMatch:          c.opts.UseAutoMatch,
	}
	result, err := c.opts.Uploader.Upload(ctx, req)
	if err != nil {
		c.failLocked(fmt.Sprintf("upload failed: %v (recording saved at %s)", err, path))
		return StopOutcome{ArtifactPath: path}, fmt.Errorf("upload recording: %w", err)
	}

	if c.opts.Jobs != nil {
		if err := c.opts.Jobs.Register(ctx, result.JobID, result.ContentID, result.ResolvedScopeID, c.title); err != nil {
			c.opts.Diagnostics.Report(ctx, "job registration", err)
			c.logger.Warn("job registration failed", "job_id", result.JobID, "error", err.Error())
		}
	}

	c.contentID = result.ContentID
	c.logger.Info("session finalized",
		"session_id", c.sessionID,
		"job_id", result.JobID,
		"content_id", result.ContentID,
		"scope_id", result.ResolvedScopeID,
	)
	idle, _ := fsm.Transition(c.state, fsm.EventFinalized)
	c.resetLocked(idle)

	return StopOutcome{
		JobID:           result.JobID,
		ContentID:       result.ContentID,
		ResolvedScopeID: result.ResolvedScopeID,
		ArtifactPath:    path,
	}, nil
}

// Cancel discards the session: realtime teardown, device cancel (which
// deletes the in-progress artifact), then an unconditional reset to idle.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, fsm.EventCancel)
	if err != nil {
		return err
	}

	c.teardownRealtime(ctx)

	if err := c.device.Cancel(); err != nil {
		c.opts.Diagnostics.Report(ctx, "device cancel", err)
		c.logger.Warn("device cancel failed", "error", err.Error())
	}
	c.waitMergeDone()

	c.logger.Info("session cancelled", "session_id", c.sessionID)
	c.transcriptText = ""
	c.transcriptSegments = nil
	c.contentID = ""
	c.resetLocked(next)
	return nil
}

// Acknowledge clears an error state back to idle.
func (c *Coordinator) Acknowledge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, fsm.EventAck)
	if err != nil {
		return err
	}
	c.errorMessage = ""
	c.state = next
	return nil
}

// Retry re-submits an existing artifact for server-side processing. It is
// independent of any session and never changes session state.
func (c *Coordinator) Retry(ctx context.Context, artifactPath string, title string) (StopOutcome, error) {
	if title == "" {
		title = "recording"
	}

	result, err := c.opts.Uploader.Upload(ctx, upload.Request{
		ScopeID:      c.opts.ScopeID,
		ContentType:  c.opts.ContentType,
		Title:        title,
		Date:         time.Now(),
		ArtifactPath: artifactPath,
		UseAutoMatch: c.opts.UseAutoMatch,
	})
	if err != nil {
		return StopOutcome{ArtifactPath: artifactPath}, fmt.Errorf("upload recording: %w", err)
	}

	if c.opts.Jobs != nil {
		if err := c.opts.Jobs.Register(ctx, result.JobID, result.ContentID, result.ResolvedScopeID, title); err != nil {
			c.opts.Diagnostics.Report(ctx, "job registration", err)
		}
	}

	return StopOutcome{
		JobID:           result.JobID,
		ContentID:       result.ContentID,
		ResolvedScopeID: result.ResolvedScopeID,
		ArtifactPath:    artifactPath,
	}, nil
}

// teardownRealtime walks the bundle in strict order: forwarding, pipe,
// transport, insights. Every step runs even when an earlier one failed.
func (c *Coordinator) teardownRealtime(ctx context.Context) {
	rt := c.realtime
	if rt == nil {
		return
	}
	c.realtime = nil

	stopForwarding(rt)
	rt.pipe.Stop()
	rt.pipe.Dispose()
	c.disconnectLogged(ctx, "transport", c.opts.Transport.Disconnect)
	c.disconnectLogged(ctx, "insights", rt.insights.Disconnect)
}

func (c *Coordinator) disconnectLogged(ctx context.Context, name string, disconnect func() error) {
	if err := disconnect(); err != nil {
		c.opts.Diagnostics.Report(ctx, name+" disconnect", err)
		c.logger.Warn("channel disconnect failed", "channel", name, "error", err.Error())
	}
}

// realtimeFailed reports one realtime init failure: diagnostics, log, and a
// single soft user notification. The session keeps recording.
func (c *Coordinator) realtimeFailed(ctx context.Context, stage string, err error) {
	c.opts.Diagnostics.Report(ctx, stage, err)
	c.logger.Warn("realtime path unavailable",
		"session_id", c.sessionID,
		"stage", stage,
		"error", err.Error(),
	)
	c.opts.Notifier.Notify(ctx, realtimeDegradedNotice)
}

// failLocked moves the session to the error state, keeping the session title
// for display but releasing the device and session identity.
func (c *Coordinator) failLocked(message string) {
	c.state, _ = fsm.Transition(c.state, fsm.EventFail)
	c.errorMessage = message
	c.sessionID = ""
	c.device = nil
}

// resetLocked settles the coordinator into its post-session state.
func (c *Coordinator) resetLocked(next fsm.State) {
	c.state = next
	c.sessionID = ""
	c.device = nil
	c.sigMu.Lock()
	c.elapsed, c.amplitude, c.warned = 0, 0, false
	c.sigMu.Unlock()
}

func (c *Coordinator) waitMergeDone() {
	if c.mergeDone == nil {
		return
	}
	<-c.mergeDone
	c.mergeDone = nil
}

// mergeSignals folds the device's four signal streams into the snapshot
// fields. Each stream updates exactly one field; none of them drives a state
// transition. The goroutine ends when the device closes its streams.
func (c *Coordinator) mergeSignals(device Device, done chan struct{}) {
	defer close(done)

	states := device.States()
	durations := device.Durations()
	amplitudes := device.Amplitudes()
	warnings := device.Warnings()

	for states != nil || durations != nil || amplitudes != nil || warnings != nil {
		select {
		case state, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			c.sigMu.Lock()
			c.deviceState = state
			c.sigMu.Unlock()
		case elapsed, ok := <-durations:
			if !ok {
				durations = nil
				continue
			}
			c.sigMu.Lock()
			c.elapsed = elapsed
			c.sigMu.Unlock()
		case level, ok := <-amplitudes:
			if !ok {
				amplitudes = nil
				continue
			}
			c.sigMu.Lock()
			c.amplitude = level
			c.sigMu.Unlock()
		case warned, ok := <-warnings:
			if !ok {
				warnings = nil
				continue
			}
			c.sigMu.Lock()
			c.warned = warned
			c.sigMu.Unlock()
		}
	}
}
