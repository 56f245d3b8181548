package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	chunkSizeBytes = 640 // 20ms @ 16kHz mono s16

	tickInterval = 250 * time.Millisecond
)

// Signal-stream state values emitted on the States channel.
const (
	SignalRecording = "recording"
	SignalPaused    = "paused"
	SignalCapped    = "capped"
	SignalStopped   = "stopped"
)

// Config controls one recorder instance.
type Config struct {
	Input         string
	Fallback      string
	SampleRate    int
	RecordingsDir string
	MaxDuration   time.Duration
	WarnThreshold time.Duration
}

// Recorder captures one recording attempt from a Pulse source into a WAV
// artifact, exposing live chunk and signal streams while it runs. A Recorder
// is single-use; construct a new one per session.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	client    *pulse.Client
	stream    *pulse.RecordStream
	selection Selection

	file    *os.File
	bw      *bufio.Writer
	tmpPath string
	path    string
	written int

	started  bool
	paused   bool
	capped   bool
	finished bool
	warned   bool

	startAt    time.Time
	pausedFor  time.Duration
	pauseStart time.Time

	pending []byte

	chunks     chan []byte
	states     chan string
	durations  chan time.Duration
	amplitudes chan float64
	warnings   chan bool

	stopCh   chan struct{}
	inflight sync.WaitGroup
}

// NewRecorder constructs an idle recorder; Start begins capture.
func NewRecorder(cfg Config, logger *slog.Logger) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Recorder{
		cfg:        cfg,
		logger:     logger,
		chunks:     make(chan []byte, 128),
		states:     make(chan string, 4),
		durations:  make(chan time.Duration, 8),
		amplitudes: make(chan float64, 8),
		warnings:   make(chan bool, 1),
		stopCh:     make(chan struct{}),
	}
}

// Chunks returns the live PCM stream as fixed-size byte slices. Chunks are
// dropped when no consumer keeps up; local capture never blocks on them.
func (r *Recorder) Chunks() <-chan []byte { return r.chunks }

// States emits device state transitions (recording/paused/capped/stopped).
func (r *Recorder) States() <-chan string { return r.states }

// Durations emits the elapsed capture time, frozen while paused.
func (r *Recorder) Durations() <-chan time.Duration { return r.durations }

// Amplitudes emits the most recent chunk level in [0,1] for visualization.
func (r *Recorder) Amplitudes() <-chan float64 { return r.amplitudes }

// Warnings fires once when elapsed time crosses the near-maximum threshold.
func (r *Recorder) Warnings() <-chan bool { return r.warnings }

// Selection returns capture device metadata for logging and diagnostics.
func (r *Recorder) Selection() Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selection
}

// Start resolves the input device, opens the artifact file, and begins the
// Pulse record stream.
func (r *Recorder) Start(ctx context.Context, scopeID string, title string) error {
	selection, err := SelectDevice(ctx, r.cfg.Input, r.cfg.Fallback)
	if err != nil {
		return err
	}
	if selection.Warning != "" && r.logger != nil {
		r.logger.Warn(selection.Warning)
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("recollect"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}

	source, err := client.SourceByID(selection.Device.ID)
	if err != nil {
		client.Close()
		return fmt.Errorf("resolve source %q: %w", selection.Device.ID, err)
	}

	if err := r.begin(selection, scopeID, title); err != nil {
		client.Close()
		return err
	}

	writer := pulse.NewWriter(writerFunc(r.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(r.cfg.SampleRate),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName(title),
	)
	if err != nil {
		_ = r.Cancel()
		client.Close()
		return fmt.Errorf("create pulse record stream: %w", err)
	}

	r.mu.Lock()
	r.client = client
	r.stream = stream
	r.mu.Unlock()

	stream.Start()
	return nil
}

// begin prepares artifact output and timing state. Split from Start so the
// capture path can be exercised without a Pulse server.
func (r *Recorder) begin(selection Selection, scopeID string, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("recorder already started")
	}

	if err := os.MkdirAll(r.cfg.RecordingsDir, 0o700); err != nil {
		return fmt.Errorf("create recordings dir: %w", err)
	}

	stamp := time.Now().Format("20060102-150405")
	name := fmt.Sprintf("%s-%s-%s.wav", sanitizeName(scopeID), sanitizeName(title), stamp)
	r.path = filepath.Join(r.cfg.RecordingsDir, name)
	r.tmpPath = r.path + ".part"

	file, err := os.OpenFile(r.tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open artifact %q: %w", r.tmpPath, err)
	}
	bw := bufio.NewWriter(file)
	if _, err := bw.Write(wavHeader(0, r.cfg.SampleRate, 1)); err != nil {
		file.Close()
		return fmt.Errorf("write artifact header: %w", err)
	}

	r.selection = selection
	r.file = file
	r.bw = bw
	r.started = true
	r.startAt = time.Now()

	go r.tickLoop()
	r.sendState(SignalRecording)
	return nil
}

// Pause freezes duration accrual and discards incoming PCM; the stream stays open.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.finished {
		return errors.New("recorder is not active")
	}
	if r.paused {
		return nil
	}
	r.paused = true
	r.pauseStart = time.Now()
	r.sendState(SignalPaused)
	return nil
}

// Resume restarts PCM accrual after Pause.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.finished {
		return errors.New("recorder is not active")
	}
	if !r.paused {
		return nil
	}
	r.pausedFor += time.Since(r.pauseStart)
	r.paused = false
	r.sendState(SignalRecording)
	return nil
}

// Stop halts capture, finalizes the WAV artifact, and closes every signal
// stream. It returns the artifact path, or an error when no audio was written.
func (r *Recorder) Stop() (string, error) {
	stream, client, proceed := r.beginShutdown()
	if !proceed {
		r.mu.Lock()
		path := r.path
		r.mu.Unlock()
		return path, nil
	}

	closeStream(stream, client)
	r.inflight.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.closeSignals()

	if r.file == nil {
		return "", errors.New("no recording produced")
	}

	if err := r.bw.Flush(); err != nil {
		r.discardArtifactLocked()
		return "", fmt.Errorf("flush artifact: %w", err)
	}
	if r.written == 0 {
		r.discardArtifactLocked()
		return "", errors.New("no recording produced")
	}
	if err := patchWAVHeader(r.file, r.written, r.cfg.SampleRate, 1); err != nil {
		r.discardArtifactLocked()
		return "", fmt.Errorf("finalize artifact header: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	r.file = nil

	if err := os.Rename(r.tmpPath, r.path); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return r.path, nil
}

// Cancel halts capture and deletes the in-progress artifact.
func (r *Recorder) Cancel() error {
	stream, client, proceed := r.beginShutdown()
	if !proceed {
		return nil
	}

	closeStream(stream, client)
	r.inflight.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.closeSignals()

	r.discardArtifactLocked()
	return nil
}

// beginShutdown marks the recorder finished exactly once and hands back the
// Pulse handles to close outside the lock.
func (r *Recorder) beginShutdown() (*pulse.RecordStream, *pulse.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return nil, nil, false
	}
	r.finished = true
	close(r.stopCh)

	stream, client := r.stream, r.client
	r.stream, r.client = nil, nil
	return stream, client, true
}

func closeStream(stream *pulse.RecordStream, client *pulse.Client) {
	if stream != nil {
		stream.Stop()
		stream.Close()
	}
	if client != nil {
		client.Close()
	}
}

func (r *Recorder) discardArtifactLocked() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	if r.tmpPath != "" {
		_ = os.Remove(r.tmpPath)
	}
}

// closeSignals ends every signal stream; callers run it once under beginShutdown.
func (r *Recorder) closeSignals() {
	r.sendState(SignalStopped)
	close(r.chunks)
	close(r.states)
	close(r.durations)
	close(r.amplitudes)
	close(r.warnings)
}

// onPCM receives raw Pulse frames, spools them to the artifact, and emits
// fixed-size chunks plus amplitude samples.
func (r *Recorder) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-r.stopCh:
		return 0, io.EOF
	default:
	}

	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return 0, io.EOF
	}
	if r.paused || r.capped {
		// Paused/capped capture consumes and discards frames so the stream
		// stays open and ready to resume.
		r.mu.Unlock()
		return len(buffer), nil
	}

	if _, err := r.bw.Write(buffer); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	r.written += len(buffer)

	r.pending = append(r.pending, buffer...)
	chunks := make([][]byte, 0, len(r.pending)/chunkSizeBytes)
	for len(r.pending) >= chunkSizeBytes {
		chunk := make([]byte, chunkSizeBytes)
		copy(chunk, r.pending[:chunkSizeBytes])
		r.pending = r.pending[chunkSizeBytes:]
		chunks = append(chunks, chunk)
	}
	// Guard Add under the same mutex as r.finished to avoid Add/Wait races.
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	for _, chunk := range chunks {
		select {
		case r.chunks <- chunk:
		default:
			// No live consumer; local capture must not block.
		}
		sendLatest(r.amplitudes, rms(chunk))
	}

	return len(buffer), nil
}

// tickLoop emits elapsed duration and enforces warn/max thresholds.
func (r *Recorder) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		if r.finished {
			r.mu.Unlock()
			return
		}
		if r.paused || r.capped {
			r.mu.Unlock()
			continue
		}

		elapsed := time.Since(r.startAt) - r.pausedFor
		sendLatest(r.durations, elapsed)

		if !r.warned && r.cfg.WarnThreshold > 0 && elapsed >= r.cfg.WarnThreshold {
			r.warned = true
			select {
			case r.warnings <- true:
			default:
			}
		}
		if r.cfg.MaxDuration > 0 && elapsed >= r.cfg.MaxDuration {
			r.capped = true
			r.sendState(SignalCapped)
			if r.logger != nil {
				r.logger.Warn("maximum recording duration reached; capture capped", "elapsed", elapsed.String())
			}
		}
		r.mu.Unlock()
	}
}

// sendState pushes a state transition without ever blocking capture.
func (r *Recorder) sendState(state string) {
	select {
	case r.states <- state:
	default:
	}
}

// sendLatest replaces a stale buffered sample with the newest one.
func sendLatest[T any](ch chan T, value T) {
	select {
	case ch <- value:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- value:
	default:
	}
}

// rms computes a normalized [0,1] level for one s16le chunk.
func rms(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}
	var sum float64
	samples := len(chunk) / 2
	for i := 0; i < samples; i++ {
		s := int16(uint16(chunk[2*i]) | uint16(chunk[2*i+1])<<8)
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(samples)) / 32768.0
}

var nameSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeName reduces arbitrary titles to filesystem-safe slugs.
func sanitizeName(raw string) string {
	slug := nameSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "recording"
	}
	return slug
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
