package capture

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T, cfg Config) *Recorder {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = t.TempDir()
	}
	return NewRecorder(cfg, nil)
}

func feedPCM(t *testing.T, r *Recorder, frames int, value int16) {
	t.Helper()
	buf := make([]byte, chunkSizeBytes)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(value))
	}
	for i := 0; i < frames; i++ {
		n, err := r.onPCM(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
	}
}

func TestRecorderStopProducesWAVArtifact(t *testing.T) {
	r := newTestRecorder(t, Config{})
	require.NoError(t, r.begin(Selection{Device: Device{ID: "test"}}, "p1", "standup"))

	feedPCM(t, r, 5, 1000)

	path, err := r.Stop()
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Contains(t, filepath.Base(path), "p1-standup-")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, wavHeaderSize+5*chunkSizeBytes, len(data))
	require.Equal(t, "RIFF", string(data[0:4]))
	require.Equal(t, "WAVE", string(data[8:12]))
	require.Equal(t, uint32(5*chunkSizeBytes), binary.LittleEndian.Uint32(data[40:44]))
	require.Equal(t, uint32(16000), binary.LittleEndian.Uint32(data[24:28]))
}

func TestRecorderStopWithoutAudioFails(t *testing.T) {
	r := newTestRecorder(t, Config{})
	require.NoError(t, r.begin(Selection{}, "p1", "empty"))

	_, err := r.Stop()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no recording produced")
}

func TestRecorderCancelDeletesArtifact(t *testing.T) {
	dir := t.TempDir()
	r := newTestRecorder(t, Config{RecordingsDir: dir})
	require.NoError(t, r.begin(Selection{}, "p1", "scrapped"))

	feedPCM(t, r, 3, 500)
	require.NoError(t, r.Cancel())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRecorderPauseDiscardsPCM(t *testing.T) {
	r := newTestRecorder(t, Config{})
	require.NoError(t, r.begin(Selection{}, "p1", "meeting"))

	feedPCM(t, r, 2, 1000)
	require.NoError(t, r.Pause())
	feedPCM(t, r, 4, 1000) // discarded
	require.NoError(t, r.Resume())
	feedPCM(t, r, 1, 1000)

	path, err := r.Stop()
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, wavHeaderSize+3*chunkSizeBytes, len(data))
}

func TestRecorderDurationsFrozenWhilePaused(t *testing.T) {
	wallStart := time.Now()
	r := newTestRecorder(t, Config{})
	require.NoError(t, r.begin(Selection{}, "p1", "timing"))

	waitDuration := func() time.Duration {
		t.Helper()
		select {
		case d := <-r.Durations():
			return d
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a duration sample")
			return 0
		}
	}

	first := waitDuration()
	second := waitDuration()
	require.GreaterOrEqual(t, second, first)

	require.NoError(t, r.Pause())
	// Remove samples emitted before the pause took effect; once Pause has
	// returned the tick loop skips emission entirely.
	for {
		select {
		case <-r.Durations():
			continue
		default:
		}
		break
	}

	time.Sleep(3 * tickInterval)
	select {
	case d := <-r.Durations():
		t.Fatalf("duration emitted while paused: %s", d)
	default:
	}

	require.NoError(t, r.Resume())
	resumed := waitDuration()
	require.GreaterOrEqual(t, resumed, second)
	// The paused interval is excluded, so elapsed lags wall-clock time by at
	// least most of the pause.
	require.Less(t, resumed, time.Since(wallStart)-2*tickInterval)

	_, _ = r.Stop()
}

func TestRecorderPauseResumeIdempotent(t *testing.T) {
	r := newTestRecorder(t, Config{})
	require.NoError(t, r.begin(Selection{}, "p1", "x"))

	require.NoError(t, r.Pause())
	require.NoError(t, r.Pause())
	require.NoError(t, r.Resume())
	require.NoError(t, r.Resume())

	_, err := r.Stop()
	require.Error(t, err) // no audio written
}

func TestRecorderChunkAndAmplitudeStreams(t *testing.T) {
	r := newTestRecorder(t, Config{})
	require.NoError(t, r.begin(Selection{}, "p1", "levels"))

	feedPCM(t, r, 1, 16384)

	select {
	case chunk := <-r.Chunks():
		require.Len(t, chunk, chunkSizeBytes)
	default:
		t.Fatal("expected a chunk on the live stream")
	}

	select {
	case level := <-r.Amplitudes():
		require.InDelta(t, 0.5, level, 0.01)
	default:
		t.Fatal("expected an amplitude sample")
	}

	_, _ = r.Stop()
}

func TestRecorderWarningFiresOnce(t *testing.T) {
	r := newTestRecorder(t, Config{WarnThreshold: time.Millisecond})
	require.NoError(t, r.begin(Selection{}, "p1", "long"))

	select {
	case warned := <-r.Warnings():
		require.True(t, warned)
	case <-time.After(2 * time.Second):
		t.Fatal("expected duration warning")
	}

	_, _ = r.Stop()
}

func TestRecorderSignalsCloseOnStop(t *testing.T) {
	r := newTestRecorder(t, Config{})
	require.NoError(t, r.begin(Selection{}, "p1", "done"))
	feedPCM(t, r, 1, 100)

	_, err := r.Stop()
	require.NoError(t, err)

	for range r.Chunks() {
	}
	for range r.Durations() {
	}
	_, open := <-r.Warnings()
	require.False(t, open)
}

func TestSelectDeviceFromList(t *testing.T) {
	devices := []Device{
		{ID: "alsa_input.usb_mic", Description: "USB Microphone", Available: true},
		{ID: "alsa_input.internal", Description: "Internal Microphone", Available: true, Default: true},
		{ID: "alsa_input.headset", Description: "Headset", Available: true, Muted: true},
	}

	t.Run("default selection", func(t *testing.T) {
		sel, err := selectDeviceFromList(devices, "default", "")
		require.NoError(t, err)
		require.Equal(t, "alsa_input.internal", sel.Device.ID)
		require.Empty(t, sel.Warning)
	})

	t.Run("match by term", func(t *testing.T) {
		sel, err := selectDeviceFromList(devices, "usb", "")
		require.NoError(t, err)
		require.Equal(t, "alsa_input.usb_mic", sel.Device.ID)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := selectDeviceFromList(devices, "bluetooth", "")
		require.Error(t, err)
		require.Contains(t, err.Error(), "did not match any device")
	})

	t.Run("muted primary falls back to default", func(t *testing.T) {
		sel, err := selectDeviceFromList(devices, "headset", "")
		require.NoError(t, err)
		require.Equal(t, "alsa_input.internal", sel.Device.ID)
		require.True(t, sel.Fallback)
		require.Contains(t, sel.Warning, "muted")
	})

	t.Run("muted primary honors fallback term", func(t *testing.T) {
		sel, err := selectDeviceFromList(devices, "headset", "usb")
		require.NoError(t, err)
		require.Equal(t, "alsa_input.usb_mic", sel.Device.ID)
	})

	t.Run("empty list", func(t *testing.T) {
		_, err := selectDeviceFromList(nil, "default", "")
		require.Error(t, err)
	})
}

func TestSanitizeName(t *testing.T) {
	require.Equal(t, "weekly-sync-q3", sanitizeName("  Weekly Sync (Q3) "))
	require.Equal(t, "recording", sanitizeName("!!!"))
	require.Equal(t, "recording", sanitizeName(""))
}

func TestRMS(t *testing.T) {
	silent := make([]byte, chunkSizeBytes)
	require.Zero(t, rms(silent))

	loud := make([]byte, chunkSizeBytes)
	for i := 0; i < len(loud); i += 2 {
		sample := int16(-32768)
		binary.LittleEndian.PutUint16(loud[i:], uint16(sample))
	}
	require.InDelta(t, 1.0, rms(loud), 0.01)
}
