// Package doctor runs runtime readiness diagnostics for config, audio,
// notifications, and the upload endpoint.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/recollect-app/recollect/internal/capture"
	"github.com/recollect-app/recollect/internal/config"
	"github.com/recollect-app/recollect/internal/tiers"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	}}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for the control socket", "XDG_RUNTIME_DIR is empty"))

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkRecordingsDir(cfg.Config))
	checks = append(checks, checkTiers(cfg.Config))

	if cfg.Config.Notify.Enable {
		checks = append(checks, checkBinary("busctl", "desktop notifications"))
	}

	checks = append(checks, checkUploadEndpoint(cfg.Config))

	if cfg.Config.Session.LiveAssistant {
		checks = append(checks, checkURLConfigured("realtime.transport_url", cfg.Config.Realtime.TransportURL))
		checks = append(checks, checkURLConfigured("realtime.insights_url", cfg.Config.Realtime.InsightsURL))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := capture.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRecordingsDir verifies the artifact directory can be created.
func checkRecordingsDir(cfg config.Config) Check {
	dir := cfg.Session.RecordingsDir
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: "recordings.dir", Pass: false, Message: err.Error()}
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return Check{Name: "recordings.dir", Pass: false, Message: fmt.Sprintf("not writable: %v", err)}
	}
	_ = os.Remove(probe)
	return Check{Name: "recordings.dir", Pass: true, Message: fmt.Sprintf("writable at %s", dir)}
}

// checkTiers validates the configured analysis tier names.
func checkTiers(cfg config.Config) Check {
	resolver, err := tiers.NewResolver(cfg.Insights.Tiers)
	if err != nil {
		return Check{Name: "insights.tiers", Pass: false, Message: err.Error()}
	}
	return Check{Name: "insights.tiers", Pass: true, Message: strings.Join(resolver.EnabledTiers(), ", ")}
}

// checkUploadEndpoint probes the content service health endpoint.
func checkUploadEndpoint(cfg config.Config) Check {
	base := strings.TrimSpace(cfg.Upload.BaseURL)
	if base == "" {
		return Check{Name: "upload.endpoint", Pass: false, Message: "upload.base_url is empty"}
	}

	url := strings.TrimRight(base, "/") + "/healthz"
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return Check{Name: "upload.endpoint", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: "upload.endpoint", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: "upload.endpoint", Pass: true, Message: fmt.Sprintf("ready at %s", url)}
}

// checkURLConfigured asserts a websocket endpoint is set when the live
// assistant is enabled.
func checkURLConfigured(name string, value string) Check {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Check{Name: name, Pass: false, Message: "required when session.live_assistant is enabled"}
	}
	if !strings.HasPrefix(trimmed, "ws://") && !strings.HasPrefix(trimmed, "wss://") {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("expected ws:// or wss:// URL, got %q", trimmed)}
	}
	return Check{Name: name, Pass: true, Message: trimmed}
}
