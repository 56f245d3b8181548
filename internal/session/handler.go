package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/recollect-app/recollect/internal/ipc"
)

// Handle dispatches one IPC request against the coordinator. Every response
// carries the post-operation state so clients can render without a second
// status round trip.
func (c *Coordinator) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "start":
		if err := c.Start(ctx, req.Args["title"]); err != nil {
			return c.fail(err)
		}
		snap := c.Snapshot()
		return ipc.Response{OK: true, State: snap.State, Message: "recording started", Data: map[string]string{
			"sessionId": snap.SessionID,
			"realtime":  strconv.FormatBool(snap.RealtimeActive),
		}}

	case "pause":
		if err := c.Pause(ctx); err != nil {
			return c.fail(err)
		}
		return c.ok("recording paused")

	case "resume":
		if err := c.Resume(ctx); err != nil {
			return c.fail(err)
		}
		return c.ok("recording resumed")

	case "stop":
		outcome, err := c.Stop(ctx)
		if err != nil {
			resp := c.fail(err)
			if outcome.ArtifactPath != "" {
				resp.Data = map[string]string{"artifact": outcome.ArtifactPath}
			}
			return resp
		}
		return ipc.Response{OK: true, State: c.Snapshot().State, Message: "recording uploaded", Data: map[string]string{
			"jobId":     outcome.JobID,
			"contentId": outcome.ContentID,
			"scopeId":   outcome.ResolvedScopeID,
			"artifact":  outcome.ArtifactPath,
		}}

	case "cancel":
		if err := c.Cancel(ctx); err != nil {
			return c.fail(err)
		}
		return c.ok("recording discarded")

	case "ack":
		if err := c.Acknowledge(); err != nil {
			return c.fail(err)
		}
		return c.ok("error acknowledged")

	case "retry":
		path := req.Args["path"]
		if path == "" {
			return c.fail(fmt.Errorf("retry requires a path argument"))
		}
		outcome, err := c.Retry(ctx, path, req.Args["title"])
		if err != nil {
			return c.fail(err)
		}
		return ipc.Response{OK: true, State: c.Snapshot().State, Message: "recording uploaded", Data: map[string]string{
			"jobId":     outcome.JobID,
			"contentId": outcome.ContentID,
			"scopeId":   outcome.ResolvedScopeID,
		}}

	case "live-assistant":
		enabled, err := strconv.ParseBool(req.Args["enabled"])
		if err != nil {
			return c.fail(fmt.Errorf("live-assistant requires enabled=true|false"))
		}
		c.SetLiveAssistant(enabled)
		return c.ok("live assistant preference updated")

	case "status":
		snap := c.Snapshot()
		data := map[string]string{
			"sessionId": snap.SessionID,
			"title":     snap.Title,
			"elapsed":   snap.Elapsed.Truncate(time.Second).String(),
			"amplitude": strconv.FormatFloat(snap.Amplitude, 'f', 3, 64),
			"warning":   strconv.FormatBool(snap.ShowDurationWarning),
			"live":      strconv.FormatBool(snap.LiveAssistantEnabled),
			"realtime":  strconv.FormatBool(snap.RealtimeActive),
		}
		if snap.ContentID != "" {
			data["contentId"] = snap.ContentID
		}
		if snap.ErrorMessage != "" {
			data["error"] = snap.ErrorMessage
		}
		return ipc.Response{OK: true, State: snap.State, Data: data}

	default:
		return ipc.Response{OK: false, State: c.Snapshot().State, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (c *Coordinator) ok(message string) ipc.Response {
	return ipc.Response{OK: true, State: c.Snapshot().State, Message: message}
}

func (c *Coordinator) fail(err error) ipc.Response {
	return ipc.Response{OK: false, State: c.Snapshot().State, Error: err.Error()}
}
