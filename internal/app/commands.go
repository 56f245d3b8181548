package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/recollect-app/recollect/internal/capture"
	"github.com/recollect-app/recollect/internal/doctor"
	"github.com/recollect-app/recollect/internal/ipc"
	"github.com/recollect-app/recollect/internal/jobs"
)

// forward sends one command to the daemon and reports whether a daemon was
// reachable at all.
func forward(ctx context.Context, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return ipc.Response{}, false, err
	}

	resp, err := ipc.Send(ctx, socketPath, req, timeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) ||
		strings.Contains(err.Error(), "no such file or directory") {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}

func (r *runner) forwardOrFail(ctx context.Context, req ipc.Request, timeout time.Duration) (ipc.Response, error) {
	resp, handled, err := forward(ctx, req, timeout)
	if !handled {
		return resp, r.fail("no recollect daemon running (start one with `recollect run`)")
	}
	if err != nil {
		return resp, r.fail("%v", err)
	}
	return resp, nil
}

// forwardCommand builds a subcommand that just relays its name to the daemon.
func (r *runner) forwardCommand(name string, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := r.forwardOrFail(cmd.Context(), ipc.Request{Command: name}, forwardTimeout)
			if err != nil {
				return err
			}
			if resp.Message != "" {
				fmt.Fprintln(r.stdout, resp.Message)
			}
			return nil
		},
	}
}

func (r *runner) startCommand() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new recording session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := ipc.Request{Command: "start", Args: map[string]string{"title": title}}
			resp, err := r.forwardOrFail(cmd.Context(), req, forwardTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(r.stdout, resp.Message)
			if resp.Data["realtime"] == "true" {
				fmt.Fprintln(r.stdout, "live insights active")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "recording title")
	return cmd
}

func (r *runner) stopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the recording and upload it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := r.forwardOrFail(cmd.Context(), ipc.Request{Command: "stop"}, finalizeTimeout)
			if err != nil {
				if resp.Data["artifact"] != "" {
					fmt.Fprintf(r.stdout, "recording saved at %s (use `recollect retry`)\n", resp.Data["artifact"])
				}
				return err
			}
			fmt.Fprintf(r.stdout, "%s (job %s, content %s, scope %s)\n",
				resp.Message, resp.Data["jobId"], resp.Data["contentId"], resp.Data["scopeId"])
			return nil
		},
	}
}

func (r *runner) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, handled, err := forward(cmd.Context(), ipc.Request{Command: "status"}, forwardTimeout)
			if !handled {
				fmt.Fprintln(r.stdout, "idle (no daemon)")
				return nil
			}
			if err != nil {
				return r.fail("%v", err)
			}

			fmt.Fprintln(r.stdout, resp.State)
			keys := make([]string, 0, len(resp.Data))
			for key, value := range resp.Data {
				if value != "" {
					keys = append(keys, key)
				}
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(r.stdout, "  %s: %s\n", key, resp.Data[key])
			}
			return nil
		},
	}
}

func (r *runner) retryCommand() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "retry <artifact-path>",
		Short: "Re-upload a saved recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.Request{Command: "retry", Args: map[string]string{"path": args[0], "title": title}}
			resp, err := r.forwardOrFail(cmd.Context(), req, finalizeTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(r.stdout, "%s (job %s)\n", resp.Message, resp.Data["jobId"])
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "recording title")
	return cmd
}

func (r *runner) liveAssistantCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "live-assistant on|off",
		Short:     "Toggle live insights for future sessions",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled := "false"
			if args[0] == "on" {
				enabled = "true"
			} else if args[0] != "off" {
				return r.fail("expected on or off, got %q", args[0])
			}
			req := ipc.Request{Command: "live-assistant", Args: map[string]string{"enabled": enabled}}
			resp, err := r.forwardOrFail(cmd.Context(), req, forwardTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(r.stdout, resp.Message)
			return nil
		},
	}
}

func (r *runner) jobsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List registered processing jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := r.loadConfig()
			if err != nil {
				return err
			}
			registry, err := jobs.Open(loaded.Config.Jobs.DBPath)
			if err != nil {
				return r.fail("open job registry: %v", err)
			}
			defer func() { _ = registry.Close() }()

			all, err := registry.List(cmd.Context())
			if err != nil {
				return r.fail("%v", err)
			}
			if len(all) == 0 {
				fmt.Fprintln(r.stdout, "no jobs registered")
				return nil
			}
			for _, job := range all {
				fmt.Fprintf(r.stdout, "%s  job=%s content=%s scope=%s title=%q\n",
					job.CreatedAt.Format(time.RFC3339), job.JobID, job.ContentID, job.ScopeID, job.Title)
			}
			return nil
		},
	}
}

func (r *runner) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := capture.ListDevices(cmd.Context())
			if err != nil {
				return r.fail("%v", err)
			}
			if len(devices) == 0 {
				return r.fail("no audio devices found")
			}
			for _, device := range devices {
				defaultMark := " "
				if device.Default {
					defaultMark = "*"
				}
				fmt.Fprintf(r.stdout, "%s id=%s | description=%q | state=%s | available=%t | muted=%t\n",
					defaultMark, device.ID, device.Description, device.State, device.Available, device.Muted)
			}
			return nil
		},
	}
}

func (r *runner) doctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check runtime readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := r.loadConfig()
			if err != nil {
				return err
			}
			report := doctor.Run(cmd.Context(), loaded)
			fmt.Fprintln(r.stdout, report.String())
			if !report.OK() {
				return errReported
			}
			return nil
		},
	}
}
