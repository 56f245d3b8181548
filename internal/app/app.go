// Package app wires the recollect CLI: a long-running `run` daemon that owns
// the session coordinator, and thin subcommands that forward over IPC.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/recollect-app/recollect/internal/config"
	"github.com/recollect-app/recollect/internal/logging"
	"github.com/recollect-app/recollect/internal/version"
)

const (
	forwardTimeout = 5 * time.Second
	// Stop and retry block on the upload; give them room.
	finalizeTimeout = 3 * time.Minute
)

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := &runner{stdout: stdout, stderr: stderr}
	root := r.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errReported marks failures already printed by a subcommand so Execute does
// not print them twice.
var errReported = errors.New("reported")

type runner struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
}

func (r *runner) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "recollect",
		Short:         "voice note recorder with live insights",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&r.configPath, "config", "", "path to config file")

	root.AddCommand(
		r.runCommand(),
		r.forwardCommand("pause", "Pause the active recording"),
		r.forwardCommand("resume", "Resume a paused recording"),
		r.forwardCommand("cancel", "Discard the active recording"),
		r.forwardCommand("ack", "Acknowledge the last error"),
		r.startCommand(),
		r.stopCommand(),
		r.statusCommand(),
		r.retryCommand(),
		r.liveAssistantCommand(),
		r.jobsCommand(),
		r.devicesCommand(),
		r.doctorCommand(),
		r.versionCommand(),
	)
	return root
}

func (r *runner) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(r.stdout, version.String())
		},
	}
}

// loadConfig resolves configuration once per command invocation.
func (r *runner) loadConfig() (config.Loaded, error) {
	loaded, err := config.Load(r.configPath)
	if err != nil {
		fmt.Fprintf(r.stderr, "error: %v\n", err)
		return config.Loaded{}, errReported
	}
	return loaded, nil
}

// newLogging sets up the JSONL log runtime shared by daemon and tooling
// commands. Callers close it.
func (r *runner) newLogging() (logging.Runtime, *slog.Logger, error) {
	runtime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.stderr, "error: setup logging: %v\n", err)
		return logging.Runtime{}, nil, errReported
	}
	return runtime, runtime.Logger, nil
}

func (r *runner) fail(format string, args ...any) error {
	fmt.Fprintf(r.stderr, "error: "+format+"\n", args...)
	return errReported
}
