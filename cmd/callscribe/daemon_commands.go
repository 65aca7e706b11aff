package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"callscribe/internal/daemonctl"
)

const (
	daemonStartTimeout = 10 * time.Second
	daemonStopGrace    = 10 * time.Second
)

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{ConfigPath: ctx.configPath()}
}

// ensureDaemon launches the daemon when it is not answering and reports a
// fresh launch on stdout.
func ensureDaemon(cmd *cobra.Command, ctx *commandContext) error {
	exe, err := daemonExecutable()
	if err != nil {
		return err
	}
	result, err := daemonctl.EnsureRunning(ctx.socketPath(), exe, daemonLaunchOptions(ctx), daemonStartTimeout)
	if err != nil {
		return err
	}
	if result.Launched {
		fmt.Fprintf(cmd.OutOrStdout(), "Daemon launched (pid %d)\n", result.PID)
	}
	return nil
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var jsonOut bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, session, queue and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}
			stdout := cmd.OutOrStdout()
			renderStatus(stdout, status, shouldColorize(stdout))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&jsonOut, "json", false, "Print status as JSON")

	shutdownCmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the callscribe daemon, flushing the active session first",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), daemonStopGrace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the callscribe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			_, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), daemonStopGrace)
			if err != nil && !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				return err
			}
			if err == nil {
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			return ensureDaemon(cmd, ctx)
		},
	}

	return []*cobra.Command{statusCmd, shutdownCmd, restartCmd}
}
