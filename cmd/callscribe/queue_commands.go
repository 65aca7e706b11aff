package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"callscribe/internal/ipc"
	"callscribe/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control the segment queue",
	}

	var jsonOut bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the segment queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueStatus()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Queue)
				}
				printQueueStatus(cmd.OutOrStdout(), resp.Queue)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the queue as JSON")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard all pending segments and clear a pause",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueReset()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queue reset; discarded %d segment(s)\n", resp.Discarded)
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Clear a pause and retry the head segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueResume()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queue resumed; %d segment(s) pending\n", resp.Queue.Pending)
				return nil
			})
		},
	}

	queueCmd.AddCommand(statusCmd, resetCmd, resumeCmd)
	return queueCmd
}

func printQueueStatus(out io.Writer, q queue.Status) {
	state := "running"
	if q.Paused {
		state = "paused"
	}
	rows := [][]string{
		{"State", state},
		{"Pending", fmt.Sprintf("%d", q.Pending)},
		{"Processing", yesNo(q.Processing)},
		{"Processed", fmt.Sprintf("%d", q.Processed)},
		{"Dropped", fmt.Sprintf("%d", q.Dropped)},
		{"Discarded", fmt.Sprintf("%d", q.Discarded)},
		{"Retries", fmt.Sprintf("%d", q.Retries)},
	}
	if q.HeadSession != "" {
		rows = append(rows,
			[]string{"Head", fmt.Sprintf("%s #%d", shortID(q.HeadSession), q.HeadSequence)},
			[]string{"Head Attempts", fmt.Sprintf("%d", q.HeadAttempts)},
		)
	}
	if q.LastError != "" {
		rows = append(rows, []string{"Last Error", q.LastError})
	}
	fmt.Fprint(out, renderTable([]string{"Queue", "Value"}, rows, nil))
	fmt.Fprintln(out)
}
