package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"callscribe/internal/ipc"
	"callscribe/internal/logging"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		since  uint64
		limit  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				cursor := since
				for {
					resp, err := client.LogTail(ipc.LogTailRequest{Since: cursor, Limit: limit})
					if err != nil {
						return err
					}
					for _, evt := range resp.Events {
						printEvent(cmd.OutOrStdout(), evt)
					}
					cursor = resp.Next
					if !follow {
						return nil
					}
					select {
					case <-cmd.Context().Done():
						return nil
					case <-time.After(time.Second):
					}
				}
			})
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "Only show events after this sequence number")
	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "Maximum number of events per fetch")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new events")
	return cmd
}

func printEvent(out io.Writer, evt logging.Event) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", evt.Timestamp.Local().Format("15:04:05.000"), strings.ToUpper(evt.Level))
	if evt.Component != "" {
		fmt.Fprintf(&b, " [%s]", evt.Component)
	}
	b.WriteString(" ")
	b.WriteString(evt.Message)
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, evt.Fields[k])
	}
	fmt.Fprintln(out, b.String())
}
