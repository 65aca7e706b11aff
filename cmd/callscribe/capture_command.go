package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"callscribe/internal/ipc"
)

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	var req ipc.CaptureRequest
	cmd := &cobra.Command{
		Use:   "capture <audio-file>",
		Short: "Submit an externally captured audio segment to the active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read segment: %w", err)
			}
			req.Audio = data
			if strings.TrimSpace(req.Format) == "" {
				req.Format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CaptureSegment(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued segment %d for session %s (%d bytes)\n",
					resp.Sequence, resp.SessionID, resp.Bytes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Format, "format", "", "Audio container format (defaults to the file extension)")
	cmd.Flags().Int64Var(&req.StartTimeMs, "start-ms", 0, "Segment start offset in milliseconds")
	cmd.Flags().Int64Var(&req.EndTimeMs, "end-ms", 0, "Segment end offset in milliseconds")
	cmd.Flags().Int64Var(&req.Sequence, "sequence", 0, "Segment sequence number (0 assigns the next one)")
	return cmd
}
