package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"callscribe/internal/ipc"
	"callscribe/internal/session"
)

func newSessionCommands(ctx *commandContext) []*cobra.Command {
	var (
		meeting    session.MeetingInfo
		external   bool
		transcribe bool
	)
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start recording a meeting, launching the daemon if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			meeting.MeetingID = strings.TrimSpace(meeting.MeetingID)
			if meeting.MeetingID == "" {
				return errors.New("--meeting is required")
			}
			if err := ensureDaemon(cmd, ctx); err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				sess, err := client.Start(ipc.StartRequest{
					Meeting:    meeting,
					External:   external,
					Transcribe: transcribe,
				})
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), "Recording started", sess)
				return nil
			})
		},
	}
	startCmd.Flags().StringVar(&meeting.MeetingID, "meeting", "", "Meeting identifier (required)")
	startCmd.Flags().StringVar(&meeting.Title, "title", "", "Meeting title")
	startCmd.Flags().StringVar(&meeting.Platform, "platform", "", "Meeting platform, e.g. zoom or meet")
	startCmd.Flags().StringVar(&meeting.URL, "url", "", "Meeting URL")
	startCmd.Flags().BoolVar(&external, "external", false, "Accept audio through 'callscribe capture' instead of the local device")
	startCmd.Flags().BoolVar(&transcribe, "transcribe", false, "Transcribe from the first segment")

	stopCmd := &cobra.Command{
		Use:   "stop [session-id]",
		Short: "Stop the active session, or the given one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				sess, err := client.Stop(optionalArg(args))
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), "Session stopped", sess)
				return nil
			})
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause local capture on the active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				sess, err := client.Pause()
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), "Capture paused", sess)
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume local capture on the active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				sess, err := client.Resume()
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), "Capture resumed", sess)
				return nil
			})
		},
	}

	transcribeCmd := &cobra.Command{
		Use:   "transcribe [session-id]",
		Short: "Start transcribing the active session, or the given one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				sess, err := client.EnableTranscription(optionalArg(args))
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), "Transcription enabled", sess)
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, pauseCmd, resumeCmd, transcribeCmd, newSessionsCommand(ctx)}
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "sessions [session-id]",
		Short: "List recent sessions, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if id := optionalArg(args); id != "" {
					sess, err := client.Session(id)
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(cmd, sess)
					}
					printSessionDetail(cmd.OutOrStdout(), sess)
					return nil
				}
				resp, err := client.Sessions(limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Sessions)
				}
				if len(resp.Sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderSessionsTable(resp.Sessions))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print sessions as JSON")
	return cmd
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}

func printSession(out io.Writer, headline string, sess *session.Session) {
	fmt.Fprintf(out, "%s: %s (%s)\n", headline, sess.ID, sess.State)
	if sess.TopicID != "" {
		fmt.Fprintf(out, "  Topic: %s\n", sess.TopicID)
	}
}

func printSessionDetail(out io.Writer, sess *session.Session) {
	rows := [][]string{
		{"ID", sess.ID},
		{"Meeting", sess.Meeting.MeetingID},
		{"Title", sess.Meeting.Title},
		{"Platform", sess.Meeting.Platform},
		{"State", string(sess.State)},
		{"Topic", sess.TopicID},
		{"External", yesNo(sess.External)},
		{"Segments", fmt.Sprintf("%d", sess.Segments)},
		{"Published", fmt.Sprintf("%d", sess.Published)},
		{"Started", formatTimestamp(sess.StartedAt)},
	}
	if sess.EndedAt != nil {
		rows = append(rows, []string{"Ended", formatTimestamp(*sess.EndedAt)})
	}
	if sess.Error != "" {
		rows = append(rows, []string{"Error", sess.Error})
	}
	fmt.Fprint(out, renderTable([]string{"Field", "Value"}, rows, nil))
	fmt.Fprintln(out)
}
