package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"callscribe/internal/daemonctl"
	"callscribe/internal/deps"
	"callscribe/internal/ipc"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatus(out io.Writer, status *ipc.StatusResponse, colorize bool) {
	section := func(title string) {
		for _, line := range renderSectionHeader(title, colorize) {
			fmt.Fprintln(out, line)
		}
	}

	section("Daemon")
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Callscribe", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
		fmt.Fprintln(out, renderStatusLine("API", statusInfo, status.APIBind, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Callscribe", statusWarn, "Not running (run `callscribe start`)", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("STT Backend", statusInfo, status.Backend, colorize))
	fmt.Fprintln(out)

	section("Session")
	if status.Active == nil {
		fmt.Fprintln(out, renderStatusLine("Active", statusInfo, "None", colorize))
	} else {
		a := status.Active
		detail := fmt.Sprintf("%s %s (%s)", shortID(a.ID), a.Meeting.MeetingID, a.State)
		fmt.Fprintln(out, renderStatusLine("Active", statusOK, detail, colorize))
		if a.Capture != "" {
			fmt.Fprintln(out, renderStatusLine("Capture", statusInfo, string(a.Capture), colorize))
		}
		fmt.Fprintln(out, renderStatusLine("Segments", statusInfo,
			fmt.Sprintf("%d cut, %d published", a.Segments, a.Published), colorize))
	}
	fmt.Fprintln(out)

	section("Queue")
	q := status.Queue
	if q.Paused {
		fmt.Fprintln(out, renderStatusLine("State", statusError, "Paused: "+q.LastError, colorize))
		fmt.Fprintln(out, renderStatusLine("Head", statusWarn,
			fmt.Sprintf("segment %d of %s after %d attempts", q.HeadSequence, shortID(q.HeadSession), q.HeadAttempts), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("State", statusOK, "Running", colorize))
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Pending", "Processed", "Dropped", "Discarded", "Retries"},
		[][]string{{
			fmt.Sprintf("%d", q.Pending),
			fmt.Sprintf("%d", q.Processed),
			fmt.Sprintf("%d", q.Dropped),
			fmt.Sprintf("%d", q.Discarded),
			fmt.Sprintf("%d", q.Retries),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	fmt.Fprintln(out)

	section("Privileged Signer")
	if len(status.Contexts) == 0 {
		kind := statusInfo
		if status.Running {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine("Signer", kind, "Not connected (run `callscribe signer`)", colorize))
	} else {
		fmt.Fprintln(out, renderContextsTable(status.Contexts))
	}
	fmt.Fprintln(out)

	section("Dependencies")
	for _, line := range dependencyLines(status.Dependencies, colorize) {
		fmt.Fprintln(out, line)
	}
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	summary := daemonctl.BuildDependencySummary(statuses)
	lines := []string{renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize)}
	for _, dep := range statuses {
		kind := statusOK
		detail := dep.Command
		if dep.Version != "" {
			detail = fmt.Sprintf("%s (%s)", dep.Command, dep.Version)
		}
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			detail = dep.Detail
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func statusKindFromSeverity(severity string) statusKind {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "ok":
		return statusOK
	case "warn":
		return statusWarn
	case "error":
		return statusError
	default:
		return statusInfo
	}
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
