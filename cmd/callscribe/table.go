package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"callscribe/internal/proxy"
	"callscribe/internal/session"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func renderSessionsTable(sessions []session.Session) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		title := s.Meeting.Title
		if title == "" {
			title = s.Meeting.MeetingID
		}
		rows = append(rows, []string{
			shortID(s.ID),
			title,
			string(s.State),
			fmt.Sprintf("%d", s.Segments),
			fmt.Sprintf("%d", s.Published),
			formatTimestamp(s.StartedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Meeting", "State", "Segments", "Published", "Started"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func renderContextsTable(contexts []proxy.ContextInfo) string {
	rows := make([][]string, 0, len(contexts))
	for _, c := range contexts {
		rows = append(rows, []string{c.Name, c.RemoteAddr, formatTimestamp(c.LastActive), yesNo(c.Active)})
	}
	return renderTable([]string{"Name", "Remote", "Last Active", "Active"}, rows, nil)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
