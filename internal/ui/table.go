package ui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// TableColumn defines a table column with name and width.
type TableColumn struct {
	Title string
	Width int
}

// newTable builds an unfocused bubbles table styled for plain CLI output.
func newTable(columns []TableColumn, rows []table.Row) table.Model {
	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{
			Title: c.Title,
			Width: c.Width,
		}
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1), // +1 for header
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorPrimary)
	s.Cell = s.Cell.
		Foreground(ColorPrimary)
	// The selected row must look like any other.
	s.Selected = s.Selected.
		Foreground(ColorPrimary).
		Bold(false)
	t.SetStyles(s)
	return t
}

// RenderSimpleTable renders rows under columns for 'devpoll hosts' and
// 'devpoll history'. No rows renders nothing.
func RenderSimpleTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}
	return newTable(columns, tableRows).View()
}

// FitColumns widens each column to its longest cell, capped at max.
// Titles count towards the width.
func FitColumns(titles []string, rows [][]string, max int) []TableColumn {
	cols := make([]TableColumn, len(titles))
	for i, title := range titles {
		cols[i] = TableColumn{Title: title, Width: lipgloss.Width(title)}
	}
	for _, row := range rows {
		for i := range cols {
			if i >= len(row) {
				continue
			}
			if w := lipgloss.Width(row[i]); w > cols[i].Width {
				cols[i].Width = w
			}
		}
	}
	if max > 0 {
		for i := range cols {
			if cols[i].Width > max {
				cols[i].Width = max
			}
		}
	}
	return cols
}

// PadRight pads s with spaces to width visible cells.
func PadRight(s string, width int) string {
	visibleLen := lipgloss.Width(s)
	if visibleLen >= width {
		return s
	}
	for i := 0; i < width-visibleLen; i++ {
		s += " "
	}
	return s
}
