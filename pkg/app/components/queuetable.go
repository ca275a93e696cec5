package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/download"
)

// QueueRow is one line of a queue listing.
type QueueRow struct {
	Position int
	Manga    string
	Chapter  string
	ID       string
	Source   string
	Status   string
}

// RowsFor lists downloads in queue order.
func RowsFor(downloads []*download.Download) []QueueRow {
	rows := make([]QueueRow, 0, len(downloads))
	for i, d := range downloads {
		row := QueueRow{Position: i + 1, ID: d.ChapterID(), Source: d.Source, Status: d.Status().String()}
		if d.Manga != nil {
			row.Manga = d.Manga.Name
		}
		if d.Chapter != nil {
			row.Chapter = d.Chapter.Number
		}
		rows = append(rows, row)
	}
	return rows
}

// QueueTable renders rows as a static table.
func QueueTable(rows []QueueRow) string {
	if len(rows) == 0 {
		return styles.MutedStyle.Render("Queue is empty")
	}

	columns := []table.Column{
		{Title: "#", Width: 4},
		{Title: "Manga", Width: 32},
		{Title: "Chapter", Width: 8},
		{Title: "ID", Width: 24},
		{Title: "Source", Width: 10},
		{Title: "Status", Width: 14},
	}

	tableRows := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		tableRows = append(tableRows, table.Row{
			fmt.Sprintf("%d", r.Position),
			truncate(r.Manga, 30),
			r.Chapter,
			truncate(r.ID, 22),
			r.Source,
			r.Status,
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(tableRows),
		table.WithFocused(false),
		table.WithHeight(len(tableRows)+2),
	)

	s := table.DefaultStyles()
	s.Header = styles.HeaderStyle.Inherit(s.Header)
	s.Selected = s.Selected.
		Foreground(lipgloss.NoColor{}).
		Background(lipgloss.NoColor{}).
		Bold(false)
	t.SetStyles(s)

	return t.View()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
