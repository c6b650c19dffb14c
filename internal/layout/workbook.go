package layout

import (
	"sprintreport/internal/domain"
)

// Columns of the issue table on every sheet.
var Columns = []string{
	"Epic", "Type", "Assignee", "Issue", "URI", "Status", "Story Points", "Story Points Remaining", "Summary",
}

// Cell is a typed spreadsheet cell. A cell with neither value set is empty.
type Cell struct {
	Text   *string  `json:"text,omitempty"`
	Number *float64 `json:"number,omitempty"`
}

func textCell(s string) Cell { return Cell{Text: &s} }

func numberCell(v float64) Cell { return Cell{Number: &v} }

func optionalText(s *string) Cell { return Cell{Text: s} }

func (c Cell) Empty() bool {
	return c.Text == nil && c.Number == nil
}

type Row []Cell

// Sheet is one sprint group. Rows holds the stat block, a blank separator,
// the header at HeaderRow, then one row per record.
type Sheet struct {
	Title     string `json:"title"`
	HeaderRow int    `json:"header_row"`
	Rows      []Row  `json:"rows"`
}

type Workbook struct {
	Title  string  `json:"title"`
	Sheets []Sheet `json:"sheets"`
}

// BuildWorkbook lays out a report as one sheet per sprint group, in group order.
func BuildWorkbook(report domain.Report) Workbook {
	wb := Workbook{Title: report.Title, Sheets: make([]Sheet, 0, len(report.Groups))}
	for _, g := range report.Groups {
		wb.Sheets = append(wb.Sheets, buildSheet(g))
	}
	return wb
}

func buildSheet(g domain.SprintGroup) Sheet {
	rows := StatRows(g)
	sheet := Sheet{Title: g.Label, HeaderRow: len(rows) + 1}
	rows = append(rows, Row{})

	header := make(Row, len(Columns))
	for i, c := range Columns {
		header[i] = textCell(c)
	}
	rows = append(rows, header)
	for _, rec := range g.Records {
		rows = append(rows, recordRow(rec))
	}
	sheet.Rows = rows
	return sheet
}

// StatRows renders the label/value statistics block of a group.
func StatRows(g domain.SprintGroup) []Row {
	rows := []Row{{textCell("Sprint"), textCell(g.Label)}}
	rows = append(rows, metricRows("", g.Stats.Metrics)...)
	for _, a := range g.Stats.ByAssignee {
		rows = append(rows, metricRows(a.Assignee+" - ", a.Metrics)...)
	}
	for _, p := range g.Stats.ByPriority {
		rows = append(rows, metricRows(p.Priority+" - ", p.Metrics)...)
	}
	return rows
}

func metricRows(prefix string, m domain.Metrics) []Row {
	return []Row{
		{textCell(prefix + "Resolved Story Points"), numberCell(m.ResolvedPoints)},
		{textCell(prefix + "Unresolved Story Points"), numberCell(m.UnresolvedPoints)},
		{textCell(prefix + "Unresolved Story Points Remaining"), numberCell(m.UnresolvedRemaining)},
	}
}

func recordRow(r domain.ReportRecord) Row {
	return Row{
		optionalText(r.Epic),
		textCell(r.IssueType),
		optionalText(r.Assignee),
		textCell(r.Key),
		textCell(r.URI),
		textCell(r.Status),
		{Number: r.StoryPoints},
		{Number: r.Remaining},
		textCell(r.Summary),
	}
}
