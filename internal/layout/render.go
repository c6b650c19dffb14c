package layout

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"sprintreport/internal/domain"
)

// Email is the rendered message handed to the mail transport.
type Email struct {
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
	HTMLBody string `json:"html_body"`
}

func (c Cell) String() string {
	switch {
	case c.Number != nil:
		return strconv.FormatFloat(*c.Number, 'f', -1, 64)
	case c.Text != nil:
		return *c.Text
	}
	return ""
}

func toTableRow(r Row) table.Row {
	out := make(table.Row, len(r))
	for i, c := range r {
		out[i] = c.String()
	}
	return out
}

func statsTable(s Sheet) table.Writer {
	tw := table.NewWriter()
	tw.SetTitle(s.Title)
	for _, r := range s.Rows[:s.HeaderRow-1] {
		tw.AppendRow(toTableRow(r))
	}
	return tw
}

func issuesTable(s Sheet) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(toTableRow(s.Rows[s.HeaderRow]))
	for _, r := range s.Rows[s.HeaderRow+1:] {
		tw.AppendRow(toTableRow(r))
	}
	return tw
}

// RenderText renders every sheet as a pair of plain-text tables.
func RenderText(wb Workbook) string {
	var b strings.Builder
	b.WriteString(wb.Title)
	b.WriteString("\n")
	for _, s := range wb.Sheets {
		stats := statsTable(s)
		stats.SetStyle(table.StyleLight)
		issues := issuesTable(s)
		issues.SetStyle(table.StyleLight)
		fmt.Fprintf(&b, "\n%s\n%s\n", stats.Render(), issues.Render())
	}
	return b.String()
}

// RenderHTML renders every sheet as HTML tables under a heading.
func RenderHTML(wb Workbook) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(wb.Title))
	for _, s := range wb.Sheets {
		fmt.Fprintf(&b, "<h2>%s</h2>\n%s\n%s\n", html.EscapeString(s.Title), statsTable(s).RenderHTML(), issuesTable(s).RenderHTML())
	}
	return b.String()
}

// RenderEmail builds the status mail for a report.
func RenderEmail(report domain.Report) Email {
	wb := BuildWorkbook(report)
	return Email{
		Subject:  report.Title,
		TextBody: RenderText(wb),
		HTMLBody: RenderHTML(wb),
	}
}
