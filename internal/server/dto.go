package server

import (
	"sprintreport/internal/config"
	"sprintreport/internal/domain"
	"sprintreport/internal/layout"
)

type ScheduleResponse struct {
	DaysOfWeek []int  `json:"days_of_week"`
	Hour       int    `json:"hour"`
	Minute     int    `json:"minute"`
	Cron       string `json:"cron"`
}

type SearchResponse struct {
	Name     string            `json:"name"`
	JQL      string            `json:"jql"`
	Schedule *ScheduleResponse `json:"schedule,omitempty"`
}

type searchList struct {
	Items []SearchResponse `json:"items"`
}

type GeneratedReportResponse struct {
	Report   domain.Report   `json:"report"`
	Workbook layout.Workbook `json:"workbook"`
	Exported bool            `json:"exported"`
}

type paginatedReports struct {
	Items      []domain.ReportSummary `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

func searchResponse(s config.Search) SearchResponse {
	out := SearchResponse{Name: s.Name, JQL: s.JQL}
	if s.Schedule != nil {
		days := s.Schedule.DaysOfWeek
		if days == nil {
			days = []int{}
		}
		out.Schedule = &ScheduleResponse{
			DaysOfWeek: days,
			Hour:       s.Schedule.Hour,
			Minute:     s.Schedule.Minute,
			Cron:       s.Schedule.CronSpec(),
		}
	}
	return out
}
