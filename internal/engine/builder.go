package engine

import (
	"context"
	"errors"
	"strings"

	"sprintreport/internal/config"
	"sprintreport/internal/domain"
)

type BuilderOptions struct {
	// BrowseURL turns an issue key into its human-facing link.
	BrowseURL      func(key string) string
	ResolvedStatus string
	// PriorityField is the display name of the MoSCoW field; empty disables it.
	PriorityField string
}

// RecordBuilder turns raw issues into report records. It holds only
// read-only state plus the epic resolver, so Build may run concurrently.
type RecordBuilder struct {
	fields *FieldIndex
	epics  *EpicResolver
	opts   BuilderOptions
}

func NewRecordBuilder(fields *FieldIndex, epics *EpicResolver, opts BuilderOptions) *RecordBuilder {
	if opts.ResolvedStatus == "" {
		opts.ResolvedStatus = config.DefaultResolvedStatus
	}
	return &RecordBuilder{fields: fields, epics: epics, opts: opts}
}

// Build never fails as a whole: attributes that cannot be derived are left
// nil and reported as warnings.
func (b *RecordBuilder) Build(ctx context.Context, issue domain.RawIssue) (domain.ReportRecord, []domain.Warning) {
	var warnings []domain.Warning
	warn := func(field string, err error) {
		warnings = append(warnings, domain.Warning{Issue: issue.Key, Field: field, Message: err.Error()})
	}

	rec := domain.ReportRecord{Key: issue.Key}
	if b.opts.BrowseURL != nil {
		rec.URI = b.opts.BrowseURL(issue.Key)
	}
	if v, ok := b.fields.value(issue, FieldAssignee); ok {
		if name := namedValue(v); name != "" {
			rec.Assignee = &name
		}
	}
	if v, ok := b.fields.value(issue, FieldIssueType); ok {
		rec.IssueType = namedValue(v)
	}
	if v, ok := b.fields.value(issue, FieldStatus); ok {
		rec.Status = namedValue(v)
	}
	if v, ok := b.fields.value(issue, FieldSummary); ok {
		rec.Summary = stringValue(v)
	}
	if v, ok := b.fields.value(issue, FieldCreated); ok {
		rec.Created = stringValue(v)
	}

	if v, ok := b.fields.value(issue, FieldStoryPoints); ok {
		if sp, err := numberValue(v); err != nil {
			warn(FieldStoryPoints, err)
		} else {
			rec.StoryPoints = &sp
		}
	}
	if rec.StoryPoints != nil {
		remaining := *rec.StoryPoints
		if v, ok := b.fields.value(issue, FieldTimeSpent); ok {
			if spent, err := numberValue(v); err != nil {
				warn(FieldTimeSpent, err)
			} else {
				remaining -= spent / secondsPerWorkDay
			}
		}
		rec.Remaining = &remaining
	}
	rec.OriginalEstimate = b.workDays(issue, FieldOriginalEstimate, warn)
	rec.RemainingEstimate = b.workDays(issue, FieldRemainingEstimate, warn)

	if b.opts.PriorityField != "" {
		if v, ok := b.fields.value(issue, b.opts.PriorityField); ok {
			if p := strings.TrimSpace(namedValue(v)); p != "" {
				rec.Priority = &p
			}
		}
	}

	if v, ok := b.fields.value(issue, FieldSprint); ok {
		s, err := ParseSprintHistory(v)
		switch {
		case errors.Is(err, ErrNoSprintHistory):
		case err != nil:
			warn(FieldSprint, err)
		default:
			rec.Sprint = SprintForStatus(s, rec.Status, b.opts.ResolvedStatus)
		}
	}

	if b.epics != nil {
		epic, err := b.epics.Resolve(ctx, issue)
		if err != nil {
			warn(FieldEpicLink, err)
		} else {
			rec.Epic = epic
		}
	}
	return rec, warnings
}

func (b *RecordBuilder) workDays(issue domain.RawIssue, field string, warn func(string, error)) *float64 {
	v, ok := b.fields.value(issue, field)
	if !ok {
		return nil
	}
	secs, err := numberValue(v)
	if err != nil {
		warn(field, err)
		return nil
	}
	days := secs / secondsPerWorkDay
	return &days
}
