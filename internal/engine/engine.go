package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sprintreport/internal/config"
	"sprintreport/internal/domain"
)

// Searcher runs one page of a tracker search.
type Searcher interface {
	Search(ctx context.Context, jql string, startAt, maxResults int) (domain.SearchPage, error)
}

// IssueFetcher loads a single issue by key.
type IssueFetcher interface {
	FetchIssue(ctx context.Context, key string) (domain.RawIssue, error)
}

// FieldLister returns the tracker's field catalog.
type FieldLister interface {
	ListFields(ctx context.Context) ([]domain.Field, error)
}

// Tracker is everything the pipeline needs from the issue tracker.
type Tracker interface {
	Searcher
	IssueFetcher
	FieldLister
}

// TitleLayout formats the report generation time in report titles.
const TitleLayout = "01/02/2006 03:04:05 PM"

type Options struct {
	PageSize       int
	Concurrency    int
	ResolvedStatus string
	PriorityField  string
	PriorityLabels []string
	BrowseURL      func(key string) string
}

// OptionsFromConfig derives pipeline options from the report section.
func OptionsFromConfig(cfg *config.Config, browseURL func(string) string) Options {
	return Options{
		PageSize:       cfg.Report.PageSize,
		Concurrency:    cfg.Report.Concurrency,
		ResolvedStatus: cfg.Report.ResolvedStatus,
		PriorityField:  cfg.Report.MoSCoW.Field,
		PriorityLabels: cfg.Report.MoSCoW.Labels,
		BrowseURL:      browseURL,
	}
}

type Engine struct {
	Tracker Tracker
	Options Options
	Log     zerolog.Logger
	Now     func() time.Time
}

func New(tracker Tracker, opts Options, log zerolog.Logger) Engine {
	return Engine{
		Tracker: tracker,
		Options: opts,
		Log:     log,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Generate runs the whole pipeline for one saved search.
func (e Engine) Generate(ctx context.Context, search config.Search) (domain.Report, error) {
	log := e.Log.With().Str("search", search.Name).Logger()
	started := e.now()

	catalog, err := e.Tracker.ListFields(ctx)
	if err != nil {
		return domain.Report{}, fmt.Errorf("list fields: %w", err)
	}
	fields := NewFieldIndex(catalog)
	for _, name := range fields.Duplicates() {
		log.Warn().Str("field", name).Msg("duplicate field name, keeping last id")
	}
	expected := []string{
		FieldAssignee, FieldIssueType, FieldStatus, FieldSummary, FieldSprint, FieldEpicLink,
		FieldEpicName, FieldStoryPoints, FieldTimeSpent, FieldCreated,
	}
	if e.Options.PriorityField != "" {
		expected = append(expected, e.Options.PriorityField)
	}
	for _, name := range fields.Missing(expected...) {
		log.Warn().Str("field", name).Msg("field not in catalog, attribute will be empty")
	}

	pageSize := e.Options.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	issues, err := Accumulate(ctx, e.Tracker, search.JQL, pageSize)
	if err != nil {
		return domain.Report{}, err
	}
	log.Debug().Int("total", len(issues)).Msg("issues retrieved")

	builder := NewRecordBuilder(fields, NewEpicResolver(fields, issues, e.Tracker), BuilderOptions{
		BrowseURL:      e.Options.BrowseURL,
		ResolvedStatus: e.Options.ResolvedStatus,
		PriorityField:  e.Options.PriorityField,
	})
	records, warnings, err := e.buildAll(ctx, builder, issues)
	if err != nil {
		return domain.Report{}, err
	}
	for _, w := range warnings {
		log.Warn().Str("issue", w.Issue).Str("field", w.Field).Msg(w.Message)
	}

	SortRecords(records)
	groups := NewAggregator(AggregatorOptions{
		ResolvedStatus: e.Options.ResolvedStatus,
		PriorityLabels: e.Options.PriorityLabels,
	}).Aggregate(records)

	log.Info().Int("issues", len(records)).Int("groups", len(groups)).Int("warnings", len(warnings)).
		Dur("took", e.now().Sub(started)).Msg("report generated")
	return domain.Report{
		ID:          uuid.NewString(),
		Search:      search.Name,
		Title:       fmt.Sprintf("%s - Project Status - %s", search.Name, started.Format(TitleLayout)),
		GeneratedAt: started.UTC().Format(time.RFC3339),
		Records:     records,
		Groups:      groups,
		Warnings:    warnings,
	}, nil
}

// buildAll builds records concurrently; output keeps the tracker order.
func (e Engine) buildAll(ctx context.Context, b *RecordBuilder, issues []domain.RawIssue) ([]domain.ReportRecord, []domain.Warning, error) {
	records := make([]domain.ReportRecord, len(issues))
	perIssue := make([][]domain.Warning, len(issues))

	g, gctx := errgroup.WithContext(ctx)
	limit := e.Options.Concurrency
	if limit <= 0 {
		limit = config.DefaultConcurrency
	}
	g.SetLimit(limit)
	for i, issue := range issues {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i], perIssue[i] = b.Build(gctx, issue)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var warnings []domain.Warning
	for _, ws := range perIssue {
		warnings = append(warnings, ws...)
	}
	return records, warnings, nil
}
