package repo_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintreport/internal/db"
	"sprintreport/internal/domain"
	"sprintreport/internal/migrate"
	"sprintreport/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "exports", "reports.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return repo.Repo{DB: conn}, conn
}

func ptr[T any](v T) *T { return &v }

func sampleReport(id, search, at string) domain.Report {
	active := &domain.Sprint{ID: 7, Name: "Sprint 7", State: domain.SprintStateActive, EndDate: "2024-03-14T00:00:00.000Z"}
	records := []domain.ReportRecord{
		{Key: "A-1", Status: "Open", Sprint: active, Assignee: ptr("Alice"), StoryPoints: ptr(5.0), Remaining: ptr(4.5)},
		{Key: "A-3", Status: "Resolved", Sprint: active, Epic: ptr("A-9 - Auth")},
		{Key: "A-2", Status: "Open"},
	}
	return domain.Report{
		ID:          id,
		Search:      search,
		Title:       search + " - Project Status",
		GeneratedAt: at,
		Records:     records,
		Groups: []domain.SprintGroup{
			{Label: "Sprint 7", Sprint: active, Records: records[:2], Stats: domain.SprintStats{
				Metrics:    domain.Metrics{UnresolvedPoints: 5, UnresolvedRemaining: 4.5},
				ByAssignee: []domain.AssigneeMetrics{{Assignee: "Alice", Metrics: domain.Metrics{UnresolvedPoints: 5, UnresolvedRemaining: 4.5}}},
			}},
			{Label: domain.BacklogLabel, Records: records[2:], Stats: domain.SprintStats{
				ByAssignee: []domain.AssigneeMetrics{{Assignee: domain.UnassignedLabel}},
			}},
		},
		Warnings: []domain.Warning{{Issue: "A-2", Field: "Sprint", Message: "no bracketed segment"}},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	_, conn := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, v)
	assert.Positive(t, v)
}

func TestSaveAndGetReport(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	want := sampleReport("r-1", "team-a", "2024-03-05T14:30:00Z")
	require.NoError(t, r.SaveReport(ctx, want))

	got, err := r.GetReport(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveReportRejectsDuplicatesAndOrphans(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	rep := sampleReport("r-1", "team-a", "2024-03-05T14:30:00Z")
	require.NoError(t, r.SaveReport(ctx, rep))
	assert.Error(t, r.SaveReport(ctx, rep))

	orphan := sampleReport("r-2", "team-a", "2024-03-05T14:30:00Z")
	orphan.Groups = orphan.Groups[:1]
	assert.Error(t, r.SaveReport(ctx, orphan))
	_, err := r.GetReport(ctx, "r-2")
	assert.ErrorIs(t, err, repo.ErrNotFound, "failed save leaves nothing behind")

	assert.Error(t, r.SaveReport(ctx, domain.Report{}))
}

func TestListReports(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.SaveReport(ctx, sampleReport("r-1", "team-a", "2024-03-01T09:00:00Z")))
	require.NoError(t, r.SaveReport(ctx, sampleReport("r-2", "team-b", "2024-03-02T09:00:00Z")))
	require.NoError(t, r.SaveReport(ctx, sampleReport("r-3", "team-a", "2024-03-03T09:00:00Z")))

	all, err := r.ListReports(ctx, repo.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r-3", all[0].ID)
	assert.Equal(t, 3, all[0].IssueCount)
	assert.Equal(t, 2, all[0].GroupCount)

	teamA, err := r.ListReports(ctx, repo.ListFilter{Search: "team-a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, teamA, 1)
	assert.Equal(t, "r-3", teamA[0].ID)

	next, err := r.ListReports(ctx, repo.ListFilter{Search: "team-a", CursorGeneratedAt: teamA[0].GeneratedAt, CursorID: teamA[0].ID})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "r-1", next[0].ID)
}

func TestDeleteReport(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.SaveReport(ctx, sampleReport("r-1", "team-a", "2024-03-01T09:00:00Z")))
	require.NoError(t, r.DeleteReport(ctx, "r-1"))
	assert.ErrorIs(t, r.DeleteReport(ctx, "r-1"), repo.ErrNotFound)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM report_records`).Scan(&n))
	assert.Zero(t, n)
}

func TestSaveReportKeepsSprintNamedBacklogApart(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	named := &domain.Sprint{ID: 9, Name: domain.BacklogLabel, State: domain.SprintStateFuture}
	records := []domain.ReportRecord{
		{Key: "A-1", Status: "Open", Sprint: named},
		{Key: "A-2", Status: "Open"},
	}
	rep := domain.Report{
		ID:          "rep-backlog",
		Search:      "team",
		GeneratedAt: "2024-03-05T14:30:00Z",
		Records:     records,
		Groups: []domain.SprintGroup{
			{Label: domain.BacklogLabel, Sprint: named, Records: records[:1]},
			{Label: domain.BacklogLabel, Records: records[1:]},
		},
	}
	require.NoError(t, r.SaveReport(ctx, rep))

	got, err := r.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	require.Len(t, got.Groups, 2)
	require.NotNil(t, got.Groups[0].Sprint)
	require.Len(t, got.Groups[0].Records, 1)
	assert.Equal(t, "A-1", got.Groups[0].Records[0].Key)
	assert.Nil(t, got.Groups[1].Sprint)
	require.Len(t, got.Groups[1].Records, 1)
	assert.Equal(t, "A-2", got.Groups[1].Records[0].Key)
}
