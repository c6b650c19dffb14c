package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintreport/internal/domain"
	"sprintreport/internal/engine"
)

func TestParseSprintEntry(t *testing.T) {
	s, err := engine.ParseSprintEntry("...[id=7,name=Sprint 7,state=ACTIVE,startDate=2020-01-01,endDate=2020-01-14]")
	require.NoError(t, err)
	assert.Equal(t, domain.Sprint{
		ID:        7,
		Name:      "Sprint 7",
		State:     "ACTIVE",
		StartDate: "2020-01-01",
		EndDate:   "2020-01-14T00:00:00.000Z",
	}, s)
}

func TestParseSprintEntryServerFormat(t *testing.T) {
	entry := "com.atlassian.greenhopper.service.sprint.Sprint@6e3c2a[id=12,rapidViewId=3,state=CLOSED,name=Sprint 12," +
		"startDate=2020-01-01T09:00:00.000+01:00,endDate=2020-01-14T17:00:00.000+01:00," +
		"completeDate=2020-01-15T10:30:00.000+01:00,sequence=12,goal=]"
	s, err := engine.ParseSprintEntry(entry)
	require.NoError(t, err)
	assert.Equal(t, 12, s.ID)
	assert.Equal(t, "Sprint 12", s.Name)
	assert.Equal(t, domain.SprintStateClosed, s.State)
	assert.Equal(t, "2020-01-01T09:00:00.000+01:00", s.StartDate)
	assert.Equal(t, "2020-01-14T16:00:00.000Z", s.EndDate)
	assert.Equal(t, "2020-01-15T09:30:00.000Z", s.CompletedDate)
}

func TestParseSprintEntryNullDates(t *testing.T) {
	s, err := engine.ParseSprintEntry("Sprint@1[id=3,name=S3,state=FUTURE,startDate=<null>,endDate=<null>,completedDate=<null>]")
	require.NoError(t, err)
	assert.Equal(t, "<null>", s.StartDate)
	assert.Empty(t, s.EndDate)
	assert.Empty(t, s.CompletedDate)
}

func TestParseSprintEntryErrors(t *testing.T) {
	for _, entry := range []string{
		"",
		"no brackets at all",
		"[id=1,name=x]",
		"Sprint@1[]",
		"Sprint@1[id=1,name=x",
		"Sprint@1[id=seven,name=x]",
	} {
		_, err := engine.ParseSprintEntry(entry)
		assert.Error(t, err, entry)
	}
}

func TestParseSprintHistoryUsesLastEntry(t *testing.T) {
	s, err := engine.ParseSprintHistory([]any{
		"garbage",
		"Sprint@1[id=1,name=Old,state=CLOSED]",
		"Sprint@2[id=2,name=New,state=ACTIVE]",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.ID)
	assert.Equal(t, "New", s.Name)

	_, err = engine.ParseSprintHistory([]any{"Sprint@2[id=2,name=New,state=ACTIVE]", "garbage"})
	assert.Error(t, err)
}

func TestParseSprintHistoryAbsent(t *testing.T) {
	_, err := engine.ParseSprintHistory(nil)
	assert.ErrorIs(t, err, engine.ErrNoSprintHistory)
	_, err = engine.ParseSprintHistory([]any{})
	assert.ErrorIs(t, err, engine.ErrNoSprintHistory)
	_, err = engine.ParseSprintHistory("Sprint@2[id=2]")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, engine.ErrNoSprintHistory)
	_, err = engine.ParseSprintHistory([]any{42.0})
	assert.Error(t, err)
}

func TestParseSprintHistoryCloudObjects(t *testing.T) {
	s, err := engine.ParseSprintHistory([]any{map[string]any{
		"id":           float64(31),
		"name":         "Cloud 31",
		"state":        "closed",
		"boardId":      float64(4),
		"startDate":    "2024-02-01T08:00:00.000Z",
		"endDate":      "2024-02-14T08:00:00.000Z",
		"completeDate": "2024-02-14T09:15:00.000Z",
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.Sprint{
		ID:            31,
		Name:          "Cloud 31",
		State:         domain.SprintStateClosed,
		StartDate:     "2024-02-01T08:00:00.000Z",
		EndDate:       "2024-02-14T08:00:00.000Z",
		CompletedDate: "2024-02-14T09:15:00.000Z",
	}, s)
}

func TestSprintForStatus(t *testing.T) {
	closed := domain.Sprint{ID: 4, Name: "Sprint 4", State: domain.SprintStateClosed}
	assert.Nil(t, engine.SprintForStatus(closed, "In Progress", "Resolved"))
	kept := engine.SprintForStatus(closed, "Resolved", "Resolved")
	require.NotNil(t, kept)
	assert.Equal(t, 4, kept.ID)

	active := domain.Sprint{ID: 5, Name: "Sprint 5", State: domain.SprintStateActive}
	require.NotNil(t, engine.SprintForStatus(active, "Open", "Resolved"))
	assert.Nil(t, engine.SprintForStatus(closed, "Done", "Resolved"), "only the configured token counts as resolved")
}
