package domain

const (
	SprintStateActive = "ACTIVE"
	SprintStateClosed = "CLOSED"
	SprintStateFuture = "FUTURE"

	BacklogLabel    = "Backlog"
	UnassignedLabel = "Unassigned"
)

// Field is one entry of the tracker field catalog.
type Field struct {
	ID     string `json:"id"`
	Key    string `json:"key,omitempty"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

// RawIssue is an issue as returned by the tracker, keyed by field id.
type RawIssue struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// SearchPage is one page of a tracker search.
type SearchPage struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []RawIssue `json:"issues"`
}

type Sprint struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
	CompletedDate string `json:"completed_date,omitempty"`
}

func (s *Sprint) Active() bool {
	return s != nil && s.State == SprintStateActive
}

type ReportRecord struct {
	Key               string   `json:"key"`
	URI               string   `json:"uri"`
	Assignee          *string  `json:"assignee,omitempty"`
	IssueType         string   `json:"issue_type"`
	Status            string   `json:"status"`
	Summary           string   `json:"summary"`
	Created           string   `json:"created,omitempty"`
	Sprint            *Sprint  `json:"sprint,omitempty"`
	Epic              *string  `json:"epic,omitempty"`
	StoryPoints       *float64 `json:"story_points,omitempty"`
	Remaining         *float64 `json:"remaining,omitempty"`
	OriginalEstimate  *float64 `json:"original_estimate_days,omitempty"`
	RemainingEstimate *float64 `json:"remaining_estimate_days,omitempty"`
	Priority          *string  `json:"priority,omitempty"`
}

// SprintLabel is the grouping label of the record.
func (r ReportRecord) SprintLabel() string {
	if r.Sprint == nil || r.Sprint.Name == "" {
		return BacklogLabel
	}
	return r.Sprint.Name
}

// GroupKey identifies a sprint group. A sprint that happens to be named
// Backlog stays apart from the records without a sprint.
type GroupKey struct {
	Label  string
	Sprint bool
}

func (r ReportRecord) GroupKey() GroupKey {
	return GroupKey{Label: r.SprintLabel(), Sprint: r.Sprint != nil && r.Sprint.Name != ""}
}

type Metrics struct {
	ResolvedPoints      float64 `json:"resolved_points"`
	UnresolvedPoints    float64 `json:"unresolved_points"`
	UnresolvedRemaining float64 `json:"unresolved_remaining"`
}

type AssigneeMetrics struct {
	Assignee string `json:"assignee"`
	Metrics
}

type PriorityMetrics struct {
	Priority string `json:"priority"`
	Metrics
}

type SprintStats struct {
	Metrics
	ByAssignee []AssigneeMetrics `json:"by_assignee"`
	ByPriority []PriorityMetrics `json:"by_priority,omitempty"`
}

type SprintGroup struct {
	Label   string         `json:"label"`
	Sprint  *Sprint        `json:"sprint,omitempty"`
	Records []ReportRecord `json:"records"`
	Stats   SprintStats    `json:"stats"`
}

func (g SprintGroup) Key() GroupKey {
	return GroupKey{Label: g.Label, Sprint: g.Sprint != nil}
}

type Report struct {
	ID          string         `json:"id"`
	Search      string         `json:"search"`
	Title       string         `json:"title"`
	GeneratedAt string         `json:"generated_at" format:"date-time"`
	Records     []ReportRecord `json:"records"`
	Groups      []SprintGroup  `json:"groups"`
	Warnings    []Warning      `json:"warnings,omitempty"`
}

// Warning records a per-issue attribute that could not be derived.
type Warning struct {
	Issue   string `json:"issue"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ReportSummary is the listing shape of an exported report.
type ReportSummary struct {
	ID          string `json:"id"`
	Search      string `json:"search"`
	Title       string `json:"title"`
	GeneratedAt string `json:"generated_at" format:"date-time"`
	IssueCount  int    `json:"issue_count"`
	GroupCount  int    `json:"group_count"`
}
