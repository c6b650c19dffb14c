package engine

import (
	"slices"
	"strings"

	"sprintreport/internal/config"
	"sprintreport/internal/domain"
)

type AggregatorOptions struct {
	ResolvedStatus string
	// PriorityLabels enables the per-priority breakdown, in this order.
	PriorityLabels []string
}

// Aggregator groups sorted records by sprint and computes their statistics.
// It holds no state between calls.
type Aggregator struct {
	opts AggregatorOptions
}

func NewAggregator(opts AggregatorOptions) *Aggregator {
	if opts.ResolvedStatus == "" {
		opts.ResolvedStatus = config.DefaultResolvedStatus
	}
	return &Aggregator{opts: opts}
}

// Aggregate keeps the record order within each group; groups are ordered
// on their own: active sprint first, then by sprint id, Backlog last.
func (a *Aggregator) Aggregate(records []domain.ReportRecord) []domain.SprintGroup {
	var groups []domain.SprintGroup
	pos := map[domain.GroupKey]int{}
	for _, rec := range records {
		key := rec.GroupKey()
		i, ok := pos[key]
		if !ok {
			i = len(groups)
			pos[key] = i
			g := domain.SprintGroup{Label: key.Label}
			if key.Sprint {
				s := *rec.Sprint
				g.Sprint = &s
			}
			groups = append(groups, g)
		}
		groups[i].Records = append(groups[i].Records, rec)
	}

	for i := range groups {
		groups[i].Stats = a.Stats(groups[i].Records)
	}
	slices.SortStableFunc(groups, compareGroups)
	return groups
}

func compareGroups(a, b domain.SprintGroup) int {
	switch {
	case a.Sprint != nil && b.Sprint == nil:
		return -1
	case a.Sprint == nil && b.Sprint != nil:
		return 1
	case a.Sprint != nil:
		if r := compareSprints(a.Sprint, b.Sprint); r != 0 {
			return r
		}
	}
	return strings.Compare(a.Label, b.Label)
}

// Stats computes the metrics of one group of records.
func (a *Aggregator) Stats(records []domain.ReportRecord) domain.SprintStats {
	var stats domain.SprintStats
	byAssignee := map[string]int{}
	byPriority := map[string]int{}
	for _, label := range a.opts.PriorityLabels {
		if _, ok := byPriority[label]; ok {
			continue
		}
		byPriority[label] = len(stats.ByPriority)
		stats.ByPriority = append(stats.ByPriority, domain.PriorityMetrics{Priority: label})
	}

	for _, rec := range records {
		assignee := domain.UnassignedLabel
		if rec.Assignee != nil {
			assignee = *rec.Assignee
		}
		i, ok := byAssignee[assignee]
		if !ok {
			i = len(stats.ByAssignee)
			byAssignee[assignee] = i
			stats.ByAssignee = append(stats.ByAssignee, domain.AssigneeMetrics{Assignee: assignee})
		}

		a.add(&stats.Metrics, rec)
		a.add(&stats.ByAssignee[i].Metrics, rec)
		if rec.Priority != nil {
			if j, ok := byPriority[*rec.Priority]; ok {
				a.add(&stats.ByPriority[j].Metrics, rec)
			}
		}
	}
	return stats
}

func (a *Aggregator) add(m *domain.Metrics, rec domain.ReportRecord) {
	if rec.Status == a.opts.ResolvedStatus {
		m.ResolvedPoints += positive(rec.StoryPoints)
		return
	}
	m.UnresolvedPoints += positive(rec.StoryPoints)
	m.UnresolvedRemaining += positive(rec.Remaining)
}

func positive(v *float64) float64 {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}
