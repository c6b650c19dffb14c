package engine

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"sprintreport/internal/domain"
)

// Comparator orders report records. It wraps a collator and is not safe for
// concurrent use; build one per sort.
type Comparator struct {
	col *collate.Collator
}

func NewComparator() *Comparator {
	return &Comparator{col: collate.New(language.English)}
}

func (c *Comparator) compareText(a, b string) int {
	if r := c.col.CompareString(a, b); r != 0 {
		return r
	}
	return strings.Compare(a, b)
}

// CompareRecords returns a negative number when a sorts before b.
func (c *Comparator) CompareRecords(a, b domain.ReportRecord) int {
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

	switch {
	case a.Assignee != nil && b.Assignee == nil:
		return -1
	case a.Assignee == nil && b.Assignee != nil:
		return 1
	case a.Assignee != nil:
		if r := c.compareText(*a.Assignee, *b.Assignee); r != 0 {
			return r
		}
	}

	switch {
	case a.StoryPoints != nil && b.StoryPoints == nil:
		return -1
	case a.StoryPoints == nil && b.StoryPoints != nil:
		return 1
	case a.StoryPoints != nil:
		if *a.StoryPoints > *b.StoryPoints {
			return -1
		}
		if *a.StoryPoints < *b.StoryPoints {
			return 1
		}
	}

	return c.compareText(a.Key, b.Key)
}

// compareSprints puts the active sprint first, then older sprints (lower id).
func compareSprints(a, b *domain.Sprint) int {
	switch {
	case a.Active() && !b.Active():
		return -1
	case !a.Active() && b.Active():
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// SortRecords sorts records in place.
func SortRecords(records []domain.ReportRecord) {
	c := NewComparator()
	slices.SortStableFunc(records, c.CompareRecords)
}
