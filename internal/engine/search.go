package engine

import (
	"context"
	"fmt"

	"sprintreport/internal/config"
	"sprintreport/internal/domain"
)

// Accumulate drives the paginated search until the total reported by the first
// page has been retrieved. Any page failure discards everything fetched so far.
func Accumulate(ctx context.Context, s Searcher, jql string, pageSize int) ([]domain.RawIssue, error) {
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	first, err := s.Search(ctx, jql, 0, pageSize)
	if err != nil {
		return nil, fmt.Errorf("search page offset=0: %w", err)
	}
	total := first.Total
	issues := make([]domain.RawIssue, 0, max(total, len(first.Issues)))
	issues = append(issues, first.Issues...)
	for offset := pageSize; len(issues) < total; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.Search(ctx, jql, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("search page offset=%d: %w", offset, err)
		}
		if len(page.Issues) == 0 {
			return nil, fmt.Errorf("search page offset=%d returned no issues after %d of %d", offset, len(issues), total)
		}
		issues = append(issues, page.Issues...)
	}
	return issues, nil
}
