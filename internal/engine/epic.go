package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"sprintreport/internal/domain"
)

// EpicResolver derives epic labels. Linked epics are looked up in the
// retrieved batch first; anything else is fetched remotely at most once per run,
// failures included.
type EpicResolver struct {
	fields  *FieldIndex
	local   map[string]domain.RawIssue
	fetcher IssueFetcher

	flight singleflight.Group
	mu     sync.RWMutex
	remote map[string]fetchOutcome
}

type fetchOutcome struct {
	issue domain.RawIssue
	err   error
}

func NewEpicResolver(fields *FieldIndex, batch []domain.RawIssue, fetcher IssueFetcher) *EpicResolver {
	local := make(map[string]domain.RawIssue, len(batch))
	for _, is := range batch {
		local[is.Key] = is
	}
	return &EpicResolver{
		fields:  fields,
		local:   local,
		fetcher: fetcher,
		remote:  map[string]fetchOutcome{},
	}
}

// Resolve returns the epic label for issue, or nil when it has no epic.
func (r *EpicResolver) Resolve(ctx context.Context, issue domain.RawIssue) (*string, error) {
	if name := r.epicName(issue); name != "" {
		label := issue.Key + " - " + name
		return &label, nil
	}
	epicKey := r.epicLink(issue)
	if epicKey == "" {
		return nil, nil
	}
	epic, err := r.lookup(ctx, epicKey)
	if err != nil {
		return nil, err
	}
	label := epic.Key
	if label == "" {
		label = epicKey
	}
	if name := r.epicName(epic); name != "" {
		label += " - " + name
	}
	return &label, nil
}

func (r *EpicResolver) lookup(ctx context.Context, key string) (domain.RawIssue, error) {
	if is, ok := r.local[key]; ok {
		return is, nil
	}
	if out, ok := r.cached(key); ok {
		return out.issue, wrapFetch(key, out.err)
	}
	if r.fetcher == nil {
		return domain.RawIssue{}, fmt.Errorf("epic %s not in batch and no fetcher configured", key)
	}
	ch := r.flight.DoChan(key, func() (any, error) {
		// A flight for key may have finished since the read above.
		if out, ok := r.cached(key); ok {
			return out, nil
		}
		fetched, err := r.fetcher.FetchIssue(ctx, key)
		out := fetchOutcome{issue: fetched, err: err}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out, nil
		}
		r.mu.Lock()
		r.remote[key] = out
		r.mu.Unlock()
		return out, nil
	})
	select {
	case <-ctx.Done():
		return domain.RawIssue{}, ctx.Err()
	case res := <-ch:
		out := res.Val.(fetchOutcome)
		return out.issue, wrapFetch(key, out.err)
	}
}

func (r *EpicResolver) cached(key string) (fetchOutcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.remote[key]
	return out, ok
}

func wrapFetch(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("fetch epic %s: %w", key, err)
}

func (r *EpicResolver) epicName(issue domain.RawIssue) string {
	v, ok := r.fields.value(issue, FieldEpicName)
	if !ok {
		return ""
	}
	return strings.TrimSpace(stringValue(v))
}

// epicLink accepts the plain key form and the {key: ...} object form.
func (r *EpicResolver) epicLink(issue domain.RawIssue) string {
	v, ok := r.fields.value(issue, FieldEpicLink)
	if !ok {
		return ""
	}
	if m, ok := v.(map[string]any); ok {
		return strings.TrimSpace(stringValue(m["key"]))
	}
	return strings.TrimSpace(stringValue(v))
}
