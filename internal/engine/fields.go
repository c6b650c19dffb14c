package engine

import "sprintreport/internal/domain"

// Display names of the fields the record builder reads.
const (
	FieldAssignee          = "Assignee"
	FieldIssueType         = "Issue Type"
	FieldStatus            = "Status"
	FieldSummary           = "Summary"
	FieldSprint            = "Sprint"
	FieldEpicLink          = "Epic Link"
	FieldEpicName          = "Epic Name"
	FieldStoryPoints       = "Story Points"
	FieldTimeSpent         = "Time Spent"
	FieldRemainingEstimate = "Remaining Estimate"
	FieldOriginalEstimate  = "Original Estimate"
	FieldCreated           = "Created"
)

// FieldIndex maps stable display names to the instance-specific field ids.
// It is immutable after construction and safe for concurrent reads.
type FieldIndex struct {
	byID       map[string]domain.Field
	byName     map[string]string
	duplicates []string
}

func NewFieldIndex(fields []domain.Field) *FieldIndex {
	idx := &FieldIndex{
		byID:   make(map[string]domain.Field, len(fields)),
		byName: make(map[string]string, len(fields)),
	}
	for _, f := range fields {
		if f.ID == "" {
			continue
		}
		idx.byID[f.ID] = f
		if f.Name == "" {
			continue
		}
		// Later catalog entries replace earlier ones with the same name.
		if _, ok := idx.byName[f.Name]; ok {
			idx.duplicates = append(idx.duplicates, f.Name)
		}
		idx.byName[f.Name] = f.ID
	}
	return idx
}

// ID returns the field id for a display name.
func (x *FieldIndex) ID(name string) (string, bool) {
	if x == nil {
		return "", false
	}
	id, ok := x.byName[name]
	return id, ok
}

func (x *FieldIndex) Has(name string) bool {
	_, ok := x.ID(name)
	return ok
}

// Field returns the raw catalog entry for an id.
func (x *FieldIndex) Field(id string) (domain.Field, bool) {
	if x == nil {
		return domain.Field{}, false
	}
	f, ok := x.byID[id]
	return f, ok
}

// Duplicates lists display names that appeared more than once; the first id won.
func (x *FieldIndex) Duplicates() []string {
	return append([]string(nil), x.duplicates...)
}

func (x *FieldIndex) Len() int {
	return len(x.byID)
}

// Missing returns which of names do not resolve.
func (x *FieldIndex) Missing(names ...string) []string {
	var out []string
	for _, n := range names {
		if !x.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// value looks up the issue's value for a display name.
func (x *FieldIndex) value(issue domain.RawIssue, name string) (any, bool) {
	id, ok := x.ID(name)
	if !ok || issue.Fields == nil {
		return nil, false
	}
	v, ok := issue.Fields[id]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
