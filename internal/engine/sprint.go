package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sprintreport/internal/domain"
)

// ErrNoSprintHistory means the issue was never assigned to a sprint.
var ErrNoSprintHistory = errors.New("no sprint history")

// canonicalTimestamp is the normalized form of sprint end/completed dates.
const canonicalTimestamp = "2006-01-02T15:04:05.000Z"

var sprintDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseSprintHistory decodes the most recent entry of a sprint-history field value.
// Only the last element is consulted; earlier entries may be malformed.
func ParseSprintHistory(value any) (domain.Sprint, error) {
	entries, ok := value.([]any)
	if !ok {
		if value == nil {
			return domain.Sprint{}, ErrNoSprintHistory
		}
		if ss, ok := value.([]string); ok {
			entries = make([]any, len(ss))
			for i, s := range ss {
				entries[i] = s
			}
		} else {
			return domain.Sprint{}, fmt.Errorf("sprint history is %T, want array", value)
		}
	}
	if len(entries) == 0 {
		return domain.Sprint{}, ErrNoSprintHistory
	}
	switch last := entries[len(entries)-1].(type) {
	case string:
		return ParseSprintEntry(last)
	case map[string]any:
		return parseSprintObject(last)
	default:
		return domain.Sprint{}, fmt.Errorf("sprint entry is %T, want string", last)
	}
}

// ParseSprintEntry decodes one encoded sprint assignment such as
// "com.atlassian.greenhopper.service.sprint.Sprint@1a2b[id=7,name=Sprint 7,state=ACTIVE,...]".
func ParseSprintEntry(entry string) (domain.Sprint, error) {
	open := strings.Index(entry, "[")
	if open <= 0 {
		return domain.Sprint{}, fmt.Errorf("sprint entry %q has no bracketed segment", entry)
	}
	rest := entry[open+1:]
	end := strings.Index(rest, "]")
	if end <= 0 {
		return domain.Sprint{}, fmt.Errorf("sprint entry %q has no bracketed segment", entry)
	}
	var s domain.Sprint
	for _, piece := range strings.Split(rest[:end], ",") {
		k, v, found := strings.Cut(piece, "=")
		if !found {
			continue
		}
		if err := setSprintField(&s, k, v); err != nil {
			return domain.Sprint{}, err
		}
	}
	return s, nil
}

func parseSprintObject(m map[string]any) (domain.Sprint, error) {
	var s domain.Sprint
	for k, raw := range m {
		var v string
		switch t := raw.(type) {
		case nil:
			continue
		case string:
			v = t
		case float64:
			v = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			v = fmt.Sprint(t)
		}
		// Cloud uses lowercase states.
		if k == "state" {
			v = strings.ToUpper(v)
		}
		if err := setSprintField(&s, k, v); err != nil {
			return domain.Sprint{}, err
		}
	}
	return s, nil
}

func setSprintField(s *domain.Sprint, k, v string) error {
	switch k {
	case "id":
		id, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("sprint id %q: %w", v, err)
		}
		s.ID = id
	case "name":
		s.Name = v
	case "state":
		s.State = v
	case "startDate":
		s.StartDate = v
	case "endDate":
		s.EndDate = normalizeSprintDate(v)
	case "completedDate", "completeDate":
		s.CompletedDate = normalizeSprintDate(v)
	}
	return nil
}

// normalizeSprintDate renders v as a UTC millisecond timestamp. Empty, <null>
// and unparsable values normalize to "".
func normalizeSprintDate(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "<null>" || v == "null" {
		return ""
	}
	for _, layout := range sprintDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Format(canonicalTimestamp)
		}
	}
	return ""
}

// SprintForStatus applies the backlog rule: an unresolved issue whose latest
// sprint is closed rolls forward to the backlog and carries no sprint.
func SprintForStatus(s domain.Sprint, status, resolvedStatus string) *domain.Sprint {
	if status != resolvedStatus && s.State == domain.SprintStateClosed {
		return nil
	}
	return &s
}
