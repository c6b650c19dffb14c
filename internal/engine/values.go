package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// secondsPerWorkDay converts tracker time fields (seconds) to 8-hour work days.
const secondsPerWorkDay = 60 * 60 * 8

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

// namedValue reads the display text of object-valued fields (users, statuses,
// options); plain strings pass through.
func namedValue(v any) string {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range []string{"displayName", "name", "value"} {
			if s := strings.TrimSpace(stringValue(t[k])); s != "" {
				return s
			}
		}
		return ""
	case []any:
		if len(t) == 0 {
			return ""
		}
		return namedValue(t[0])
	default:
		return stringValue(v)
	}
}

func numberValue(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("value %v (%T) is not a number", v, v)
	}
}
