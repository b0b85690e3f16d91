package record

import (
	"fmt"
	"strconv"
	"strings"
)

// A filter is a conjunction of equality predicates in the form
//
//	field = "value" && other = "value"
//
// which is all the query surface this service needs. Parsing is shared by the
// memory and postgres stores so both agree on semantics.

type predicate struct {
	field string
	value string
}

func parseFilter(filter string) ([]predicate, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}
	parts := strings.Split(filter, "&&")
	preds := make([]predicate, 0, len(parts))
	for _, part := range parts {
		field, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid filter clause %q", strings.TrimSpace(part))
		}
		field = strings.TrimSpace(field)
		value = strings.TrimSpace(value)
		if field == "" {
			return nil, fmt.Errorf("invalid filter clause %q: empty field", strings.TrimSpace(part))
		}
		unquoted, err := strconv.Unquote(value)
		if err != nil {
			// Bare (unquoted) values are accepted for numbers and booleans.
			unquoted = value
		}
		preds = append(preds, predicate{field: field, value: unquoted})
	}
	return preds, nil
}

// matches evaluates all predicates against a record's fields. Stored values
// are compared through their canonical string form so callers do not have to
// care whether a number round-tripped as int64 or float64.
func matches(preds []predicate, fields Fields) bool {
	for _, p := range preds {
		v, ok := fields[p.field]
		if !ok {
			return false
		}
		if canonical(v) != p.value {
			return false
		}
	}
	return true
}

func canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		// JSON round-trips integers as float64; keep them readable.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
