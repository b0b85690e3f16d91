package approval

import (
	"encoding/json"

	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/record"
)

// Record field names for the approvals and contexts collections.
const (
	fieldContext     = "context"
	fieldStream      = "stream"
	fieldAction      = "action"
	fieldStatus      = "status"
	fieldRequestedBy = "requestedBy"
	fieldApprovers   = "approvers"
	fieldPayload     = "payload"
	fieldMode        = "mode"
	fieldOwners      = "owners"
)

func approvalFromRecord(rec record.Record) domain.Approval {
	f := rec.Fields
	return domain.Approval{
		ID:          rec.ID,
		ContextID:   asString(f[fieldContext]),
		StreamID:    asString(f[fieldStream]),
		Action:      asString(f[fieldAction]),
		Status:      domain.ApprovalStatus(asString(f[fieldStatus])),
		RequestedBy: asString(f[fieldRequestedBy]),
		Approvers:   stringSlice(f[fieldApprovers]),
		Payload:     payloadMap(f[fieldPayload]),
		Created:     rec.Created,
	}
}

func contextFromRecord(rec record.Record) domain.ApprovalContext {
	f := rec.Fields
	return domain.ApprovalContext{
		ID:      rec.ID,
		Mode:    domain.ContextMode(asString(f[fieldMode])),
		Owners:  stringSlice(f[fieldOwners]),
		Created: rec.Created,
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// stringSlice is tolerant of the shapes a schemaless store can hand back:
// native string slices, []any from JSON decoding, or a JSON-encoded string.
func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return compact(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var parsed []string
		if err := json.Unmarshal([]byte(t), &parsed); err == nil {
			return compact(parsed)
		}
		return nil
	default:
		return nil
	}
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func payloadMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
