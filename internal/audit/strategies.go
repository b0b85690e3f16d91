package audit

import (
	"encoding/json"

	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/record"
)

// EncodingStrategy is one record shape an audit entry can be persisted in.
// The degradation policy is an explicit ordered list of these, tried in
// sequence with first success winning, rather than nested error handling.
type EncodingStrategy struct {
	// Name identifies the strategy in logs and tests.
	Name string
	// Encode renders the entry into storable fields.
	Encode func(domain.AuditEntry) record.Fields
}

// DefaultStrategies is the production degradation order:
//  1. structured: full entry with nested metadata
//  2. flattened: metadata serialized to a JSON string, for stores that
//     reject nested structures
//  3. minimal: stream/type/message/actor only, metadata dropped
func DefaultStrategies() []EncodingStrategy {
	return []EncodingStrategy{Structured(), Flattened(), Minimal()}
}

// Structured keeps metadata as a nested map.
func Structured() EncodingStrategy {
	return EncodingStrategy{
		Name: "structured",
		Encode: func(e domain.AuditEntry) record.Fields {
			f := baseFields(e)
			if e.Meta != nil {
				f["meta"] = e.Meta
			}
			return f
		},
	}
}

// Flattened serializes metadata to a flat JSON string.
func Flattened() EncodingStrategy {
	return EncodingStrategy{
		Name: "flattened",
		Encode: func(e domain.AuditEntry) record.Fields {
			f := baseFields(e)
			meta, err := json.Marshal(e.Meta)
			if err != nil {
				meta = []byte("null")
			}
			f["meta"] = string(meta)
			return f
		},
	}
}

// Minimal drops everything but the core identifying fields.
func Minimal() EncodingStrategy {
	return EncodingStrategy{
		Name: "minimal",
		Encode: func(e domain.AuditEntry) record.Fields {
			return record.Fields{
				"stream":  e.StreamID,
				"type":    e.Type,
				"message": e.Message,
				"actor":   e.Actor,
			}
		},
	}
}

func baseFields(e domain.AuditEntry) record.Fields {
	f := record.Fields{
		"stream":  e.StreamID,
		"type":    e.Type,
		"message": e.Message,
		"actor":   e.Actor,
	}
	if e.Signature != "" {
		f["signature"] = e.Signature
	}
	return f
}
