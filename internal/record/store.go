// Package record implements the generic record store the domain services
// persist through: flat collections of schemaless records with CRUD and a
// simple equality filter. Consistency is last-write-wins per record with no
// multi-record transactions; the optimistic primitive for read-modify-write
// callers is UpdateIf.
package record

import (
	"context"
	"time"
)

// Collection names used by this service.
const (
	CollectionStreams   = "streams"
	CollectionApprovals = "approvals"
	CollectionContexts  = "contexts"
	CollectionAuditLogs = "audit_logs"
)

// Fields is the schemaless payload of a record.
type Fields map[string]any

// Record is one stored row. Fields never aliases store-internal state;
// implementations copy on the way in and out.
type Record struct {
	ID      string
	Fields  Fields
	Created time.Time
}

// Store is the persistence boundary for all domain services. Implementations
// return pkg/platform/sentinel errors: ErrNotFound for absent records,
// ErrConflict when a conditional update loses.
type Store interface {
	Get(ctx context.Context, collection, id string) (Record, error)
	// List returns records matching filter (empty filter matches all),
	// ordered by creation time ascending. Callers that need newest-first
	// sort the result themselves.
	List(ctx context.Context, collection, filter string) ([]Record, error)
	Create(ctx context.Context, collection string, fields Fields) (Record, error)
	Update(ctx context.Context, collection, id string, patch Fields) (Record, error)
	// UpdateIf applies patch only when every expect field matches the stored
	// value, returning ErrConflict otherwise. This is the store-layer
	// primitive behind lost-update-safe counters and pending-only status
	// transitions.
	UpdateIf(ctx context.Context, collection, id string, patch, expect Fields) (Record, error)
	Delete(ctx context.Context, collection, id string) error
}

// Clone deep-copies fields one level down plus nested maps, enough for the
// shapes this service stores (scalars, string slices, one-level metadata maps).
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		switch t := v.(type) {
		case map[string]any:
			m := make(map[string]any, len(t))
			for mk, mv := range t {
				m[mk] = mv
			}
			out[k] = m
		case []string:
			out[k] = append([]string(nil), t...)
		case []any:
			out[k] = append([]any(nil), t...)
		default:
			out[k] = v
		}
	}
	return out
}
