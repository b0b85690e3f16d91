package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nightmare634/voidstream/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used by tests and single-node
// deployments. It favors clarity over performance.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
	now         func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the creation-time source, for deterministic tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		collections: make(map[string]map[string]Record),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) List(_ context.Context, collection, filter string) ([]Record, error) {
	preds, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.collections[collection] {
		if matches(preds, rec.Fields) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, collection string, fields Fields) (Record, error) {
	rec := Record{
		ID:      uuid.NewString(),
		Fields:  fields.Clone(),
		Created: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]Record)
	}
	s.collections[collection][rec.ID] = rec
	return copyRecord(rec), nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, patch Fields) (Record, error) {
	return s.UpdateIf(ctx, collection, id, patch, nil)
}

func (s *MemoryStore) UpdateIf(_ context.Context, collection, id string, patch, expect Fields) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	for k, want := range expect {
		if canonical(rec.Fields[k]) != canonical(want) {
			return Record{}, sentinel.ErrConflict
		}
	}
	next := copyRecord(rec)
	for k, v := range patch.Clone() {
		if v == nil {
			delete(next.Fields, k)
			continue
		}
		next.Fields[k] = v
	}
	s.collections[collection][id] = next
	return copyRecord(next), nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

func copyRecord(rec Record) Record {
	rec.Fields = rec.Fields.Clone()
	if rec.Fields == nil {
		rec.Fields = Fields{}
	}
	return rec
}
