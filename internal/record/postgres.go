package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nightmare634/voidstream/pkg/platform/sentinel"
)

// PostgresStore persists records in a single JSONB-backed table:
//
//	CREATE TABLE IF NOT EXISTS records (
//	    collection TEXT        NOT NULL,
//	    id         TEXT        NOT NULL,
//	    data       JSONB       NOT NULL,
//	    created    TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (collection, id)
//	);
//
// Schemaless storage keeps parity with the memory store and with the
// last-write-wins, no-transactions consistency model the services assume.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the records table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			collection TEXT        NOT NULL,
			id         TEXT        NOT NULL,
			data       JSONB       NOT NULL,
			created    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)`)
	if err != nil {
		return fmt.Errorf("migrate records table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, created FROM records WHERE collection = $1 AND id = $2`,
		collection, id)
	return scanRecord(row)
}

func (s *PostgresStore) List(ctx context.Context, collection, filter string) ([]Record, error) {
	preds, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, data, created FROM records WHERE collection = $1`
	args := []any{collection}
	for _, p := range preds {
		args = append(args, p.field, p.value)
		query += fmt.Sprintf(" AND data->>$%d = $%d", len(args)-1, len(args))
	}
	query += ` ORDER BY created ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, collection string, fields Fields) (Record, error) {
	id := uuid.NewString()
	data, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}
	var created time.Time
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO records (collection, id, data) VALUES ($1, $2, $3) RETURNING created`,
		collection, id, data).Scan(&created)
	if err != nil {
		return Record{}, fmt.Errorf("insert %s record: %w", collection, err)
	}
	return Record{ID: id, Fields: fields.Clone(), Created: created}, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, patch Fields) (Record, error) {
	return s.UpdateIf(ctx, collection, id, patch, nil)
}

func (s *PostgresStore) UpdateIf(ctx context.Context, collection, id string, patch, expect Fields) (Record, error) {
	set, remove := splitPatch(patch)
	setJSON, err := json.Marshal(set)
	if err != nil {
		return Record{}, fmt.Errorf("marshal patch: %w", err)
	}

	query := `UPDATE records SET data = (data || $3::jsonb)`
	args := []any{collection, id, setJSON}
	for _, key := range remove {
		args = append(args, key)
		query += fmt.Sprintf(" - $%d::text", len(args))
	}
	query += ` WHERE collection = $1 AND id = $2`
	// COALESCE keeps parity with the memory store, where an absent field
	// compares equal to the empty string.
	for field, want := range expect {
		args = append(args, field, canonical(want))
		query += fmt.Sprintf(" AND COALESCE(data->>$%d, '') = $%d", len(args)-1, len(args))
	}
	query += ` RETURNING id, data, created`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sentinel.ErrNotFound) && len(expect) > 0 {
		// Distinguish "gone" from "condition lost".
		if _, getErr := s.Get(ctx, collection, id); getErr == nil {
			return Record{}, sentinel.ErrConflict
		}
		return Record{}, sentinel.ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s record: %w", collection, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// splitPatch separates field removals (nil values) from assignments, mirroring
// the memory store's nil-deletes-field contract.
func splitPatch(patch Fields) (set Fields, remove []string) {
	set = make(Fields, len(patch))
	for k, v := range patch {
		if v == nil {
			remove = append(remove, k)
			continue
		}
		set[k] = v
	}
	return set, remove
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec  Record
		data []byte
	)
	if err := row.Scan(&rec.ID, &data, &rec.Created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, sentinel.ErrNotFound
		}
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Fields = Fields{}
	if err := json.Unmarshal(data, &rec.Fields); err != nil {
		return Record{}, fmt.Errorf("decode record data: %w", err)
	}
	return rec, nil
}
