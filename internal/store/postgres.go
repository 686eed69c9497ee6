package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"case-portal/internal/common/logger"
	"case-portal/internal/common/metrics"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	createDocumentsTable = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
)`
	createDocumentsIndex = `CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops)`

	selectDocumentQuery = `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	lockDocumentQuery   = `SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`
	upsertDocumentQuery = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	insertDocumentQuery = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
ON CONFLICT (collection, id) DO NOTHING`
	updateDocumentQuery = `UPDATE documents SET data = $3, updated_at = now() WHERE collection = $1 AND id = $2`
	deleteDocumentQuery = `DELETE FROM documents WHERE collection = $1 AND id = $2`
)

// PostgresStore keeps each document as a JSONB row keyed by (collection, id).
// Field-path updates run as a locked read-modify-write inside a transaction,
// so concurrent updates to one document serialise and the last commit wins
// per field path. Every commit is announced on the change feed.
type PostgresStore struct {
	db     *sql.DB
	feed   ChangeFeed
	logger logger.Logger
	newID  func() string
}

func NewPostgresStore(db *sql.DB, feed ChangeFeed, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		feed:   feed,
		logger: log.WithFields(map[string]interface{}{"component": "postgres-store"}),
		newID:  uuid.NewString,
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createDocumentsTable, createDocumentsIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure documents schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, selectDocumentQuery, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		observe("get", nil)
		return nil, ErrNotFound
	}
	if err != nil {
		observe("get", err)
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	data, err := decodeRow(raw)
	observe("get", err)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Data: data}, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, data interface{}) error {
	body, err := ToMap(data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	_, err = s.db.ExecContext(ctx, upsertDocumentQuery, collection, id, string(raw))
	observe("set", err)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	s.publish(ctx, collection, id)
	return nil
}

func (s *PostgresStore) Merge(ctx context.Context, collection, id string, data interface{}) error {
	body, err := ToMap(data)
	if err != nil {
		return err
	}
	err = s.readModifyWrite(ctx, collection, id, true, func(existing map[string]interface{}) error {
		deepMerge(existing, body)
		return nil
	})
	observe("merge", err)
	return err
}

func (s *PostgresStore) Add(ctx context.Context, collection string, data interface{}) (string, error) {
	id := s.newID()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, updates ...Update) error {
	err := s.readModifyWrite(ctx, collection, id, false, func(existing map[string]interface{}) error {
		return applyUpdates(existing, updates)
	})
	observe("update", err)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx, deleteDocumentQuery, collection, id)
	observe("delete", err)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	s.publish(ctx, collection, id)
	return nil
}

// readModifyWrite locks the row, applies mutate and writes it back. With
// upsert a missing row is inserted instead; if another writer inserted it
// first the whole cycle runs again against the stored row.
func (s *PostgresStore) readModifyWrite(ctx context.Context, collection, id string, upsert bool, mutate func(map[string]interface{}) error) error {
	for {
		raced, err := s.tryReadModifyWrite(ctx, collection, id, upsert, mutate)
		if err != nil {
			return err
		}
		if !raced {
			s.publish(ctx, collection, id)
			return nil
		}
	}
}

func (s *PostgresStore) tryReadModifyWrite(ctx context.Context, collection, id string, upsert bool, mutate func(map[string]interface{}) error) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin %s/%s: %w", collection, id, err)
	}
	defer func() { _ = tx.Rollback() }()

	existing := map[string]interface{}{}
	found := true
	var raw []byte
	err = tx.QueryRowContext(ctx, lockDocumentQuery, collection, id).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !upsert {
			return false, ErrNotFound
		}
		found = false
	case err != nil:
		return false, fmt.Errorf("lock %s/%s: %w", collection, id, err)
	default:
		if existing, err = decodeRow(raw); err != nil {
			return false, err
		}
	}

	if err := mutate(existing); err != nil {
		return false, err
	}

	next, err := json.Marshal(existing)
	if err != nil {
		return false, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	stmt := updateDocumentQuery
	if !found {
		stmt = insertDocumentQuery
	}
	res, err := tx.ExecContext(ctx, stmt, collection, id, string(next))
	if err != nil {
		return false, fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	if !found {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return true, nil
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit %s/%s: %w", collection, id, err)
	}
	return false, nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]*Document, error) {
	stmt, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		observe("query", err)
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			observe("query", err)
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		data, err := decodeRow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, &Document{ID: id, Data: data})
	}
	err = rows.Err()
	observe("query", err)
	return out, err
}

// buildQuery turns equality filters into one JSONB containment predicate,
// which the GIN index on data serves.
func buildQuery(q Query) (string, []interface{}, error) {
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, data FROM documents WHERE collection = $1")
	args := []interface{}{q.Collection}

	if len(filters) > 0 {
		containment := map[string]interface{}{}
		for _, f := range filters {
			parts, _ := splitPath(f.path)
			nested := containment
			for _, p := range parts[:len(parts)-1] {
				next, ok := nested[p].(map[string]interface{})
				if !ok {
					next = map[string]interface{}{}
					nested[p] = next
				}
				nested = next
			}
			nested[parts[len(parts)-1]] = f.value
		}
		raw, err := json.Marshal(containment)
		if err != nil {
			return "", nil, fmt.Errorf("encode filters: %w", err)
		}
		args = append(args, string(raw))
		fmt.Fprintf(&sb, " AND data @> $%d::jsonb", len(args))
	}

	if q.OrderBy != "" {
		parts, err := splitPath(q.OrderBy)
		if err != nil {
			return "", nil, err
		}
		args = append(args, pq.Array(parts))
		fmt.Fprintf(&sb, " ORDER BY data #> $%d", len(args))
		if q.Descending {
			sb.WriteString(" DESC")
		}
		// documents without the field go last either way
		sb.WriteString(" NULLS LAST, id")
	} else {
		sb.WriteString(" ORDER BY id")
	}

	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return sb.String(), args, nil
}

func (s *PostgresStore) WatchDocument(ctx context.Context, collection, id string) (<-chan DocumentSnapshot, error) {
	trigger, stop, err := s.feed.Subscribe(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context) DocumentSnapshot {
		doc, err := s.Get(ctx, collection, id)
		switch {
		case errors.Is(err, ErrNotFound):
			return DocumentSnapshot{Exists: false}
		case err != nil:
			return DocumentSnapshot{Err: err}
		default:
			return DocumentSnapshot{Document: doc, Exists: true}
		}
	}
	return watchLoop(ctx, trigger, fetch, stop), nil
}

func (s *PostgresStore) WatchQuery(ctx context.Context, q Query) (<-chan QuerySnapshot, error) {
	if _, _, err := buildQuery(q); err != nil {
		return nil, err
	}
	trigger, stop, err := s.feed.Subscribe(ctx, q.Collection, "")
	if err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context) QuerySnapshot {
		docs, err := s.Query(ctx, q)
		return QuerySnapshot{Documents: docs, Err: err}
	}
	return watchLoop(ctx, trigger, fetch, stop), nil
}

// publish failures only delay other subscribers until their next change, so
// they are logged rather than returned after a successful commit.
func (s *PostgresStore) publish(ctx context.Context, collection, id string) {
	if err := s.feed.Publish(ctx, collection, id); err != nil {
		s.logger.Warn("change notification failed", map[string]interface{}{
			"collection": collection,
			"id":         id,
			"error":      err,
		})
	}
}

func decodeRow(raw []byte) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	return data, nil
}

func observe(operation string, err error) {
	outcome := "ok"
	if err != nil && !errors.Is(err, ErrNotFound) {
		outcome = "error"
	}
	metrics.StoreOperations.WithLabelValues(operation, outcome).Inc()
}
