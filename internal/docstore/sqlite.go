package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockcount-sync-api/internal/logging"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

var fieldName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SQLiteStore keeps every collection in one table of JSON documents.
// Use this for single-node deployments and tests.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer; a single connection also keeps an
	// in-memory database alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createDocumentTable(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	s := &SQLiteStore{db: db, log: logging.Component("docstore").With().Str("engine", "sqlite").Logger()}
	s.log.Info().Str("path", path).Msg("document store initialized")
	return s, nil
}

func createDocumentTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		UNIQUE(collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	`
	_, err := db.Exec(query)
	return err
}

// fieldExpr returns the SQL expression selecting field from a document.
func fieldExpr(field string) (string, error) {
	if field == IDField {
		return "id", nil
	}
	if !fieldName.MatchString(field) {
		return "", fmt.Errorf("docstore: invalid field name %q", field)
	}
	return fmt.Sprintf("json_extract(body, '$.%s')", field), nil
}

func sqlArg(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (s *SQLiteStore) where(coll string, filter Filter) (string, []any, error) {
	clauses := []string{"collection = ?"}
	args := []any{coll}

	for _, c := range filter {
		expr, err := fieldExpr(c.Field)
		if err != nil {
			return "", nil, err
		}
		switch c.Op {
		case OpEq:
			if c.Value == nil {
				clauses = append(clauses, expr+" IS NULL")
				continue
			}
			clauses = append(clauses, expr+" = ?")
			args = append(args, sqlArg(c.Value))
		case OpLt:
			switch c.Value.(type) {
			case time.Time, *time.Time:
				clauses = append(clauses, fmt.Sprintf("julianday(%s) < julianday(?)", expr))
			default:
				clauses = append(clauses, expr+" < ?")
			}
			args = append(args, sqlArg(c.Value))
		case OpIn:
			values, _ := c.Value.([]any)
			if len(values) == 0 {
				clauses = append(clauses, "0")
				continue
			}
			marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", expr, marks))
			for _, v := range values {
				args = append(args, sqlArg(v))
			}
		default:
			return "", nil, fmt.Errorf("docstore: unsupported operator %q", c.Op)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// encode marshals doc to a JSON object with its id set.
func encode(id string, doc any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("document %s is not an object: %w", id, err)
	}
	m["id"] = id
	return m, nil
}

// FindOne decodes the first match into out.
func (s *SQLiteStore) FindOne(ctx context.Context, coll string, filter Filter, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args, err := s.where(coll, filter)
	if err != nil {
		return err
	}

	var body string
	err = s.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE "+where+" ORDER BY seq LIMIT 1", args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find %s document: %w", coll, err)
	}
	return json.Unmarshal([]byte(body), out)
}

// Find decodes every match into out.
func (s *SQLiteStore) Find(ctx context.Context, coll string, filter Filter, opts FindOptions, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args, err := s.where(coll, filter)
	if err != nil {
		return err
	}

	query := "SELECT body FROM documents WHERE " + where
	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}
	if opts.Sort != "" {
		expr, err := fieldExpr(opts.Sort)
		if err != nil {
			return err
		}
		// Timestamps are RFC 3339 strings; julianday orders them across
		// zones and fractional digits, and is NULL for anything else.
		query += fmt.Sprintf(" ORDER BY COALESCE(julianday(%s), %s) %s, seq %s", expr, expr, dir, dir)
	} else {
		query += " ORDER BY seq " + dir
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", coll, err)
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteByte('[')
	n := 0
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("failed to scan %s document: %w", coll, err)
		}
		if n > 0 {
			b.WriteByte(',')
		}
		b.WriteString(body)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate %s: %w", coll, err)
	}
	b.WriteByte(']')

	return json.Unmarshal([]byte(b.String()), out)
}

// Count returns the number of matches.
func (s *SQLiteStore) Count(ctx context.Context, coll string, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args, err := s.where(coll, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", coll, err)
	}
	return n, nil
}

// CountBy groups matches by field.
func (s *SQLiteStore) CountBy(ctx context.Context, coll string, filter Filter, field string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args, err := s.where(coll, filter)
	if err != nil {
		return nil, err
	}
	expr, err := fieldExpr(field)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM documents WHERE %s GROUP BY 1", expr, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group %s by %s: %w", coll, field, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key sql.NullString
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key.String] += n
	}
	return counts, rows.Err()
}

// Insert stores a new document.
func (s *SQLiteStore) Insert(ctx context.Context, coll, id string, doc any) error {
	m, err := encode(id, doc)
	if err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`, coll, id, string(body))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert %s/%s: %w", coll, id, err)
	}
	return nil
}

// Upsert inserts or replaces the document, keeping keepOnUpdate fields.
func (s *SQLiteStore) Upsert(ctx context.Context, coll, id string, doc any, keepOnUpdate ...string) (bool, error) {
	m, err := encode(id, doc)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE collection = ? AND id = ?`, coll, id).Scan(&existing)
	inserted := errors.Is(err, sql.ErrNoRows)
	if err != nil && !inserted {
		return false, fmt.Errorf("failed to load %s/%s: %w", coll, id, err)
	}

	if !inserted && len(keepOnUpdate) > 0 {
		old := make(map[string]any)
		if err := json.Unmarshal([]byte(existing), &old); err != nil {
			return false, fmt.Errorf("corrupt document %s/%s: %w", coll, id, err)
		}
		for _, k := range keepOnUpdate {
			if v, ok := old[k]; ok {
				m[k] = v
			}
		}
	}

	body, err := json.Marshal(m)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body`, coll, id, string(body)); err != nil {
		return false, fmt.Errorf("failed to upsert %s/%s: %w", coll, id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// UpsertMany inserts or replaces multiple documents in one transaction.
func (s *SQLiteStore) UpsertMany(ctx context.Context, coll string, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		m, err := encode(d.ID, d.Value)
		if err != nil {
			return err
		}
		body, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, coll, d.ID, string(body)); err != nil {
			return fmt.Errorf("failed to batch upsert %s/%s: %w", coll, d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Update sets fields on every match inside one transaction.
func (s *SQLiteStore) Update(ctx context.Context, coll string, filter Filter, set map[string]any) (int64, error) {
	where, args, err := s.where(coll, filter)
	if err != nil {
		return 0, err
	}
	patch, err := encode("", set)
	if err != nil {
		return 0, err
	}
	delete(patch, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT seq, body FROM documents WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to select %s for update: %w", coll, err)
	}
	type row struct {
		seq  int64
		body string
	}
	var matched []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.body); err != nil {
			rows.Close()
			return 0, err
		}
		matched = append(matched, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range matched {
		m := make(map[string]any)
		if err := json.Unmarshal([]byte(r.body), &m); err != nil {
			return 0, fmt.Errorf("corrupt document in %s: %w", coll, err)
		}
		for k, v := range patch {
			m[k] = v
		}
		body, err := json.Marshal(m)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET body = ? WHERE seq = ?`, string(body), r.seq); err != nil {
			return 0, fmt.Errorf("failed to update %s: %w", coll, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int64(len(matched)), nil
}

// Delete removes matches.
func (s *SQLiteStore) Delete(ctx context.Context, coll string, filter Filter) (int64, error) {
	where, args, err := s.where(coll, filter)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", coll, err)
	}
	return result.RowsAffected()
}

// Stats returns document counts per collection and the database size.
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{"engine": "sqlite"}

	rows, err := s.db.QueryContext(ctx, "SELECT collection, COUNT(*) FROM documents GROUP BY collection")
	if err != nil {
		return nil, err
	}
	collections := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			rows.Close()
			return nil, err
		}
		collections[name] = n
	}
	// Release the only connection before the pragmas below.
	rows.Close()
	stats["collections"] = collections

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize

	return stats, nil
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
