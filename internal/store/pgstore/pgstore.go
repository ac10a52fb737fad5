// Package pgstore is the PostgreSQL storage adapter. Each class is one
// table holding a jsonb document per object, keyed by the object id.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"graphbase.dev/internal/database"
	"graphbase.dev/internal/ids"
)

// Store implements database.Adapter over database/sql with the pgx driver.
type Store struct {
	db *sql.DB
}

// Open prepares the pool. The connection is verified on Connect.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

var _ database.Adapter = (*Store)(nil)

func (s *Store) Connect(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close(ctx context.Context) error { return s.db.Close() }

var tableNamePattern = regexp.MustCompile(`[^a-z0-9_]`)

// tableName derives a safe identifier from the class name. Class names are
// schema-validated, so this only normalizes case.
func tableName(className string) string {
	return "gb_" + tableNamePattern.ReplaceAllString(strings.ToLower(className), "_")
}

func (s *Store) CreateClassIfNotExist(ctx context.Context, className string) error {
	query := fmt.Sprintf(`create table if not exists %s (
		id text primary key,
		doc jsonb not null
	)`, tableName(className))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("pgstore: create table for %s: %w", className, err)
	}
	return nil
}

func (s *Store) GetObject(ctx context.Context, p database.GetObjectParams) (map[string]any, error) {
	query := fmt.Sprintf(`select doc from %s where id = $1`, tableName(p.ClassName))
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, p.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get %s: %w", p.ClassName, err)
	}
	return decodeDoc(p.ID, raw, p.Fields)
}

func (s *Store) GetObjects(ctx context.Context, p database.GetObjectsParams) ([]map[string]any, error) {
	clause, args, err := buildWhere(p.Where)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`select id, doc from %s%s order by id`, tableName(p.ClassName), clause)
	if p.Limit > 0 {
		query += fmt.Sprintf(" limit %d", p.Limit)
	}
	if p.Offset > 0 {
		query += fmt.Sprintf(" offset %d", p.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: find %s: %w", p.ClassName, err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("pgstore: scan %s: %w", p.ClassName, err)
		}
		object, err := decodeDoc(id, raw, p.Fields)
		if err != nil {
			return nil, err
		}
		out = append(out, object)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: rows %s: %w", p.ClassName, err)
	}
	return out, nil
}

func (s *Store) CreateObject(ctx context.Context, p database.CreateObjectParams) (map[string]any, error) {
	id, raw, err := encodeDoc(p.Data)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`insert into %s (id, doc) values ($1, $2)`, tableName(p.ClassName))
	if _, err := s.db.ExecContext(ctx, query, id, raw); err != nil {
		return nil, fmt.Errorf("pgstore: insert %s: %w", p.ClassName, err)
	}
	return s.GetObject(ctx, database.GetObjectParams{ClassName: p.ClassName, ID: id, Fields: p.Fields})
}

func (s *Store) CreateObjects(ctx context.Context, p database.CreateObjectsParams) ([]map[string]any, error) {
	if len(p.Data) == 0 {
		return []map[string]any{}, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pgstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`insert into %s (id, doc) values ($1, $2)`, tableName(p.ClassName))
	insertedIDs := make([]string, 0, len(p.Data))
	for _, data := range p.Data {
		id, raw, err := encodeDoc(data)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, query, id, raw); err != nil {
			return nil, fmt.Errorf("pgstore: insert %s: %w", p.ClassName, err)
		}
		insertedIDs = append(insertedIDs, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pgstore: commit: %w", err)
	}

	insertedIDs = window(insertedIDs, p.Offset, p.Limit)
	return s.byIDs(ctx, p.ClassName, insertedIDs, p.Fields)
}

func (s *Store) UpdateObject(ctx context.Context, p database.UpdateObjectParams) (map[string]any, error) {
	raw, err := json.Marshal(stripID(p.Data))
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode update: %w", err)
	}
	query := fmt.Sprintf(`update %s set doc = doc || $2::jsonb where id = $1`, tableName(p.ClassName))
	result, err := s.db.ExecContext(ctx, query, p.ID, raw)
	if err != nil {
		return nil, fmt.Errorf("pgstore: update %s: %w", p.ClassName, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, database.ErrObjectNotFound
	}
	return s.GetObject(ctx, database.GetObjectParams{ClassName: p.ClassName, ID: p.ID, Fields: p.Fields})
}

func (s *Store) UpdateObjects(ctx context.Context, p database.UpdateObjectsParams) ([]map[string]any, error) {
	matched, err := s.GetObjects(ctx, database.GetObjectsParams{
		ClassName: p.ClassName,
		Where:     p.Where,
		Fields:    []string{"id"},
		Offset:    p.Offset,
		Limit:     p.Limit,
	})
	if err != nil {
		return nil, err
	}
	matchedIDs := make([]string, 0, len(matched))
	for _, object := range matched {
		if id, ok := object["id"].(string); ok {
			matchedIDs = append(matchedIDs, id)
		}
	}
	if len(matchedIDs) == 0 {
		return []map[string]any{}, nil
	}

	raw, err := json.Marshal(stripID(p.Data))
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode update: %w", err)
	}
	query := fmt.Sprintf(`update %s set doc = doc || $2::jsonb where id = any($1)`, tableName(p.ClassName))
	if _, err := s.db.ExecContext(ctx, query, matchedIDs, raw); err != nil {
		return nil, fmt.Errorf("pgstore: update %s: %w", p.ClassName, err)
	}
	return s.byIDs(ctx, p.ClassName, matchedIDs, p.Fields)
}

func (s *Store) DeleteObject(ctx context.Context, p database.DeleteObjectParams) error {
	query := fmt.Sprintf(`delete from %s where id = $1`, tableName(p.ClassName))
	result, err := s.db.ExecContext(ctx, query, p.ID)
	if err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", p.ClassName, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return database.ErrObjectNotFound
	}
	return nil
}

func (s *Store) DeleteObjects(ctx context.Context, p database.DeleteObjectsParams) error {
	clause, args, err := buildWhere(p.Where)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`delete from %s%s`, tableName(p.ClassName), clause)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("pgstore: delete %s: %w", p.ClassName, err)
	}
	return nil
}

func (s *Store) byIDs(ctx context.Context, className string, objectIDs []string, fields []string) ([]map[string]any, error) {
	if len(objectIDs) == 0 {
		return []map[string]any{}, nil
	}
	in := make([]any, len(objectIDs))
	for i, id := range objectIDs {
		in[i] = id
	}
	return s.GetObjects(ctx, database.GetObjectsParams{
		ClassName: className,
		Where:     database.Where{"id": map[string]any{database.OpIn: in}},
		Fields:    fields,
	})
}

func encodeDoc(data map[string]any) (string, []byte, error) {
	id, _ := data["id"].(string)
	if id == "" {
		id = ids.New()
	}
	raw, err := json.Marshal(stripID(data))
	if err != nil {
		return "", nil, fmt.Errorf("pgstore: encode document: %w", err)
	}
	return id, raw, nil
}

func stripID(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

func decodeDoc(id string, raw []byte, fields []string) (map[string]any, error) {
	doc := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("pgstore: decode document: %w", err)
		}
	}
	doc["id"] = id
	return project(doc, fields), nil
}

// project keeps the requested top-level fields; id is always included.
func project(object map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return object
	}
	out := map[string]any{"id": object["id"]}
	for _, field := range fields {
		base := field
		if i := strings.IndexByte(field, '.'); i >= 0 {
			base = field[:i]
		}
		if v, ok := object[base]; ok {
			out[base] = v
		}
	}
	return out
}

func window(objectIDs []string, offset, limit int) []string {
	if offset > 0 {
		if offset >= len(objectIDs) {
			return nil
		}
		objectIDs = objectIDs[offset:]
	}
	if limit > 0 && limit < len(objectIDs) {
		objectIDs = objectIDs[:limit]
	}
	return objectIDs
}
