// Package sqlitestore is a durable, single-file Storage backend over
// modernc.org/sqlite (a pure-Go driver, no cgo toolchain required at
// build time). Reads run as plain queries; every write that must be
// atomic (PutVersion+SetCurrent+AppendChange, or a transaction's
// grouped writes) runs inside a *sql.Tx.
//
// Schema is applied by a short ordered list of statements run once at
// New(): four tables (entities, current-version pointers,
// relationships, changes) plus their lookup indexes. Driver errors are
// normalized into *types.GraphError at the call site rather than
// leaking database/sql sentinels to callers, classifying sql.ErrNoRows
// as KindNotFound and a UNIQUE constraint violation as
// KindDuplicateVersion.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/types"
)

// Store is a Storage implementation backed by a single SQLite database
// file (or ":memory:" for an ephemeral one, mainly useful in tests that
// want real SQL semantics without the pure in-memory Store).
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the SQLite database at path and
// applies the schema if it isn't present yet.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writes; avoid pool contention surprises

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT NOT NULL,
		version TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		parent_versions TEXT NOT NULL,
		user_id TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS current_versions (
		id TEXT PRIMARY KEY,
		version TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type)`,
	`CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		from_entity_id TEXT NOT NULL,
		from_version TEXT NOT NULL DEFAULT '',
		to_entity_id TEXT NOT NULL,
		to_version TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		properties TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_entity_id)`,
	`CREATE TABLE IF NOT EXISTS changes (
		sequence INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		version TEXT NOT NULL,
		prior_version TEXT NOT NULL DEFAULT '',
		entity_type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		content TEXT,
		user_id TEXT NOT NULL,
		origin_node_id TEXT NOT NULL,
		timestamp TEXT NOT NULL
	)`,
}

func (s *Store) Close() error { return s.db.Close() }

// wrapDBError converts sql.ErrNoRows into a KindNotFound GraphError, a
// UNIQUE constraint violation into KindDuplicateVersion, and anything
// else into a plain wrapped error carrying op context.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewError(types.KindNotFound, op, err)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return types.NewError(types.KindDuplicateVersion, op, err)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func putVersion(ctx context.Context, x execer, e types.Entity) error {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return fmt.Errorf("sqlite: PutVersion: marshal content: %w", err)
	}
	parents, err := json.Marshal(e.ParentVersions)
	if err != nil {
		return fmt.Errorf("sqlite: PutVersion: marshal parents: %w", err)
	}
	_, err = x.ExecContext(ctx, `
		INSERT INTO entities (id, version, type, name, content, parent_versions, user_id, source_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Version, string(e.Type), e.Name, string(content), string(parents),
		e.UserID, string(e.SourceType), e.CreatedAt.UTC().Format(timeLayout), e.UpdatedAt.UTC().Format(timeLayout))
	return wrapDBError("PutVersion", err)
}

func (s *Store) PutVersion(ctx context.Context, e types.Entity) error {
	return putVersion(ctx, s.db, e)
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// parseTime parses the RFC3339Nano-ish layout this package writes.
// Falls back to plain RFC3339 for rows written by an older schema
// revision that didn't carry sub-second precision.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func scanEntity(row interface{ Scan(...any) error }) (*types.Entity, error) {
	var e types.Entity
	var typ, sourceType, content, parents, createdAt, updatedAt string
	if err := row.Scan(&e.ID, &e.Version, &typ, &e.Name, &content, &parents, &e.UserID, &sourceType, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.Type = types.EntityType(typ)
	e.SourceType = types.SourceType(sourceType)
	if err := json.Unmarshal([]byte(content), &e.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	if err := json.Unmarshal([]byte(parents), &e.ParentVersions); err != nil {
		return nil, fmt.Errorf("unmarshal parent_versions: %w", err)
	}
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetVersion(ctx context.Context, id, version string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, type, name, content, parent_versions, user_id, source_type, created_at, updated_at
		FROM entities WHERE id = ? AND version = ?`, id, version)
	e, err := scanEntity(row)
	if err != nil {
		return nil, wrapDBError("GetVersion", err)
	}
	return e, nil
}

func (s *Store) GetCurrent(ctx context.Context, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.version, e.type, e.name, e.content, e.parent_versions, e.user_id, e.source_type, e.created_at, e.updated_at
		FROM entities e JOIN current_versions c ON c.id = e.id AND c.version = e.version
		WHERE e.id = ?`, id)
	e, err := scanEntity(row)
	if err != nil {
		return nil, wrapDBError("GetCurrent", err)
	}
	return e, nil
}

func (s *Store) ListVersions(ctx context.Context, id string) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, type, name, content, parent_versions, user_id, source_type, created_at, updated_at
		FROM entities WHERE id = ? ORDER BY version`, id)
	if err != nil {
		return nil, wrapDBError("ListVersions", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func scanEntities(rows *sql.Rows) ([]types.Entity, error) {
	var out []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan entity: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func setCurrent(ctx context.Context, x execer, id, version string) error {
	var exists int
	err := x.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ? AND version = ?`, id, version).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewError(types.KindNotFound, "SetCurrent", fmt.Errorf("(%s, %s)", id, version))
	}
	if err != nil {
		return wrapDBError("SetCurrent", err)
	}
	_, err = x.ExecContext(ctx, `
		INSERT INTO current_versions (id, version) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version`, id, version)
	return wrapDBError("SetCurrent", err)
}

func (s *Store) SetCurrent(ctx context.Context, id, version string) error {
	return setCurrent(ctx, s.db, id, version)
}

func (s *Store) FindByType(ctx context.Context, t types.EntityType) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.version, e.type, e.name, e.content, e.parent_versions, e.user_id, e.source_type, e.created_at, e.updated_at
		FROM entities e JOIN current_versions c ON c.id = e.id AND c.version = e.version
		WHERE e.type = ? ORDER BY e.id`, string(t))
	if err != nil {
		return nil, wrapDBError("FindByType", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *Store) FindByNameSubstring(ctx context.Context, q string) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.version, e.type, e.name, e.content, e.parent_versions, e.user_id, e.source_type, e.created_at, e.updated_at
		FROM entities e JOIN current_versions c ON c.id = e.id AND c.version = e.version
		WHERE LOWER(e.name) LIKE '%' || LOWER(?) || '%' ORDER BY e.id`, q)
	if err != nil {
		return nil, wrapDBError("FindByNameSubstring", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *Store) ScanCurrent(ctx context.Context) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.version, e.type, e.name, e.content, e.parent_versions, e.user_id, e.source_type, e.created_at, e.updated_at
		FROM entities e JOIN current_versions c ON c.id = e.id AND c.version = e.version
		ORDER BY e.id`)
	if err != nil {
		return nil, wrapDBError("ScanCurrent", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func putRelationship(ctx context.Context, x execer, r types.Relationship) error {
	props, err := json.Marshal(r.Properties)
	if err != nil {
		return fmt.Errorf("sqlite: PutRelationship: marshal properties: %w", err)
	}
	_, err = x.ExecContext(ctx, `
		INSERT INTO relationships (id, from_entity_id, from_version, to_entity_id, to_version, type, properties, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			from_entity_id = excluded.from_entity_id, from_version = excluded.from_version,
			to_entity_id = excluded.to_entity_id, to_version = excluded.to_version,
			type = excluded.type, properties = excluded.properties,
			user_id = excluded.user_id, updated_at = excluded.updated_at`,
		r.ID, r.FromEntityID, r.FromVersion, r.ToEntityID, r.ToVersion, string(r.Type),
		string(props), r.UserID, r.CreatedAt.UTC().Format(timeLayout), r.UpdatedAt.UTC().Format(timeLayout))
	return wrapDBError("PutRelationship", err)
}

func (s *Store) PutRelationship(ctx context.Context, r types.Relationship) error {
	return putRelationship(ctx, s.db, r)
}

func scanRelationship(row interface{ Scan(...any) error }) (*types.Relationship, error) {
	var r types.Relationship
	var typ, props, createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.FromEntityID, &r.FromVersion, &r.ToEntityID, &r.ToVersion, &typ, &props, &r.UserID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Type = types.RelationshipType(typ)
	if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, from_entity_id, from_version, to_entity_id, to_version, type, properties, user_id, created_at, updated_at
		FROM relationships WHERE id = ?`, id)
	r, err := scanRelationship(row)
	if err != nil {
		return nil, wrapDBError("GetRelationship", err)
	}
	return r, nil
}

func (s *Store) RelationshipsFrom(ctx context.Context, entityID string) ([]types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_entity_id, from_version, to_entity_id, to_version, type, properties, user_id, created_at, updated_at
		FROM relationships WHERE from_entity_id = ? ORDER BY id`, entityID)
	if err != nil {
		return nil, wrapDBError("RelationshipsFrom", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func (s *Store) RelationshipsTo(ctx context.Context, entityID string) ([]types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_entity_id, from_version, to_entity_id, to_version, type, properties, user_id, created_at, updated_at
		FROM relationships WHERE to_entity_id = ? ORDER BY id`, entityID)
	if err != nil {
		return nil, wrapDBError("RelationshipsTo", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func scanRelationships(rows *sql.Rows) ([]types.Relationship, error) {
	var out []types.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan relationship: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func deleteRelationship(ctx context.Context, x execer, id string) error {
	_, err := x.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id)
	return wrapDBError("DeleteRelationship", err)
}

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	return deleteRelationship(ctx, s.db, id)
}

func appendChange(ctx context.Context, x execer, c types.ChangeRecord) (int64, error) {
	content, err := json.Marshal(c.Content)
	if err != nil {
		return 0, fmt.Errorf("sqlite: AppendChange: marshal content: %w", err)
	}
	res, err := x.ExecContext(ctx, `
		INSERT INTO changes (kind, entity_id, version, prior_version, entity_type, name, content, user_id, origin_node_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.Kind), c.EntityID, c.Version, c.PriorVersion, string(c.EntityType), c.Name,
		string(content), c.UserID, c.OriginNodeID, c.Timestamp.UTC().Format(timeLayout))
	if err != nil {
		return 0, wrapDBError("AppendChange", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError("AppendChange", err)
	}
	return seq, nil
}

func (s *Store) AppendChange(ctx context.Context, c types.ChangeRecord) (int64, error) {
	return appendChange(ctx, s.db, c)
}

func (s *Store) ScanChanges(ctx context.Context, sinceSequence int64, limit int) ([]types.ChangeRecord, error) {
	query := `
		SELECT sequence, kind, entity_id, version, prior_version, entity_type, name, content, user_id, origin_node_id, timestamp
		FROM changes WHERE sequence > ? ORDER BY sequence`
	args := []any{sinceSequence}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("ScanChanges", err)
	}
	defer rows.Close()

	var out []types.ChangeRecord
	for rows.Next() {
		var c types.ChangeRecord
		var kind, entityType, content, ts string
		var contentNull sql.NullString
		if err := rows.Scan(&c.Sequence, &kind, &c.EntityID, &c.Version, &c.PriorVersion, &entityType, &c.Name, &contentNull, &c.UserID, &c.OriginNodeID, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan change: %w", err)
		}
		c.Kind = types.ChangeKind(kind)
		c.EntityType = types.EntityType(entityType)
		content = contentNull.String
		if content != "" {
			if err := json.Unmarshal([]byte(content), &c.Content); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal change content: %w", err)
			}
		}
		if c.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM changes`).Scan(&seq)
	if err != nil {
		return 0, wrapDBError("LatestSequence", err)
	}
	return seq.Int64, nil
}

// ApplyVersioned performs PutVersion + SetCurrent + AppendChange in one
// database transaction, checking priorCurrent against the row actually
// present before the swap so two concurrent writers racing on the same
// entity id can't both succeed.
func (s *Store) ApplyVersioned(ctx context.Context, e types.Entity, priorCurrent string, c types.ChangeRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapDBError("ApplyVersioned", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT version FROM current_versions WHERE id = ?`, e.ID).Scan(&cur)
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, wrapDBError("ApplyVersioned", err)
	}

	switch {
	case priorCurrent == "" && hasCurrent:
		return 0, types.NewError(types.KindParentMismatch, "ApplyVersioned", fmt.Errorf("entity %s already has a current version %q", e.ID, cur.String))
	case priorCurrent != "" && !hasCurrent:
		return 0, types.NewError(types.KindParentMismatch, "ApplyVersioned", fmt.Errorf("entity %s has no current version yet", e.ID))
	case priorCurrent != "" && cur.String != priorCurrent:
		return 0, types.NewError(types.KindParentMismatch, "ApplyVersioned", fmt.Errorf("entity %s: expected current %q, found %q", e.ID, priorCurrent, cur.String))
	}

	if err := putVersion(ctx, tx, e); err != nil {
		return 0, err
	}
	if err := setCurrent(ctx, tx, e.ID, e.Version); err != nil {
		return 0, err
	}
	seq, err := appendChange(ctx, tx, c)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapDBError("ApplyVersioned", err)
	}
	return seq, nil
}

// sqlTx implements storage.Transaction over a single *sql.Tx.
type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) PutVersion(ctx context.Context, e types.Entity) error {
	return putVersion(ctx, t.tx, e)
}
func (t *sqlTx) SetCurrent(ctx context.Context, id, version string) error {
	return setCurrent(ctx, t.tx, id, version)
}
func (t *sqlTx) PutRelationship(ctx context.Context, r types.Relationship) error {
	return putRelationship(ctx, t.tx, r)
}
func (t *sqlTx) DeleteRelationship(ctx context.Context, id string) error {
	return deleteRelationship(ctx, t.tx, id)
}
func (t *sqlTx) AppendChange(ctx context.Context, c types.ChangeRecord) (int64, error) {
	return appendChange(ctx, t.tx, c)
}

func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("RunInTransaction", err)
	}
	if err := fn(&sqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("RunInTransaction", err)
	}
	return nil
}

func (s *Store) RepairScan(ctx context.Context) ([]storage.RepairIssue, error) {
	var issues []storage.RepairIssue

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.version FROM current_versions c
		LEFT JOIN entities e ON e.id = c.id AND e.version = c.version
		WHERE e.id IS NULL`)
	if err != nil {
		return nil, wrapDBError("RepairScan", err)
	}
	for rows.Next() {
		var id, version string
		if err := rows.Scan(&id, &version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: RepairScan: %w", err)
		}
		issues = append(issues, storage.RepairIssue{EntityID: id, Version: version, Problem: "current pointer references missing version"})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: RepairScan: %w", err)
	}

	all, err := s.db.QueryContext(ctx, `SELECT id, version, parent_versions FROM entities`)
	if err != nil {
		return nil, wrapDBError("RepairScan", err)
	}
	defer all.Close()
	for all.Next() {
		var id, version, parentsJSON string
		if err := all.Scan(&id, &version, &parentsJSON); err != nil {
			return nil, fmt.Errorf("sqlite: RepairScan: %w", err)
		}
		var parents []string
		if err := json.Unmarshal([]byte(parentsJSON), &parents); err != nil {
			issues = append(issues, storage.RepairIssue{EntityID: id, Version: version, Problem: "parent_versions column is not valid JSON"})
			continue
		}
		for _, p := range parents {
			var exists int
			err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ? AND version = ?`, id, p).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				issues = append(issues, storage.RepairIssue{EntityID: id, Version: version, Problem: fmt.Sprintf("parent version %q not found", p)})
			} else if err != nil {
				return nil, wrapDBError("RepairScan", err)
			}
		}
	}
	return issues, all.Err()
}

var _ storage.Storage = (*Store)(nil)
