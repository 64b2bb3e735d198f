package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/procureflow/internal/platform/db"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
	path TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	version BIGINT NOT NULL,
	body JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection, path)`,
}

// Feed publishes committed changes and fans them back out to subscribers.
type Feed interface {
	Publish(ctx context.Context, changes []Change) error
	Subscribe(ctx context.Context, prefix string, fn func(Change)) (func(), error)
}

// PostgresStore persists documents as JSONB rows.
type PostgresStore struct {
	pool   *pgxpool.Pool
	feed   Feed
	logger *slog.Logger
}

// NewPostgresStore constructs the store. feed may be nil, in which case
// Subscribe is unavailable.
func NewPostgresStore(pool *pgxpool.Pool, feed Feed, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, feed: feed, logger: logger}
}

// EnsureSchema creates the documents table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// WithTx runs fn in a repeatable-read transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	var changes []Change
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		ptx := &pgTx{q: tx}
		if err := fn(ctx, ptx); err != nil {
			return err
		}
		changes = ptx.changes
		return nil
	})
	if err != nil {
		return mapPgError(err)
	}
	s.publish(ctx, changes)
	return nil
}

// Read implements Reader.
func (s *PostgresStore) Read(ctx context.Context, path string) (Document, error) {
	return (&pgTx{q: s.pool}).Read(ctx, path)
}

// List implements Reader.
func (s *PostgresStore) List(ctx context.Context, collection string) ([]Document, error) {
	return (&pgTx{q: s.pool}).List(ctx, collection)
}

// Write implements Tx outside an explicit transaction.
func (s *PostgresStore) Write(ctx context.Context, path string, entity any, expected Version) (Version, error) {
	tx := &pgTx{q: s.pool}
	version, err := tx.Write(ctx, path, entity, expected)
	if err != nil {
		return 0, mapPgError(err)
	}
	s.publish(ctx, tx.changes)
	return version, nil
}

// Append implements Tx outside an explicit transaction.
func (s *PostgresStore) Append(ctx context.Context, collection string, entity any) (string, error) {
	tx := &pgTx{q: s.pool}
	id, err := tx.Append(ctx, collection, entity)
	if err != nil {
		return "", mapPgError(err)
	}
	s.publish(ctx, tx.changes)
	return id, nil
}

// Patch implements Tx outside an explicit transaction.
func (s *PostgresStore) Patch(ctx context.Context, path string, fields map[string]any, expected Version) (Version, error) {
	tx := &pgTx{q: s.pool}
	version, err := tx.Patch(ctx, path, fields, expected)
	if err != nil {
		return 0, mapPgError(err)
	}
	s.publish(ctx, tx.changes)
	return version, nil
}

// Subscribe delegates to the configured change feed.
func (s *PostgresStore) Subscribe(ctx context.Context, prefix string, fn func(Change)) (func(), error) {
	if s.feed == nil {
		return nil, errors.New("store: change feed not configured")
	}
	return s.feed.Subscribe(ctx, prefix, fn)
}

func (s *PostgresStore) publish(ctx context.Context, changes []Change) {
	if s.feed == nil || len(changes) == 0 {
		return
	}
	if err := s.feed.Publish(context.WithoutCancel(ctx), changes); err != nil {
		s.logger.Warn("publish store changes", slog.Int("changes", len(changes)), slog.Any("error", err))
	}
}

func mapPgError(err error) error {
	if db.IsConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTx struct {
	q       querier
	changes []Change
}

func (t *pgTx) Read(ctx context.Context, path string) (Document, error) {
	doc := Document{Path: path}
	var (
		body    []byte
		version int64
	)
	err := t.q.QueryRow(ctx, `SELECT collection, version, body, updated_at FROM documents WHERE path = $1`, path).
		Scan(&doc.Collection, &version, &body, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	_, doc.ID, _ = SplitPath(path)
	doc.Version = Version(version)
	doc.Body = body
	return doc, nil
}

func (t *pgTx) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := t.q.Query(ctx, `SELECT path, version, body, updated_at FROM documents WHERE collection = $1 ORDER BY path`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc := Document{Collection: collection}
		var (
			body    []byte
			version int64
		)
		if err := rows.Scan(&doc.Path, &version, &body, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		_, doc.ID, _ = SplitPath(doc.Path)
		doc.Version = Version(version)
		doc.Body = body
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (t *pgTx) Write(ctx context.Context, path string, entity any, expected Version) (Version, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return 0, err
	}
	body, err := encode(entity)
	if err != nil {
		return 0, err
	}
	var raw int64
	switch expected {
	case NoVersion:
		tag, err := t.q.Exec(ctx, `INSERT INTO documents (path, collection, version, body, updated_at)
VALUES ($1, $2, 1, $3::jsonb, NOW()) ON CONFLICT (path) DO NOTHING`, path, collection, string(body))
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 0 {
			return 0, ErrConflict
		}
		raw = 1
	case AnyVersion:
		err = t.q.QueryRow(ctx, `INSERT INTO documents (path, collection, version, body, updated_at)
VALUES ($1, $2, 1, $3::jsonb, NOW())
ON CONFLICT (path) DO UPDATE SET body = EXCLUDED.body, version = documents.version + 1, updated_at = NOW()
RETURNING version`, path, collection, string(body)).Scan(&raw)
		if err != nil {
			return 0, err
		}
	default:
		err = t.q.QueryRow(ctx, `UPDATE documents SET body = $2::jsonb, version = version + 1, updated_at = NOW()
WHERE path = $1 AND version = $3 RETURNING version`, path, string(body), int64(expected)).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, t.missOrConflict(ctx, path)
		}
		if err != nil {
			return 0, err
		}
	}
	version := Version(raw)
	t.record(path, collection, id, version, OpWrite)
	return version, nil
}

func (t *pgTx) Append(ctx context.Context, collection string, entity any) (string, error) {
	id := assignID(entity)
	if _, err := t.Write(ctx, Path(collection, id), entity, NoVersion); err != nil {
		return "", err
	}
	return id, nil
}

func (t *pgTx) Patch(ctx context.Context, path string, fields map[string]any, expected Version) (Version, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return 0, err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("store: encode patch: %w", err)
	}
	var raw int64
	err = t.q.QueryRow(ctx, `UPDATE documents SET body = body || $2::jsonb, version = version + 1, updated_at = NOW()
WHERE path = $1 AND ($3::bigint < 0 OR version = $3::bigint) RETURNING version`, path, string(patch), int64(expected)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, t.missOrConflict(ctx, path)
	}
	if err != nil {
		return 0, err
	}
	version := Version(raw)
	t.record(path, collection, id, version, OpPatch)
	return version, nil
}

func (t *pgTx) missOrConflict(ctx context.Context, path string) error {
	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE path = $1)`, path).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}
	return ErrNotFound
}

func (t *pgTx) record(path, collection, id string, version Version, op Op) {
	t.changes = append(t.changes, Change{Path: path, Collection: collection, ID: id, Version: version, Op: op})
}
