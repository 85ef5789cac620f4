package fiberytest

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Entity is one stored entity joined with its document.
type Entity struct {
	Seq      int64
	ID       string
	Type     string
	SyncKey  string
	Document *Document
}

// Document is a stored rich-text document. Content is nil until pushed.
type Document struct {
	ID      string
	Secret  string
	Content *string
	Pushes  int
}

// store keeps entities and documents in an in-memory SQLite database.
type store struct {
	db *sql.DB
}

func openStore() (*store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

// insertDocument stores a document. content may be nil for a document
// that was never written.
func (s *store) insertDocument(ctx context.Context, id, secret string, content *string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents (id, secret, content) VALUES (?, ?, ?)`, id, secret, content)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", id, err)
	}
	return nil
}

// insertEntity stores an entity. documentID may be empty for an unlinked entity.
func (s *store) insertEntity(ctx context.Context, id, typ, syncKey, documentID string) (int64, error) {
	var doc any
	if documentID != "" {
		doc = documentID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, type, sync_key, document_id) VALUES (?, ?, ?, ?)`,
		id, typ, syncKey, doc)
	if err != nil {
		return 0, fmt.Errorf("insert entity %s: %w", id, err)
	}
	return res.LastInsertId()
}

// setContent replaces the content of the document addressed by secret.
// found is false when no document has that secret.
func (s *store) setContent(ctx context.Context, secret, content string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, pushes = pushes + 1 WHERE secret = ?`,
		content, secret)
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// syncKeyOfEntity returns the sync key of an entity, or "" if unknown.
func (s *store) syncKeyOfEntity(ctx context.Context, id string) (string, error) {
	return s.scanString(ctx, `SELECT COALESCE(sync_key, '') FROM entities WHERE id = ?`, id)
}

// syncKeyOfSecret returns the sync key of the entity linked to a document, or "".
func (s *store) syncKeyOfSecret(ctx context.Context, secret string) (string, error) {
	return s.scanString(ctx, `
		SELECT COALESCE(e.sync_key, '')
		FROM entities e JOIN documents d ON d.id = e.document_id
		WHERE d.secret = ?
		ORDER BY e.seq ASC`, secret)
}

func (s *store) scanString(ctx context.Context, query string, args ...any) (string, error) {
	var out string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return out, err
}

func (s *store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// entities returns all entities in creation order.
func (s *store) entities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.seq, e.id, e.type, COALESCE(e.sync_key, ''),
		       d.id, d.secret, d.content, COALESCE(d.pushes, 0)
		FROM entities e LEFT JOIN documents d ON d.id = e.document_id
		ORDER BY e.seq ASC, e.id ASC COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var (
			e                   Entity
			docID, secret, body sql.NullString
			pushes              int
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &e.SyncKey, &docID, &secret, &body, &pushes); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if docID.Valid {
			e.Document = &Document{ID: docID.String, Secret: secret.String, Pushes: pushes}
			if body.Valid {
				content := body.String
				e.Document.Content = &content
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
