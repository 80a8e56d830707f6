package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"emojiart-server/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	data BLOB,
	updated_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	name TEXT,
	description TEXT,
	created_by TEXT,
	created_at INTEGER NOT NULL,
	data BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS checkpoints_document_id ON checkpoints (document_id, created_at);
CREATE TABLE IF NOT EXISTS checkpoint_settings (
	document_id TEXT PRIMARY KEY,
	max_checkpoints INTEGER DEFAULT 10
);
CREATE TABLE IF NOT EXISTS activity (
	document_id TEXT PRIMARY KEY,
	last_active INTEGER NOT NULL
);`

// Store persists documents and checkpoints in a SQLite database.
type Store struct {
	db *sql.DB
}

// NewDocumentStore opens (creating if needed) the database at
// dataSourceName and applies the schema.
func NewDocumentStore(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}
	document := core.Document{
		Data: *bytes.NewBuffer(data),
	}
	log.Info("Document retrieved successfully")
	return &document, nil
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	data := document.Data.Bytes()
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(data),
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, data, updated_at) VALUES (?, ?, ?)",
		id, data, time.Now().UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}
	log.Info("Document created successfully")
	return id, nil
}

func (s *Store) Update(ctx context.Context, id string, document *core.Document) error {
	data := document.Data.Bytes()
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(data),
	})

	result, err := s.db.ExecContext(ctx,
		"UPDATE documents SET data = ?, updated_at = ? WHERE id = ?",
		data, time.Now().UnixMilli(), id)
	if err != nil {
		log.WithError(err).Error("Failed to update document")
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		log.WithField("error", "document not found").Warn("Document with specified ID not found")
		return fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
	}
	log.Info("Document updated successfully")
	return nil
}

func (s *Store) TouchDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document id is required")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO activity (document_id, last_active) VALUES (?, ?) ON CONFLICT(document_id) DO UPDATE SET last_active = excluded.last_active",
		documentID, time.Now().UnixMilli())
	return err
}

func (s *Store) ListActive(ctx context.Context) ([]core.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT document_id, last_active FROM activity ORDER BY last_active DESC, document_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	active := []core.Activity{}
	for rows.Next() {
		var a core.Activity
		if err := rows.Scan(&a.DocumentID, &a.LastActive); err != nil {
			return nil, err
		}
		active = append(active, a)
	}
	return active, rows.Err()
}
