package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"emojiart-server/core"
)

// CreateCheckpoint stores a copy of data for documentID, evicting the oldest
// checkpoints beyond the document's retention.
func (s *Store) CreateCheckpoint(ctx context.Context, documentID, name, description, createdBy string, data []byte) (string, error) {
	id := ulid.Make().String()
	createdAt := ulid.Now()

	log := logrus.WithFields(logrus.Fields{
		"checkpoint_id": id,
		"document_id":   documentID,
		"data_length":   len(data),
	})

	settings, err := s.GetCheckpointSettings(ctx, documentID)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM checkpoints WHERE document_id = ?", documentID).Scan(&count)
	if err != nil {
		log.WithError(err).Error("Failed to count checkpoints")
		return "", err
	}

	if excess := count - settings.MaxCheckpoints + 1; excess > 0 {
		_, err = tx.ExecContext(ctx,
			"DELETE FROM checkpoints WHERE id IN (SELECT id FROM checkpoints WHERE document_id = ? ORDER BY created_at ASC, id ASC LIMIT ?)",
			documentID, excess)
		if err != nil {
			log.WithError(err).Error("Failed to delete oldest checkpoints")
			return "", err
		}
	}

	if data == nil {
		data = []byte{}
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO checkpoints (id, document_id, name, description, created_by, created_at, data) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, documentID, name, description, createdBy, createdAt, data)
	if err != nil {
		log.WithError(err).Error("Failed to create checkpoint")
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	log.Info("Checkpoint created successfully")
	return id, nil
}

// ListCheckpoints lists the document's checkpoints newest first, without
// their data.
func (s *Store) ListCheckpoints(ctx context.Context, documentID string) ([]core.Checkpoint, error) {
	log := logrus.WithField("document_id", documentID)
	log.Debug("Listing checkpoints for document")

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document_id, name, description, created_by, created_at FROM checkpoints WHERE document_id = ? ORDER BY created_at DESC, id DESC",
		documentID)
	if err != nil {
		log.WithError(err).Error("Failed to list checkpoints")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close checkpoint rows")
		}
	}()

	checkpoints := []core.Checkpoint{}
	for rows.Next() {
		var cp core.Checkpoint
		var name, description, createdBy sql.NullString
		if err := rows.Scan(&cp.ID, &cp.DocumentID, &name, &description, &createdBy, &cp.CreatedAt); err != nil {
			log.WithError(err).Error("Failed to scan checkpoint")
			continue
		}
		cp.Name = name.String
		cp.Description = description.String
		cp.CreatedBy = createdBy.String
		checkpoints = append(checkpoints, cp)
	}

	log.Info("Checkpoints listed successfully")
	return checkpoints, rows.Err()
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (*core.Checkpoint, error) {
	log := logrus.WithField("checkpoint_id", id)
	log.Debug("Retrieving checkpoint by ID")

	var cp core.Checkpoint
	var name, description, createdBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, document_id, name, description, created_by, created_at, data FROM checkpoints WHERE id = ?",
		id).Scan(&cp.ID, &cp.DocumentID, &name, &description, &createdBy, &cp.CreatedAt, &cp.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.WithField("error", "checkpoint not found").Warn("Checkpoint with specified ID not found")
			return nil, fmt.Errorf("checkpoint with id %s %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve checkpoint")
		return nil, err
	}

	cp.Name = name.String
	cp.Description = description.String
	cp.CreatedBy = createdBy.String

	log.Info("Checkpoint retrieved successfully")
	return &cp, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, id string) error {
	log := logrus.WithField("checkpoint_id", id)

	result, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE id = ?", id)
	if err != nil {
		log.WithError(err).Error("Failed to delete checkpoint")
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("checkpoint with id %s %w", id, core.ErrNotFound)
	}

	log.Info("Checkpoint deleted successfully")
	return nil
}

func (s *Store) UpdateCheckpointMetadata(ctx context.Context, id, name, description string) error {
	log := logrus.WithField("checkpoint_id", id)

	result, err := s.db.ExecContext(ctx,
		"UPDATE checkpoints SET name = ?, description = ? WHERE id = ?",
		name, description, id)
	if err != nil {
		log.WithError(err).Error("Failed to update checkpoint metadata")
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("checkpoint with id %s %w", id, core.ErrNotFound)
	}

	log.Info("Checkpoint metadata updated successfully")
	return nil
}

// GetCheckpointSettings returns the document's retention, or the defaults
// when none were stored.
func (s *Store) GetCheckpointSettings(ctx context.Context, documentID string) (*core.CheckpointSettings, error) {
	settings := core.CheckpointSettings{DocumentID: documentID}
	err := s.db.QueryRowContext(ctx,
		"SELECT max_checkpoints FROM checkpoint_settings WHERE document_id = ?",
		documentID).Scan(&settings.MaxCheckpoints)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			settings.MaxCheckpoints = core.DefaultMaxCheckpoints
			return &settings, nil
		}
		logrus.WithField("document_id", documentID).WithError(err).Error("Failed to retrieve checkpoint settings")
		return nil, err
	}
	return &settings, nil
}

func (s *Store) UpdateCheckpointSettings(ctx context.Context, documentID string, maxCheckpoints int) error {
	if maxCheckpoints < 1 {
		return fmt.Errorf("max checkpoints must be positive")
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id":     documentID,
		"max_checkpoints": maxCheckpoints,
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO checkpoint_settings (document_id, max_checkpoints) VALUES (?, ?) ON CONFLICT(document_id) DO UPDATE SET max_checkpoints = excluded.max_checkpoints",
		documentID, maxCheckpoints)
	if err != nil {
		log.WithError(err).Error("Failed to update checkpoint settings")
		return err
	}

	log.Info("Checkpoint settings updated successfully")
	return nil
}
