package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"emojiart-server/core"
)

func (s *Store) CreateCheckpoint(ctx context.Context, documentID, name, description, createdBy string, data []byte) (string, error) {
	id := ulid.Make().String()
	log := logrus.WithFields(logrus.Fields{
		"checkpoint_id": id,
		"document_id":   documentID,
		"data_length":   len(data),
	})

	s.mu.Lock()
	limit := s.retentionLocked(documentID)
	existing := s.sortedLocked(documentID)
	for len(existing) >= limit {
		delete(s.checkpoints, existing[len(existing)-1].ID)
		existing = existing[:len(existing)-1]
	}
	s.checkpoints[id] = core.Checkpoint{
		ID:          id,
		DocumentID:  documentID,
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   int64(ulid.Now()),
		Data:        bytes.Clone(data),
	}
	s.mu.Unlock()

	log.Info("Checkpoint created successfully")
	return id, nil
}

// ListCheckpoints returns the document's checkpoints newest first, without
// their data.
func (s *Store) ListCheckpoints(ctx context.Context, documentID string) ([]core.Checkpoint, error) {
	s.mu.RLock()
	list := s.sortedLocked(documentID)
	s.mu.RUnlock()

	for i := range list {
		list[i].Data = nil
	}
	logrus.WithField("document_id", documentID).Info("Checkpoints listed successfully")
	return list, nil
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (*core.Checkpoint, error) {
	log := logrus.WithField("checkpoint_id", id)

	s.mu.RLock()
	cp, ok := s.checkpoints[id]
	s.mu.RUnlock()

	if !ok {
		log.WithField("error", "checkpoint not found").Warn("Checkpoint with specified ID not found")
		return nil, fmt.Errorf("checkpoint with id %s %w", id, core.ErrNotFound)
	}
	cp.Data = bytes.Clone(cp.Data)
	log.Info("Checkpoint retrieved successfully")
	return &cp, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.checkpoints[id]
	delete(s.checkpoints, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("checkpoint with id %s %w", id, core.ErrNotFound)
	}
	logrus.WithField("checkpoint_id", id).Info("Checkpoint deleted successfully")
	return nil
}

func (s *Store) UpdateCheckpointMetadata(ctx context.Context, id, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return fmt.Errorf("checkpoint with id %s %w", id, core.ErrNotFound)
	}
	cp.Name = name
	cp.Description = description
	s.checkpoints[id] = cp
	return nil
}

func (s *Store) GetCheckpointSettings(ctx context.Context, documentID string) (*core.CheckpointSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &core.CheckpointSettings{
		DocumentID:     documentID,
		MaxCheckpoints: s.retentionLocked(documentID),
	}, nil
}

func (s *Store) UpdateCheckpointSettings(ctx context.Context, documentID string, maxCheckpoints int) error {
	if maxCheckpoints < 1 {
		return fmt.Errorf("max checkpoints must be positive")
	}
	s.mu.Lock()
	s.retention[documentID] = maxCheckpoints
	s.mu.Unlock()
	return nil
}

func (s *Store) retentionLocked(documentID string) int {
	if n, ok := s.retention[documentID]; ok {
		return n
	}
	return core.DefaultMaxCheckpoints
}

// sortedLocked returns copies of the document's checkpoints, newest first.
func (s *Store) sortedLocked(documentID string) []core.Checkpoint {
	list := make([]core.Checkpoint, 0)
	for _, cp := range s.checkpoints {
		if cp.DocumentID == documentID {
			list = append(list, cp)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt == list[j].CreatedAt {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt > list[j].CreatedAt
	})
	return list
}
