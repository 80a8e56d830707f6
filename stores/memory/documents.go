package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"emojiart-server/core"
)

// Store keeps documents, checkpoints and activity in process memory.
type Store struct {
	mu          sync.RWMutex
	documents   map[string][]byte
	activity    map[string]int64
	checkpoints map[string]core.Checkpoint
	retention   map[string]int
}

func NewDocumentStore() *Store {
	return &Store{
		documents:   make(map[string][]byte),
		activity:    make(map[string]int64),
		checkpoints: make(map[string]core.Checkpoint),
		retention:   make(map[string]int),
	}
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	data, ok := s.documents[id]
	s.mu.RUnlock()

	if ok {
		log.Info("Document retrieved successfully")
		return &core.Document{Data: *bytes.NewBuffer(bytes.Clone(data))}, nil
	}

	log.WithField("error", "document not found").Warn("Document with specified ID not found")
	return nil, fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	data := bytes.Clone(document.Data.Bytes())

	s.mu.Lock()
	s.documents[id] = data
	s.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(data),
	})
	log.Info("Document created successfully")

	return id, nil
}

func (s *Store) Update(ctx context.Context, id string, document *core.Document) error {
	log := logrus.WithField("document_id", id)
	data := bytes.Clone(document.Data.Bytes())

	s.mu.Lock()
	_, ok := s.documents[id]
	if ok {
		s.documents[id] = data
	}
	s.mu.Unlock()

	if !ok {
		log.WithField("error", "document not found").Warn("Document with specified ID not found")
		return fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
	}
	log.WithField("data_length", len(data)).Info("Document updated successfully")
	return nil
}

func (s *Store) TouchDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document id is required")
	}

	s.mu.Lock()
	s.activity[documentID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *Store) ListActive(ctx context.Context) ([]core.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]core.Activity, 0, len(s.activity))
	for id, last := range s.activity {
		active = append(active, core.Activity{DocumentID: id, LastActive: last})
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].LastActive == active[j].LastActive {
			return active[i].DocumentID < active[j].DocumentID
		}
		return active[i].LastActive > active[j].LastActive
	})

	return active, nil
}
