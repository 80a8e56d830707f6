package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"emojiart-server/core"
)

// Store keeps one file per document under a base directory.
type Store struct {
	basePath string
}

func NewDocumentStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// documentPath resolves id inside the base directory. Ids that are paths
// are rejected.
func (s *Store) documentPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\:`) {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return filepath.Join(s.basePath, id), nil
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	filePath, err := s.documentPath(id)
	if err != nil {
		log.WithError(err).Warn("Rejected document ID")
		return nil, err
	}

	log.WithField("file_path", filePath).Debug("Retrieving document by ID")
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	log.Info("Document retrieved successfully")
	return &core.Document{Data: *bytes.NewBuffer(data)}, nil
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	filePath := filepath.Join(s.basePath, id)
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"file_path":   filePath,
	})

	if err := os.WriteFile(filePath, document.Data.Bytes(), 0644); err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}

	log.Info("Document created successfully")
	return id, nil
}

// Update replaces an existing document. The new content is written to a
// temporary file first and renamed over the old one.
func (s *Store) Update(ctx context.Context, id string, document *core.Document) error {
	log := logrus.WithField("document_id", id)
	filePath, err := s.documentPath(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
		}
		return err
	}

	tmp, err := os.CreateTemp(s.basePath, "."+id+".*")
	if err != nil {
		log.WithError(err).Error("Failed to update document")
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(document.Data.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		log.WithError(err).Error("Failed to update document")
		return err
	}

	log.Info("Document updated successfully")
	return nil
}
