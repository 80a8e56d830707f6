package core

import (
	"bytes"
	"context"
	"errors"
)

// ErrNotFound is wrapped by stores when a document or checkpoint is missing.
var ErrNotFound = errors.New("not found")

// DefaultMaxCheckpoints is the retention applied to documents without
// explicit settings.
const DefaultMaxCheckpoints = 10

type (
	// Document is an opaque serialized snapshot.
	Document struct {
		Data bytes.Buffer
	}

	DocumentStore interface {
		FindID(ctx context.Context, id string) (*Document, error)
		Create(ctx context.Context, document *Document) (string, error)
		Update(ctx context.Context, id string, document *Document) error
	}

	// Checkpoint is a named copy of a document snapshot.
	Checkpoint struct {
		ID          string `json:"id"`
		DocumentID  string `json:"document_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		CreatedBy   string `json:"created_by"`
		CreatedAt   int64  `json:"created_at"`
		Data        []byte `json:"data,omitempty"`
	}

	CheckpointSettings struct {
		DocumentID     string `json:"document_id"`
		MaxCheckpoints int    `json:"max_checkpoints"`
	}

	CheckpointStore interface {
		CreateCheckpoint(ctx context.Context, documentID, name, description, createdBy string, data []byte) (string, error)
		ListCheckpoints(ctx context.Context, documentID string) ([]Checkpoint, error)
		GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error)
		DeleteCheckpoint(ctx context.Context, id string) error
		UpdateCheckpointMetadata(ctx context.Context, id, name, description string) error
		GetCheckpointSettings(ctx context.Context, documentID string) (*CheckpointSettings, error)
		UpdateCheckpointSettings(ctx context.Context, documentID string, maxCheckpoints int) error
	}

	// Activity records when a document was last opened or saved.
	Activity struct {
		DocumentID string `json:"document_id"`
		LastActive int64  `json:"last_active"`
	}

	ActivityRegistry interface {
		ListActive(ctx context.Context) ([]Activity, error)
		TouchDocument(ctx context.Context, documentID string) error
	}
)
