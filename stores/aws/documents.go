package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"emojiart-server/core"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store keeps each document as one object under an optional key prefix.
type Store struct {
	client S3API
	bucket string
	prefix string
}

// NewStore creates an S3-backed store using the default AWS configuration
// chain.
func NewStore(ctx context.Context, bucketName string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewStoreWithClient(s3.NewFromConfig(cfg), bucketName, "documents"), nil
}

func NewStoreWithClient(client S3API, bucketName, prefix string) *Store {
	return &Store{client: client, bucket: bucketName, prefix: prefix}
}

// Client exposes the underlying S3 client so background fetches can share
// it.
func (s *Store) Client() S3API { return s.client }

func (s *Store) key(id string) (string, error) {
	if id == "" || path.Base(id) != id || id == "." || id == ".." {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return path.Join(s.prefix, id), nil
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	key, err := s.key(id)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, fmt.Errorf("failed to get document with id %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document data: %w", err)
	}

	log.Info("Document retrieved successfully")
	return &core.Document{Data: *bytes.NewBuffer(data)}, nil
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	if err := s.put(ctx, id, document); err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": document.Data.Len(),
	}).Info("Document created successfully")
	return id, nil
}

func (s *Store) Update(ctx context.Context, id string, document *core.Document) error {
	log := logrus.WithField("document_id", id)
	key, err := s.key(id)
	if err != nil {
		return err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *s3types.NotFound
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nf) || errors.As(err, &nsk) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
		}
		return fmt.Errorf("failed to check document with id %s: %w", id, err)
	}

	if err := s.put(ctx, id, document); err != nil {
		log.WithError(err).Error("Failed to update document")
		return fmt.Errorf("failed to upload document: %w", err)
	}
	log.Info("Document updated successfully")
	return nil
}

func (s *Store) put(ctx context.Context, id string, document *core.Document) error {
	key, err := s.key(id)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(document.Data.Bytes()),
		ContentType: aws.String("application/json"),
	})
	return err
}
