package stores

import (
	"context"

	"github.com/sirupsen/logrus"

	"emojiart-server/config"
	"emojiart-server/core"
	"emojiart-server/stores/aws"
	"emojiart-server/stores/filesystem"
	"emojiart-server/stores/memory"
	"emojiart-server/stores/sqlite"
)

// GetStore opens the document store selected by cfg.Type. The returned
// store may also implement core.CheckpointStore and core.ActivityRegistry.
func GetStore(ctx context.Context, cfg config.Storage) (core.DocumentStore, error) {
	var store core.DocumentStore
	var err error

	storageField := logrus.Fields{
		"storageType": cfg.Type,
	}

	switch cfg.Type {
	case "filesystem":
		storageField["basePath"] = cfg.LocalPath
		store, err = filesystem.NewDocumentStore(cfg.LocalPath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewDocumentStore(cfg.DataSourceName)
	case "s3":
		storageField["bucket"] = cfg.S3Bucket
		store, err = aws.NewStore(ctx, cfg.S3Bucket)
	default:
		store = memory.NewDocumentStore()
		storageField["storageType"] = "in-memory"
	}
	if err != nil {
		logrus.WithFields(storageField).WithError(err).Error("Failed to open storage")
		return nil, err
	}

	_, checkpoints := store.(core.CheckpointStore)
	storageField["checkpoints"] = checkpoints
	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
