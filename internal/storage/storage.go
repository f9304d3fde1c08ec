// Package storage provides profile sinks: the local filesystem and Tencent
// Cloud COS.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/trace-pprof/pkg/config"
	apperrors "github.com/trace-pprof/pkg/errors"
)

// Storage defines the interface for object storage operations.
type Storage interface {
	// Put writes the content of reader to key, replacing any existing object.
	Put(ctx context.Context, key string, reader io.Reader) error

	// Get opens the object at key. A missing object is a NOT_FOUND error.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at key. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// URL returns where the object at key can be fetched from.
	URL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return apperrors.New(apperrors.CodeConfigError, "storage config is nil")
	}

	storageType := StorageType(cfg.Type)

	// Empty type defaults to local
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	switch storageType {
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS bucket is required")
		}
		if cfg.Region == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS credentials are required")
		}
	case StorageTypeLocal:
		if cfg.LocalPath == "" {
			return apperrors.New(apperrors.CodeConfigError, "local storage path is required")
		}
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported storage type: %s", cfg.Type)
	}

	return nil
}

// ProfileKey names the object holding one exported profile:
//
//	<prefix>/<trace>/<kind>/<upid>-<pid>.pb<ext>
//
// ext is the compression extension, e.g. ".gz", or "".
func ProfileKey(prefix, trace, kind string, upid uint32, pid int64, ext string) string {
	return path.Join(prefix, trace, kind, fmt.Sprintf("%d-%d.pb%s", upid, pid, ext))
}

// ManifestKey names the JSON index written next to the profiles of one
// trace and kind.
func ManifestKey(prefix, trace, kind string) string {
	return path.Join(prefix, trace, kind, "manifest.json")
}
