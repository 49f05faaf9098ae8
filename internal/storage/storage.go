package storage

import (
	"context"
	"time"
)

// ObjectInfo describes a single stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Service abstracts the remote object store behind the three primitives the
// upload pool needs, plus listing for the API surface. Container and item
// identifiers are opaque to callers.
//
// CreateContainer and UploadItem must be idempotent: the upload pool retries
// them on transient failure.
type Service interface {
	CreateContainer(ctx context.Context, name, parent string) (string, error)
	UploadItem(ctx context.Context, localPath, parent string) (string, error)
	DeleteItem(ctx context.Context, id string) error
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
