// Package handlers provides HTTP handlers for the web service.
package handlers

import (
	"context"
	"io"

	"github.com/azcx/imagehost/internal/blob"
	"github.com/azcx/imagehost/internal/models"
	"github.com/azcx/imagehost/internal/reconcile"
)

// Catalog is the metadata store surface used by the handlers.
type Catalog interface {
	Get(ctx context.Context, name string) (models.ImageMetadata, error)
	Random(ctx context.Context) (models.ImageMetadata, error)
	Insert(ctx context.Context, meta models.ImageMetadata) error
	Delete(ctx context.Context, name string) error
}

// BlobStore is the object store surface used by the handlers.
type BlobStore interface {
	Download(ctx context.Context, name string) (*blob.Object, error)
	Upload(ctx context.Context, name, contentType string, body io.Reader) error
	Delete(ctx context.Context, name string) error
}

// Notifier queues an upload notice for asynchronous fan-out.
type Notifier interface {
	Send(ctx context.Context, notice models.UploadNotice) error
}

// Broker is the subscription surface of the notification topic.
type Broker interface {
	Subscribe(ctx context.Context, email string) error
	Unsubscribe(ctx context.Context, email string) error
}

// Auditor runs a consistency audit between the catalog and the blob store.
type Auditor interface {
	Audit(ctx context.Context, source string) (reconcile.Report, error)
}

// ConfigProvider is an interface that defines the configuration access methods used by the handlers.
type ConfigProvider interface {
	IsAllowed(ext string) bool // IsAllowed checks if a file extension is accepted for upload.
}
