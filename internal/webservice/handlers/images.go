package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/azcx/imagehost/internal/blob"
	"github.com/azcx/imagehost/internal/catalog"
)

// Download is a handler streaming stored image bytes by name.
type Download struct {
	blobs BlobStore
}

// NewDownload creates a new Download handler.
func NewDownload(blobs BlobStore) *Download {
	return &Download{blobs: blobs}
}

// ServeHTTP handles incoming HTTP requests to download an image.
func (h *Download) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	obj, err := h.blobs.Download(r.Context(), name)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			http.Error(w, "Image not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Error retrieving image", http.StatusInternalServerError)
		slog.Error("Error retrieving image", "name", name, "err", err)
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.SizeBytes, 10))
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		slog.Error("Error streaming image", "name", name, "err", err)
	}
}

// Metadata is a handler serving catalog records by name, or a random one.
type Metadata struct {
	catalog Catalog
	random  bool
}

// NewMetadata creates a handler serving the record of a named image.
func NewMetadata(cat Catalog) *Metadata {
	return &Metadata{catalog: cat}
}

// NewRandomMetadata creates a handler serving the record of a random image.
func NewRandomMetadata(cat Catalog) *Metadata {
	return &Metadata{catalog: cat, random: true}
}

// ServeHTTP handles incoming HTTP requests for image metadata.
func (h *Metadata) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var meta any
	var err error
	if h.random {
		meta, err = h.catalog.Random(r.Context())
	} else {
		meta, err = h.catalog.Get(r.Context(), r.PathValue("name"))
	}

	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "Image metadata not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Error retrieving metadata", http.StatusInternalServerError)
		slog.Error("Error retrieving metadata", "err", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(meta); err != nil {
		slog.Error("Error encoding metadata response", "err", err)
	}
}

// Delete is a handler removing an image from both stores.
type Delete struct {
	catalog Catalog
	blobs   BlobStore
}

// NewDelete creates a new Delete handler.
func NewDelete(cat Catalog, blobs BlobStore) *Delete {
	return &Delete{catalog: cat, blobs: blobs}
}

// ServeHTTP handles incoming HTTP requests to delete an image.
//
// The blob is removed first; if the catalog delete then fails, the audit
// reports the leftover record as missing in the blob store.
func (h *Delete) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.blobs.Delete(r.Context(), name); err != nil {
		http.Error(w, "Error deleting image", http.StatusInternalServerError)
		slog.Error("Error deleting image", "name", name, "err", err)
		return
	}

	if err := h.catalog.Delete(r.Context(), name); err != nil {
		http.Error(w, "Error deleting image metadata", http.StatusInternalServerError)
		slog.Error("Error deleting image metadata", "name", name, "err", err)
		return
	}

	slog.Info("Image deleted", "name", name)
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(`{"message":"Image deleted successfully."}`)); err != nil {
		slog.Error("Error writing delete response", "name", name, "err", err)
	}
}
