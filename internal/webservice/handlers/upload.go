package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/azcx/imagehost/internal/models"
)

// Upload is a handler for uploading images.
//
// The blob write, the catalog write, and the notice enqueue are three
// separate calls with no transaction across them; drift between the stores
// is corrected for by the consistency audit, not here.
type Upload struct {
	catalog  Catalog
	blobs    BlobStore
	notifier Notifier
	config   ConfigProvider

	publicBaseURL string
	maxUploadSize int64
}

// NewUpload creates a new Upload handler.
func NewUpload(catalog Catalog, blobs BlobStore, notifier Notifier, cfg ConfigProvider, publicBaseURL string, maxUploadSize int64) *Upload {
	return &Upload{
		catalog:  catalog,
		blobs:    blobs,
		notifier: notifier,
		config:   cfg,

		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		maxUploadSize: maxUploadSize,
	}
}

// ServeHTTP handles incoming multipart image uploads.
func (h *Upload) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Failed to read uploaded file", http.StatusBadRequest)
		slog.Error("Error reading the file", "req_id", reqID, "err", err)
		return
	}
	defer file.Close()

	if header.Size == 0 {
		http.Error(w, "File is empty", http.StatusBadRequest)
		slog.Error("Empty file uploaded", "req_id", reqID)
		return
	}

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == ".." {
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		slog.Error("Invalid file name", "req_id", reqID, "filename", header.Filename)
		return
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))

	slog.Info("Upload recv'd", "req_id", reqID, "name", name, "size", header.Size)

	if !h.config.IsAllowed(ext) {
		http.Error(w, "File extension not allowed", http.StatusForbidden)
		slog.Error("Disallowed file extension", "req_id", reqID, "name", name, "ext", ext)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if err := h.blobs.Upload(r.Context(), name, contentType, file); err != nil {
		http.Error(w, "Error storing image", http.StatusInternalServerError)
		slog.Error("Error storing image", "req_id", reqID, "name", name, "err", err)
		return
	}

	meta := models.ImageMetadata{
		Name:          name,
		LastUpdated:   time.Now().UTC(),
		FileExtension: ext,
		SizeBytes:     header.Size,
	}
	if err := h.catalog.Insert(r.Context(), meta); err != nil {
		http.Error(w, "Error storing image metadata", http.StatusInternalServerError)
		slog.Error("Error storing image metadata", "req_id", reqID, "name", name, "err", err)
		return
	}

	notice := models.UploadNotice{
		Name:          name,
		SizeBytes:     header.Size,
		FileExtension: ext,
		DownloadLink:  fmt.Sprintf("%s/images/%s", h.publicBaseURL, url.PathEscape(name)),
	}
	if err := h.notifier.Send(r.Context(), notice); err != nil {
		// The image is stored either way; subscribers simply miss this one.
		slog.Error("Error queueing upload notice", "req_id", reqID, "name", name, "err", err)
	}

	slog.Info("Image successfully uploaded", "req_id", reqID, "name", name)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"message":"Image %q uploaded successfully."}`, name)
}
