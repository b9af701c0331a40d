package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/azcx/imagehost/internal/blob"
	"github.com/azcx/imagehost/internal/catalog"
	"github.com/azcx/imagehost/internal/models"
	"github.com/azcx/imagehost/internal/webservice/handlers"
)

func TestUpload(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		filename    string
		content     string
		noFile      bool
		disallowExt bool
		blobErr     error
		catalogErr  error
		notifyErr   error

		wantStatus   int
		wantInserted bool
		wantNotice   bool
		wantDownload string
	}{
		"Allowed upload stores blob, record and notice": {
			filename:      "cat.jpg",
			content:       "image-bytes",
			wantStatus:   http.StatusOK,
			wantInserted: true,
			wantNotice:   true,
			wantDownload: "https://images.example/images/cat.jpg",
		},
		"File name is reduced to its base": {
			filename:      "../../etc/cat.jpg",
			content:       "image-bytes",
			wantStatus:   http.StatusOK,
			wantInserted: true,
			wantNotice:   true,
			wantDownload: "https://images.example/images/cat.jpg",
		},
		"Notice failure does not fail the upload": {
			filename:      "cat.jpg",
			content:       "image-bytes",
			notifyErr:    errors.New("error requested by test"),
			wantStatus:   http.StatusOK,
			wantInserted: true,
		},

		// Error cases
		"Missing file part": {
			noFile:     true,
			wantStatus: http.StatusBadRequest,
		},
		"Empty file": {
			filename:   "cat.jpg",
			wantStatus: http.StatusBadRequest,
		},
		"Disallowed extension": {
			filename:    "script.exe",
			content:     "binary",
			disallowExt: true,
			wantStatus:  http.StatusForbidden,
		},
		"Blob store failure": {
			filename:      "cat.jpg",
			content:       "image-bytes",
			blobErr:    errors.New("error requested by test"),
			wantStatus: http.StatusInternalServerError,
		},
		"Catalog failure": {
			filename:      "cat.jpg",
			content:       "image-bytes",
			catalogErr: errors.New("error requested by test"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cat := &mockCatalog{insertErr: tc.catalogErr}
			blobs := &mockBlobStore{uploadErr: tc.blobErr}
			notifier := &mockNotifier{sendErr: tc.notifyErr}
			cfg := allowAll(!tc.disallowExt)

			h := handlers.NewUpload(cat, blobs, notifier, cfg, "https://images.example/", 10<<20)

			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			if !tc.noFile {
				part, err := mw.CreateFormFile("file", tc.filename)
				require.NoError(t, err, "Setup: creating form file")
				_, err = part.Write([]byte(tc.content))
				require.NoError(t, err, "Setup: writing form file")
			}
			require.NoError(t, mw.Close(), "Setup: closing multipart writer")

			req := httptest.NewRequest(http.MethodPost, "/images", &body)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code, "unexpected status code")

			require.Equal(t, tc.wantInserted, cat.inserted != nil, "unexpected catalog insert state")
			if tc.wantInserted {
				require.Equal(t, "cat.jpg", cat.inserted.Name, "unexpected inserted name")
				require.Equal(t, "jpg", cat.inserted.FileExtension, "unexpected inserted extension")
				require.EqualValues(t, len(tc.content), cat.inserted.SizeBytes, "unexpected inserted size")
			}

			require.Equal(t, tc.wantNotice, notifier.sent != nil, "unexpected notice state")
			if tc.wantNotice {
				require.Equal(t, tc.wantDownload, notifier.sent.DownloadLink, "unexpected download link")
			}
		})
	}
}

type mockCatalog struct {
	records   map[string]models.ImageMetadata
	insertErr error
	deleteErr error
	randomErr error

	inserted *models.ImageMetadata
	deleted  string
}

func (m *mockCatalog) Get(ctx context.Context, name string) (models.ImageMetadata, error) {
	meta, ok := m.records[name]
	if !ok {
		return models.ImageMetadata{}, catalog.ErrNotFound
	}
	return meta, nil
}

func (m *mockCatalog) Random(ctx context.Context) (models.ImageMetadata, error) {
	if m.randomErr != nil {
		return models.ImageMetadata{}, m.randomErr
	}
	for _, meta := range m.records {
		return meta, nil
	}
	return models.ImageMetadata{}, catalog.ErrNotFound
}

func (m *mockCatalog) Insert(ctx context.Context, meta models.ImageMetadata) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = &meta
	return nil
}

func (m *mockCatalog) Delete(ctx context.Context, name string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = name
	return nil
}

type mockBlobStore struct {
	content     string
	contentType string
	downloadErr error
	uploadErr   error
	deleteErr   error

	uploadedKey string
	deleted     string
}

func (m *mockBlobStore) Download(ctx context.Context, name string) (*blob.Object, error) {
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	return &blob.Object{
		Body:        io.NopCloser(strings.NewReader(m.content)),
		ContentType: m.contentType,
		SizeBytes:   int64(len(m.content)),
	}, nil
}

func (m *mockBlobStore) Upload(ctx context.Context, name, contentType string, body io.Reader) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.uploadedKey = name
	return nil
}

func (m *mockBlobStore) Delete(ctx context.Context, name string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = name
	return nil
}

type mockNotifier struct {
	sendErr error
	sent    *models.UploadNotice
}

func (m *mockNotifier) Send(ctx context.Context, notice models.UploadNotice) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = &notice
	return nil
}

type allowAll bool

func (a allowAll) IsAllowed(ext string) bool { return bool(a) }
