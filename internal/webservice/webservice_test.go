package webservice_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azcx/imagehost/internal/blob"
	"github.com/azcx/imagehost/internal/catalog"
	"github.com/azcx/imagehost/internal/models"
	"github.com/azcx/imagehost/internal/reconcile"
	"github.com/azcx/imagehost/internal/webservice"
)

var defaultStaticConfig = webservice.StaticConfig{
	PublicBaseURL: "https://images.example",

	ReadTimeout:    5 * time.Second,
	WriteTimeout:   10 * time.Second,
	RequestTimeout: 3 * time.Second,
	MaxHeaderBytes: 1 << 13, // 8 KB
	MaxUploadBytes: 1 << 17, // 128 KB

	ListenHost: "localhost",
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cmLoadErr error

		wantErr bool
	}{
		"Empty valid": {},
		"ConfigManager load error errors": {
			cmLoadErr: assert.AnError,
			wantErr:   true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cm := &testConfigManager{loadErr: tc.cmLoadErr}

			s, err := webservice.New(t.Context(), cm, testStores(), prometheus.NewRegistry(), defaultStaticConfig)
			if tc.wantErr {
				require.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestServeRoutes(t *testing.T) {
	t.Parallel()

	cm := &testConfigManager{}
	s, err := webservice.New(t.Context(), cm, testStores(), prometheus.NewRegistry(), defaultStaticConfig)
	require.NoError(t, err, "Setup: failed to create server")

	tests := map[string]struct {
		method string
		path   string
		body   string

		wantStatus int
	}{
		"Version": {
			method:     http.MethodGet,
			path:       "/version",
			wantStatus: http.StatusOK,
		},
		"Metrics": {
			method:     http.MethodGet,
			path:       "/metrics",
			wantStatus: http.StatusOK,
		},
		"Download existing image": {
			method:     http.MethodGet,
			path:       "/images/cat.jpg",
			wantStatus: http.StatusOK,
		},
		"Metadata of existing image": {
			method:     http.MethodGet,
			path:       "/images/cat.jpg/metadata",
			wantStatus: http.StatusOK,
		},
		"Random metadata": {
			method:     http.MethodGet,
			path:       "/images/random/metadata",
			wantStatus: http.StatusOK,
		},
		"Delete image": {
			method:     http.MethodDelete,
			path:       "/images/cat.jpg",
			wantStatus: http.StatusOK,
		},
		"Subscribe": {
			method:     http.MethodPost,
			path:       "/subscribe",
			body:       `{"email":"user@example.com"}`,
			wantStatus: http.StatusOK,
		},
		"Reconcile": {
			method:     http.MethodPost,
			path:       "/reconcile",
			wantStatus: http.StatusOK,
		},

		// Bad requests
		"Path NotFound": {
			method:     http.MethodGet,
			path:       "/nope",
			wantStatus: http.StatusNotFound,
		},
		"Metadata of unknown image NotFound": {
			method:     http.MethodGet,
			path:       "/images/unknown.png/metadata",
			wantStatus: http.StatusNotFound,
		},
		"Bad method MethodNotAllowed": {
			method:     http.MethodGet,
			path:       "/reconcile",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var body io.Reader
			if tc.body != "" {
				body = bytes.NewReader([]byte(tc.body))
			}
			req := httptest.NewRequest(tc.method, tc.path, body)
			rec := httptest.NewRecorder()

			s.HTTPServer().Handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code, "Unexpected status response")
		})
	}
}

func TestRunAfterQuitErrors(t *testing.T) {
	t.Parallel()

	cm := &testConfigManager{}
	sc := defaultStaticConfig
	sc.ListenPort = 0 // ephemeral port

	s, err := webservice.New(t.Context(), cm, testStores(), prometheus.NewRegistry(), sc)
	require.NoError(t, err, "Setup: failed to create server")
	t.Cleanup(func() { s.Quit(true) })

	runErr := make(chan error, 1)
	go func() {
		defer close(runErr)
		runErr <- s.Run()
	}()

	select {
	case err := <-runErr:
		require.Failf(t, "Run returned unexpectedly", "Got possible error: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	s.Quit(false)

	select {
	case err := <-runErr:
		require.NoError(t, err, "Run should return without error after graceful Quit")
	case <-time.After(1 * time.Second):
		require.Fail(t, "Run should have returned after Quit")
	}

	serverErr2 := make(chan error, 1)
	go func() {
		defer close(serverErr2)
		serverErr2 <- s.Run()
	}()

	select {
	case err := <-serverErr2:
		require.Error(t, err, "Server should have errored after second run")
	case <-time.After(1 * time.Second):
		require.Fail(t, "Server should have errored after second run")
	}
}

func TestRunWatchErrorStopsServer(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cm *testConfigManager
	}{
		"New Watcher Error": {
			cm: &testConfigManager{newWatcherErr: errors.New("requested watch error")},
		},
		"Watch Error": {
			cm: &testConfigManager{watchErr: errors.New("requested watch error")},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			sc := defaultStaticConfig
			sc.ListenPort = 0

			s, err := webservice.New(t.Context(), tc.cm, testStores(), prometheus.NewRegistry(), sc)
			require.NoError(t, err, "Setup: failed to create server")
			t.Cleanup(func() { s.Quit(true) })

			runErr := make(chan error, 1)
			go func() {
				defer close(runErr)
				runErr <- s.Run()
			}()

			select {
			case err := <-runErr:
				require.Error(t, err, "Run should propagate the watcher error")
			case <-time.After(1 * time.Second):
				require.Fail(t, "Run should have returned after the watcher error")
			}
		})
	}
}

func testStores() webservice.Stores {
	return webservice.Stores{
		Catalog:  &stubCatalog{},
		Blobs:    &stubBlobs{},
		Notifier: &stubNotifier{},
		Broker:   &stubBroker{},
		Auditor:  &stubAuditor{},
	}
}

type testConfigManager struct {
	loadErr       error
	newWatcherErr error
	watchErr      error
}

func (t testConfigManager) Load() error {
	return t.loadErr
}

func (t testConfigManager) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	if t.newWatcherErr != nil {
		return nil, nil, t.newWatcherErr
	}

	eventsChan := make(chan struct{})
	errorsChan := make(chan error)
	go func() {
		defer close(eventsChan)
		defer close(errorsChan)

		if t.watchErr != nil {
			errorsChan <- t.watchErr
			return
		}

		// Block until the context is done
		<-ctx.Done()
	}()

	return eventsChan, errorsChan, nil
}

func (t testConfigManager) IsAllowed(string) bool {
	return true
}

type stubCatalog struct{}

func (stubCatalog) Get(ctx context.Context, name string) (models.ImageMetadata, error) {
	if name != "cat.jpg" {
		return models.ImageMetadata{}, catalog.ErrNotFound
	}
	return models.ImageMetadata{Name: name, FileExtension: "jpg", SizeBytes: 3}, nil
}

func (stubCatalog) Random(ctx context.Context) (models.ImageMetadata, error) {
	return models.ImageMetadata{Name: "cat.jpg", FileExtension: "jpg", SizeBytes: 3}, nil
}

func (stubCatalog) Insert(ctx context.Context, meta models.ImageMetadata) error { return nil }
func (stubCatalog) Delete(ctx context.Context, name string) error               { return nil }

type stubBlobs struct{}

func (stubBlobs) Download(ctx context.Context, name string) (*blob.Object, error) {
	if name != "cat.jpg" {
		return nil, blob.ErrNotFound
	}
	return &blob.Object{
		Body:        io.NopCloser(bytes.NewReader([]byte("img"))),
		ContentType: "image/jpeg",
		SizeBytes:   3,
	}, nil
}

func (stubBlobs) Upload(ctx context.Context, name, contentType string, body io.Reader) error {
	return nil
}

func (stubBlobs) Delete(ctx context.Context, name string) error { return nil }

type stubNotifier struct{}

func (stubNotifier) Send(ctx context.Context, notice models.UploadNotice) error { return nil }

type stubBroker struct{}

func (stubBroker) Subscribe(ctx context.Context, email string) error   { return nil }
func (stubBroker) Unsubscribe(ctx context.Context, email string) error { return nil }

type stubAuditor struct{}

func (stubAuditor) Audit(ctx context.Context, source string) (reconcile.Report, error) {
	return reconcile.Report{
		Consistent:         true,
		MissingInBlobStore: []string{},
		ExtraInBlobStore:   []string{},
		Source:             source,
	}, nil
}
