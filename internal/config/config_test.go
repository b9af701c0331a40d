package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/azcx/imagehost/internal/config"
)

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0600), "Setup: failed to write temp config file")
	return tmpFile
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content     string
		missingFile bool

		wantExtensions []string
		wantErr        bool
	}{
		"Valid config": {
			content:        `{"allowedExtensions": ["jpg", "png"]}`,
			wantExtensions: []string{"jpg", "png"},
		},
		"Empty config": {
			content: `{}`,
		},
		"Accessor returns entries as written": {
			content:        `{"allowedExtensions": [".JPG", "Png"]}`,
			wantExtensions: []string{".JPG", "Png"},
		},

		// Error cases
		"Malformed JSON": {
			content: `{"allowedExtensions": ["jpg"`,
			wantErr: true,
		},
		"Missing file": {
			missingFile: true,
			wantErr:     true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := "nonexistent.json"
			if !tc.missingFile {
				path = createTempConfigFile(t, tc.content)
			}

			cm := config.New(path)
			err := cm.Load()
			if tc.wantErr {
				require.Error(t, err, "Load should have failed")
				return
			}
			require.NoError(t, err, "Load() error")
			require.Equal(t, tc.wantExtensions, cm.AllowedExtensions(), "unexpected allowed extensions")
		})
	}
}

func TestIsAllowed(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content string
		ext     string

		want bool
	}{
		"Listed extension":                   {content: `{"allowedExtensions": ["jpg", "png"]}`, ext: "jpg", want: true},
		"Unlisted extension":                 {content: `{"allowedExtensions": ["jpg", "png"]}`, ext: "gif", want: false},
		"Case insensitive match":             {content: `{"allowedExtensions": ["jpg"]}`, ext: "JPG", want: true},
		"Leading dot tolerated":              {content: `{"allowedExtensions": ["jpg"]}`, ext: ".jpg", want: true},
		"Dotted entry matches bare lookup":   {content: `{"allowedExtensions": [".jpg"]}`, ext: "jpg", want: true},
		"Empty allow list accepts anything":  {content: `{}`, ext: "exe", want: true},
		"Empty extension against allow list": {content: `{"allowedExtensions": ["jpg"]}`, ext: "", want: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cm := config.New(createTempConfigFile(t, tc.content))
			require.NoError(t, cm.Load(), "Setup: Load() error")

			require.Equal(t, tc.want, cm.IsAllowed(tc.ext), "unexpected IsAllowed verdict for %q", tc.ext)
		})
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()

	tmpFile := createTempConfigFile(t, `{"allowedExtensions": ["jpg"]}`)

	cm := config.New(tmpFile)
	changes, errCh, err := cm.Watch(t.Context())
	require.NoError(t, err, "Setup: Watch() error")
	require.True(t, cm.IsAllowed("jpg"), "initial config should be loaded by Watch")

	require.NoError(t, os.WriteFile(tmpFile, []byte(`{"allowedExtensions": ["png"]}`), 0600),
		"Setup: failed to write updated config")

	select {
	case <-changes:
	case err := <-errCh:
		t.Fatalf("watcher reported error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	require.True(t, cm.IsAllowed("png"), "new extension should be allowed after reload")
	require.False(t, cm.IsAllowed("jpg"), "old extension should no longer be allowed after reload")
}

func TestWatchIgnoresBrokenUpdate(t *testing.T) {
	t.Parallel()

	tmpFile := createTempConfigFile(t, `{"allowedExtensions": ["jpg"]}`)

	cm := config.New(tmpFile)
	_, _, err := cm.Watch(t.Context())
	require.NoError(t, err, "Setup: Watch() error")

	require.NoError(t, os.WriteFile(tmpFile, []byte(`{"allowedExtensions": [`), 0600),
		"Setup: failed to write broken config")

	// A failed reload keeps the previous configuration.
	require.Eventually(t, func() bool {
		return cm.IsAllowed("jpg")
	}, time.Second, 10*time.Millisecond, "previous config should survive a broken update")
}
