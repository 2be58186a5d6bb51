package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perflab/labdash/pkg/config"
)

func TestIsAllowedPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "valid simple path", path: "buildlogs/ps-42/build.log", expected: true},
		{name: "valid top-level file", path: "runlogs/run.txt", expected: true},
		{name: "empty path", path: "", expected: false},
		{name: "path traversal", path: "buildlogs/../../etc/passwd", expected: false},
		{name: "dot dot only", path: "..", expected: false},
		{name: "absolute path", path: "/etc/passwd", expected: false},
		{name: "trailing slash", path: "buildlogs/ps-42/", expected: false},
		{name: "double slash", path: "buildlogs//ps-42", expected: false},
		{name: "dot segment", path: "buildlogs/./ps-42", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isAllowedPath(tt.path))
		})
	}
}

func TestLocalFileServer_ServeFile(t *testing.T) {
	root := t.TempDir()
	logDir := filepath.Join(root, "ps-42")
	require.NoError(t, os.MkdirAll(logDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(logDir, "build.log"), []byte("applying patch 1/3\n"), 0o644,
	))

	srv := newLocalFileServer(logrus.New(), &config.APILocalStorageConfig{
		Enabled: true,
		Roots:   map[string]string{"buildlogs": root},
	})

	t.Run("serves existing file", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/files/buildlogs/ps-42/build.log", nil)

		err := srv.ServeFile(rec, req, "buildlogs/ps-42/build.log")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "applying patch")
	})

	t.Run("unknown root", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/files/secrets/x", nil)

		err := srv.ServeFile(rec, req, "secrets/x")
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/files/buildlogs/nope.log", nil)

		err := srv.ServeFile(rec, req, "buildlogs/nope.log")
		require.Error(t, err)
	})

	t.Run("bare root name", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/files/buildlogs", nil)

		err := srv.ServeFile(rec, req, "buildlogs")
		require.Error(t, err)
	})
}
