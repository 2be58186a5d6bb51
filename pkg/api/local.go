package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/perflab/labdash/pkg/config"
	"github.com/sirupsen/logrus"
)

// localFileServer serves artifact files directly from the local
// filesystem. Each named root maps to an absolute directory; the first
// segment of an incoming request path selects the root and the remainder
// is resolved relative to it.
type localFileServer struct {
	log   logrus.FieldLogger
	roots map[string]string
}

// newLocalFileServer creates a new local file server from the given config.
func newLocalFileServer(
	log logrus.FieldLogger,
	cfg *config.APILocalStorageConfig,
) *localFileServer {
	roots := make(map[string]string, len(cfg.Roots))
	for name, dir := range cfg.Roots {
		roots[name] = filepath.Clean(dir)
	}

	return &localFileServer{
		log:   log.WithField("component", "local-file-server"),
		roots: roots,
	}
}

// ServeFile resolves filePath against its named root and serves it via
// http.ServeFile. Returns an error when the path is disallowed or the
// root is unknown.
func (l *localFileServer) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	name, rel, ok := strings.Cut(filePath, "/")
	if !ok || rel == "" {
		return fmt.Errorf("path %q does not name a storage root", filePath)
	}

	root, ok := l.roots[name]
	if !ok {
		return fmt.Errorf("unknown storage root %q", name)
	}

	full := filepath.Join(root, filepath.FromSlash(rel))

	// Defense-in-depth: ensure the resolved path stays under root.
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf("file %q not found", filePath)
	}

	http.ServeFile(w, r, full)

	return nil
}

// isAllowedPath rejects empty, absolute, unclean, or traversal request paths.
func isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	// Reject paths that start with a slash (absolute paths).
	if filepath.IsAbs(filePath) {
		return false
	}

	// Ensure the path is clean (no double slashes, trailing slashes, etc.).
	return path.Clean(filePath) == filePath
}
