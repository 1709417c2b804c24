package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
)

// Local stores uploads under a directory served at PublicURL.
type Local struct {
	dir       string
	publicURL string
	now       func() time.Time
	logger    *slog.Logger
}

// NewLocal creates a local media store. publicURL defaults to "/media".
func NewLocal(dir, publicURL string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	if publicURL == "" {
		publicURL = "/media"
	}
	return &Local{
		dir:       dir,
		publicURL: publicURL,
		now:       time.Now,
		logger:    logger.With("component", "media", "backend", "local"),
	}
}

// Put writes the upload to disk.
func (l *Local) Put(_ context.Context, name, contentType string, r io.Reader) (string, error) {
	key, err := Key(l.now(), contentType)
	if err != nil {
		return "", err
	}
	data, err := readLimited(r)
	if err != nil {
		return "", err
	}
	if err := checkContent(contentType, data); err != nil {
		return "", err
	}

	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}

	l.logger.Info("stored upload", "name", name, "key", key, "bytes", len(data))
	return joinURL(l.publicURL, key), nil
}

// Mount serves the stored files under /media/.
func (l *Local) Mount(r *mux.Router) {
	r.PathPrefix("/media/").Handler(http.StripPrefix("/media/", http.FileServer(http.Dir(l.dir)))).Methods("GET", "HEAD")
}
