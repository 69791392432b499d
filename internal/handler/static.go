package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	indexFile = "index.html"
	// Build output under assets/ carries content hashes in its file names.
	hashedAssetsDir = "assets/"
)

// SPAHandler serves the built web client. Paths that match no file resolve
// to index.html so client routes such as /session/ABCD survive a reload.
type SPAHandler struct {
	root   string
	prefix string
}

func NewSPAHandler(staticDir, prefix string) *SPAHandler {
	return &SPAHandler{root: staticDir, prefix: strings.TrimSuffix(prefix, "/")}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, h.prefix), "/")
	if rel == "api" || strings.HasPrefix(rel, "api/") || hasDotDot(rel) {
		http.NotFound(w, r)
		return
	}

	rel = strings.TrimPrefix(filepath.Clean("/"+rel), "/")
	if rel != "" {
		full := filepath.Join(h.root, filepath.FromSlash(rel))
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			if strings.HasPrefix(rel, hashedAssetsDir) {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			}
			http.ServeFile(w, r, full)
			return
		}
	}

	index := filepath.Join(h.root, indexFile)
	if _, err := os.Stat(index); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, index)
}

func hasDotDot(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func StaticFileServer(staticDir, prefix string) http.Handler {
	return NewSPAHandler(staticDir, prefix)
}
