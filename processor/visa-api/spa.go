package visaapi

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// spaHandler serves the client application. Paths matching one of the asset
// patterns are served from dir or 404; every other path gets index.html so
// client-side routes survive a reload.
type spaHandler struct {
	dir      string
	patterns []string
	logger   *slog.Logger
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if rel != "" && h.isAsset(rel) {
		h.serveFile(w, r, rel, false)
		return
	}
	h.serveFile(w, r, "index.html", true)
}

// isAsset reports whether rel matches any configured pattern.
func (h *spaHandler) isAsset(rel string) bool {
	for _, p := range h.patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (h *spaHandler) serveFile(w http.ResponseWriter, r *http.Request, rel string, entry bool) {
	f, err := os.Open(filepath.Join(h.dir, filepath.FromSlash(rel)))
	if err == nil {
		defer f.Close()
		var info fs.FileInfo
		if info, err = f.Stat(); err == nil && !info.IsDir() {
			if entry {
				w.Header().Set("Cache-Control", "no-cache")
			}
			http.ServeContent(w, r, info.Name(), info.ModTime(), f)
			return
		}
		if err == nil {
			err = fs.ErrNotExist
		}
	}

	if !errors.Is(err, fs.ErrNotExist) {
		h.logger.Error("Failed to serve client file", "path", rel, "error", err)
	}
	if entry {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Client application not found"})
		return
	}
	http.NotFound(w, r)
}
