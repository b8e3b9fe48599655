package router

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Static serves the web client and icon files for unmatched GET requests.
type Static struct {
	webDir   string
	iconsDir string
	blocked  []string
}

func NewStatic(webDir, iconsDir string, blocked []string) *Static {
	return &Static{webDir: webDir, iconsDir: iconsDir, blocked: blocked}
}

// Serve writes the file for r and reports whether one was found.
func (s *Static) Serve(w http.ResponseWriter, r *http.Request) bool {
	urlPath := r.URL.Path
	if !strings.HasPrefix(urlPath, "/") {
		return false
	}
	for _, prefix := range s.blocked {
		if prefix != "" && strings.HasPrefix(urlPath, prefix) {
			return false
		}
	}
	for _, segment := range strings.Split(urlPath, "/") {
		if strings.HasPrefix(segment, ".") {
			return false
		}
	}

	root, rel := s.webDir, urlPath
	if strings.HasPrefix(urlPath, "/icons/") {
		root, rel = s.iconsDir, strings.TrimPrefix(urlPath, "/icons")
	}
	if root == "" {
		return false
	}
	if strings.HasSuffix(rel, "/") {
		rel += "index.html"
	}

	file, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return false
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
	return true
}
