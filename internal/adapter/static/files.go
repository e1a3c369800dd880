package static

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const noCache = "no-cache, no-store, must-revalidate"

var contentTypes = map[string]string{
	".css":   "text/css; charset=utf-8",
	".html":  "text/html; charset=utf-8",
	".js":    "text/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

var (
	closeBodyRe = regexp.MustCompile(`(?i)</body>`)
	closeHeadRe = regexp.MustCompile(`(?i)</head>`)
)

// Handler serves files under a root directory. When reloadPath is set, HTML
// pages get a small client that reloads the page on server events.
type Handler struct {
	root       string
	reloadPath string
}

// NewHandler creates a file handler for root. An empty reloadPath disables
// snippet injection.
func NewHandler(root, reloadPath string) *Handler {
	return &Handler{root: filepath.Clean(root), reloadPath: reloadPath}
}

// ServeHTTP serves the file the request path maps to.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filePath, ok := h.resolve(r.URL.Path)
	if !ok {
		writeText(w, http.StatusForbidden, "Forbidden")
		return
	}

	if info, err := os.Stat(filePath); err == nil && info.IsDir() {
		filePath = filepath.Join(filePath, "index.html")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeText(w, http.StatusNotFound, "Not Found")
			return
		}
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	w.Header().Set("Content-Type", ContentType(ext))
	w.Header().Set("Cache-Control", noCache)

	if ext == ".html" {
		data = []byte(InjectReload(string(data), h.reloadPath))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// resolve maps a request path to a file under the root. Paths ending in a
// slash map to index.html. It reports false when the result escapes the root.
func (h *Handler) resolve(urlPath string) (string, bool) {
	if urlPath == "" || strings.HasSuffix(urlPath, "/") {
		urlPath += "index.html"
	}
	if strings.Contains(urlPath, "\x00") {
		return "", false
	}
	clean := path.Clean("/" + urlPath)
	full := filepath.Join(h.root, filepath.FromSlash(clean))
	if full != h.root && !strings.HasPrefix(full, h.root+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// ContentType returns the content type for a lower-case file extension.
func ContentType(ext string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// InjectReload adds the live-reload client to an HTML document, before
// </body> if present, else before </head>, else at the end. Documents that
// already reference reloadPath are returned unchanged, as is everything when
// reloadPath is empty.
func InjectReload(html, reloadPath string) string {
	if reloadPath == "" || strings.Contains(html, reloadPath) {
		return html
	}
	snippet := reloadSnippet(reloadPath)

	if loc := closeBodyRe.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + snippet + html[loc[0]:]
	}
	if loc := closeHeadRe.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + snippet + html[loc[0]:]
	}
	return html + snippet
}

func reloadSnippet(reloadPath string) string {
	return fmt.Sprintf(`
<!-- devserve live reload -->
<script>
(() => {
  if (window.__devServerLiveReloadInstalled) return;
  window.__devServerLiveReloadInstalled = true;
  if (typeof EventSource === 'undefined') return;
  const es = new EventSource('%s');
  es.addEventListener('reload', () => window.location.reload());
})();
</script>
`, reloadPath)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
