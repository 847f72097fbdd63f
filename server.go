package ingot

import (
	"crypto/sha1"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// HandlerOptions configures Handler. Meta applies to every page;
// PageMeta, keyed by Page.Path, overrides it per page.
type HandlerOptions struct {
	Runtime  *Runtime
	Meta     Metadata
	PageMeta map[string]Metadata
	Logger   *Logger
}

// PageRoute is the URL path a page is served at: the tool directory for
// app pages, the output stem otherwise.
func PageRoute(page Page) string {
	if page.App {
		return ensureLeadingSlash(path.Dir(filepath.ToSlash(page.Client)))
	}
	return ensureLeadingSlash(filepath.ToSlash(trimExtension(page.Client)))
}

type pageHandler struct {
	outputDir string
	routes    map[string]Page
	private   map[string]bool
	opts      HandlerOptions
	logger    *Logger
	assets    assetRoot
}

// Handler serves each page's rendered document at PageRoute and every
// other file under outputDir as a static asset. Server bundles are never
// served.
func Handler(outputDir string, pages []Page, opts HandlerOptions) (http.Handler, error) {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}

	routes := make(map[string]Page, len(pages))
	private := map[string]bool{}
	for _, page := range pages {
		if page.Server != "" {
			private[path.Clean(filepath.ToSlash(page.Server))] = true
		}
		route := PageRoute(page)
		if existing, ok := routes[route]; ok {
			return nil, validationErrorf("pages %s and %s both route to %s", existing.Path, page.Path, route)
		}
		routes[route] = page
	}

	outputFS := os.DirFS(outputDir)
	return &pageHandler{
		outputDir: outputDir,
		routes:    routes,
		private:   private,
		opts:      opts,
		logger:    loggerOrDefault(opts.Logger),
		assets: assetRoot{
			fs:         outputFS,
			fileServer: http.FileServer(http.FS(outputFS)),
		},
	}, nil
}

func (h *pageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if page, ok := h.routes[cleanRequestPath(r.URL.Path)]; ok {
		h.servePage(w, r, page)
		return
	}

	assetPath := normalizeAssetPath(r.URL.Path)
	if assetPath != "" && !h.private[assetPath] && h.assets.assetExists(assetPath) {
		addCacheHeaders(w, h.assets, assetPath)
		h.assets.serve(w, r, assetPath)
		return
	}

	http.NotFound(w, r)
}

func (h *pageHandler) servePage(w http.ResponseWriter, r *http.Request, page Page) {
	meta := h.opts.Meta
	if override, ok := h.opts.PageMeta[page.Path]; ok {
		meta = override.Merge(meta)
	}

	doc, err := RenderPage(r.Context(), h.opts.Runtime, h.outputDir, page, meta)
	if err != nil {
		h.logger.Error("render failed", "page", page.Path, "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(doc.ToHTML()))
}

type assetRoot struct {
	fs         fs.FS
	fileServer http.Handler
}

func (r assetRoot) assetExists(relPath string) bool {
	if r.fs == nil {
		return false
	}

	info, err := fs.Stat(r.fs, relPath)
	if err != nil {
		return false
	}

	return !info.IsDir()
}

func (r assetRoot) serve(w http.ResponseWriter, req *http.Request, relPath string) {
	if r.fileServer == nil {
		http.NotFound(w, req)
		return
	}

	cloned := req.Clone(req.Context())
	cloned.URL.Path = "/" + relPath
	r.fileServer.ServeHTTP(w, cloned)
}

func (r assetRoot) assetMeta(relPath string) (string, time.Time) {
	if r.fs == nil {
		return "", time.Time{}
	}

	info, err := fs.Stat(r.fs, relPath)
	if err != nil {
		return "", time.Time{}
	}

	data, err := fs.ReadFile(r.fs, relPath)
	if err != nil {
		return "", info.ModTime()
	}

	sum := sha1.Sum(data)
	etag := fmt.Sprintf(`"%x"`, sum)
	return etag, info.ModTime()
}

// addCacheHeaders makes clients revalidate: output names are stable across
// rebuilds, so freshness comes from the ETag.
func addCacheHeaders(w http.ResponseWriter, root assetRoot, relPath string) {
	w.Header().Set("Cache-Control", "no-cache")

	etag, modTime := root.assetMeta(relPath)
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	if !modTime.IsZero() {
		w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	}
}

func cleanRequestPath(p string) string {
	if p == "" {
		return "/"
	}
	clean := path.Clean(ensureLeadingSlash(p))
	if clean != "/" {
		clean = strings.TrimSuffix(clean, "/")
	}
	return clean
}

func normalizeAssetPath(requestPath string) string {
	if requestPath == "" {
		return ""
	}

	trimmed := strings.TrimPrefix(requestPath, "/")
	clean := path.Clean(trimmed)
	if clean == "." || clean == "" {
		return ""
	}
	if strings.HasPrefix(clean, "..") {
		return ""
	}

	return clean
}

func ensureLeadingSlash(p string) string {
	if p == "" {
		return "/"
	}
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
