package ingot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// AppsDir is the reserved top-level directory for app pages.
	AppsDir = "apps"
	// DefaultOutputDir is where bundles land when no output dir is given.
	DefaultOutputDir = ".ingot"

	defaultToolDir = "client"
)

var appEntryFiles = map[string]bool{
	"page.tsx": true,
	"page.jsx": true,
}

// Page declares one buildable entry file. Client, Server and CSS are derived
// from Path, App and SSR by NewPage; Server is empty when no server bundle
// is produced.
type Page struct {
	Path   string
	App    bool
	SSR    bool
	Client string
	Server string
	CSS    string
}

// NewPage builds a page descriptor and derives its output paths.
func NewPage(path string, app bool, ssr bool) Page {
	clientStem, serverStem := deriveOutputStems(path, app, ssr)

	page := Page{
		Path:   path,
		App:    app,
		SSR:    ssr,
		Client: clientStem + ".js",
		CSS:    clientStem + ".css",
	}
	if serverStem != "" {
		page.Server = serverStem + ".js"
	}
	return page
}

func (p Page) String() string {
	return fmt.Sprintf("Page(path=%q, app=%t, ssr=%t, client=%q, server=%q, css=%q)",
		p.Path, p.App, p.SSR, p.Client, p.Server, p.CSS)
}

func deriveOutputStems(path string, app bool, ssr bool) (string, string) {
	if !app {
		stem := trimExtension(path)
		if ssr {
			return stem, stem
		}
		return stem, ""
	}

	tool := toolDirectory(path)
	if tool == "" {
		tool = defaultToolDir
	}

	server := ""
	if ssr {
		server = filepath.Join(tool, "server")
	}
	return filepath.Join(tool, "client"), server
}

// toolDirectory joins the parent segments of path after the first one.
func toolDirectory(path string) string {
	parent := filepath.Dir(filepath.Clean(path))
	if parent == "." || parent == string(filepath.Separator) {
		return ""
	}

	segments := splitSegments(parent)
	if len(segments) <= 1 {
		return ""
	}
	return filepath.Join(segments[1:]...)
}

func splitSegments(path string) []string {
	var segments []string
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "" || part == "." {
			continue
		}
		segments = append(segments, part)
	}
	return segments
}

// Entry is a validated page ready to be bundled.
type Entry struct {
	Source     string
	Import     string
	App        bool
	SSR        bool
	ClientName string
	ServerName string
	CSSPath    string
}

// Normalize validates pages against root and derives the build plan, sorted
// by import specifier. The first violation wins.
func Normalize(pages []Page, root string, outputDir string) ([]Entry, error) {
	if len(pages) == 0 {
		return nil, validationErrorf("`pages` must not be empty; expected at least one .tsx or .jsx file")
	}

	rootCanonical, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(pages))
	outputs := make(map[string]string, len(pages)*2)

	for _, page := range pages {
		entry, err := normalizePage(page, rootCanonical)
		if err != nil {
			return nil, err
		}

		claims := []string{entry.ClientName + ".js"}
		if entry.ServerName != "" {
			claims = append(claims, entry.ServerName+".js")
		}
		for _, output := range claims {
			if previous, ok := outputs[output]; ok {
				return nil, validationErrorf("multiple pages map to the same output %s: %s and %s",
					filepath.Join(outputDir, filepath.FromSlash(output)), previous, entry.Import)
			}
			outputs[output] = entry.Import
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Import < entries[j].Import
	})

	return entries, nil
}

func normalizePage(page Page, root string) (Entry, error) {
	candidate := page.Path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}

	info, err := os.Stat(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, validationErrorf("input path does not exist: %s", page.Path)
		}
		return Entry{}, runtimeError(err, "failed to stat input %s", page.Path)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, validationErrorf("input path is not a file: %s", page.Path)
	}

	if !supportedExtension(candidate) {
		return Entry{}, validationErrorf("input path must end in .tsx or .jsx: %s", page.Path)
	}

	canonical, err := canonicalPath(candidate)
	if err != nil {
		return Entry{}, runtimeError(err, "failed to canonicalize input %s", page.Path)
	}

	rel, ok := relativeInside(root, canonical)
	if !ok {
		return Entry{}, validationErrorf("input path must resolve inside root %s: %s", root, canonical)
	}

	importPath, err := importSpecifier(rel, "input path")
	if err != nil {
		return Entry{}, err
	}

	if page.SSR && !page.App {
		return Entry{}, validationErrorf("page cannot set ssr=true when app=false: %s", page.Path)
	}

	clientStem := trimExtension(rel)
	serverStem := ""
	if page.App {
		if !appEntryFiles[filepath.Base(rel)] {
			return Entry{}, validationErrorf("app pages must target page.tsx or page.jsx: %s", page.Path)
		}

		segments := splitSegments(rel)
		if len(segments) == 0 || segments[0] != AppsDir {
			return Entry{}, validationErrorf("app pages must be inside an %s/ directory: %s", AppsDir, page.Path)
		}

		tool := toolDirectory(rel)
		if tool == "" {
			return Entry{}, validationErrorf("app pages must include at least one segment below %s/: %s", AppsDir, page.Path)
		}

		clientStem = filepath.Join(tool, "client")
		if page.SSR {
			serverStem = filepath.Join(tool, "server")
		}
	}

	clientName, err := importSpecifier(clientStem, "entry name")
	if err != nil {
		return Entry{}, err
	}

	serverName := ""
	if serverStem != "" {
		serverName, err = importSpecifier(serverStem, "server entry name")
		if err != nil {
			return Entry{}, err
		}
	}

	return Entry{
		Source:     canonical,
		Import:     importPath,
		App:        page.App,
		SSR:        page.SSR,
		ClientName: clientName,
		ServerName: serverName,
		CSSPath:    clientName + ".css",
	}, nil
}

// DiscoverPages returns an app page for every apps/**/page.tsx or page.jsx
// below root, sorted by path.
func DiscoverPages(root string, ssr bool) ([]Page, error) {
	rootCanonical, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}

	appsRoot := filepath.Join(rootCanonical, AppsDir)
	if !dirExists(appsRoot) {
		return nil, nil
	}

	var pages []Page
	err = filepath.WalkDir(appsRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".") && path != appsRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if !appEntryFiles[d.Name()] {
			return nil
		}

		rel, err := filepath.Rel(rootCanonical, path)
		if err != nil {
			return err
		}
		if toolDirectory(rel) == "" {
			return nil
		}
		pages = append(pages, NewPage(rel, true, ssr))
		return nil
	})
	if err != nil {
		return nil, runtimeError(err, "discover pages in %s", appsRoot)
	}

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].Path < pages[j].Path
	})
	return pages, nil
}
