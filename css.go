package ingot

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const packageManifest = "package.json"

// BuildCSS writes one stylesheet bundle per entry that statically imports
// CSS, and removes stale bundles for entries that no longer do.
func BuildCSS(entries []Entry, root string, outputDir string, minify bool) error {
	rootCanonical, err := resolveRoot(root)
	if err != nil {
		return err
	}

	outDir := outputDir
	if outDir == "" {
		outDir = DefaultOutputDir
	}
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(rootCanonical, outDir)
	}

	for _, entry := range entries {
		if err := buildEntryCSS(entry, rootCanonical, outDir, minify); err != nil {
			return err
		}
	}
	return nil
}

func buildEntryCSS(entry Entry, root string, outDir string, minify bool) error {
	outputPath := filepath.Join(outDir, filepath.FromSlash(entry.CSSPath))

	source, err := os.ReadFile(entry.Source)
	if err != nil {
		return runtimeError(err, "failed to read %s", entry.Import)
	}

	specifiers := scanStylesheetImports(string(source))
	if len(specifiers) == 0 {
		if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return runtimeError(err, "failed to remove stale css output %s", outputPath)
		}
		return nil
	}

	var b strings.Builder
	for _, specifier := range specifiers {
		resolved, err := resolveStylesheet(specifier, entry.Source, root)
		if err != nil {
			return err
		}

		bundle, err := inlineStylesheet(resolved, root, &importStack{})
		if err != nil {
			return err
		}
		b.WriteString(bundle)
		if !strings.HasSuffix(bundle, "\n") {
			b.WriteString("\n")
		}
	}

	css := b.String()
	if minify {
		css = minifyCSS(css)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return runtimeError(err, "failed to create css output dir for %s", entry.Import)
	}
	if err := os.WriteFile(outputPath, []byte(css), 0644); err != nil {
		return runtimeError(err, "failed to write css output %s", outputPath)
	}
	return nil
}

// scanStylesheetImports returns the static stylesheet imports of a JS/TS
// source, in source order.
func scanStylesheetImports(source string) []string {
	var specifiers []string

	for _, line := range strings.Split(source, "\n") {
		for _, statement := range strings.Split(line, ";") {
			specifier, ok := staticImportSpecifier(strings.TrimSpace(statement))
			if !ok || !strings.HasSuffix(specifier, ".css") {
				continue
			}
			specifiers = append(specifiers, specifier)
		}
	}

	return specifiers
}

func staticImportSpecifier(statement string) (string, bool) {
	rest, ok := strings.CutPrefix(statement, "import")
	if !ok {
		return "", false
	}

	// import(...) is dynamic; importFoo is an identifier.
	trimmed := strings.TrimLeft(rest, " \t")
	if trimmed == "" || trimmed[0] == '(' {
		return "", false
	}
	if rest == trimmed && trimmed[0] != '"' && trimmed[0] != '\'' && trimmed[0] != '{' && trimmed[0] != '*' {
		return "", false
	}

	if trimmed[0] == '"' || trimmed[0] == '\'' {
		return firstQuoted(trimmed)
	}

	idx := strings.Index(trimmed, " from ")
	if idx < 0 {
		idx = strings.Index(trimmed, "}from")
		if idx < 0 {
			return "", false
		}
		idx++
	}
	return firstQuoted(trimmed[idx:])
}

// firstQuoted returns the first "..." or '...' literal in s.
func firstQuoted(s string) (string, bool) {
	start := strings.IndexAny(s, `"'`)
	if start < 0 {
		return "", false
	}
	quote := s[start]
	end := strings.IndexByte(s[start+1:], quote)
	if end < 0 {
		return "", false
	}
	return s[start+1 : start+1+end], true
}

// importStack tracks stylesheets currently being inlined.
type importStack struct {
	paths []string
}

func (s *importStack) push(path string) {
	s.paths = append(s.paths, path)
}

func (s *importStack) pop() {
	if len(s.paths) == 0 {
		return
	}
	s.paths = s.paths[:len(s.paths)-1]
}

func (s *importStack) contains(path string) bool {
	for _, p := range s.paths {
		if p == path {
			return true
		}
	}
	return false
}

func (s *importStack) chain(next string) string {
	parts := append(append([]string{}, s.paths...), next)
	return strings.Join(parts, " -> ")
}

func inlineStylesheet(path string, root string, stack *importStack) (string, error) {
	if stack.contains(path) {
		return "", runtimeError(nil, "cyclic stylesheet import: %s", stack.chain(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", runtimeError(err, "failed to read stylesheet %s", path)
	}

	stack.push(path)
	defer stack.pop()

	lines := strings.Split(string(data), "\n")
	var b strings.Builder
	for i, line := range lines {
		specifier, ok := stylesheetImport(line)
		if !ok {
			b.WriteString(line)
			if i < len(lines)-1 {
				b.WriteString("\n")
			}
			continue
		}

		resolved, err := resolveStylesheet(specifier, path, root)
		if err != nil {
			return "", err
		}
		inlined, err := inlineStylesheet(resolved, root, stack)
		if err != nil {
			return "", err
		}
		b.WriteString(inlined)
		if !strings.HasSuffix(inlined, "\n") {
			b.WriteString("\n")
		}
	}

	return b.String(), nil
}

// stylesheetImport extracts the specifier of an @import "..." line. url()
// imports stay literal.
func stylesheetImport(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "@import")
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(strings.ToLower(rest), "url(") {
		return "", false
	}
	if rest == "" || (rest[0] != '"' && rest[0] != '\'') {
		return "", false
	}
	return firstQuoted(rest)
}

func resolveStylesheet(specifier string, importer string, root string) (string, error) {
	switch {
	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		resolved := filepath.Join(filepath.Dir(importer), filepath.FromSlash(specifier))
		if !fileExists(resolved) {
			return "", validationErrorf("stylesheet %q imported from %s not found at %s", specifier, importer, resolved)
		}
		return resolved, nil
	case filepath.IsAbs(specifier):
		if !fileExists(specifier) {
			return "", validationErrorf("stylesheet %q imported from %s not found", specifier, importer)
		}
		return filepath.Clean(specifier), nil
	case strings.HasSuffix(specifier, ".css"):
		resolved, ok := findInNodeModules(specifier, importer, root, fileExists)
		if !ok {
			return "", validationErrorf("stylesheet %q imported from %s not found in node_modules", specifier, importer)
		}
		return resolved, nil
	default:
		pkgDir, ok := findInNodeModules(specifier, importer, root, dirExists)
		if !ok {
			return "", validationErrorf("package %q imported from %s not found in node_modules", specifier, importer)
		}
		return packageStyleEntry(specifier, pkgDir)
	}
}

// findInNodeModules walks from the importer's directory up to root inclusive,
// probing node_modules/<specifier> at each level.
func findInNodeModules(specifier string, importer string, root string, exists func(string) bool) (string, bool) {
	dir := filepath.Dir(importer)
	for {
		candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(specifier))
		if exists(candidate) {
			return candidate, true
		}

		if dir == root {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		if _, inside := relativeInside(root, parent); !inside && parent != root {
			return "", false
		}
		dir = parent
	}
}

type packageExports struct {
	Exports json.RawMessage `json:"exports"`
}

func packageStyleEntry(name string, pkgDir string) (string, error) {
	manifestPath := filepath.Join(pkgDir, packageManifest)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", validationErrorf("package %q has no %s", name, packageManifest)
		}
		return "", runtimeError(err, "failed to read %s", manifestPath)
	}

	var manifest packageExports
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", validationErrorf("package %q has an invalid %s: %v", name, packageManifest, err)
	}

	style, ok := exportedStyle(manifest.Exports)
	if !ok {
		return "", validationErrorf(`package %q does not declare exports["."].style`, name)
	}

	resolved := filepath.Join(pkgDir, filepath.FromSlash(style))
	if !fileExists(resolved) {
		return "", validationErrorf("package %q style export %s not found", name, style)
	}
	return resolved, nil
}

func exportedStyle(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var exports map[string]json.RawMessage
	if err := json.Unmarshal(raw, &exports); err != nil {
		return "", false
	}
	dot, ok := exports["."]
	if !ok {
		return "", false
	}

	var conditions map[string]json.RawMessage
	if err := json.Unmarshal(dot, &conditions); err != nil {
		return "", false
	}
	styleRaw, ok := conditions["style"]
	if !ok {
		return "", false
	}

	var style string
	if err := json.Unmarshal(styleRaw, &style); err != nil || style == "" {
		return "", false
	}
	return style, true
}

// minifyCSS drops blank lines and surrounding whitespace, line by line.
func minifyCSS(css string) string {
	var b strings.Builder
	for _, line := range strings.Split(css, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		b.WriteString(trimmed)
		b.WriteString("\n")
	}
	return b.String()
}
