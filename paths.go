package ingot

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// canonicalPath returns the absolute, symlink-free form of p.
func canonicalPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// resolveRoot canonicalizes root, falling back to the current directory.
func resolveRoot(root string) (string, error) {
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", runtimeError(err, "failed to read current working directory")
		}
		root = cwd
	}

	canonical, err := canonicalPath(root)
	if err != nil {
		return "", runtimeError(err, "failed to resolve root %s", root)
	}
	return canonical, nil
}

// relativeInside returns p relative to root when p lies inside root.
func relativeInside(root string, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if filepath.IsAbs(rel) {
		return "", false
	}
	return rel, true
}

// importSpecifier turns a root-relative path into a forward-slash specifier.
func importSpecifier(rel string, label string) (string, error) {
	if !utf8.ValidString(rel) {
		return "", validationErrorf("%s must be UTF-8 encodable: %q", label, rel)
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), `\`, "/"), nil
}

func supportedExtension(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	return ext == ".tsx" || ext == ".jsx"
}

func trimExtension(p string) string {
	return strings.TrimSuffix(p, filepath.Ext(p))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
