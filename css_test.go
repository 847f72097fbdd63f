package ingot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanStylesheetImports(t *testing.T) {
	cases := []struct {
		name   string
		source string
		want   []string
	}{
		{name: "side effect import", source: `import "./styles.css";`, want: []string{"./styles.css"}},
		{name: "single quotes", source: `import './styles.css'`, want: []string{"./styles.css"}},
		{name: "default import", source: `import styles from "./theme.css";`, want: []string{"./theme.css"}},
		{name: "named import", source: `import { a } from "./named.css";`, want: []string{"./named.css"}},
		{name: "dynamic import ignored", source: `const s = import("./lazy.css");`, want: nil},
		{name: "bare dynamic import ignored", source: `import("./lazy.css");`, want: nil},
		{name: "js import ignored", source: `import App from "./App";`, want: nil},
		{
			name:   "several statements per line",
			source: `import "./a.css"; import b from "./b.css"; import c from "./c";`,
			want:   []string{"./a.css", "./b.css"},
		},
		{
			name:   "source order and duplicates kept",
			source: "import \"./b.css\";\nimport React from \"react\";\nimport \"./a.css\";\nimport \"./b.css\";\n",
			want:   []string{"./b.css", "./a.css", "./b.css"},
		},
		{name: "bare package stylesheet", source: `import "pkg/dist/styles.css";`, want: []string{"pkg/dist/styles.css"}},
		{name: "identifier starting with import", source: `importer("./x.css");`, want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, scanStylesheetImports(tc.source))
		})
	}
}

func TestImportStack(t *testing.T) {
	var stack importStack
	stack.push("/a.css")
	stack.push("/b.css")

	assert.True(t, stack.contains("/a.css"))
	assert.Equal(t, "/a.css -> /b.css -> /a.css", stack.chain("/a.css"))

	stack.pop()
	assert.False(t, stack.contains("/b.css"))
	stack.pop()
	stack.pop()
	assert.False(t, stack.contains("/a.css"))
}

func buildCSSFor(t *testing.T, root string, page Page, minify bool) (string, error) {
	t.Helper()
	entries, err := Normalize([]Page{page}, root, DefaultOutputDir)
	require.NoError(t, err)

	outDir := filepath.Join(root, DefaultOutputDir)
	if err := BuildCSS(entries, root, outDir, minify); err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(entries[0].CSSPath)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func TestBuildCSSInlinesNestedImports(t *testing.T) {
	root := canonicalTempDir(t)
	writeFile(t, root, "apps/todo/page.tsx", "import \"./styles.css\";\nimport \"./extra.css\";\nexport default function App() { return null; }\n")
	writeFile(t, root, "apps/todo/styles.css", "@import \"./base.css\";\n.todo { color: red; }")
	writeFile(t, root, "apps/todo/base.css", "@import url(\"https://fonts.example/inter.css\");\nbody { margin: 0; }\n")
	writeFile(t, root, "apps/todo/extra.css", ".extra { display: none; }\n")

	css, err := buildCSSFor(t, root, NewPage("apps/todo/page.tsx", true, false), false)
	require.NoError(t, err)

	want := "@import url(\"https://fonts.example/inter.css\");\nbody { margin: 0; }\n.todo { color: red; }\n.extra { display: none; }\n"
	assert.Equal(t, want, css)
}

func TestBuildCSSMinifies(t *testing.T) {
	root := canonicalTempDir(t)
	writeFile(t, root, "about.tsx", `import "./about.css";`)
	writeFile(t, root, "about.css", "\n  .a {\n    color: red;\n  }\n\n\n.b { }\n")

	css, err := buildCSSFor(t, root, NewPage("about.tsx", false, false), true)
	require.NoError(t, err)
	assert.Equal(t, ".a {\ncolor: red;\n}\n.b { }\n", css)
}

func TestBuildCSSResolvesNodeModules(t *testing.T) {
	root := canonicalTempDir(t)
	writeFile(t, root, "apps/todo/page.tsx", "import \"ui-kit\";\nimport \"ui-kit/reset.css\";\nimport \"themes/dark.css\";\n")
	writeFile(t, root, "node_modules/ui-kit/package.json", `{"name":"ui-kit","exports":{".":{"style":"./dist/kit.css","import":"./dist/index.js"}}}`)
	writeFile(t, root, "node_modules/ui-kit/dist/kit.css", ".kit {}\n")
	writeFile(t, root, "node_modules/ui-kit/reset.css", "* { box-sizing: border-box; }\n")
	writeFile(t, root, "apps/todo/node_modules/themes/dark.css", ".dark {}\n")

	page := NewPage("apps/todo/page.tsx", true, false)
	entries, err := Normalize([]Page{page}, root, DefaultOutputDir)
	require.NoError(t, err)

	// "ui-kit" has no .css suffix, so only the two .css specifiers are scanned.
	source, err := os.ReadFile(entries[0].Source)
	require.NoError(t, err)
	assert.Equal(t, []string{"ui-kit/reset.css", "themes/dark.css"}, scanStylesheetImports(string(source)))

	css, err := buildCSSFor(t, root, page, false)
	require.NoError(t, err)
	assert.Equal(t, "* { box-sizing: border-box; }\n.dark {}\n", css)

	resolved, err := resolveStylesheet("ui-kit", entries[0].Source, root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "node_modules", "ui-kit", "dist", "kit.css"), resolved)
}

func TestResolveStylesheetPackageWithoutStyleExport(t *testing.T) {
	root := canonicalTempDir(t)
	importer := writeFile(t, root, "apps/todo/page.tsx", "")
	writeFile(t, root, "node_modules/plain/package.json", `{"name":"plain","exports":{".":{"import":"./index.js"}}}`)
	writeFile(t, root, "node_modules/stringy/package.json", `{"name":"stringy","exports":"./index.js"}`)

	_, err := resolveStylesheet("plain", importer, root)
	requireValidation(t, err, `"plain"`)

	_, err = resolveStylesheet("stringy", importer, root)
	requireValidation(t, err, `exports["."].style`)

	_, err = resolveStylesheet("absent", importer, root)
	requireValidation(t, err, `"absent"`)
}

func TestResolveStylesheetStopsAtRoot(t *testing.T) {
	parent := canonicalTempDir(t)
	root := filepath.Join(parent, "project")
	importer := writeFile(t, root, "apps/todo/page.tsx", "")
	writeFile(t, parent, "node_modules/shared/theme.css", ".shared {}\n")

	_, err := resolveStylesheet("shared/theme.css", importer, root)
	requireValidation(t, err, "not found in node_modules")
}

func TestBuildCSSDetectsCycles(t *testing.T) {
	root := canonicalTempDir(t)
	writeFile(t, root, "about.tsx", `import "./a.css";`)
	writeFile(t, root, "a.css", "@import \"./b.css\";\n.a {}\n")
	writeFile(t, root, "b.css", "@import './a.css';\n.b {}\n")

	_, err := buildCSSFor(t, root, NewPage("about.tsx", false, false), false)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRuntime), "want runtime error, got %v", err)
	assert.Contains(t, err.Error(), "cyclic stylesheet import")
	assert.Contains(t, err.Error(), filepath.Join(root, "a.css")+" -> "+filepath.Join(root, "b.css")+" -> "+filepath.Join(root, "a.css"))
}

func TestBuildCSSAllowsDiamondImports(t *testing.T) {
	root := canonicalTempDir(t)
	writeFile(t, root, "about.tsx", `import "./a.css"; import "./b.css";`)
	writeFile(t, root, "a.css", "@import \"./shared.css\";\n")
	writeFile(t, root, "b.css", "@import \"./shared.css\";\n")
	writeFile(t, root, "shared.css", ".shared {}\n")

	css, err := buildCSSFor(t, root, NewPage("about.tsx", false, false), true)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(css, ".shared {}"))
}

func TestBuildCSSMissingRelativeStylesheet(t *testing.T) {
	root := canonicalTempDir(t)
	writeFile(t, root, "about.tsx", `import "./missing.css";`)

	_, err := buildCSSFor(t, root, NewPage("about.tsx", false, false), false)
	requireValidation(t, err, "missing.css")
}

func TestBuildCSSRemovesStaleOutput(t *testing.T) {
	root := canonicalTempDir(t)
	writeFile(t, root, "about.tsx", "export default () => null;")
	stale := writeFile(t, root, ".ingot/about.css", ".old {}")

	entries, err := Normalize([]Page{NewPage("about.tsx", false, false)}, root, DefaultOutputDir)
	require.NoError(t, err)
	require.NoError(t, BuildCSS(entries, root, DefaultOutputDir, false))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale css should be removed")

	// Nothing to remove is fine too.
	require.NoError(t, BuildCSS(entries, root, DefaultOutputDir, false))
}
