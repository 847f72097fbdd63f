package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, ".ingot", cfg.Out)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 2*time.Second, cfg.EvalTimeout)
	assert.True(t, cfg.Minify)
	assert.False(t, cfg.Dev)
	assert.False(t, cfg.PostCSS)
	assert.Empty(t, cfg.Pages)
}

func TestPostCSSFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INGOT_POSTCSS", "true")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.True(t, cfg.PostCSS)
}

func TestLoadTOMLPages(t *testing.T) {
	path := writeConfig(t, "ingot.toml", `
root = "site"
out = "build"
addr = ":9000"

[meta]
title = "Widgets"
title_template = "%s | Acme"
base = "https://widgets.example.com"

[[pages]]
path = "apps/todo/page.tsx"
app = true
ssr = true

[[pages]]
path = "about.tsx"
`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "site", cfg.Root)
	assert.Equal(t, filepath.Join("site", "build"), cfg.OutputDir())
	assert.Equal(t, ":9000", cfg.Addr)
	require.Len(t, cfg.Pages, 2)
	assert.Equal(t, PageConfig{Path: "apps/todo/page.tsx", App: true, SSR: true}, cfg.Pages[0])
	assert.Equal(t, "Widgets", cfg.Metadata().Title)
	assert.Equal(t, "%s | Acme", cfg.Metadata().TitleTemplate)
	assert.Equal(t, "https://widgets.example.com", cfg.Metadata().MetadataBase)

	pages, err := cfg.PageList()
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "todo/client.js", filepath.ToSlash(pages[0].Client))
	assert.Equal(t, "todo/server.js", filepath.ToSlash(pages[0].Server))
	assert.Equal(t, "about.js", pages[1].Client)
}

func TestDevEnvDisablesMinifyByDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INGOT_DEV", "1")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.True(t, cfg.Dev)
	assert.False(t, cfg.Minify)
}

func TestExplicitMinifyWinsInDev(t *testing.T) {
	path := writeConfig(t, "ingot.yaml", "dev: true\nminify: true\n")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.True(t, cfg.Dev)
	assert.True(t, cfg.Minify)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{name: "empty out", content: `out = ""`},
		{name: "root out", content: `out = "."`},
		{name: "negative pool", content: `pool_size = -1`},
		{name: "page without path", content: "[[pages]]\napp = true\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "ingot.toml", tc.content)
			_, err := Load(New(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
