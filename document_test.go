package ingot

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentToHTML(t *testing.T) {
	doc := &Document{
		HTML:     "<h1>Todo</h1>",
		ClientJS: `console.log("</script><script>alert(1)")`,
		CSS:      `.a::after { content: "</STYLE>"; }`,
		Meta: Metadata{
			Title:         "Todo",
			TitleTemplate: "%s | Ingot",
			Description:   `Lists & "things"`,
			URL:           "https://example.com/todo",
			Image:         "https://cdn.example.com/todo.png",
			OGType:        "product",
		},
	}

	out := doc.ToHTML()

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<title>Todo | Ingot</title>")
	assert.Contains(t, out, `<meta property="og:title" content="Todo | Ingot">`)
	assert.Contains(t, out, `<meta name="description" content="Lists &amp; &#34;things&#34;">`)
	assert.Contains(t, out, `<link rel="canonical" href="https://example.com/todo">`)
	assert.Contains(t, out, `<meta property="og:url" content="https://example.com/todo">`)
	assert.Contains(t, out, `<meta property="og:image" content="https://cdn.example.com/todo.png">`)
	assert.Contains(t, out, `<meta property="og:type" content="product">`)
	assert.Contains(t, out, `<div id="root"><h1>Todo</h1></div>`)

	assert.Contains(t, out, `<style>.a::after { content: "<\/STYLE>"; }</style>`)
	assert.Contains(t, out, `<script type="module">console.log("<\/script><script>alert(1)")</script>`)
	assert.Equal(t, 1, strings.Count(out, "</script>"))
	assert.Equal(t, 1, strings.Count(strings.ToLower(out), "</style>"))
}

func TestDocumentToHTMLDefaults(t *testing.T) {
	out := (&Document{}).ToHTML()

	assert.Contains(t, out, "<title>Page</title>")
	assert.Contains(t, out, `<meta property="og:type" content="website">`)
	assert.Contains(t, out, `<div id="root"></div>`)
	assert.NotContains(t, out, "<style>")
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "description")
	assert.NotContains(t, out, "canonical")
}

func TestMetadataMergeAndTitle(t *testing.T) {
	site := Metadata{Title: "Site", TitleTemplate: "%s · Docs", Description: "site wide", OGType: "website"}
	page := Metadata{Title: "Guide", Canonical: "https://example.com/guide"}

	merged := page.Merge(site)
	assert.Equal(t, Metadata{
		Title:         "Guide",
		TitleTemplate: "%s · Docs",
		Description:   "site wide",
		Canonical:     "https://example.com/guide",
		OGType:        "website",
	}, merged)
	assert.Equal(t, "Guide · Docs", merged.title())

	assert.Equal(t, "Plain", Metadata{Title: "Plain", TitleTemplate: "no placeholder"}.title())

	// Canonical stands in for URL when URL is empty.
	assert.Contains(t, buildHead(merged), `<link rel="canonical" href="https://example.com/guide">`)
}

func TestMetadataResolvesAgainstBase(t *testing.T) {
	cases := []struct {
		name  string
		base  string
		value string
		want  string
	}{
		{name: "relative path", base: "https://example.com", value: "images/og.png", want: "https://example.com/images/og.png"},
		{name: "base with path", base: "https://example.com/docs", value: "og.png", want: "https://example.com/docs/og.png"},
		{name: "root relative", base: "https://example.com/docs/", value: "/og.png", want: "https://example.com/og.png"},
		{name: "base query dropped", base: "https://example.com/docs?x=1#top", value: "og.png", want: "https://example.com/docs/og.png"},
		{name: "absolute value", base: "https://example.com", value: "https://cdn.example.com/og.png", want: "https://cdn.example.com/og.png"},
		{name: "protocol relative", base: "https://example.com", value: "//cdn.example.com/og.png", want: "//cdn.example.com/og.png"},
		{name: "no base", value: "og.png", want: "og.png"},
		{name: "base without host", base: "/docs", value: "og.png", want: "og.png"},
		{name: "empty value", base: "https://example.com", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Metadata{MetadataBase: tc.base}.resolveURL(tc.value))
		})
	}
}

func TestBuildHeadExtendedMetadata(t *testing.T) {
	page := Metadata{Title: "Store", Canonical: "/store", Image: "og/store.png"}
	site := Metadata{
		MetadataBase: "https://shop.example.com",
		Robots:       "index, follow",
		Icon:         "/favicon.ico",
		TwitterCard:  "summary_large_image",
		Description:  "Shop",
	}

	head := buildHead(page.Merge(site))

	assert.Contains(t, head, `<link rel="canonical" href="https://shop.example.com/store">`)
	assert.Contains(t, head, `<meta property="og:image" content="https://shop.example.com/og/store.png">`)
	assert.Contains(t, head, `<meta name="robots" content="index, follow">`)
	assert.Contains(t, head, `<link rel="icon" href="https://shop.example.com/favicon.ico">`)
	assert.Contains(t, head, `<meta name="twitter:card" content="summary_large_image">`)
	assert.Contains(t, head, `<meta name="twitter:title" content="Store">`)
	assert.Contains(t, head, `<meta name="twitter:description" content="Shop">`)
	assert.Contains(t, head, `<meta name="twitter:image" content="https://shop.example.com/og/store.png">`)

	bare := buildHead(Metadata{Title: "Bare"})
	assert.NotContains(t, bare, "robots")
	assert.NotContains(t, bare, "twitter:")
	assert.NotContains(t, bare, `rel="icon"`)
}

func TestEscapeRawText(t *testing.T) {
	cases := []struct {
		in   string
		tag  string
		want string
	}{
		{in: "plain", tag: "script", want: "plain"},
		{in: "a</script>b</script>", tag: "script", want: `a<\/script>b<\/script>`},
		{in: "</ScRiPt>", tag: "script", want: `<\/ScRiPt>`},
		{in: "</style>", tag: "script", want: "</style>"},
		{in: "x</style", tag: "style", want: `x<\/style`},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, escapeRawText(tc.in, tc.tag), tc.in)
	}
}

func writeOutputs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := canonicalTempDir(t)
	for rel, content := range files {
		writeFile(t, dir, rel, content)
	}
	return dir
}

func TestRenderPageRunsServerBundle(t *testing.T) {
	out := writeOutputs(t, map[string]string{
		"todo/client.js":  "console.log('client')",
		"todo/server.js":  `(function () { __ingot_set_html("<ul><li>one</li></ul>"); })();`,
		"todo/client.css": ".todo {}\n",
	})
	page := NewPage("apps/todo/page.tsx", true, true)

	doc, err := RenderPage(context.Background(), nil, out, page, Metadata{Title: "Todo"})
	require.NoError(t, err)
	assert.Equal(t, "<ul><li>one</li></ul>", doc.HTML)
	assert.Equal(t, "console.log('client')", doc.ClientJS)
	assert.Equal(t, ".todo {}\n", doc.CSS)
	assert.Equal(t, "Todo", doc.Meta.Title)
}

func TestRenderPageWithSharedRuntime(t *testing.T) {
	out := writeOutputs(t, map[string]string{
		"todo/client.js": "console.log('client')",
		"todo/server.js": `var renders = (typeof renders === "number" ? renders : 0) + 1; __ingot_set_html("<p>" + renders + "</p>");`,
	})
	page := NewPage("apps/todo/page.tsx", true, true)
	rt := newTestRuntime(t)

	first, err := RenderPage(context.Background(), rt, out, page, Metadata{})
	require.NoError(t, err)
	second, err := RenderPage(context.Background(), rt, out, page, Metadata{})
	require.NoError(t, err)

	assert.Equal(t, "<p>1</p>", first.HTML)
	assert.Equal(t, "<p>2</p>", second.HTML)
	assert.Empty(t, first.CSS)
}

func TestRenderPageWithoutSSR(t *testing.T) {
	out := writeOutputs(t, map[string]string{"about.js": "console.log('about')"})

	doc, err := RenderPage(context.Background(), nil, out, NewPage("about.tsx", false, false), Metadata{})
	require.NoError(t, err)
	assert.Empty(t, doc.HTML)
	assert.Equal(t, "console.log('about')", doc.ClientJS)
}

func TestRenderPageRequiresBuiltOutputs(t *testing.T) {
	page := NewPage("apps/todo/page.tsx", true, true)

	_, err := RenderPage(context.Background(), nil, canonicalTempDir(t), page, Metadata{})
	requireKind(t, err, KindRuntime)
	assert.Contains(t, err.Error(), "client bundle for apps/todo/page.tsx not found")

	out := writeOutputs(t, map[string]string{"todo/client.js": "x"})
	_, err = RenderPage(context.Background(), nil, out, page, Metadata{})
	requireKind(t, err, KindRuntime)
	assert.Contains(t, err.Error(), "ssr output for apps/todo/page.tsx not found")

	// A server bundle that never captures html does not satisfy SSR.
	out = writeOutputs(t, map[string]string{"todo/client.js": "x", "todo/server.js": "1 + 1"})
	_, err = RenderPage(context.Background(), nil, out, page, Metadata{})
	requireKind(t, err, KindDeserialize)
}

func TestRenderPageSurfacesServerErrors(t *testing.T) {
	out := writeOutputs(t, map[string]string{
		"todo/client.js": "x",
		"todo/server.js": `throw new Error("render blew up")`,
	})

	_, err := RenderPage(context.Background(), nil, out, NewPage("apps/todo/page.tsx", true, true), Metadata{})
	requireKind(t, err, KindExecution)
	assert.Contains(t, err.Error(), "render blew up")
}

func TestBuildThenRenderPage(t *testing.T) {
	root := writeProject(t)
	writeReactStubs(t, root)
	page := NewPage("apps/todo/page.tsx", true, true)

	require.NoError(t, Build(context.Background(), []Page{page}, BuildOptions{Root: root, Logger: quietLogger()}))

	doc, err := RenderPage(context.Background(), nil, root+"/"+DefaultOutputDir, page, Metadata{Title: "Todo"})
	require.NoError(t, err)
	assert.Equal(t, "<main>todo</main>", doc.HTML)
	assert.Equal(t, ".todo { color: blue; }\n", doc.CSS)
	assert.Contains(t, doc.ToHTML(), `<div id="root"><main>todo</main></div>`)
}
