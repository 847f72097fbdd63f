package loader

import (
	"strings"

	"github.com/3-lines-studio/ingot"
)

// Site is the metadata every sample page falls back to.
func Site(baseURL string) ingot.Metadata {
	return ingot.Metadata{
		Title:         "Ingot sample",
		TitleTemplate: "%s | Ingot sample",
		Description:   "Sample pages built and rendered with ingot.",
		URL:           baseURL + "/",
		Image:         baseURL + "/favicon.ico",
	}
}

// Pages returns per-page metadata keyed by page path.
func Pages(baseURL string) map[string]ingot.Metadata {
	baseURL = strings.TrimSuffix(baseURL, "/")

	return map[string]ingot.Metadata{
		"apps/store/page.tsx": {
			Title:       "Store",
			Description: "Sample SSR storefront page rendered with ingot.",
			URL:         baseURL + "/store",
			OGType:      "product",
		},
		"apps/blog/page.tsx": {
			Title:       "Blog",
			Description: "Client rendered blog page.",
			URL:         baseURL + "/blog",
			OGType:      "article",
		},
		"about.tsx": {
			Title: "About",
			URL:   baseURL + "/about",
		},
	}
}
