package ingot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Metadata fills the document head.
type Metadata struct {
	Title         string
	TitleTemplate string
	Description   string
	URL           string
	Canonical     string
	Image         string
	OGType        string
	Robots        string
	Icon          string
	TwitterCard   string

	// MetadataBase is an absolute URL that relative URL, Canonical, Image
	// and Icon values resolve against.
	MetadataBase string
}

// Merge returns m with every empty field taken from fallback.
func (m Metadata) Merge(fallback Metadata) Metadata {
	pick := func(v, alt string) string {
		if v != "" {
			return v
		}
		return alt
	}
	return Metadata{
		Title:         pick(m.Title, fallback.Title),
		TitleTemplate: pick(m.TitleTemplate, fallback.TitleTemplate),
		Description:   pick(m.Description, fallback.Description),
		URL:           pick(m.URL, fallback.URL),
		Canonical:     pick(m.Canonical, fallback.Canonical),
		Image:         pick(m.Image, fallback.Image),
		OGType:        pick(m.OGType, fallback.OGType),
		Robots:        pick(m.Robots, fallback.Robots),
		Icon:          pick(m.Icon, fallback.Icon),
		TwitterCard:   pick(m.TwitterCard, fallback.TwitterCard),
		MetadataBase:  pick(m.MetadataBase, fallback.MetadataBase),
	}
}

// resolveURL joins a relative value onto MetadataBase. Absolute values, and
// every value when the base is not an absolute URL, are returned as is.
func (m Metadata) resolveURL(value string) string {
	if value == "" || m.MetadataBase == "" {
		return value
	}
	ref, err := url.Parse(value)
	if err != nil || ref.Scheme != "" || ref.Host != "" {
		return value
	}
	base, err := url.Parse(m.MetadataBase)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return value
	}

	dir := &url.URL{Scheme: base.Scheme, User: base.User, Host: base.Host, Path: base.Path}
	if !strings.HasSuffix(dir.Path, "/") {
		dir.Path += "/"
	}
	return dir.ResolveReference(ref).String()
}

func (m Metadata) title() string {
	title := m.Title
	if title == "" {
		title = "Page"
	}
	if m.TitleTemplate != "" && strings.Contains(m.TitleTemplate, "%s") {
		title = strings.ReplaceAll(m.TitleTemplate, "%s", title)
	}
	return title
}

// Document is a rendered page: server HTML plus the inline client bundle
// and stylesheet.
type Document struct {
	HTML     string
	ClientJS string
	CSS      string
	Meta     Metadata
}

// ToHTML returns the complete HTML document.
func (d *Document) ToHTML() string {
	head := buildHead(d.Meta)

	cssTag := ""
	if d.CSS != "" {
		cssTag = fmt.Sprintf("\n\t<style>%s</style>", escapeRawText(d.CSS, "style"))
	}

	scriptTag := ""
	if d.ClientJS != "" {
		scriptTag = fmt.Sprintf(`<script type="module">%s</script>`, escapeRawText(d.ClientJS, "script"))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
%s%s
</head>
<body>
	<div id="root">%s</div>
	%s
</body>
</html>`, head, cssTag, d.HTML, scriptTag)
}

func buildHead(meta Metadata) string {
	ogType := meta.OGType
	if ogType == "" {
		ogType = "website"
	}
	title := meta.title()

	var b strings.Builder
	b.WriteString("\t<meta charset=\"UTF-8\">")
	b.WriteString("\n\t<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">")
	fmt.Fprintf(&b, "\n\t<title>%s</title>", html.EscapeString(title))

	if meta.Description != "" {
		escaped := html.EscapeString(meta.Description)
		fmt.Fprintf(&b, "\n\t<meta name=\"description\" content=\"%s\">", escaped)
		fmt.Fprintf(&b, "\n\t<meta property=\"og:description\" content=\"%s\">", escaped)
	}

	fmt.Fprintf(&b, "\n\t<meta property=\"og:title\" content=\"%s\">", html.EscapeString(title))

	pageURL := meta.URL
	if pageURL == "" {
		pageURL = meta.Canonical
	}
	if pageURL = meta.resolveURL(pageURL); pageURL != "" {
		escaped := html.EscapeString(pageURL)
		fmt.Fprintf(&b, "\n\t<link rel=\"canonical\" href=\"%s\">", escaped)
		fmt.Fprintf(&b, "\n\t<meta property=\"og:url\" content=\"%s\">", escaped)
	}

	image := meta.resolveURL(meta.Image)
	if image != "" {
		fmt.Fprintf(&b, "\n\t<meta property=\"og:image\" content=\"%s\">", html.EscapeString(image))
	}

	if meta.Robots != "" {
		fmt.Fprintf(&b, "\n\t<meta name=\"robots\" content=\"%s\">", html.EscapeString(meta.Robots))
	}
	if icon := meta.resolveURL(meta.Icon); icon != "" {
		fmt.Fprintf(&b, "\n\t<link rel=\"icon\" href=\"%s\">", html.EscapeString(icon))
	}

	if meta.TwitterCard != "" {
		fmt.Fprintf(&b, "\n\t<meta name=\"twitter:card\" content=\"%s\">", html.EscapeString(meta.TwitterCard))
		fmt.Fprintf(&b, "\n\t<meta name=\"twitter:title\" content=\"%s\">", html.EscapeString(title))
		if meta.Description != "" {
			fmt.Fprintf(&b, "\n\t<meta name=\"twitter:description\" content=\"%s\">", html.EscapeString(meta.Description))
		}
		if image != "" {
			fmt.Fprintf(&b, "\n\t<meta name=\"twitter:image\" content=\"%s\">", html.EscapeString(image))
		}
	}

	fmt.Fprintf(&b, "\n\t<meta property=\"og:type\" content=\"%s\">", html.EscapeString(ogType))

	return b.String()
}

// escapeRawText keeps inline code from closing its own element.
func escapeRawText(s string, tag string) string {
	closing := "</" + tag
	lower := strings.ToLower(s)
	var b strings.Builder
	for {
		idx := strings.Index(lower, closing)
		if idx < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:idx])
		b.WriteString(`<\/`)
		s = s[idx+2:]
		lower = lower[idx+2:]
	}
}

// RenderPage assembles the document for a built page. The client bundle is
// required; SSR pages also require server output. rt may be nil, in which
// case the server bundle runs on a fresh pooled runtime.
func RenderPage(ctx context.Context, rt *Runtime, outputDir string, page Page, meta Metadata) (*Document, error) {
	client, ok, err := readOutput(outputDir, page.Client)
	if err != nil {
		return nil, err
	}
	if !ok || client == "" {
		return nil, runtimeError(nil, "client bundle for %s not found; has the bundler been run?", page.Path)
	}

	doc := &Document{ClientJS: client, Meta: meta}

	if page.Server != "" {
		server, ok, err := readOutput(outputDir, page.Server)
		if err != nil {
			return nil, err
		}
		if ok && server != "" {
			markup, err := renderServer(ctx, rt, page.Path, server)
			if err != nil {
				return nil, err
			}
			doc.HTML = markup
		}
	}
	if doc.HTML == "" && page.SSR {
		return nil, runtimeError(nil, "ssr output for %s not found; has the bundler been run?", page.Path)
	}

	css, _, err := readOutput(outputDir, page.CSS)
	if err != nil {
		return nil, err
	}
	doc.CSS = css

	return doc, nil
}

func renderServer(ctx context.Context, rt *Runtime, source string, code string) (string, error) {
	var raw json.RawMessage
	var err error
	if rt != nil {
		raw, err = rt.evaluateSource(ctx, source, code)
	} else {
		raw, err = evaluateStateless(ctx, source, code)
	}
	if err != nil {
		return "", err
	}

	var markup string
	if err := json.Unmarshal(raw, &markup); err != nil {
		return "", deserializeErrorf("server bundle for %s did not produce html", source)
	}
	return markup, nil
}

func readOutput(outputDir string, rel string) (string, bool, error) {
	if rel == "" {
		return "", false, nil
	}
	data, err := os.ReadFile(filepath.Join(outputDir, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, runtimeError(err, "failed to read %s", rel)
	}
	return string(data), true, nil
}
