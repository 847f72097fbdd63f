package loader

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/3-lines-studio/ingot"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
)

const highlightStyle = "onedark"

var ErrNotFound = errors.New("doc not found")

type DocEntry struct {
	Slug  string
	Title string
}

// Library turns a directory of markdown files into ingot documents.
type Library struct {
	content fs.FS
	md      goldmark.Markdown
	site    ingot.Metadata
}

func New(content fs.FS, site ingot.Metadata) *Library {
	return &Library{
		content: content,
		md: goldmark.New(
			goldmark.WithExtensions(
				highlighting.NewHighlighting(
					highlighting.WithStyle(highlightStyle),
					highlighting.WithFormatOptions(
						chromahtml.WithClasses(true),
					),
				),
			),
		),
		site: site,
	}
}

func (l *Library) List() ([]DocEntry, error) {
	items, err := fs.ReadDir(l.content, ".")
	if err != nil {
		return nil, fmt.Errorf("read docs: %w", err)
	}

	entries := []DocEntry{}
	for _, item := range items {
		if item.IsDir() || path.Ext(item.Name()) != ".md" {
			continue
		}
		slug := strings.TrimSuffix(item.Name(), ".md")
		data, err := fs.ReadFile(l.content, item.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", item.Name(), err)
		}
		title := firstHeading(string(data))
		if title == "" {
			title = slug
		}
		entries = append(entries, DocEntry{Slug: slug, Title: title})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Slug < entries[j].Slug
	})
	return entries, nil
}

// Page renders one doc with the navigation and highlight stylesheet inlined.
func (l *Library) Page(slug string) (*ingot.Document, error) {
	if slug == "" || strings.Contains(slug, "..") || strings.ContainsAny(slug, `/\`) {
		return nil, ErrNotFound
	}

	data, err := fs.ReadFile(l.content, slug+".md")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", slug, err)
	}

	body, err := l.markdownToHTML(string(data))
	if err != nil {
		return nil, err
	}

	entries, err := l.List()
	if err != nil {
		return nil, err
	}

	title := firstHeading(string(data))
	if title == "" {
		title = slug
	}

	return l.document(nav(entries, slug)+`<article class="doc">`+body+`</article>`, ingot.Metadata{
		Title:  title,
		OGType: "article",
	})
}

// Index lists every doc.
func (l *Library) Index() (*ingot.Document, error) {
	entries, err := l.List()
	if err != nil {
		return nil, err
	}
	return l.document(nav(entries, ""), ingot.Metadata{Title: "Docs"})
}

func (l *Library) document(body string, meta ingot.Metadata) (*ingot.Document, error) {
	css, err := Stylesheet()
	if err != nil {
		return nil, err
	}
	return &ingot.Document{
		HTML: body,
		CSS:  css,
		Meta: meta.Merge(l.site),
	}, nil
}

func (l *Library) markdownToHTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := l.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// Stylesheet returns the class-based CSS for highlighted code blocks.
func Stylesheet() (string, error) {
	style := styles.Get(highlightStyle)
	var buf bytes.Buffer
	if err := chromahtml.New(chromahtml.WithClasses(true)).WriteCSS(&buf, style); err != nil {
		return "", fmt.Errorf("highlight css: %w", err)
	}
	return buf.String(), nil
}

func nav(entries []DocEntry, current string) string {
	var b strings.Builder
	b.WriteString(`<nav><ul>`)
	for _, entry := range entries {
		class := ""
		if entry.Slug == current {
			class = ` class="current"`
		}
		fmt.Fprintf(&b, `<li%s><a href="/%s">%s</a></li>`, class, html.EscapeString(entry.Slug), html.EscapeString(entry.Title))
	}
	b.WriteString(`</ul></nav>`)
	return b.String()
}

func firstHeading(content string) string {
	for line := range strings.SplitSeq(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	}
	return ""
}
