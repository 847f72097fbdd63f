package main

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/3-lines-studio/ingot"
	"github.com/3-lines-studio/ingot/docs/loader"
	"github.com/3-lines-studio/ingot/internal/config"
)

//go:embed content/*.md
var embeddedContent embed.FS

func main() {
	logger := ingot.NewLogger()

	cfg, err := config.Load(config.New(), "")
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	content, err := fs.Sub(embeddedContent, "content")
	if err != nil {
		logger.Error("open content", "error", err)
		os.Exit(1)
	}

	site := cfg.Metadata()
	if site.TitleTemplate == "" {
		site.TitleTemplate = "%s · ingot"
	}
	if site.Description == "" {
		site.Description = "Build React pages from Go"
	}
	library := loader.New(content, site)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		doc, err := library.Index()
		writeDocument(w, logger, doc, err)
	})
	mux.HandleFunc("GET /{slug}", func(w http.ResponseWriter, r *http.Request) {
		doc, err := library.Page(r.PathValue("slug"))
		writeDocument(w, logger, doc, err)
	})

	logger.Success("Running @ http://localhost" + cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func writeDocument(w http.ResponseWriter, logger *ingot.Logger, doc *ingot.Document, err error) {
	if errors.Is(err, loader.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("render doc", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc.ToHTML()))
}
