package main

import (
	"context"
	"net/http"
	"os"

	"github.com/3-lines-studio/ingot"
	"github.com/3-lines-studio/ingot/cmd/sample/loader"
	"github.com/3-lines-studio/ingot/internal/config"
)

func main() {
	logger := ingot.NewLogger()

	v := config.New()
	v.SetDefault("root", "cmd/sample")
	cfg, err := config.Load(v, "")
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	pages := []ingot.Page{
		ingot.NewPage("apps/store/page.tsx", true, true),
		ingot.NewPage("apps/blog/page.tsx", true, false),
		ingot.NewPage("about.tsx", false, false),
	}

	err = ingot.Build(context.Background(), pages, ingot.BuildOptions{
		Root:      cfg.Root,
		OutputDir: cfg.Out,
		Minify:    cfg.Minify,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("build failed", "error", err)
		os.Exit(1)
	}

	baseURL := "http://localhost" + cfg.Addr
	handler, err := ingot.Handler(cfg.OutputDir(), pages, ingot.HandlerOptions{
		Meta:     loader.Site(baseURL),
		PageMeta: loader.Pages(baseURL),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("handler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})

	logger.Success("Server running at " + baseURL)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
