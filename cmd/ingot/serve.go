package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/3-lines-studio/ingot"
	"github.com/3-lines-studio/ingot/internal/config"
	"github.com/3-lines-studio/ingot/internal/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve built pages over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	_ = v.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pages, err := projectPages(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, pages)
}

func serve(ctx context.Context, cfg *config.Config, pages []ingot.Page) error {
	ingot.SetEvalTimeout(cfg.EvalTimeout)
	if cfg.PoolSize > 0 {
		ingot.SetRuntimePoolSize(cfg.PoolSize)
	}

	handler, err := ingot.Handler(cfg.OutputDir(), pages, ingot.HandlerOptions{
		Meta:   cfg.Metadata(),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	if cfg.Metrics {
		recorder := metrics.NewRecorder(nil)
		ingot.SetMetricsRecorder(recorder)
		defer ingot.SetMetricsRecorder(nil)
		mux.Handle("/metrics", recorder.Handler())
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	routes := make([]string, 0, len(pages))
	for _, page := range pages {
		routes = append(routes, fmt.Sprintf("%s → %s", ingot.PageRoute(page), page.Path))
	}
	logger.Banner(fmt.Sprintf("Serving %d pages @ http://localhost%s", len(pages), cfg.Addr), routes)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
