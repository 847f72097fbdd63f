package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/3-lines-studio/ingot"
	"github.com/3-lines-studio/ingot/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build client, server and css bundles once",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

var devServe bool

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Watch pages and rebuild bundles on change",
	Args:  cobra.NoArgs,
	RunE:  runDev,
}

func init() {
	buildCmd.Flags().Bool("minify", true, "minify bundles")
	_ = v.BindPFlag("minify", buildCmd.Flags().Lookup("minify"))
	buildCmd.Flags().Bool("postcss", false, "run postcss over the css outputs")
	_ = v.BindPFlag("postcss", buildCmd.Flags().Lookup("postcss"))

	devCmd.Flags().BoolVar(&devServe, "serve", false, "serve pages while watching")
}

func runBuild(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pages, err := projectPages(cfg)
	if err != nil {
		return err
	}

	return ingot.Build(cmd.Context(), pages, buildOptions(cfg, false))
}

func runDev(cmd *cobra.Command, _ []string) error {
	v.Set("dev", true)
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingot.Build(gctx, pages, buildOptions(cfg, true))
	})
	if devServe {
		g.Go(func() error {
			return serve(gctx, cfg, pages)
		})
	}

	return g.Wait()
}

func projectPages(cfg *config.Config) ([]ingot.Page, error) {
	pages, err := cfg.PageList()
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages found under %s", ingot.FormatPath(cfg.Root+"/"+ingot.AppsDir))
	}
	return pages, nil
}

func buildOptions(cfg *config.Config, dev bool) ingot.BuildOptions {
	opts := ingot.BuildOptions{
		Root:      cfg.Root,
		OutputDir: cfg.Out,
		Minify:    cfg.Minify,
		Dev:       dev,
		Logger:    logger,
	}
	if cfg.PostCSS {
		opts.Plugins = append(opts.Plugins, &ingot.PostCSS{Logger: logger})
	}
	return opts
}
