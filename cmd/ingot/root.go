package main

import (
	"github.com/3-lines-studio/ingot"
	"github.com/3-lines-studio/ingot/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	v       = config.New()
	logger  = ingot.NewLogger()
)

var rootCmd = &cobra.Command{
	Use:   "ingot",
	Short: "Bundle React pages and render them from Go",
	Long: `ingot bundles apps/**/page.tsx pages with esbuild, inlines their
stylesheets, and renders server output in an embedded JavaScript runtime.

Get started:
  ingot build          Build every page once
  ingot dev            Rebuild on change
  ingot serve          Serve built pages
  ingot eval "1 + 1"   Evaluate JavaScript`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err.Error())
		return err
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./ingot.toml)")
	flags.String("root", ".", "project root")
	flags.String("out", ingot.DefaultOutputDir, "output directory, relative to root")
	flags.Bool("ssr", false, "enable server rendering for discovered pages")

	for _, key := range []string{"root", "out", "ssr"} {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(devCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evalCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(v, cfgFile)
}
