package ingot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/sync/errgroup"
)

type BundleFormat string

const (
	FormatESM  BundleFormat = "esm"
	FormatIIFE BundleFormat = "iife"
)

// InputItem maps an output name (without extension) to the specifier the
// bundler starts from.
type InputItem struct {
	Name   string
	Import string
}

// BundleJob is everything a Bundler needs for one client or server build.
type BundleJob struct {
	Label  string
	Inputs []InputItem
	Root   string
	OutDir string
	Minify bool
	Format BundleFormat
	Hooks  Hooks

	// OnRebuild runs after every watch build with the build's error, if any.
	OnRebuild func(err error)
}

// Bundler produces JS bundles for a job.
type Bundler interface {
	Bundle(ctx context.Context, job BundleJob) error
	Watch(ctx context.Context, job BundleJob) (WatchSession, error)
}

// WatchSession is a running watch build. Close releases it and is safe to
// call more than once.
type WatchSession interface {
	Wait(ctx context.Context) error
	Close()
}

type BuildOptions struct {
	Root      string
	OutputDir string
	Minify    bool
	Dev       bool
	Logger    *Logger
	Bundler   Bundler

	// Plugins post-process the stylesheets in the output directory after
	// bundling; in dev mode they watch alongside the bundler.
	Plugins []CSSPlugin
}

// Build normalizes pages, writes their stylesheets and bundles client and
// server code. In dev mode it watches until ctx is cancelled, which is not
// an error.
func Build(ctx context.Context, pages []Page, opts BuildOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := loggerOrDefault(opts.Logger)

	root, err := resolveRoot(opts.Root)
	if err != nil {
		return err
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	outDir := outputDir
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(root, outDir)
	}

	entries, err := Normalize(pages, root, outputDir)
	if err != nil {
		return err
	}

	if err := BuildCSS(entries, root, outDir, opts.Minify); err != nil {
		return err
	}

	bundler := opts.Bundler
	if bundler == nil {
		bundler = &ESBuildBundler{}
	}

	clientJob := BundleJob{
		Label:  "client",
		Inputs: clientInputs(entries),
		Root:   root,
		OutDir: outDir,
		Minify: opts.Minify,
		Format: FormatESM,
		Hooks:  ClientHooks(root, entries),
	}

	var serverJob *BundleJob
	if inputs := serverInputs(entries); len(inputs) > 0 {
		serverJob = &BundleJob{
			Label:  "server",
			Inputs: inputs,
			Root:   root,
			OutDir: outDir,
			Minify: opts.Minify,
			Format: FormatIIFE,
			Hooks:  ServerHooks(root),
		}
	}

	if !opts.Dev {
		logger.Start("Bundling", "pages", len(entries), "out", FormatPath(outDir))
		if err := bundler.Bundle(ctx, clientJob); err != nil {
			return err
		}
		if serverJob != nil {
			if err := bundler.Bundle(ctx, *serverJob); err != nil {
				return err
			}
		}
		for _, plugin := range opts.Plugins {
			if err := plugin.Build(ctx, root, outDir); err != nil {
				return runtimeError(err, "css plugin %s failed", plugin.Name())
			}
		}
		logger.Success("Build complete", "pages", len(entries), "out", FormatPath(outDir))
		return nil
	}

	clientJob.OnRebuild = func(err error) {
		if err != nil {
			logger.Error("client rebuild failed", "error", err)
			return
		}
		if err := BuildCSS(entries, root, outDir, opts.Minify); err != nil {
			logger.Error("css rebuild failed", "error", err)
			return
		}
		logger.Success("client rebuilt")
	}
	if serverJob != nil {
		serverJob.OnRebuild = func(err error) {
			if err != nil {
				logger.Error("server rebuild failed", "error", err)
				return
			}
			logger.Success("server rebuilt")
		}
	}

	logger.Start("Watching", "pages", len(entries), "root", FormatPath(root))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchUntilDone(gctx, bundler, clientJob)
	})
	if serverJob != nil {
		job := *serverJob
		g.Go(func() error {
			return watchUntilDone(gctx, bundler, job)
		})
	}
	for _, plugin := range opts.Plugins {
		g.Go(func() error {
			return watchPlugin(gctx, plugin, root, outDir)
		})
	}
	return g.Wait()
}

func watchPlugin(ctx context.Context, plugin CSSPlugin, root string, outDir string) error {
	err := plugin.Watch(ctx, root, outDir)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return runtimeError(err, "css plugin %s failed", plugin.Name())
}

func watchUntilDone(ctx context.Context, bundler Bundler, job BundleJob) error {
	session, err := bundler.Watch(ctx, job)
	if err != nil {
		return err
	}
	defer session.Close()

	err = session.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func clientInputs(entries []Entry) []InputItem {
	inputs := make([]InputItem, 0, len(entries))
	for _, entry := range entries {
		specifier := entry.Import
		if entry.App {
			specifier += AppEntryMarker
		}
		inputs = append(inputs, InputItem{Name: entry.ClientName, Import: specifier})
	}
	return inputs
}

func serverInputs(entries []Entry) []InputItem {
	var inputs []InputItem
	for _, entry := range entries {
		if !entry.SSR || entry.ServerName == "" {
			continue
		}
		inputs = append(inputs, InputItem{Name: entry.ServerName, Import: entry.Import + ServerEntryMarker})
	}
	return inputs
}

// ESBuildBundler bundles in-process with esbuild.
type ESBuildBundler struct{}

func (b *ESBuildBundler) options(job BundleJob) api.BuildOptions {
	entryPoints := make([]api.EntryPoint, 0, len(job.Inputs))
	for _, input := range job.Inputs {
		inputPath := input.Import
		if !isVirtualSpecifier(inputPath) {
			inputPath = filepath.Join(job.Root, filepath.FromSlash(inputPath))
		}
		entryPoints = append(entryPoints, api.EntryPoint{
			InputPath:  inputPath,
			OutputPath: input.Name,
		})
	}

	format := api.FormatESModule
	if job.Format == FormatIIFE {
		format = api.FormatIIFE
	}

	logLevel := api.LogLevelSilent
	if IsDebug() {
		logLevel = api.LogLevelWarning
	}

	nodeEnv := `"development"`
	if job.Minify {
		nodeEnv = `"production"`
	}

	opts := api.BuildOptions{
		EntryPointsAdvanced: entryPoints,
		AbsWorkingDir:       job.Root,
		Outdir:              job.OutDir,
		EntryNames:          "[dir]/[name]",
		Bundle:              true,
		Write:               true,
		Format:              format,
		MinifyWhitespace:    job.Minify,
		MinifySyntax:        job.Minify,
		MinifyIdentifiers:   job.Minify,
		Target:              api.ES2020,
		JSX:                 api.JSXAutomatic,
		JSXImportSource:     "react",
		Platform:            api.PlatformBrowser,
		Conditions:          []string{"module", "style"},
		MainFields:          []string{"browser", "module", "main"},
		Define:              map[string]string{"process.env.NODE_ENV": nodeEnv},
		LogLevel:            logLevel,
	}
	if len(job.Hooks) > 0 {
		opts.Plugins = append(opts.Plugins, job.Hooks.Plugin("ingot-"+job.Label))
	}
	return opts
}

func (b *ESBuildBundler) Bundle(ctx context.Context, job BundleJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result := api.Build(b.options(job))
	if err := messagesError(result.Errors); err != nil {
		return runtimeError(err, "%s bundle failed", job.Label)
	}
	return nil
}

func (b *ESBuildBundler) Watch(ctx context.Context, job BundleJob) (WatchSession, error) {
	opts := b.options(job)
	if job.OnRebuild != nil {
		onRebuild := job.OnRebuild
		opts.Plugins = append(opts.Plugins, api.Plugin{
			Name: "ingot-rebuild-" + job.Label,
			Setup: func(build api.PluginBuild) {
				build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
					onRebuild(messagesError(result.Errors))
					return api.OnEndResult{}, nil
				})
			},
		})
	}

	buildCtx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return nil, runtimeError(messagesError(ctxErr.Errors), "%s watch setup failed", job.Label)
	}

	// The first build must succeed before the session is handed out.
	if result := buildCtx.Rebuild(); len(result.Errors) > 0 {
		buildCtx.Dispose()
		return nil, runtimeError(messagesError(result.Errors), "%s bundle failed", job.Label)
	}

	if err := buildCtx.Watch(api.WatchOptions{}); err != nil {
		buildCtx.Dispose()
		return nil, runtimeError(err, "%s watch failed to start", job.Label)
	}

	return &esbuildSession{buildCtx: buildCtx}, nil
}

type esbuildSession struct {
	buildCtx api.BuildContext
	once     sync.Once
}

func (s *esbuildSession) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *esbuildSession) Close() {
	s.once.Do(func() {
		s.buildCtx.Dispose()
	})
}

func isVirtualSpecifier(specifier string) bool {
	return strings.HasSuffix(specifier, AppEntryMarker) || strings.HasSuffix(specifier, ServerEntryMarker)
}

func messagesError(messages []api.Message) error {
	if len(messages) == 0 {
		return nil
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		text := msg.Text
		if msg.Location != nil {
			text = fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
		}
		lines = append(lines, text)
	}
	return errors.New(strings.Join(lines, "\n"))
}
