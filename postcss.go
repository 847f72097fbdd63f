package ingot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

const defaultPollInterval = 100 * time.Millisecond

// CSSPlugin post-processes the stylesheets written to the output directory.
// Watch blocks until ctx is done.
type CSSPlugin interface {
	Name() string
	Build(ctx context.Context, root string, outDir string) error
	Watch(ctx context.Context, root string, outDir string) error
}

// PostCSS runs postcss-cli over every .css file in the output directory and
// rewrites each file in place with the result.
type PostCSS struct {
	// PollInterval is how often Watch rescans the output directory.
	PollInterval time.Duration
	Logger       *Logger
}

func (p *PostCSS) Name() string { return "postcss" }

func (p *PostCSS) Build(ctx context.Context, root string, outDir string) error {
	files, err := collectStylesheets(outDir)
	if err != nil || len(files) == 0 {
		return err
	}

	runner, args, err := resolvePostCSSRunner(root)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := runPostCSS(ctx, runner, args, root, file); err != nil {
			return err
		}
	}
	return nil
}

// Watch reprocesses stylesheets whose modification time changed since the
// last pass. A failing file is logged and retried once it changes again.
func (p *PostCSS) Watch(ctx context.Context, root string, outDir string) error {
	runner, args, err := resolvePostCSSRunner(root)
	if err != nil {
		return err
	}

	interval := p.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := loggerOrDefault(p.Logger)

	known := map[string]time.Time{}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		files, err := collectStylesheets(outDir)
		if err != nil {
			return err
		}

		seen := make(map[string]bool, len(files))
		for _, file := range files {
			seen[file] = true
			info, err := os.Stat(file)
			if err != nil {
				delete(known, file)
				continue
			}
			if modTime, ok := known[file]; ok && modTime.Equal(info.ModTime()) {
				continue
			}

			if err := runPostCSS(ctx, runner, args, root, file); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error("postcss failed", "file", FormatPath(file), "error", err)
			} else {
				logger.Debug("postcss", "file", FormatPath(file))
			}

			if info, err := os.Stat(file); err == nil {
				known[file] = info.ModTime()
			} else {
				delete(known, file)
			}
		}
		for file := range known {
			if !seen[file] {
				delete(known, file)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func runPostCSS(ctx context.Context, runner string, baseArgs []string, root string, cssPath string) error {
	tmpDir, err := os.MkdirTemp("", "ingot-postcss-*")
	if err != nil {
		return runtimeError(err, "create postcss temp dir")
	}
	defer os.RemoveAll(tmpDir)
	outputPath := filepath.Join(tmpDir, "output.css")

	args := append(append([]string{}, baseArgs...), cssPath, "-o", outputPath)
	cmd := exec.CommandContext(ctx, runner, args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "NODE_PATH="+filepath.Join(root, "node_modules"))

	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = "unknown postcss error"
		}
		return runtimeError(fmt.Errorf("%v: %s", err, detail), "postcss failed for %s", cssPath)
	}

	css, err := os.ReadFile(outputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return runtimeError(nil, "postcss did not produce output for %s", cssPath)
		}
		return runtimeError(err, "read postcss output for %s", cssPath)
	}
	if err := os.WriteFile(cssPath, css, 0644); err != nil {
		return runtimeError(err, "write %s", cssPath)
	}
	return nil
}

// resolvePostCSSRunner prefers the project's own postcss binary and falls
// back to the package manager the lockfile names.
func resolvePostCSSRunner(root string) (string, []string, error) {
	binDir := filepath.Join(root, "node_modules", ".bin")
	candidates := []string{filepath.Join(binDir, "postcss")}
	if runtime.GOOS == "windows" {
		candidates = append([]string{filepath.Join(binDir, "postcss.cmd")}, candidates...)
	}
	for _, candidate := range candidates {
		if fileExists(candidate) {
			return candidate, nil, nil
		}
	}

	runner, args := postcssRunnerFor(packageManager(root))
	if _, err := exec.LookPath(runner); err != nil {
		return "", nil, validationErrorf("postcss-cli not found in %s and %s is not on PATH", binDir, runner)
	}
	return runner, args, nil
}

func packageManager(root string) string {
	switch {
	case fileExists(filepath.Join(root, "pnpm-lock.yaml")):
		return "pnpm"
	case fileExists(filepath.Join(root, "yarn.lock")):
		return "yarn"
	case fileExists(filepath.Join(root, "bun.lockb")):
		return "bun"
	default:
		return "npm"
	}
}

func postcssRunnerFor(manager string) (string, []string) {
	switch manager {
	case "pnpm":
		return "pnpm", []string{"exec", "postcss"}
	case "yarn":
		return "yarn", []string{"postcss"}
	case "bun":
		return "bunx", []string{"postcss"}
	default:
		return "npx", []string{"postcss"}
	}
}

// collectStylesheets lists every .css file below outDir, sorted.
func collectStylesheets(outDir string) ([]string, error) {
	if !dirExists(outDir) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(outDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && filepath.Ext(path) == ".css" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, runtimeError(err, "scan stylesheets in %s", outDir)
	}

	sort.Strings(files)
	return files, nil
}
