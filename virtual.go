package ingot

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

const (
	// AppEntryMarker suffixes an app page import to request its client bootstrap.
	AppEntryMarker = "?app-entry"
	// ServerEntryMarker suffixes an app page import to request its SSR wrapper.
	ServerEntryMarker = "?server-entry"
	// RuntimeSpecifier is the module server wrappers import setSsrHtml from.
	RuntimeSpecifier = "ingot:runtime"

	cssStubPrefix    = "ingot-css:"
	virtualNamespace = "ingot-virtual"
)

// Module is the source a hook serves for a virtual id. Dir is the directory
// relative imports inside Source resolve against; empty means none.
type Module struct {
	Source string
	Dir    string
}

// Hook intercepts specifiers during bundling and serves synthesized modules.
// A hook answers ok=false for anything it does not own.
type Hook interface {
	Name() string
	Filter() string
	Resolve(specifier string, importer string) (string, bool)
	Load(id string) (Module, bool)

	hook()
}

// Hooks is an ordered chain; the first hook that answers wins.
type Hooks []Hook

func (h Hooks) Resolve(specifier string, importer string) (string, bool) {
	for _, hook := range h {
		if id, ok := hook.Resolve(specifier, importer); ok {
			return id, true
		}
	}
	return "", false
}

func (h Hooks) Load(id string) (Module, bool) {
	for _, hook := range h {
		if mod, ok := hook.Load(id); ok {
			return mod, true
		}
	}
	return Module{}, false
}

// Plugin adapts the chain to an esbuild plugin. Every resolved id lives in a
// single virtual namespace and is loaded through the chain.
func (h Hooks) Plugin(name string) api.Plugin {
	return api.Plugin{
		Name: name,
		Setup: func(build api.PluginBuild) {
			for _, hook := range h {
				hook := hook
				build.OnResolve(api.OnResolveOptions{Filter: hook.Filter()}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					id, ok := hook.Resolve(args.Path, args.Importer)
					if !ok {
						return api.OnResolveResult{}, nil
					}
					return api.OnResolveResult{Path: id, Namespace: virtualNamespace}, nil
				})
			}

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: virtualNamespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				mod, ok := h.Load(args.Path)
				if !ok {
					return api.OnLoadResult{}, fmt.Errorf("no hook serves virtual module %s", args.Path)
				}
				contents := mod.Source
				return api.OnLoadResult{
					Contents:   &contents,
					ResolveDir: mod.Dir,
					Loader:     api.LoaderJS,
				}, nil
			})
		},
	}
}

// CSSStub replaces stylesheet imports with an empty module so that JS
// bundles never carry CSS; stylesheets are produced by BuildCSS instead.
type CSSStub struct{}

func (CSSStub) hook() {}

func (CSSStub) Name() string { return "css-stub" }

func (CSSStub) Filter() string { return `\.css$` }

func (CSSStub) Resolve(specifier string, importer string) (string, bool) {
	if !strings.HasSuffix(specifier, ".css") {
		return "", false
	}
	sum := sha1.Sum([]byte(importer + "\x00" + specifier))
	return cssStubPrefix + hex.EncodeToString(sum[:]), true
}

func (CSSStub) Load(id string) (Module, bool) {
	if !strings.HasPrefix(id, cssStubPrefix) {
		return Module{}, false
	}
	return Module{Source: "export default {};\n"}, true
}

// AppEntrypoint serves the browser bootstrap for `<import>?app-entry`.
type AppEntrypoint struct {
	Root string
}

func (AppEntrypoint) hook() {}

func (AppEntrypoint) Name() string { return "app-entrypoint" }

func (AppEntrypoint) Filter() string { return regexp.QuoteMeta(AppEntryMarker) + `$` }

func (a AppEntrypoint) Resolve(specifier string, importer string) (string, bool) {
	return markedSpecifier(specifier, AppEntryMarker)
}

func (a AppEntrypoint) Load(id string) (Module, bool) {
	source, ok := strings.CutSuffix(id, AppEntryMarker)
	if !ok {
		return Module{}, false
	}
	return Module{Source: appEntrySource(path.Base(source)), Dir: moduleDir(a.Root, source)}, true
}

// ServerEntrypoint serves the SSR wrapper for `<import>?server-entry`.
type ServerEntrypoint struct {
	Root string
}

func (ServerEntrypoint) hook() {}

func (ServerEntrypoint) Name() string { return "server-entrypoint" }

func (ServerEntrypoint) Filter() string { return regexp.QuoteMeta(ServerEntryMarker) + `$` }

func (s ServerEntrypoint) Resolve(specifier string, importer string) (string, bool) {
	return markedSpecifier(specifier, ServerEntryMarker)
}

func (s ServerEntrypoint) Load(id string) (Module, bool) {
	source, ok := strings.CutSuffix(id, ServerEntryMarker)
	if !ok {
		return Module{}, false
	}
	return Module{Source: serverEntrySource(path.Base(source)), Dir: moduleDir(s.Root, source)}, true
}

// RuntimeModule serves ingot:runtime to server bundles.
type RuntimeModule struct{}

func (RuntimeModule) hook() {}

func (RuntimeModule) Name() string { return "runtime-module" }

func (RuntimeModule) Filter() string { return `^` + regexp.QuoteMeta(RuntimeSpecifier) + `$` }

func (RuntimeModule) Resolve(specifier string, importer string) (string, bool) {
	if specifier != RuntimeSpecifier {
		return "", false
	}
	return RuntimeSpecifier, true
}

func (RuntimeModule) Load(id string) (Module, bool) {
	if id != RuntimeSpecifier {
		return Module{}, false
	}
	return Module{Source: runtimeModuleSource}, true
}

// ClientHooks is the chain used for browser bundles.
func ClientHooks(root string, entries []Entry) Hooks {
	hooks := Hooks{CSSStub{}}
	for _, entry := range entries {
		if entry.App {
			hooks = append(hooks, AppEntrypoint{Root: root})
			break
		}
	}
	return hooks
}

// ServerHooks is the chain used for SSR bundles.
func ServerHooks(root string) Hooks {
	return Hooks{RuntimeModule{}, ServerEntrypoint{Root: root}, CSSStub{}}
}

func markedSpecifier(specifier string, marker string) (string, bool) {
	source, ok := strings.CutSuffix(specifier, marker)
	if !ok || source == "" {
		return "", false
	}
	return strings.TrimPrefix(source, "./") + marker, true
}

func moduleDir(root string, importPath string) string {
	return filepath.Join(root, filepath.FromSlash(path.Dir(importPath)))
}

func appEntrySource(file string) string {
	return fmt.Sprintf(`import { StrictMode, createElement } from "react";
import { createRoot, hydrateRoot } from "react-dom/client";
import App from "./%s";

const root = document.getElementById("root");
if (!root) {
  throw new Error("ingot: missing #root element");
}

const app = createElement(StrictMode, null, createElement(App));
if (root.hasChildNodes()) {
  hydrateRoot(root, app);
} else {
  createRoot(root).render(app);
}
`, file)
}

func serverEntrySource(file string) string {
	return fmt.Sprintf(`import { createElement } from "react";
import { renderToString } from "react-dom/server";
import { setSsrHtml } from %q;
import App from "./%s";

setSsrHtml(renderToString(createElement(App)));
`, RuntimeSpecifier, file)
}

const runtimeModuleSource = `export function setSsrHtml(html) {
  const capture = globalThis.__ingot_set_html;
  if (typeof capture !== "function") {
    throw new Error("ingot: setSsrHtml called outside the ingot runtime");
  }
  capture(html);
}
`
