// Package resolvers provides the built-in env.Resolver implementations for
// each import source classification internal/importer.Classify produces:
// "local" and "user" read from the filesystem, "registry" fetches over
// HTTP, "input" and "time" synthesize content from runtime state. Grounded
// on pkg/llm/providers' init()-registered ProviderFactory pattern,
// generalized from "provider name -> Client" to "resolver name -> Resolver".
package resolvers

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/httpfetch"
)

// RegisterAll installs the five built-in resolvers into reg. basePath
// anchors "local"/"user" relative references the same way Environment's own
// basePath anchors /path and file-reference resolution; inputValue seeds
// the "input" resolver's content (the CLI's --input value, or "").
func RegisterAll(reg *env.ResolverRegistry, fs env.FS, basePath, inputValue string) {
	reg.Register("local", func() (env.Resolver, error) {
		return &fileResolver{fs: fs, root: basePath}, nil
	})
	reg.Register("user", func() (env.Resolver, error) {
		return &fileResolver{fs: fs, root: filepath.Join(basePath, "llm", "modules")}, nil
	})
	reg.Register("registry", func() (env.Resolver, error) {
		return &registryResolver{}, nil
	})
	reg.Register("input", func() (env.Resolver, error) {
		return &inputResolver{value: inputValue}, nil
	})
	reg.Register("time", func() (env.Resolver, error) {
		return &timeResolver{}, nil
	})
}

// fileResolver resolves @local/... and @user/... references by reading a
// file relative to root, mirroring pkg/pipeline/handlers/read_file.go's
// direct-path read but through the injected env.FS abstraction.
type fileResolver struct {
	fs   env.FS
	root string
}

func (r *fileResolver) Resolve(ctx context.Context, ref string) (env.ResolvedContent, error) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, ref)
	}
	data, err := r.fs.Read(ctx, path)
	if err != nil {
		return env.ResolvedContent{}, fmt.Errorf("resolve %q: %w", ref, err)
	}
	return env.ResolvedContent{Content: string(data)}, nil
}

// registryResolver resolves bare module references (e.g. "author/module")
// against the public mlld registry, reusing internal/httpfetch for the
// actual transport rather than a bespoke http.Client.
type registryResolver struct{}

const registryBaseURL = "https://registry.mlld.ai/modules/"

func (r *registryResolver) Resolve(ctx context.Context, ref string) (env.ResolvedContent, error) {
	fetched, err := httpfetch.Fetch(ctx, registryBaseURL+ref, httpfetch.Options{})
	if err != nil {
		return env.ResolvedContent{}, fmt.Errorf("registry %q: %w", ref, err)
	}
	return env.ResolvedContent{Content: fetched.Body, CacheTTL: 3600_000}, nil
}

// inputResolver serves @INPUT, the CLI's injected --input payload
// rendered as a single document body (spec.md §4.4's "reserved import
// source" for piping external data into a script).
type inputResolver struct{ value string }

func (r *inputResolver) Resolve(ctx context.Context, ref string) (env.ResolvedContent, error) {
	return env.ResolvedContent{Content: r.value}, nil
}

// timeResolver serves @TIME as an RFC3339 timestamp literal, letting a
// script `/import { now } from @TIME` without reaching for os/exec date.
type timeResolver struct{}

func (r *timeResolver) Resolve(ctx context.Context, ref string) (env.ResolvedContent, error) {
	return env.ResolvedContent{Content: fmt.Sprintf("/var @now = %q\n", time.Now().Format(time.RFC3339))}, nil
}
