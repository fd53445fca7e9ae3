// Command mlld runs, lints, and introspects mlld scripts: slash-directive
// documents that interleave prose with /var, /show, /run, /exe, /import,
// /output, /when, /for, /path, /guard, /bail, and /checkpoint directives.
// Grounded on cmd/attractor/main.go's cobra root + subcommand structure,
// generalized from "DOT pipeline file" to "mlld script file".
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/checkpoint"
	"github.com/mlld-lang/mlld/internal/directive"
	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/eval"
	"github.com/mlld-lang/mlld/internal/exe"
	"github.com/mlld-lang/mlld/internal/importer"
	"github.com/mlld-lang/mlld/internal/llmexec"
	"github.com/mlld-lang/mlld/internal/mlerr"
	"github.com/mlld-lang/mlld/internal/parser"
	"github.com/mlld-lang/mlld/internal/resolvers"
	"github.com/mlld-lang/mlld/internal/value"

	// Register all LLM providers via their init() functions.
	_ "github.com/mlld-lang/mlld/internal/llm/providers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		code := 1
		var bail *mlerr.BailError
		var cancelled *mlerr.Cancelled
		switch {
		case errors.As(err, &bail):
			code = 2
		case errors.As(err, &cancelled), errors.Is(err, context.Canceled):
			code = 3
		}
		os.Exit(code)
	}
}

func rootCmd() *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:   "mlld",
		Short: "mlld — a programmable prompting language",
		Long: `mlld scripts interleave prose with slash directives (/var, /show, /run,
/exe, /import, /output, /when, /for, ...) that bind variables, run commands,
invoke LLMs, and assemble the rendered document.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initLogger(logLevel, logFormat)
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	registerAllDirectives()

	root.AddCommand(runCmd())
	root.AddCommand(lintCmd())
	root.AddCommand(resumeCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(graphCmd())
	root.AddCommand(initCmd())
	return root
}

// registerAllDirectives wires every directive handler, the /exe invoker, and
// the document parser into their shared registries exactly once per
// process, mirroring cmd/attractor/main.go's buildRegistry but for the
// eval-package registry style instead of a handlers.Registry instance.
func registerAllDirectives() {
	directive.RegisterAll()
	importer.RegisterAll()
	exe.RegisterAll()
	llmexec.RegisterAll()
	importer.SetParser(parser.New())
}

// initLogger configures the global slog default handler.
func initLogger(level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q: use debug, info, warn, or error", level)
	}
	if os.Getenv("MLLD_DEBUG") == "true" {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd() *cobra.Command {
	var (
		basePath       string
		checkpointDir  string
		outPath        string
		seed           string
		timeout        time.Duration
		vars           []string
		varFile        string
	)

	cmd := &cobra.Command{
		Use:   "run <script.mld>",
		Short: "Execute a mlld script from the start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scriptFile := args[0]
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return executeScript(signalContext(ctx), scriptFile, basePath, checkpointDir, outPath, seed, varFile, vars)
		},
	}

	cmd.Flags().StringVar(&basePath, "basepath", ".", "base directory for /path and relative import resolution")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "directory to read/write /checkpoint records (optional)")
	cmd.Flags().StringVar(&outPath, "output", "", "write the rendered document to this file instead of stdout")
	cmd.Flags().StringVar(&seed, "input", "", "content served to scripts that `/import` from @INPUT")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "maximum wall-clock time for the script (e.g. 5m, 30s); 0 means no limit")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "bind a top-level variable: --var name=value (repeatable)")
	cmd.Flags().StringVar(&varFile, "var-file", "", "load top-level variable bindings from a JSON object file")
	return cmd
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint <script.mld>",
		Short: "Parse a mlld script without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			nodes, err := parser.ParseDocument(string(src), args[0])
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			fmt.Printf("OK: %q parsed (%d top-level nodes)\n", args[0], len(nodes))
			return nil
		},
	}
	return cmd
}

// ─── resume ───────────────────────────────────────────────────────────────────

func resumeCmd() *cobra.Command {
	var (
		basePath      string
		checkpointDir string
		outPath       string
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "resume <script.mld>",
		Short: "Re-run a script from the start, writing /checkpoint records to --checkpoint-dir (existing records are not read back)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkpointDir == "" {
				return fmt.Errorf("resume: --checkpoint-dir is required")
			}
			ctx := signalContext(cmd.Context())
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return executeScript(ctx, args[0], basePath, checkpointDir, outPath, "", "", nil)
		},
	}

	cmd.Flags().StringVar(&basePath, "basepath", ".", "base directory for /path and relative import resolution")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "directory /checkpoint records were written to")
	cmd.Flags().StringVar(&outPath, "output", "", "write the rendered document to this file instead of stdout")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "maximum wall-clock time for the script; 0 means no limit")
	return cmd
}

// ─── version ──────────────────────────────────────────────────────────────────

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		RunE: func(_ *cobra.Command, _ []string) error {
			info, ok := debug.ReadBuildInfo()
			if !ok {
				fmt.Println("mlld (build info unavailable)")
				return nil
			}

			version := info.Main.Version
			if version == "" || version == "(devel)" {
				version = "dev"
			}

			var revision, buildTime string
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					revision = s.Value
					if len(revision) > 12 {
						revision = revision[:12]
					}
				case "vcs.time":
					buildTime = s.Value
				}
			}

			fmt.Printf("mlld %s\n", version)
			fmt.Printf("  module:  %s\n", info.Main.Path)
			fmt.Printf("  go:      %s\n", info.GoVersion)
			if revision != "" {
				fmt.Printf("  commit:  %s\n", revision)
			}
			if buildTime != "" {
				fmt.Printf("  built:   %s\n", buildTime)
			}
			return nil
		},
	}
}

// ─── init ─────────────────────────────────────────────────────────────────────

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <name>",
		Short: "Scaffold a new mlld script",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			if !strings.HasSuffix(name, ".mld") {
				name += ".mld"
			}
			if _, err := os.Stat(name); err == nil {
				return fmt.Errorf("init: %q already exists", name)
			}
			scaffold := "---\ntitle: " + strings.TrimSuffix(filepath.Base(name), ".mld") + "\n---\n\n/var @greeting = \"hello\"\n/show @greeting\n"
			return os.WriteFile(name, []byte(scaffold), 0o644)
		},
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// executeScript reads, parses, and evaluates one mlld script end to end,
// mirroring cmd/attractor/main.go's executePipeline but over a parsed
// node list and an Environment rather than a DOT-graph Engine.
func executeScript(
	ctx context.Context,
	scriptFile, basePath, checkpointDir, outPath, inputValue, varFile string,
	vars []string,
) error {
	src, err := os.ReadFile(scriptFile)
	if err != nil {
		return fmt.Errorf("read script file: %w", err)
	}
	nodes, err := parser.ParseDocument(string(src), scriptFile)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	resolverReg := env.NewResolverRegistry()
	resolvers.RegisterAll(resolverReg, env.NewFS(), basePath, inputValue)

	e := env.New(env.NewFS(), resolverReg, basePath)
	e.SetCurrentFilePath(scriptFile)

	if checkpointDir != "" {
		mgr, err := checkpoint.NewManager(checkpointDir)
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		e.SetCheckpointer(mgr)
	}

	if err := bindVarFile(e, varFile); err != nil {
		return err
	}
	if err := bindVars(e, vars); err != nil {
		return err
	}

	engine := eval.NewEngine()
	for _, n := range nodes {
		res, err := engine.Evaluate(n, e)
		if err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}
		// *ast.Directive handlers append their own rendered text (e.g.
		// /show, /run); every other top-level node needs the driver to
		// append it here.
		if _, isDirective := n.(*ast.Directive); !isDirective {
			e.Append(res.Text)
		}
	}

	rendered := e.Output()
	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(rendered), 0o644); err != nil {
			return fmt.Errorf("write output %q: %w", outPath, err)
		}
		slog.Info("rendered document written", "path", outPath)
		return nil
	}
	fmt.Print(rendered)
	return nil
}

// bindVars parses a slice of "name=value" strings and binds each as a
// top-level string Variable, mirroring cmd/attractor/main.go's applyVars.
func bindVars(e *env.Environment, vars []string) error {
	for _, v := range vars {
		idx := strings.IndexByte(v, '=')
		if idx < 0 {
			return fmt.Errorf("--var %q: expected name=value format", v)
		}
		name, val := v[:idx], v[idx+1:]
		if name == "" {
			return fmt.Errorf("--var %q: name must not be empty", v)
		}
		if err := bindStringVar(e, name, val); err != nil {
			return err
		}
	}
	return nil
}

// bindVarFile loads a JSON object from path and binds each key as a
// top-level variable. A blank path is a no-op.
func bindVarFile(e *env.Environment, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("--var-file: read %q: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("--var-file %q: invalid JSON object: %w", path, err)
	}
	for k, v := range raw {
		if err := bindAnyVar(e, k, v); err != nil {
			return err
		}
	}
	return nil
}

// bindStringVar binds a plain string as a top-level text Variable.
func bindStringVar(e *env.Environment, name, text string) error {
	return e.Set(name, value.NewSimpleTextVariable(name, text, value.VariableSource{Directive: ast.KindVar}))
}

// bindAnyVar binds a decoded JSON value (string, number, bool, object,
// array) as the matching Variable shape.
func bindAnyVar(e *env.Environment, name string, v any) error {
	switch t := v.(type) {
	case string:
		return bindStringVar(e, name, t)
	case map[string]any:
		return e.Set(name, value.NewObjectVariable(name, t, value.VariableSource{Directive: ast.KindVar}))
	case []any:
		return e.Set(name, value.NewArrayVariable(name, t, value.VariableSource{Directive: ast.KindVar}))
	default:
		return bindStringVar(e, name, fmt.Sprintf("%v", t))
	}
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[mlld] interrupted — cancelling")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
