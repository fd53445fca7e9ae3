// Package env implements the lexical-scope Environment of spec.md §3.4,
// generalizing pkg/pipeline/state.go's PipelineContext (a flat,
// mutex-guarded map[string]any with Snapshot/Merge/Copy and JSON
// checkpoint persistence) into the full variable/parameter/import-stack/
// resolver model the interpreter needs.
package env

import (
	"strings"
	"sync"

	"github.com/mlld-lang/mlld/internal/value"
)

// PipelineContextSnapshot is the immutable `@pipeline`/`@p` read surface
// bound inside a pipeline stage environment (spec.md §4.7).
type PipelineContextSnapshot struct {
	Try     int
	Tries   []string
	Stage   int
	Length  int
	Outputs []string          // Outputs[i] is stage i's output, 0-indexed
	Retries map[string][][]string // per-context retry attempt history
	Hint    any
}

// At returns stage i's output (i >= 0) or, for negative i, the ith-from-last
// output (spec.md §4.7 `[i]`/`[-k]`).
func (s *PipelineContextSnapshot) At(i int) (string, bool) {
	if s == nil {
		return "", false
	}
	if i >= 0 {
		if i >= len(s.Outputs) {
			return "", false
		}
		return s.Outputs[i], true
	}
	idx := len(s.Outputs) + i
	if idx < 0 || idx >= len(s.Outputs) {
		return "", false
	}
	return s.Outputs[idx], true
}

// Environment is the lexical-scope chain of spec.md §3.4.
type Environment struct {
	mu sync.RWMutex

	parent *Environment

	variables  map[string]*value.Variable
	parameters map[string]*value.Variable

	fileSystem FS
	resolvers  *ResolverRegistry

	basePath        string
	currentFilePath string

	importStack *OrderedSet
	sourceCache map[string]string

	pipelineContext *PipelineContextSnapshot
	mxManager       *ContextManager

	output *strings.Builder

	checkpointer Checkpointer
}

// Checkpointer is the minimal interface internal/checkpoint's Manager
// satisfies; declared here to avoid an env→checkpoint import cycle
// (checkpoint.Manager needs nothing from env beyond this).
type Checkpointer interface {
	Key(name string, args []byte) string
	Lookup(key string) (string, bool)
	Store(key, output string) error
}

// New creates a root environment with no parent.
func New(fs FS, resolvers *ResolverRegistry, basePath string) *Environment {
	return &Environment{
		variables:   make(map[string]*value.Variable),
		parameters:  make(map[string]*value.Variable),
		fileSystem:  fs,
		resolvers:   resolvers,
		basePath:    basePath,
		importStack: NewOrderedSet(),
		sourceCache: make(map[string]string),
		mxManager:   NewContextManager(),
		output:      &strings.Builder{},
	}
}

// Child creates a new environment whose resolve() chain falls through to env
// (spec.md §3.4 "Child environments are created for..."). The child shares
// env's FS, resolvers, source cache, checkpointer, and mx manager (read-mostly,
// per spec.md §5 "Shared resources"), and gets its own variables/parameters
// maps and a copy-on-enter import stack.
func (e *Environment) Child() *Environment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &Environment{
		parent:          e,
		variables:       make(map[string]*value.Variable),
		parameters:      make(map[string]*value.Variable),
		fileSystem:      e.fileSystem,
		resolvers:       e.resolvers,
		basePath:        e.basePath,
		currentFilePath: e.currentFilePath,
		importStack:     e.importStack,
		sourceCache:     e.sourceCache,
		pipelineContext: e.pipelineContext,
		mxManager:       e.mxManager,
		output:          e.output,
		checkpointer:    e.checkpointer,
	}
}

// ChildForImport creates a fresh child for evaluating an imported module,
// with the import path pushed onto a *copy* of the import stack (spec.md
// §4.4 step 5, §9 Design Notes "copy-on-enter"). The returned child does NOT
// share the parent's output accumulator — imported modules evaluate in their
// own document-output scratch space; only explicitly exported variables
// cross back (spec.md §4.4 step 7).
func (e *Environment) ChildForImport(importPath string) *Environment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &Environment{
		parent:          nil,
		variables:       make(map[string]*value.Variable),
		parameters:      make(map[string]*value.Variable),
		fileSystem:      e.fileSystem,
		resolvers:       e.resolvers,
		basePath:        e.basePath,
		currentFilePath: importPath,
		importStack:     e.importStack.WithAdded(importPath),
		sourceCache:     e.sourceCache,
		mxManager:       NewContextManager(),
		output:          &strings.Builder{},
		checkpointer:    e.checkpointer,
	}
}

// WithPipelineContext returns a child whose @pipeline/@p reads snap are set,
// used when entering a pipeline stage's environment.
func (e *Environment) WithPipelineContext(snap *PipelineContextSnapshot) *Environment {
	child := e.Child()
	child.pipelineContext = snap
	return child
}

// ImportStackHas reports whether path is already being imported (cycle).
func (e *Environment) ImportStackHas(path string) bool {
	return e.importStack.Has(path)
}

// SetParameter binds name in the frame-local parameter map, which shadows
// variables (spec.md §3.4).
func (e *Environment) SetParameter(name string, v *value.Variable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parameters[name] = v
}

// Set binds name in this frame's variable map. Later bindings shadow outer
// ones (spec.md §3.2 invariant a); rebinding an executable is refused
// (invariant b).
func (e *Environment) Set(name string, v *value.Variable) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.variables[name]; ok && existing.Kind == value.KindExecutable {
		return &RebindExecutableError{Name: name}
	}
	e.variables[name] = v
	return nil
}

// RebindExecutableError is returned by Set when the caller attempts to
// redefine an already-bound executable variable.
type RebindExecutableError struct{ Name string }

func (e *RebindExecutableError) Error() string {
	return "cannot redefine executable variable " + e.Name + ": executables are immutable once defined"
}

// Resolve walks parameters (this frame), then variables (this frame), then
// the parent chain, per spec.md §4.1 "resolve identifier through env chain
// (parameters first, then variables, then parent)". Per spec.md §8 property
// 3, a child's resolve(name) equals its parent's unless name is explicitly
// bound in the child — which falls directly out of this walk order.
func (e *Environment) Resolve(name string) (*value.Variable, bool) {
	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		if v, ok := env.parameters[name]; ok {
			env.mu.RUnlock()
			return v, true
		}
		if v, ok := env.variables[name]; ok {
			env.mu.RUnlock()
			return v, true
		}
		env.mu.RUnlock()
	}
	return nil, false
}

// PipelineContext returns the bound @pipeline snapshot, if any.
func (e *Environment) PipelineContext() *PipelineContextSnapshot { return e.pipelineContext }

// Mx returns the environment's shared mx manager.
func (e *Environment) Mx() *ContextManager { return e.mxManager }

// FileSystem returns the injected FS capability.
func (e *Environment) FileSystem() FS { return e.fileSystem }

// Resolvers returns the resolver registry.
func (e *Environment) Resolvers() *ResolverRegistry { return e.resolvers }

// BasePath returns the project base path used for $PROJECTPATH/$. resolution.
func (e *Environment) BasePath() string { return e.basePath }

// CurrentFilePath returns the path of the file currently being evaluated.
func (e *Environment) CurrentFilePath() string { return e.currentFilePath }

// SetCurrentFilePath updates the current file path (set once per module
// evaluation, before directives run).
func (e *Environment) SetCurrentFilePath(path string) { e.currentFilePath = path }

// CacheSource stores source text for later error-display line lookups.
func (e *Environment) CacheSource(path, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sourceCache[path] = text
}

// Line implements mlerr.SourceCache.
func (e *Environment) Line(filePath string, line int) (string, bool) {
	e.mu.RLock()
	text, ok := e.sourceCache[filePath]
	e.mu.RUnlock()
	if !ok {
		return "", false
	}
	lines := strings.Split(text, "\n")
	if line < 1 || line > len(lines) {
		return "", false
	}
	return lines[line-1], true
}

// Append writes s to the document output accumulator (spec.md §4.1
// "output accumulation").
func (e *Environment) Append(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.output.WriteString(s)
}

// Output returns the accumulated document output.
func (e *Environment) Output() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.output.String()
}

// SetCheckpointer installs the checkpoint manager used by /exe invocations.
func (e *Environment) SetCheckpointer(c Checkpointer) { e.checkpointer = c }

// Checkpointer returns the installed checkpoint manager, or nil.
func (e *Environment) Checkpointer() Checkpointer { return e.checkpointer }

// Exports returns the top-level variable bindings of this frame only
// (no parent walk), used by internal/importer when no export manifest is
// declared (spec.md §4.4 step 6 "If no manifest, all top-level variables
// are exported").
func (e *Environment) Exports() map[string]*value.Variable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*value.Variable, len(e.variables))
	for k, v := range e.variables {
		out[k] = v
	}
	return out
}
