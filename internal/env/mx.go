package env

import "sync"

// MxError is one entry in @mx.errors[*] (spec.md §4.7 Parallelism /
// §5 Concurrency & Resource Model).
type MxError struct {
	Iteration int
	Message   string
}

// ContextManager pushes and exposes the ambient @mx record: loop index,
// collected parallel-iteration errors, and the current pipeline attempt.
// Grounded on pkg/pipeline/state.go's PipelineContext (mutex-guarded map),
// narrowed to the specific ambient fields spec.md names instead of an
// open-ended map, since @mx's shape is fixed by the language.
type ContextManager struct {
	mu       sync.Mutex
	forIndex int
	errors   []MxError
}

// NewContextManager creates an empty manager.
func NewContextManager() *ContextManager {
	return &ContextManager{}
}

// SetForIndex records the current /for loop iteration index.
func (m *ContextManager) SetForIndex(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forIndex = i
}

// ForIndex returns the current /for loop iteration index.
func (m *ContextManager) ForIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forIndex
}

// AppendError records a parallel-iteration error rather than propagating it,
// per spec.md §4.7 "reported via @mx.errors".
func (m *ContextManager) AppendError(iteration int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, MxError{Iteration: iteration, Message: message})
}

// Errors returns a snapshot of collected errors, in the order appended.
// A parallel /for appends its failures in iteration order once every
// iteration has finished.
func (m *ContextManager) Errors() []MxError {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MxError, len(m.errors))
	copy(out, m.errors)
	return out
}

// AsMap renders the @mx record as a plain map for expression evaluation.
func (m *ContextManager) AsMap() map[string]any {
	errs := m.Errors()
	errList := make([]any, len(errs))
	for i, e := range errs {
		errList[i] = map[string]any{"iteration": e.Iteration, "message": e.Message}
	}
	return map[string]any{
		"for":    m.ForIndex(),
		"errors": errList,
	}
}
