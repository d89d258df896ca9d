// Package template is the minimal in-process stand-in for the template
// (compiled module) registry, which spec.md §1 names as an external
// collaborator: the engine only needs to resolve a TemplateId to the
// calling convention and program it should drive, not compile or validate
// module bytecode.
package template

import (
	"fmt"
	"sync"

	"github.com/cuemby/wexec/pkg/events"
	"github.com/cuemby/wexec/pkg/types"
	"github.com/cuemby/wexec/pkg/workerruntime"
)

// Template describes how to construct a workerruntime.Program for workers
// instantiated from a given TemplateId. Exactly one of Functions (Component
// convention) or Command (Stdio / StdioEventloop) should be set, matching
// Convention.
type Template struct {
	Id         types.TemplateId
	Version    int32
	Convention types.CallingConvention

	// Component convention.
	Functions map[string]workerruntime.ComponentFunc

	// Stdio / StdioEventloop conventions.
	Command string
	Args    []string
}

// NewProgram constructs the workerruntime.Program this template describes,
// bound to stream for StdioProgram's stderr forwarding.
func (t Template) NewProgram(stream *events.Stream) (workerruntime.Program, error) {
	switch t.Convention {
	case types.CallingConventionComponent:
		return workerruntime.NewComponentProgram(t.Functions), nil
	case types.CallingConventionStdio:
		return workerruntime.NewStdioProgram(t.Command, t.Args, false, stream), nil
	case types.CallingConventionStdioEventloop:
		return workerruntime.NewStdioProgram(t.Command, t.Args, true, stream), nil
	default:
		return nil, fmt.Errorf("template %s: unknown calling convention %q", t.Id, t.Convention)
	}
}

// Registry is a concurrent-safe map from TemplateId to its registered
// Template. A real deployment would back this with the shard-manager's
// template catalog; here it is populated in-process at startup.
type Registry struct {
	mu        sync.RWMutex
	templates map[types.TemplateId]Template
}

// NewRegistry creates an empty template registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[types.TemplateId]Template)}
}

// Register adds or replaces a template definition.
func (r *Registry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Id] = t
}

// Get returns the template registered under id.
func (r *Registry) Get(id types.TemplateId) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("template %s not registered", id)
	}
	return t, nil
}
