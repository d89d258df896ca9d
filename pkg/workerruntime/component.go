package workerruntime

import (
	"context"

	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/hostfns"
	"github.com/cuemby/wexec/pkg/types"
)

// ComponentFunc is one exported function of a Component-convention
// template: typed values in, typed values out, with full access to the
// Host Function Surface for the invocation's duration.
type ComponentFunc func(ctx context.Context, host *hostfns.Host, args []types.Value) ([]types.Value, error)

// ComponentProgram is a Program backed by a fixed table of in-process Go
// functions, standing in for a loaded compiled module in this exercise:
// each worker template resolves to one such table, keyed by exported
// function name.
type ComponentProgram struct {
	functions map[string]ComponentFunc
}

func NewComponentProgram(functions map[string]ComponentFunc) *ComponentProgram {
	return &ComponentProgram{functions: functions}
}

func (p *ComponentProgram) Invoke(ctx context.Context, host *hostfns.Host, functionName string, args []types.Value) ([]types.Value, error) {
	fn, ok := p.functions[functionName]
	if !ok {
		return nil, engineerr.InvalidRequest("template has no exported function %q", functionName)
	}
	return fn(ctx, host, args)
}
