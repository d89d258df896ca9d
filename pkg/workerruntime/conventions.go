package workerruntime

import (
	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/types"
)

// invokeWithConvention dispatches entry to the worker's Program according
// to its calling convention. Component, Stdio, and StdioEventloop share
// the same Program interface; the distinction between them is entirely in
// how a particular Program implementation chooses to interpret args (see
// stdio.go for the subprocess-backed implementation Stdio/StdioEventloop
// programs use).
func (r *Runtime) invokeWithConvention(entry *invocationEntry) ([]types.Value, error) {
	switch entry.convention {
	case types.CallingConventionComponent, types.CallingConventionStdio, types.CallingConventionStdioEventloop, "":
		return r.program.Invoke(r.hostCtx.Ctx, r.host, entry.function, entry.args)
	default:
		return nil, engineerr.InvalidRequest("unknown calling convention %q", entry.convention)
	}
}

// ValidateComponentArgs checks args against a declared function signature
// before dispatch, per spec §4.5's "typed values validated against the
// function's declared signature" requirement for the Component calling
// convention.
func ValidateComponentArgs(signature []types.ValueKind, args []types.Value) error {
	if len(signature) != len(args) {
		return engineerr.ValueMismatch("expected %d argument(s), got %d", len(signature), len(args))
	}
	for i, kind := range signature {
		if args[i].Kind != kind {
			return engineerr.ValueMismatch("argument %d: expected %s, got %s", i, kind, args[i].Kind)
		}
	}
	return nil
}
