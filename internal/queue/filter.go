package queue

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Filter wraps a compiled CEL program evaluated against entries, used by
// list commands. When the expression is empty, Match always returns true.
//
// Exposed variables: id, workspace, task, priority, state, agent,
// created_at_ms, expires_at_ms, now_ms.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles a CEL expression.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.IntType),
		cel.Variable("workspace", cel.StringType),
		cel.Variable("task", cel.StringType),
		cel.Variable("priority", cel.IntType),
		cel.Variable("state", cel.StringType),
		// Owner for claimed entries, previous owner for expired, else "".
		cel.Variable("agent", cel.StringType),
		cel.Variable("created_at_ms", cel.IntType),
		cel.Variable("expires_at_ms", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, wrapErr(KindValidation, "compile filter", err)
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, wrapErr(KindValidation, "compile filter", iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return Filter{}, wrapErr(KindValidation, "compile filter", iss.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return Filter{}, errorf(KindValidation, "compile filter",
			"expression yields %s, want bool", checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, wrapErr(KindValidation, "compile filter", err)
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Match evaluates the expression against an entry. nowMs <= 0 means use
// the clock. Evaluation errors count as no match.
func (f Filter) Match(e Entry, nowMs int64) bool {
	if !f.enabled {
		return true
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	var agent string
	var expiresAt int64
	switch state := e.State.(type) {
	case Claimed:
		agent = string(state.Agent)
		expiresAt = state.ExpiresAtMs
	case Expired:
		agent = string(state.PreviousAgent)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":            int64(e.ID),
		"workspace":     string(e.Workspace),
		"task":          string(e.Task),
		"priority":      int64(e.Priority),
		"state":         string(e.State.Kind()),
		"agent":         agent,
		"created_at_ms": e.CreatedAtMs,
		"expires_at_ms": expiresAt,
		"now_ms":        nowMs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
