package gateway

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
)

var patternRe = regexp.MustCompile(`^(\*|[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)*(\.\*)?)$`)

// ValidPattern reports whether p is an exact topic, "prefix.*" or "*".
func ValidPattern(p string) bool { return patternRe.MatchString(p) }

// matchPattern reports whether topic is selected by p. "a.*" matches any
// topic below "a." at any depth.
func matchPattern(p, topic string) bool {
	switch {
	case p == "*":
		return true
	case strings.HasSuffix(p, ".*"):
		return strings.HasPrefix(topic, p[:len(p)-1])
	default:
		return p == topic
	}
}

// Filter is a compiled CEL predicate over an event. A nil *Filter accepts
// everything.
type Filter struct {
	expr string
	prog cel.Program
}

// CompileFilter compiles expr. The expression sees topic, type, source, id,
// data (the payload object), event (the whole envelope) and now_ms, and
// should evaluate to a bool; anything else never matches. An empty expr
// returns nil.
func CompileFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("topic", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("data", cel.DynType),
		cel.Variable("event", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &Filter{expr: expr, prog: prog}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match evaluates the filter. Evaluation errors count as no match.
func (f *Filter) Match(topic string, ev *envelope.Event) bool {
	if f == nil {
		return true
	}
	vars := map[string]any{
		"topic":  topic,
		"type":   "",
		"source": "",
		"id":     "",
		"data":   map[string]any{},
		"event":  map[string]any{},
		"now_ms": time.Now().UnixMilli(),
	}
	if ev != nil {
		vars["type"] = ev.Type
		vars["source"] = ev.Source
		vars["id"] = ev.ID
		vars["data"] = plain(ev.Data)
		vars["event"] = plain(ev)
	}
	out, _, err := f.prog.Eval(vars)
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// plain round-trips v through JSON so CEL sees float64 numbers instead of
// json.Number strings.
func plain(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
