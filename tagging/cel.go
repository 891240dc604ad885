package tagging

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/zero-day-ai/tiermem/lexical"
)

// Expr is a tag rule written as a CEL boolean expression.
//
// Expressions see three string variables:
//
//	user_text   the raw user text
//	agent_text  the raw agent text
//	text        both texts lower-cased and joined by a newline
//
// Example:
//
//	{Tag: "travel", Expr: `text.contains("flight") || text.contains("hotel")`}
type Expr struct {
	Tag  string `yaml:"tag" json:"tag"`
	Expr string `yaml:"expr" json:"expr"`
}

// NewEnv returns the CEL environment tag expressions are compiled in.
func NewEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("user_text", cel.StringType),
		cel.Variable("agent_text", cel.StringType),
		cel.Variable("text", cel.StringType),
		ext.Strings(),
	)
}

// CompileExprs compiles expressions into rules. Compilation happens once;
// the returned predicates only evaluate.
func CompileExprs(exprs []Expr) ([]Rule, error) {
	if len(exprs) == 0 {
		return nil, nil
	}

	env, err := NewEnv()
	if err != nil {
		return nil, fmt.Errorf("tagging: create CEL environment: %w", err)
	}

	rules := make([]Rule, 0, len(exprs))
	for i, e := range exprs {
		rule, err := compile(env, e)
		if err != nil {
			return nil, fmt.Errorf("tagging: rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compile(env *cel.Env, e Expr) (Rule, error) {
	tag := strings.TrimSpace(e.Tag)
	if tag == "" {
		return Rule{}, fmt.Errorf("tag is required")
	}
	if strings.TrimSpace(e.Expr) == "" {
		return Rule{}, fmt.Errorf("tag %q: expression is required", tag)
	}

	ast, iss := env.Compile(e.Expr)
	if iss != nil && iss.Err() != nil {
		return Rule{}, fmt.Errorf("tag %q: %w", tag, iss.Err())
	}
	if out := ast.OutputType(); out.String() != cel.BoolType.String() {
		return Rule{}, fmt.Errorf("tag %q: expression must return bool, got %s", tag, out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return Rule{}, fmt.Errorf("tag %q: %w", tag, err)
	}

	return Rule{
		Tag: tag,
		Match: func(d lexical.Doc) bool {
			out, _, err := prg.Eval(map[string]any{
				"user_text":  d.User,
				"agent_text": d.Agent,
				"text":       d.Lower(),
			})
			if err != nil {
				return false
			}
			b, ok := out.Value().(bool)
			return ok && b
		},
	}, nil
}
